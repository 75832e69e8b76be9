package rfb

import (
	"fmt"
	"log"
	"os"
)

// Field is a structured key-value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// F is shorthand for constructing a Field.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the logging seam every component in this module writes
// through, so a host application can route RFB diagnostics into its own
// logging stack instead of the package reaching for a global (§9 DESIGN
// NOTES: "logging is a callback on the Screen, not a global").
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(fields ...Field) Logger
}

// NoOpLogger discards everything. It is the zero value used whenever a
// Screen is constructed without an explicit Logger.
type NoOpLogger struct{}

func (NoOpLogger) Debugf(string, ...interface{}) {}
func (NoOpLogger) Infof(string, ...interface{})  {}
func (NoOpLogger) Warnf(string, ...interface{})  {}
func (NoOpLogger) Errorf(string, ...interface{}) {}
func (l NoOpLogger) With(...Field) Logger        { return l }

// StandardLogger adapts Go's standard log.Logger to the Logger
// interface, prefixing each line with a level tag and any context
// fields accumulated via With.
type StandardLogger struct {
	out    *log.Logger
	fields []Field
}

// NewStandardLogger builds a StandardLogger writing to os.Stderr with a
// fixed "rfb: " prefix, matching the plain log.Printf style every
// server example in the pack uses, but funneled through one seam.
func NewStandardLogger() *StandardLogger {
	return &StandardLogger{out: log.New(os.Stderr, "rfb: ", log.LstdFlags)}
}

func (l *StandardLogger) log(level, format string, args ...interface{}) {
	msg := level + " " + fmt.Sprintf(format, args...)
	for _, f := range l.fields {
		msg += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	l.out.Print(msg)
}

func (l *StandardLogger) Debugf(format string, args ...interface{}) { l.log("[DEBUG]", format, args...) }
func (l *StandardLogger) Infof(format string, args ...interface{})  { l.log("[INFO]", format, args...) }
func (l *StandardLogger) Warnf(format string, args ...interface{})  { l.log("[WARN]", format, args...) }
func (l *StandardLogger) Errorf(format string, args ...interface{}) { l.log("[ERROR]", format, args...) }

func (l *StandardLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &StandardLogger{out: l.out, fields: merged}
}
