package rfb

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes an RFBError per the taxonomy in §7.
type ErrorCode int

const (
	// ErrProtocol indicates a framing error: short read, bad tag, or
	// oversized message (§7 "Framing error").
	ErrProtocol ErrorCode = iota
	// ErrAuthentication indicates a failed VNC DES challenge.
	ErrAuthentication
	// ErrEncoding indicates an encoder-side failure (e.g. zlib init).
	ErrEncoding
	// ErrNetwork indicates a non-retryable socket I/O error.
	ErrNetwork
	// ErrTimeout indicates the 120s handshake deadline was exceeded.
	ErrTimeout
	// ErrValidation indicates a construction-time argument error (bad
	// Screen dimensions, unsupported bits-per-pixel, and so on).
	ErrValidation
)

func (c ErrorCode) String() string {
	switch c {
	case ErrProtocol:
		return "protocol"
	case ErrAuthentication:
		return "authentication"
	case ErrEncoding:
		return "encoding"
	case ErrNetwork:
		return "network"
	case ErrTimeout:
		return "timeout"
	case ErrValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// RFBError is the structured error type returned across this module's
// API: an operation name, a coarse code, a human message, and an
// optional wrapped cause.
type RFBError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

func (e *RFBError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfb %s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("rfb %s: %s: %s", e.Code, e.Op, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *RFBError) Unwrap() error { return e.Err }

// Is reports whether target is an RFBError with the same code and op,
// so callers can write errors.Is(err, &RFBError{Op: "handshake", Code: ErrTimeout}).
func (e *RFBError) Is(target error) bool {
	var other *RFBError
	if errors.As(target, &other) {
		return e.Code == other.Code && e.Op == other.Op
	}
	return false
}

func newErr(op string, code ErrorCode, message string, err error) *RFBError {
	return &RFBError{Op: op, Code: code, Message: message, Err: err}
}

func protocolErr(op, message string, err error) error {
	return newErr(op, ErrProtocol, message, err)
}

func networkErr(op, message string, err error) error {
	return newErr(op, ErrNetwork, message, err)
}

func authErr(op, message string, err error) error {
	return newErr(op, ErrAuthentication, message, err)
}

func validationErr(op, message string) error {
	return newErr(op, ErrValidation, message, nil)
}
