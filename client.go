package rfb

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// ClientState is the handshake/session state of one connection (§3
// Client, I-C4, "Monotone handshake" in §8).
type ClientState int

const (
	StateProtocolVersion ClientState = iota
	StateAuthentication
	StateInitialisation
	StateNormal
	stateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateProtocolVersion:
		return "ProtocolVersion"
	case StateAuthentication:
		return "Authentication"
	case StateInitialisation:
		return "Initialisation"
	case StateNormal:
		return "Normal"
	default:
		return "Closed"
	}
}

// Client is one connected RFB viewer: its negotiated capabilities, its
// view of what it has already seen, and the persistent per-connection
// compression state the stream-based encoders need (§3 Client).
type Client struct {
	screen *Screen
	conn   net.Conn
	host   string

	reader *bufio.Reader
	writer *bufio.Writer

	reverseConnection bool

	logger Logger

	stateMu sync.Mutex
	state   ClientState

	// outputMu serializes every byte written to conn: the reader
	// goroutine may write an auth result while the writer/scheduler
	// goroutine is composing a FramebufferUpdate (§4.9, "output_mutex
	// is a leaf lock").
	outputMu sync.Mutex

	format     PixelFormat
	translator *Translator

	preferredEncoding       EncodingID
	useCopyRect             bool
	enableCursorShapeUpdate bool
	useRichCursorEncoding   bool
	enableLastRectEncoding  bool
	enablePointerPosUpdate  bool

	tightCompressLevel int // 0..9
	tightQualityLevel  int // -1 (lossless) .. 9
	zlibCompressLevel  int // 0..9

	correMaxWidth, correMaxHeight int

	tightStreams [4]*zlib.Writer
	tightBufs    [4]*flushBuffer
	zlibStream   *zlib.Writer
	zlibBuf      *flushBuffer
	zrleStream   *zlib.Writer
	zrleBuf      *flushBuffer

	// Hextile persists the previous tile's background/foreground so
	// consecutive unchanged tiles can omit them (§4.6 Hextile).
	hextileHaveBG, hextileHaveFG bool
	hextileBG, hextileFG         uint32

	readyForColorMapEntries bool

	// updateMu guards the dirty-tracking fields below plus the
	// condition the output scheduler waits on (§3 Client, §4.9).
	updateMu        sync.Mutex
	updateCond      *sync.Cond
	modifiedRegion  Region
	copyRegion      Region
	copyDX, copyDY  int32
	requestedRegion Region
	hasCopyVector   bool

	cursorSentVersion uint64

	auth struct {
		challenge [16]byte
	}

	stats *ClientStats

	ClientData interface{}

	refMu      sync.Mutex
	refCount   int
	deleted    bool
	deleteCond *sync.Cond

	closeOnce sync.Once
	closed    bool

	pointerMaskLast uint8
}

func newClient(s *Screen, conn net.Conn, reverse bool) *Client {
	bufSize := 30000
	if need := s.width*s.format.BytesPerPixel() + 4096; need > bufSize {
		bufSize = need
	}
	c := &Client{
		screen:             s,
		conn:               conn,
		host:               conn.RemoteAddr().String(),
		reader:             bufio.NewReaderSize(conn, 32*1024),
		writer:             bufio.NewWriterSize(conn, bufSize),
		reverseConnection:  reverse,
		logger:             s.logger.With(F("client", conn.RemoteAddr().String())),
		state:              StateProtocolVersion,
		format:             s.format,
		preferredEncoding:  EncodingRaw,
		tightCompressLevel: 6,
		tightQualityLevel:  -1,
		zlibCompressLevel:  6,
		correMaxWidth:      48,
		correMaxHeight:     48,
		stats:              newClientStats(),
	}
	c.updateCond = sync.NewCond(&c.updateMu)
	c.deleteCond = sync.NewCond(&c.refMu)
	t, _ := NewTranslator(s.format, s.format)
	c.translator = t
	return c
}

// Host returns the peer address string, for diagnostics.
func (c *Client) Host() string { return c.host }

// State returns the client's current handshake/session state.
func (c *Client) State() ClientState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Format returns the pixel format currently negotiated with this client.
func (c *Client) Format() PixelFormat {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.format
}

// Stats returns the client's accumulated counters.
func (c *Client) Stats() *ClientStats { return c.stats }

func (c *Client) retain() {
	c.refMu.Lock()
	c.refCount++
	c.refMu.Unlock()
}

func (c *Client) release() {
	c.refMu.Lock()
	c.refCount--
	if c.refCount == 0 && c.deleted {
		c.deleteCond.Broadcast()
	}
	c.refMu.Unlock()
}

// awaitNoReferences blocks until every outstanding iterator reference
// on c has been released, matching the §4.9 discipline that a client is
// only actually torn down once no iterator is mid-use of it.
func (c *Client) awaitNoReferences() {
	c.refMu.Lock()
	c.deleted = true
	for c.refCount > 0 {
		c.deleteCond.Wait()
	}
	c.refMu.Unlock()
}

// Close terminates the client connection. Safe to call more than once
// and from any goroutine; subsequent sends observe a closed socket and
// the writer/reader goroutines exit (§4.9 "Cancellation").
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		c.state = stateClosed
		c.stateMu.Unlock()
		c.closed = true
		err = c.conn.Close()
		c.updateMu.Lock()
		c.updateCond.Broadcast()
		c.updateMu.Unlock()
	})
	return err
}

func (c *Client) isClosed() bool {
	return c.closed
}

// --- binary I/O helpers -----------------------------------------------

func (c *Client) readFull(buf []byte) error {
	_, err := io.ReadFull(c.reader, buf)
	return err
}

func (c *Client) readByte() (byte, error) {
	return c.reader.ReadByte()
}

func (c *Client) readU16() (uint16, error) {
	var buf [2]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (c *Client) readU32() (uint32, error) {
	var buf [4]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (c *Client) readS32() (int32, error) {
	v, err := c.readU32()
	return int32(v), err
}

// write writes directly to the buffered writer. Callers composing a
// FramebufferUpdate must hold outputMu for the whole message (§5
// "Ordering").
func (c *Client) write(p []byte) error {
	_, err := c.writer.Write(p)
	return err
}

func (c *Client) writeU8(v uint8) error {
	return c.write([]byte{v})
}

func (c *Client) writeU16(v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return c.write(buf[:])
}

func (c *Client) writeU32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return c.write(buf[:])
}

func (c *Client) writeS32(v int32) error {
	return c.writeU32(uint32(v))
}

func (c *Client) flush() error {
	return c.writer.Flush()
}

// sendLocked runs fn with outputMu held and flushes afterwards,
// guaranteeing the bytes fn writes reach the wire as one atomic
// message relative to any other sender (§5 Ordering).
func (c *Client) sendLocked(fn func() error) error {
	c.outputMu.Lock()
	defer c.outputMu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	return c.flush()
}

// withDeadline runs fn with a read deadline installed, used for the
// 120s handshake timeout (§4.2, §7 "Handshake timeout").
func (c *Client) withDeadline(d time.Duration, fn func() error) error {
	if d > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return fn()
}

// flushBuffer is a growable byte buffer used as the destination of a
// zlib.Writer so Tight/Zlib/ZRLE can measure the compressed size before
// copying it into the client's real output stream (zlib.Writer has no
// "peek compressed length" API, so every corpus encoder that persists a
// zlib stream routes it through an intermediate buffer first).
type flushBuffer struct {
	buf []byte
}

func (b *flushBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *flushBuffer) Reset() { b.buf = b.buf[:0] }

func (b *flushBuffer) Bytes() []byte { return b.buf }
