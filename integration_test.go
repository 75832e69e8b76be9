package rfb

import (
	"bytes"
	"compress/zlib"
	"io"
	"net"
	"testing"
	"time"

	"github.com/libvnc-go/rfbserver/internal/descipher"
)

// scenarioClient drives the wire protocol from the viewer's side of a
// net.Pipe, giving the §8 end-to-end scenarios (S1-S6) a minimal
// hand-rolled peer instead of a real VNC viewer.
type scenarioClient struct {
	t    *testing.T
	conn net.Conn
}

func dialScenario(t *testing.T, s *Screen) *scenarioClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	go s.AdoptConn(serverConn, false)
	return &scenarioClient{t: t, conn: clientConn}
}

func (sc *scenarioClient) readN(n int) []byte {
	sc.t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(sc.conn, buf); err != nil {
		sc.t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func (sc *scenarioClient) write(p []byte) {
	sc.t.Helper()
	if _, err := sc.conn.Write(p); err != nil {
		sc.t.Fatalf("write: %v", err)
	}
}

func (sc *scenarioClient) handshakeNoAuth(shared byte) (width, height uint16, pf PixelFormat, name string) {
	sc.t.Helper()

	banner := sc.readN(12)
	if string(banner) != "RFB 003.003\n" {
		sc.t.Fatalf("banner = %q, want RFB 003.003", banner)
	}
	sc.write([]byte("RFB 003.003\n"))

	secType := sc.readN(4)
	if secType[3] != secTypeNone {
		sc.t.Fatalf("security type = %v, want rfbNoAuth", secType)
	}

	sc.write([]byte{shared})

	width = be16(sc.readN(2))
	height = be16(sc.readN(2))
	var err error
	pf, err = UnmarshalPixelFormat(sc.conn)
	if err != nil {
		sc.t.Fatalf("UnmarshalPixelFormat: %v", err)
	}
	nameLen := be32(sc.readN(4))
	name = string(sc.readN(int(nameLen)))
	return
}

// waitForClient polls until s has registered exactly one client,
// avoiding a race between the test driver sending its next message and
// the server goroutine finishing Screen.addClient after the handshake.
func waitForClient(t *testing.T, s *Screen) *Client {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cs := s.Clients(); len(cs) == 1 {
			return cs[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for client registration")
	return nil
}

// waitUntil polls fn until it returns true or a second elapses.
func waitUntil(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func (sc *scenarioClient) sendUpdateRequest(incremental byte, x, y, w, h uint16) {
	sc.t.Helper()
	buf := make([]byte, 10)
	buf[0] = msgFramebufferUpdateReq
	buf[1] = incremental
	putBE16(buf[2:4], x)
	putBE16(buf[4:6], y)
	putBE16(buf[6:8], w)
	putBE16(buf[8:10], h)
	sc.write(buf)
}

func (sc *scenarioClient) sendSetEncodings(ids ...EncodingID) {
	sc.t.Helper()
	buf := make([]byte, 4+4*len(ids))
	buf[0] = msgSetEncodings
	putBE16(buf[2:4], uint16(len(ids)))
	for i, id := range ids {
		off := 4 + i*4
		putBE32(buf[off:off+4], uint32(id))
	}
	sc.write(buf)
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func putBE16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// S1: handshake with no authentication configured.
func TestScenario_HandshakeNoAuth(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 4, Height: 3, DesktopName: "TEST"})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}
	sc := dialScenario(t, s)

	w, h, pf, name := sc.handshakeNoAuth(1)
	if w != 4 || h != 3 {
		t.Errorf("ServerInit size = %dx%d, want 4x3", w, h)
	}
	if name != "TEST" {
		t.Errorf("ServerInit name = %q, want TEST", name)
	}
	if pf.BitsPerPixel != 32 || pf.Depth != 24 || pf.BigEndian || !pf.TrueColor {
		t.Errorf("ServerInit format = %+v, want 32bpp/depth24/little-endian/true-color", pf)
	}
	if pf.RedMax != 0xff || pf.GreenMax != 0xff || pf.BlueMax != 0xff {
		t.Errorf("ServerInit channel maxes = %+v, want all 0xff", pf)
	}
	if pf.RedShift != 16 || pf.GreenShift != 8 || pf.BlueShift != 0 {
		t.Errorf("ServerInit shifts = %+v, want 16,8,0", pf)
	}

	c := waitForClient(t, s)
	if c.State() != StateNormal {
		t.Errorf("client state = %v, want Normal", c.State())
	}
}

// S2: a fully-zero 4x3 framebuffer, marked modified in full and
// requested in full, comes back as one Raw rectangle of 48 zero bytes.
func TestScenario_RawUpdate(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 4, Height: 3, DeferUpdate: time.Millisecond})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}
	sc := dialScenario(t, s)
	sc.handshakeNoAuth(1)
	waitForClient(t, s)

	sc.sendUpdateRequest(0, 0, 0, 4, 3)
	s.MarkRectModified(0, 0, 4, 3)

	msgType := sc.readN(1)
	if msgType[0] != msgFramebufferUpdate {
		t.Fatalf("message type = %d, want FramebufferUpdate", msgType[0])
	}
	sc.readN(1) // padding
	numRects := be16(sc.readN(2))
	if numRects != 1 {
		t.Fatalf("numRects = %d, want 1", numRects)
	}

	header := sc.readN(12)
	if be16(header[0:2]) != 0 || be16(header[2:4]) != 0 {
		t.Errorf("rect origin = %v, want (0,0)", header[0:4])
	}
	if be16(header[4:6]) != 4 || be16(header[6:8]) != 3 {
		t.Errorf("rect size = %v, want 4x3", header[4:8])
	}
	if EncodingID(be32(header[8:12])) != EncodingRaw {
		t.Errorf("rect encoding = %d, want Raw", be32(header[8:12]))
	}

	pixels := sc.readN(4 * 3 * 4)
	for i, b := range pixels {
		if b != 0 {
			t.Fatalf("pixel byte %d = %d, want 0", i, b)
		}
	}
}

// S3: CopyRect with an overlapping source/destination on the same row.
func TestScenario_CopyRectOverlap(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 4, Height: 3, DeferUpdate: time.Millisecond})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}

	fb := s.FrameBuffer()
	packPixel := func(off int, r, g, b byte) {
		writePixelValue(fb, off, uint32(r)<<16|uint32(g)<<8|uint32(b), 32, false)
	}
	packPixel(0*4, 0xff, 0, 0)   // R
	packPixel(1*4, 0, 0xff, 0)   // G
	packPixel(2*4, 0, 0, 0xff)   // B
	packPixel(3*4, 0xff, 0xff, 0xff) // W

	sc := dialScenario(t, s)
	sc.handshakeNoAuth(1)
	c := waitForClient(t, s)
	sc.sendSetEncodings(EncodingCopyRect, EncodingRaw)
	sc.sendUpdateRequest(1, 0, 0, 4, 3)
	waitUntil(t, func() bool {
		c.outputMu.Lock()
		defer c.outputMu.Unlock()
		return c.useCopyRect
	})

	// ScheduleCopyRegion/DoCopyRegion take a *destination* region plus
	// the (dx,dy) such that source = destination - (dx,dy) (§3 Client
	// "copy_region"): copy columns 0-1 of row 0 onto columns 2-3.
	s.DoCopyRegion(RegionFromRect(NewRect(2, 0, 2, 1)), 2, 0)

	msgType := sc.readN(1)
	if msgType[0] != msgFramebufferUpdate {
		t.Fatalf("message type = %d, want FramebufferUpdate", msgType[0])
	}
	sc.readN(1)
	numRects := be16(sc.readN(2))
	if numRects != 1 {
		t.Fatalf("numRects = %d, want 1 (copy-rect only, no raw rects)", numRects)
	}

	header := sc.readN(12)
	if EncodingID(be32(header[8:12])) != EncodingCopyRect {
		t.Fatalf("encoding = %d, want CopyRect", be32(header[8:12]))
	}
	if be16(header[0:2]) != 2 || be16(header[2:4]) != 0 {
		t.Errorf("dst origin = %v, want (2,0)", header[0:4])
	}
	if be16(header[4:6]) != 2 || be16(header[6:8]) != 1 {
		t.Errorf("dst size = %v, want 2x1", header[4:8])
	}

	srcXY := sc.readN(4)
	if be16(srcXY[0:2]) != 0 || be16(srcXY[2:4]) != 0 {
		t.Errorf("copy source = %v, want (0,0)", srcXY)
	}

	// After the producer's own memmove, row 0 reads RGRG.
	gotR := readPixelValue(fb, 2*4, 32, false)
	wantR := uint32(0xff) << 16
	if gotR != wantR {
		t.Errorf("framebuffer pixel 2 = %#x, want %#x (red)", gotR, wantR)
	}
	gotG := readPixelValue(fb, 3*4, 32, false)
	wantG := uint32(0xff) << 8
	if gotG != wantG {
		t.Errorf("framebuffer pixel 3 = %#x, want %#x (green)", gotG, wantG)
	}
}

// S6: a RichCursor client gets exactly one cursor-shape pseudo-rect the
// first time the cursor is set, and none on a later content-only
// update once the cursor is unchanged.
func TestScenario_CursorShapeUpdate(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 10, Height: 10, DeferUpdate: time.Millisecond})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}

	sc := dialScenario(t, s)
	sc.handshakeNoAuth(1)
	c := waitForClient(t, s)
	sc.sendSetEncodings(EncodingRaw, EncodingRichCursor)
	waitUntil(t, func() bool {
		c.outputMu.Lock()
		defer c.outputMu.Unlock()
		return c.enableCursorShapeUpdate && c.useRichCursorEncoding
	})

	s.SetCursor(&Cursor{
		Width: 2, Height: 2,
		HotX: 0, HotY: 0,
		Source: []byte{0xc0, 0xc0}, // top row set in both pixels (MSB-first)
		Mask:   []byte{0xc0, 0xc0},
	})
	// A non-incremental request also forces the full area into
	// modified_region (§4.3), so this first update carries both the
	// cursor pseudo-rect and a raw rect for the framebuffer content.
	sc.sendUpdateRequest(0, 0, 0, 10, 10)

	msgType := sc.readN(1)
	if msgType[0] != msgFramebufferUpdate {
		t.Fatalf("message type = %d, want FramebufferUpdate", msgType[0])
	}
	sc.readN(1)
	numRects := be16(sc.readN(2))
	if numRects != 2 {
		t.Fatalf("numRects = %d, want 2 (cursor pseudo-rect + raw rect)", numRects)
	}

	cursorHeader := sc.readN(12)
	if be16(cursorHeader[4:6]) != 2 || be16(cursorHeader[6:8]) != 2 {
		t.Errorf("cursor rect size = %v, want 2x2", cursorHeader[4:8])
	}
	if EncodingID(be32(cursorHeader[8:12])) != EncodingRichCursor {
		t.Fatalf("cursor encoding = %d, want RichCursor", be32(cursorHeader[8:12]))
	}
	sc.readN(2 * 2 * 4) // translated cursor pixels
	sc.readN(2)         // mask bytes: ceil(width/8)*height = 1*2

	rawHeader := sc.readN(12)
	if EncodingID(be32(rawHeader[8:12])) != EncodingRaw {
		t.Fatalf("second rect encoding = %d, want Raw", be32(rawHeader[8:12]))
	}
	sc.readN(int(be16(rawHeader[4:6])) * int(be16(rawHeader[6:8])) * 4)

	// A second content-only change must not repeat the cursor rect.
	s.MarkRectModified(5, 5, 6, 6)
	sc.sendUpdateRequest(1, 0, 0, 10, 10)

	msgType = sc.readN(1)
	if msgType[0] != msgFramebufferUpdate {
		t.Fatalf("message type = %d, want FramebufferUpdate", msgType[0])
	}
	sc.readN(1)
	numRects = be16(sc.readN(2))
	if numRects != 1 {
		t.Fatalf("numRects = %d, want 1 (no repeated cursor rect)", numRects)
	}
}

// S4: Mono Tight. A 16x16 rectangle with exactly two distinct colors
// (192 pixels of color A, 64 of color B) encodes through Tight's
// palette sub-mode as a 1-bit-per-pixel bitmap, majority color first.
func TestScenario_MonoTight(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 16, Height: 16, DeferUpdate: time.Millisecond})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}

	fb := s.FrameBuffer()
	stride := s.Stride()
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			off := y*stride + x*4
			if x >= 12 { // rightmost 4 columns: color B, 4*16=64 pixels
				writePixelValue(fb, off, 0x0000ff, 32, false)
			} else { // leftmost 12 columns: color A, 12*16=192 pixels
				writePixelValue(fb, off, 0xff0000, 32, false)
			}
		}
	}

	sc := dialScenario(t, s)
	sc.handshakeNoAuth(1)
	c := waitForClient(t, s)
	sc.sendSetEncodings(EncodingTight, EncodingCompressLevel0+1)
	waitUntil(t, func() bool {
		c.outputMu.Lock()
		defer c.outputMu.Unlock()
		return c.preferredEncoding == EncodingTight && c.tightCompressLevel == 1
	})

	sc.sendUpdateRequest(0, 0, 0, 16, 16)

	msgType := sc.readN(1)
	if msgType[0] != msgFramebufferUpdate {
		t.Fatalf("message type = %d, want FramebufferUpdate", msgType[0])
	}
	sc.readN(1)
	numRects := be16(sc.readN(2))
	if numRects != 1 {
		t.Fatalf("numRects = %d, want 1", numRects)
	}

	header := sc.readN(12)
	if EncodingID(be32(header[8:12])) != EncodingTight {
		t.Fatalf("encoding = %d, want Tight", be32(header[8:12]))
	}

	ctl := sc.readN(1)[0]
	if ctl != 0x40 {
		t.Fatalf("control byte = %#x, want 0x40 (stream 0, explicit filter)", ctl)
	}
	filterID := sc.readN(1)[0]
	if filterID != tightFilterPalette {
		t.Fatalf("filter id = %d, want palette (%d)", filterID, tightFilterPalette)
	}
	paletteSizeByte := sc.readN(1)[0]
	if paletteSizeByte != 1 {
		t.Fatalf("palette size byte = %d, want 1 (meaning 2 colors)", paletteSizeByte)
	}

	pA := sc.readN(3)
	if pA[0] != 0xff || pA[1] != 0x00 || pA[2] != 0x00 {
		t.Errorf("background (majority) palette entry = %v, want red", pA)
	}
	pB := sc.readN(3)
	if pB[0] != 0x00 || pB[1] != 0x00 || pB[2] != 0xff {
		t.Errorf("second palette entry = %v, want blue", pB)
	}

	lengthByte := sc.readN(1)[0]
	compressed := sc.readN(int(lengthByte))
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	// The stream is sync-flushed, not closed, so the reader ends with
	// io.ErrUnexpectedEOF after the flushed data.
	bitmap, err := io.ReadAll(zr)
	if err != nil && err != io.ErrUnexpectedEOF {
		t.Fatalf("zlib decompress: %v", err)
	}
	if len(bitmap) != 32 {
		t.Fatalf("bitmap length = %d, want 32 (16 rows x 2 bytes)", len(bitmap))
	}
	for row := 0; row < 16; row++ {
		if bitmap[row*2] != 0x00 || bitmap[row*2+1] != 0x0f {
			t.Errorf("row %d bitmap = %02x %02x, want 00 0f", row, bitmap[row*2], bitmap[row*2+1])
		}
	}
}

// FixColourMapEntries is unsupported (§4.3): a client that sends one
// must be disconnected, not silently tolerated.
func TestFixColourMapEntriesClosesConnection(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 4, Height: 3})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}
	sc := dialScenario(t, s)
	sc.handshakeNoAuth(1)
	waitForClient(t, s)

	buf := make([]byte, 6)
	buf[0] = msgFixColourMapEntries
	sc.write(buf)

	waitUntil(t, func() bool { return len(s.Clients()) == 0 })
}

// ClientGoneHook fires once a client's socket has fully closed and it
// has been removed from the client list (§3, §6 embedding interface).
func TestClientGoneHookFires(t *testing.T) {
	goneCh := make(chan string, 1)
	s, err := NewScreen(ScreenConfig{
		Width: 4, Height: 3,
		ClientGoneHook: func(c *Client) { goneCh <- c.Host() },
	})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}
	sc := dialScenario(t, s)
	sc.handshakeNoAuth(1)
	c := waitForClient(t, s)
	host := c.Host()

	sc.conn.Close()

	select {
	case got := <-goneCh:
		if got != host {
			t.Errorf("ClientGoneHook host = %q, want %q", got, host)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ClientGoneHook")
	}
}

// §4.2 Initialisation: a non-shared ClientInit while another client is
// already connected and DontDisconnect is set must refuse the new
// client (rfbConnFailed + close), not silently keep both connected.
func TestDontDisconnectRefusesNewClient(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 4, Height: 3, DontDisconnect: true})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}

	first := dialScenario(t, s)
	first.handshakeNoAuth(1)
	waitForClient(t, s)

	second := dialScenario(t, s)
	second.t.Helper()
	banner := second.readN(12)
	if string(banner) != "RFB 003.003\n" {
		t.Fatalf("banner = %q, want RFB 003.003", banner)
	}
	second.write([]byte("RFB 003.003\n"))
	secType := second.readN(4)
	if secType[3] != secTypeNone {
		t.Fatalf("security type = %v, want rfbNoAuth", secType)
	}
	second.write([]byte{0}) // shared=0: not shared, and a client is already connected

	result := second.readN(4)
	if be32(result) != secTypeInvalid {
		t.Fatalf("result = %v, want rfbConnFailed (0)", result)
	}
	reasonLen := second.readN(4)
	reason := second.readN(int(be32(reasonLen)))
	if len(reason) == 0 {
		t.Error("expected a non-empty refusal reason")
	}

	// The first client must still be connected; only the second was
	// refused.
	waitUntil(t, func() bool { return len(s.Clients()) == 1 })
}

// §4.2: a VNC-DES auth failure must send the bare 4-byte authFailed
// SecurityResult with no trailing reason text, distinct from the
// rfbConnFailed+reason framing used before a security type is chosen.
// A conformant client reads exactly 4 bytes here; anything more
// desyncs the stream.
func TestVNCAuthWrongPasswordSendsBareFailureCode(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 4, Height: 3, Password: "correct"})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}
	sc := dialScenario(t, s)

	banner := sc.readN(12)
	if string(banner) != "RFB 003.003\n" {
		t.Fatalf("banner = %q, want RFB 003.003", banner)
	}
	sc.write([]byte("RFB 003.003\n"))

	secType := sc.readN(4)
	if secType[3] != secTypeVNCAuth {
		t.Fatalf("security type = %v, want rfbVncAuth", secType)
	}

	challenge := sc.readN(16)
	key := descipher.VNCKey("wrong")
	var response [16]byte
	var block0, block1 [8]byte
	copy(block0[:], challenge[0:8])
	copy(block1[:], challenge[8:16])
	enc0 := descipher.Encrypt(key, block0)
	enc1 := descipher.Encrypt(key, block1)
	copy(response[0:8], enc0[:])
	copy(response[8:16], enc1[:])
	sc.write(response[:])

	result := sc.readN(4)
	if be32(result) != authFailed {
		t.Fatalf("result = %v, want authFailed", result)
	}

	// No reason text follows: the connection closes right after the
	// bare failure code instead of a length-prefixed string.
	extra := make([]byte, 1)
	if _, err := sc.conn.Read(extra); err != io.EOF {
		t.Fatalf("expected EOF immediately after the bare failure code, got %v", err)
	}
}
