package rfb

import (
	"net"
	"sync"
	"time"
)

// ConcurrencyModel selects how a Screen drives its clients' inbound and
// outbound loops (§4.9).
type ConcurrencyModel int

const (
	// Threaded runs one reader goroutine and one writer goroutine per
	// client, synchronized with per-client mutexes/condition
	// variables. This is the default and the model every server
	// example in the pack uses (goroutine-per-connection).
	Threaded ConcurrencyModel = iota
	// Cooperative sends every client's updates from calls to
	// Screen.ProcessEvents, with no per-client writer goroutine; each
	// client's reader loop still runs on its connection's goroutine.
	Cooperative
)

// ClientAction is returned by OnNewClient to accept, refuse, or silently
// drop an incoming connection (§4.1, §6).
type ClientAction int

const (
	ClientAccept ClientAction = iota
	ClientRefuse
	ClientDisconnect
)

// ScreenConfig configures a Screen at construction time. Only Width and
// Height are required; everything else has a spec-mandated default.
type ScreenConfig struct {
	Width, Height int

	// ServerFormat defaults to DefaultServerFormat() (32bpp/depth24
	// true-color) when zero-valued.
	ServerFormat PixelFormat
	ColorMap     *ColorMap

	DesktopName string

	// DeferUpdate is the hysteresis delay that coalesces bursts of
	// modification into one update message. Defaults to 40ms (§3).
	DeferUpdate time.Duration

	Concurrency ConcurrencyModel

	// Password enables VNC DES authentication when non-empty. Empty
	// means rfbNoAuth (§4.2).
	Password string

	AlwaysShared   bool
	NeverShared    bool
	DontDisconnect bool

	Logger Logger

	OnNewClient func(*Client) ClientAction
	OnKey       func(down bool, keysym uint32, c *Client)
	OnPointer   func(mask uint8, x, y uint16, c *Client)
	OnCutText   func(text string, c *Client)
	GetCursor   func(c *Client) *Cursor

	// ClientGoneHook fires once a client's socket has fully closed and
	// it has been removed from the client list (§3 "client_gone_hook",
	// §6 embedding interface). Useful for host-side bookkeeping keyed
	// off Client.ClientData.
	ClientGoneHook func(*Client)
}

// Screen is the shared framebuffer and its connected clients (§3
// Screen): one instance per exported framebuffer.
type Screen struct {
	width, height int
	stride        int
	format        PixelFormat
	frameBuffer   []byte

	colorMapMu sync.RWMutex
	colorMap   *ColorMap

	cursorMu      sync.Mutex
	cursor        *Cursor
	cursorVersion uint64

	deferUpdate    time.Duration
	concurrency    ConcurrencyModel
	desktopName    string
	password       string
	alwaysShared   bool
	neverShared    bool
	dontDisconnect bool
	logger         Logger

	onNewClient    func(*Client) ClientAction
	onKey          func(bool, uint32, *Client)
	onPointer      func(uint8, uint16, uint16, *Client)
	onCutText      func(string, *Client)
	getCursor      func(*Client) *Cursor
	clientGoneHook func(*Client)

	clientListMu sync.Mutex
	clients      []*Client

	pointerMu    sync.Mutex
	pointerOwner *Client

	listenerMu sync.Mutex
	listener   net.Listener
	closed     bool
}

// NewScreen validates cfg and allocates the framebuffer. The caller
// fills FrameBuffer() (or calls a producer-owned equivalent) before
// reporting any changes via MarkRectModified.
func NewScreen(cfg ScreenConfig) (*Screen, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, validationErr("NewScreen", "width and height must be positive")
	}
	format := cfg.ServerFormat
	if format == (PixelFormat{}) {
		format = DefaultServerFormat()
	}
	if !validBitsPerPixel(format.BitsPerPixel) {
		return nil, validationErr("NewScreen", "server format bits-per-pixel must be 8, 16 or 32")
	}

	logger := Logger(NoOpLogger{})
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	deferUpdate := cfg.DeferUpdate
	if deferUpdate == 0 {
		deferUpdate = 40 * time.Millisecond
	}

	name := cfg.DesktopName
	if name == "" {
		name = "rfbserver"
	}

	stride := cfg.Width * format.BytesPerPixel()
	s := &Screen{
		width:          cfg.Width,
		height:         cfg.Height,
		stride:         stride,
		format:         format,
		frameBuffer:    make([]byte, stride*cfg.Height),
		colorMap:       cfg.ColorMap,
		deferUpdate:    deferUpdate,
		concurrency:    cfg.Concurrency,
		desktopName:    name,
		password:       cfg.Password,
		alwaysShared:   cfg.AlwaysShared,
		neverShared:    cfg.NeverShared,
		dontDisconnect: cfg.DontDisconnect,
		logger:         logger,
		onNewClient:    cfg.OnNewClient,
		onKey:          cfg.OnKey,
		onPointer:      cfg.OnPointer,
		onCutText:      cfg.OnCutText,
		getCursor:      cfg.GetCursor,
		clientGoneHook: cfg.ClientGoneHook,
	}
	return s, nil
}

// Width, Height, Format and Stride describe the framebuffer's geometry.
func (s *Screen) Width() int         { return s.width }
func (s *Screen) Height() int        { return s.height }
func (s *Screen) Format() PixelFormat { return s.format }
func (s *Screen) Stride() int        { return s.stride }

// FrameBuffer returns the raw, mutable framebuffer bytes a producer
// paints into. Writes must be followed by MarkRectModified/
// MarkRegionModified before they become visible to clients (I-S3).
func (s *Screen) FrameBuffer() []byte { return s.frameBuffer }

// SetColorMap installs or replaces the palette used when the server
// format is not true-color.
func (s *Screen) SetColorMap(cm *ColorMap) {
	s.colorMapMu.Lock()
	s.colorMap = cm
	s.colorMapMu.Unlock()
}

func (s *Screen) currentColorMap() *ColorMap {
	s.colorMapMu.RLock()
	defer s.colorMapMu.RUnlock()
	return s.colorMap
}

// SetCursor installs a new software cursor and marks it changed so every
// client with cursor-shape updates enabled receives a fresh pseudo-rect
// on its next FramebufferUpdate (§4.8).
func (s *Screen) SetCursor(cur *Cursor) {
	s.cursorMu.Lock()
	s.cursor = cur
	s.cursorVersion++
	s.cursorMu.Unlock()
}

func (s *Screen) currentCursor() (*Cursor, uint64) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.cursor, s.cursorVersion
}

// MarkRectModified unions the rectangle (x1,y1)-(x2,y2) into every live
// client's modified_region (§6 embedding interface).
func (s *Screen) MarkRectModified(x1, y1, x2, y2 int32) {
	s.MarkRegionModified(RegionFromRect(Rect{x1, y1, x2, y2}))
}

// MarkRegionModified unions an arbitrary region into every live
// client's modified_region. Any part of r already pending as a
// copy_region is dropped from it first: fresh paint over that area
// means the client's pre-copy pixels there are no longer valid to
// copy from, so it must be resent raw instead (§8 testable property 3,
// "Region-disjointness at emit").
func (s *Screen) MarkRegionModified(r Region) {
	if r.Empty() {
		return
	}
	s.forEachClient(func(c *Client) {
		c.updateMu.Lock()
		c.copyRegion = Subtract(c.copyRegion, r)
		c.modifiedRegion = Union(c.modifiedRegion, r)
		c.updateCond.Broadcast()
		c.updateMu.Unlock()
	})
}

// ScheduleCopyRect is the rectangle-shaped convenience form of
// ScheduleCopyRegion.
func (s *Screen) ScheduleCopyRect(x1, y1, x2, y2, dx, dy int32) {
	s.ScheduleCopyRegion(RegionFromRect(Rect{x1, y1, x2, y2}), dx, dy)
}

// ScheduleCopyRegion unions a region of destination pixels that can be
// transmitted as "copy from (x-dx, y-dy)" into every live client. At
// most one translation vector is tracked at a time (§3 Client); if a
// client already has a different vector pending, its existing
// copy_region is folded into modified_region first (forcing a raw
// resend of that part) before the new vector is adopted.
func (s *Screen) ScheduleCopyRegion(r Region, dx, dy int32) {
	if r.Empty() {
		return
	}
	s.forEachClient(func(c *Client) {
		c.updateMu.Lock()
		if c.hasCopyVector && (c.copyDX != dx || c.copyDY != dy) {
			c.modifiedRegion = Union(c.modifiedRegion, c.copyRegion)
			c.copyRegion = Region{}
		}
		c.copyDX, c.copyDY = dx, dy
		c.hasCopyVector = true
		c.copyRegion = Union(c.copyRegion, r)
		c.updateCond.Broadcast()
		c.updateMu.Unlock()
	})
}

// DoCopyRegion schedules the copy (as ScheduleCopyRegion) and then
// performs the corresponding move on the server's own framebuffer, so
// the producer doesn't have to duplicate the memmove itself.
func (s *Screen) DoCopyRegion(r Region, dx, dy int32) {
	s.ScheduleCopyRegion(r, dx, dy)
	s.copyFrameBuffer(r, dx, dy)
}

func (s *Screen) copyFrameBuffer(r Region, dx, dy int32) {
	bpp := s.format.BytesPerPixel()
	// Iterate in an order safe for overlap: if dy>0 copy bottom-up, if
	// dy==0 and dx>0 copy right-to-left within each row; otherwise
	// top-down/left-to-right is safe. This mirrors the CopyRect
	// iteration-order rule in §4.6.
	rects := r.Rects()
	if dy > 0 || (dy == 0 && dx > 0) {
		for i, j := 0, len(rects)-1; i < j; i, j = i+1, j-1 {
			rects[i], rects[j] = rects[j], rects[i]
		}
	}
	for _, rect := range rects {
		s.copyOneRect(rect, dx, dy, bpp)
	}
}

func (s *Screen) copyOneRect(rect Rect, dx, dy int32, bpp int) {
	w := int(rect.Width()) * bpp
	srcX, srcY := rect.X1-dx, rect.Y1-dy
	rows := make([]int, int(rect.Height()))
	for i := range rows {
		rows[i] = i
	}
	if dy > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	for _, row := range rows {
		srcOff := (int(srcY)+row)*s.stride + int(srcX)*bpp
		dstOff := (int(rect.Y1)+row)*s.stride + int(rect.X1)*bpp
		copy(s.frameBuffer[dstOff:dstOff+w], s.frameBuffer[srcOff:srcOff+w])
	}
}

// forEachClient runs fn for every currently-registered, not-yet-closed
// client, following the iteration discipline of §4.9: take the list
// lock only long enough to snapshot live clients under reference.
func (s *Screen) forEachClient(fn func(*Client)) {
	it := s.BeginIterator()
	defer it.Close()
	for {
		c := it.Next()
		if c == nil {
			return
		}
		fn(c)
	}
}

// ClientIterator walks the Screen's client list with the refcount
// discipline named in §4.9: a client is kept alive across a concurrent
// disconnect for the duration it's "checked out" by an iterator.
type ClientIterator struct {
	screen  *Screen
	idx     int
	reverse bool
	current *Client
}

// BeginIterator starts a forward walk of the client list.
func (s *Screen) BeginIterator() *ClientIterator {
	return &ClientIterator{screen: s}
}

// BeginIteratorReverse starts a reverse walk, matching the
// "IterateReverse" naming used for CopyRect's safe-copy-order scan.
func (s *Screen) BeginIteratorReverse() *ClientIterator {
	return &ClientIterator{screen: s, reverse: true, idx: -1}
}

// Next returns the next live client, retained against concurrent
// removal, releasing the previous one first.
func (it *ClientIterator) Next() *Client {
	if it.current != nil {
		it.current.release()
		it.current = nil
	}
	s := it.screen
	s.clientListMu.Lock()
	defer s.clientListMu.Unlock()
	if it.reverse {
		for ; it.idx == -1 || it.idx >= 0; {
			if it.idx == -1 {
				it.idx = len(s.clients) - 1
			}
			if it.idx < 0 {
				return nil
			}
			c := s.clients[it.idx]
			it.idx--
			if !c.isClosed() {
				c.retain()
				it.current = c
				return c
			}
		}
		return nil
	}
	for it.idx < len(s.clients) {
		c := s.clients[it.idx]
		it.idx++
		if !c.isClosed() {
			c.retain()
			it.current = c
			return c
		}
	}
	return nil
}

// Close releases any outstanding reference held by the iterator.
func (it *ClientIterator) Close() {
	if it.current != nil {
		it.current.release()
		it.current = nil
	}
}

// Clients returns a snapshot slice of currently registered clients.
func (s *Screen) Clients() []*Client {
	s.clientListMu.Lock()
	defer s.clientListMu.Unlock()
	out := make([]*Client, len(s.clients))
	copy(out, s.clients)
	return out
}

func (s *Screen) addClient(c *Client) {
	s.clientListMu.Lock()
	s.clients = append(s.clients, c)
	s.clientListMu.Unlock()
}

// removeClient drops c from the client list and blocks until every
// iterator that still holds a reference to it has released it, then
// frees its per-client compression state.
func (s *Screen) removeClient(c *Client) {
	s.clientListMu.Lock()
	for i, other := range s.clients {
		if other == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	s.clientListMu.Unlock()

	c.awaitNoReferences()

	if s.clientGoneHook != nil {
		s.clientGoneHook(c)
	}
}

// acquirePointer enforces the single-pointer-owner rule (§4.3, §8
// testable property 5): the first client whose mask becomes non-zero
// owns the pointer until it returns to zero.
func (s *Screen) acquirePointer(c *Client, mask uint8) bool {
	s.pointerMu.Lock()
	defer s.pointerMu.Unlock()
	if s.pointerOwner == nil {
		if mask != 0 {
			s.pointerOwner = c
		}
		return true
	}
	if s.pointerOwner != c {
		return false
	}
	if mask == 0 {
		s.pointerOwner = nil
	}
	return true
}
