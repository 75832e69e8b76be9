package rfb

import "sync"

// rgbToPixel packs a 16-bit-per-channel color into a raw pixel value
// of the given true-color format, for cursor colors and the XCursor
// pseudo-encoding's RGB triples.
func rgbToPixel(pf PixelFormat, c RGB16) uint32 {
	r := scaleChannel(uint32(c.R), 0xffff, pf.RedMax)
	g := scaleChannel(uint32(c.G), 0xffff, pf.GreenMax)
	b := scaleChannel(uint32(c.B), 0xffff, pf.BlueMax)
	return (r << pf.RedShift) | (g << pf.GreenShift) | (b << pf.BlueShift)
}

// to8 reduces a 16-bit channel sample to the 8-bit value the XCursor
// pseudo-encoding's background/foreground triples use on the wire.
func to8(v uint16) byte { return byte(v >> 8) }

// writeCursorRect emits one cursor-shape pseudo-rectangle (XCursor or
// RichCursor, §4.8) under the caller's outputMu. cur may be nil or
// zero-sized to hide the cursor, per the "empty cursor" convention.
func writeCursorRect(c *Client, cur *Cursor) error {
	var width, height int
	if cur != nil {
		width, height = cur.Width, cur.Height
	}

	enc := EncodingXCursor
	if c.useRichCursorEncoding {
		enc = EncodingRichCursor
	}

	rect := Rect{0, 0, int32(width), int32(height)}
	if cur != nil {
		rect = Rect{int32(cur.HotX), int32(cur.HotY), int32(cur.HotX) + int32(width), int32(cur.HotY) + int32(height)}
	}
	if err := writeRectHeader(c, rect, enc); err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return nil
	}

	rowBytes := (width + 7) / 8
	maskLen := rowBytes * height

	if c.useRichCursorEncoding {
		return writeRichCursorBody(c, cur, maskLen)
	}
	return writeXCursorBody(c, cur, maskLen)
}

func writeXCursorBody(c *Client, cur *Cursor, maskLen int) error {
	bg := [3]byte{to8(cur.Background.R), to8(cur.Background.G), to8(cur.Background.B)}
	fg := [3]byte{to8(cur.Foreground.R), to8(cur.Foreground.G), to8(cur.Foreground.B)}
	if err := c.write(bg[:]); err != nil {
		return err
	}
	if err := c.write(fg[:]); err != nil {
		return err
	}
	if err := c.write(padOrTrim(cur.Source, maskLen)); err != nil {
		return err
	}
	return c.write(padOrTrim(cur.Mask, maskLen))
}

func writeRichCursorBody(c *Client, cur *Cursor, maskLen int) error {
	cbpp := c.format.BytesPerPixel()
	pixels := make([]byte, cur.Width*cur.Height*cbpp)
	rowBytes := cur.MaskRowBytes()

	for y := 0; y < cur.Height; y++ {
		for x := 0; x < cur.Width; x++ {
			var rawServer uint32
			if len(cur.RichPixels) >= (y*cur.Width+x+1)*4 {
				off := (y*cur.Width + x) * 4
				rawServer = uint32(cur.RichPixels[off])<<16 | uint32(cur.RichPixels[off+1])<<8 | uint32(cur.RichPixels[off+2])
			} else if bitSet(cur.Source, rowBytes, x, y) {
				rawServer = rgbToPixel(c.screen.format, cur.Foreground)
			} else {
				rawServer = rgbToPixel(c.screen.format, cur.Background)
			}
			cp := c.translator.Translate(rawServer)
			writePixelValue(pixels, (y*cur.Width+x)*cbpp, cp, int(c.format.BitsPerPixel), c.format.BigEndian)
		}
	}

	if err := c.write(pixels); err != nil {
		return err
	}
	return c.write(padOrTrim(cur.Mask, maskLen))
}

func padOrTrim(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// CursorEngine renders a software cursor directly into a Screen's
// framebuffer for producers/viewers that never negotiate the
// cursor-shape pseudo-encodings. Rather than XOR-compositing the
// cursor over whatever pixels happen to be there (which corrupts the
// image under overlapping cursor moves once two non-invertible colors
// land on the same pixel twice), it explicitly saves the pixels it is
// about to overwrite and restores them before drawing the next frame,
// so the underlying framebuffer content is always recoverable exactly.
type CursorEngine struct {
	screen *Screen
	mu     sync.Mutex
	shown  bool
	rect   Rect
	saved  []byte
}

// NewCursorEngine creates a cursor compositor bound to s.
func NewCursorEngine(s *Screen) *CursorEngine {
	return &CursorEngine{screen: s}
}

// Show restores whatever the cursor previously covered, then draws cur
// at (x, y) (top-left of its bounding box) and marks both the restored
// and newly drawn regions modified.
func (e *CursorEngine) Show(cur *Cursor, x, y int32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.restoreLocked()
	if cur == nil || cur.Width == 0 || cur.Height == 0 {
		return
	}

	s := e.screen
	rect := clipRect(Rect{x, y, x + int32(cur.Width), y + int32(cur.Height)}, s.width, s.height)
	if rect.Empty() {
		return
	}

	e.rect = rect
	e.saved = snapshotRect(s, rect)
	e.shown = true

	compositeCursor(s, cur, rect, x, y)
	s.MarkRectModified(rect.X1, rect.Y1, rect.X2, rect.Y2)
}

// Hide restores the last-drawn cursor area, if any.
func (e *CursorEngine) Hide() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restoreLocked()
}

func (e *CursorEngine) restoreLocked() {
	if !e.shown {
		return
	}
	s := e.screen
	restoreRect(s, e.rect, e.saved)
	s.MarkRectModified(e.rect.X1, e.rect.Y1, e.rect.X2, e.rect.Y2)
	e.shown = false
	e.saved = nil
}

func clipRect(r Rect, width, height int) Rect {
	if r.X1 < 0 {
		r.X1 = 0
	}
	if r.Y1 < 0 {
		r.Y1 = 0
	}
	if r.X2 > int32(width) {
		r.X2 = int32(width)
	}
	if r.Y2 > int32(height) {
		r.Y2 = int32(height)
	}
	return r
}

func snapshotRect(s *Screen, rect Rect) []byte {
	bpp := s.format.BytesPerPixel()
	w := int(rect.Width())
	h := int(rect.Height())
	out := make([]byte, w*h*bpp)
	for row := 0; row < h; row++ {
		srcOff := (int(rect.Y1)+row)*s.stride + int(rect.X1)*bpp
		copy(out[row*w*bpp:(row+1)*w*bpp], s.frameBuffer[srcOff:srcOff+w*bpp])
	}
	return out
}

func restoreRect(s *Screen, rect Rect, saved []byte) {
	bpp := s.format.BytesPerPixel()
	w := int(rect.Width())
	h := int(rect.Height())
	for row := 0; row < h; row++ {
		dstOff := (int(rect.Y1)+row)*s.stride + int(rect.X1)*bpp
		copy(s.frameBuffer[dstOff:dstOff+w*bpp], saved[row*w*bpp:(row+1)*w*bpp])
	}
}

// compositeCursor paints cur's opaque pixels (where Mask is set) into
// s's framebuffer at (originX, originY), clipped to rect: RichPixels
// when present, otherwise Foreground where Source is set and Background
// elsewhere.
func compositeCursor(s *Screen, cur *Cursor, rect Rect, originX, originY int32) {
	bpp := s.format.BytesPerPixel()
	rowBytes := cur.MaskRowBytes()
	fg := rgbToPixel(s.format, cur.Foreground)

	for y := rect.Y1; y < rect.Y2; y++ {
		cy := int(y - originY)
		for x := rect.X1; x < rect.X2; x++ {
			cx := int(x - originX)
			if !bitSet(cur.Mask, rowBytes, cx, cy) {
				continue
			}
			px := fg
			if len(cur.RichPixels) >= (cy*cur.Width+cx+1)*4 {
				off := (cy*cur.Width + cx) * 4
				px = uint32(cur.RichPixels[off])<<16 | uint32(cur.RichPixels[off+1])<<8 | uint32(cur.RichPixels[off+2])
			} else if !bitSet(cur.Source, rowBytes, cx, cy) {
				px = rgbToPixel(s.format, cur.Background)
			}
			off := int(y)*s.stride + int(x)*bpp
			writePixelValue(s.frameBuffer, off, px, int(s.format.BitsPerPixel), s.format.BigEndian)
		}
	}
}
