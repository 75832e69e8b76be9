package rfb

// corREEncoder implements CoRRE (§4.6): RRE with byte-sized (not
// u16-sized) sub-rectangle coordinates, which caps both the outer
// rectangle and every sub-rectangle at 255 in each dimension. The
// scheduler pre-splits anything larger via splitCoRRETiles before
// dispatching to this encoder, so encodeRect only ever sees rects
// already within bounds; the clamp below is just a last-resort
// safeguard against a future caller forgetting to do that.
type corREEncoder struct{}

func (corREEncoder) id() EncodingID { return EncodingCoRRE }

// splitCoRRETiles breaks rect into sub-rectangles no larger than
// c.correMaxWidth x c.correMaxHeight (default 48x48, §3 Client data
// model "corre_max_width"/"corre_max_height"), which also keeps every
// tile within CoRRE's hard 255x255 wire limit. The scheduler calls
// this before counting the FramebufferUpdate's rectangle total, so
// a single oversized logical rect becomes exactly as many wire
// rectangles as it's split into here (§4.6 "tiled via recursive
// subdivision") instead of being silently clipped.
func splitCoRRETiles(c *Client, rect Rect) []Rect {
	tw, th := c.correMaxWidth, c.correMaxHeight
	if tw <= 0 || tw > 255 {
		tw = 48
	}
	if th <= 0 || th > 255 {
		th = 48
	}

	var tiles []Rect
	for y := rect.Y1; y < rect.Y2; y += int32(th) {
		y2 := y + int32(th)
		if y2 > rect.Y2 {
			y2 = rect.Y2
		}
		for x := rect.X1; x < rect.X2; x += int32(tw) {
			x2 := x + int32(tw)
			if x2 > rect.X2 {
				x2 = rect.X2
			}
			tiles = append(tiles, Rect{X1: x, Y1: y, X2: x2, Y2: y2})
		}
	}
	return tiles
}

func (corREEncoder) encodeRect(c *Client, rect Rect) error {
	if rect.Width() > 255 {
		rect.X2 = rect.X1 + 255
	}
	if rect.Height() > 255 {
		rect.Y2 = rect.Y1 + 255
	}

	s := c.screen
	sbpp := int(s.format.BitsPerPixel)
	sBytes := sbpp / 8
	w, h := int(rect.Width()), int(rect.Height())

	bgServer := readPixelValue(s.frameBuffer, int(rect.Y1)*s.stride+int(rect.X1)*sBytes, sbpp, s.format.BigEndian)

	var subs []subRect
	for row := 0; row < h; row++ {
		rowOff := (int(rect.Y1)+row)*s.stride + int(rect.X1)*sBytes
		runStart := -1
		var runPixel uint32
		flush := func(endCol int) {
			if runStart >= 0 {
				subs = append(subs, subRect{pixel: runPixel, x: int32(runStart), y: int32(row), w: int32(endCol - runStart), h: 1})
				runStart = -1
			}
		}
		for col := 0; col < w; col++ {
			px := readPixelValue(s.frameBuffer, rowOff+col*sBytes, sbpp, s.format.BigEndian)
			if px == bgServer {
				flush(col)
				continue
			}
			if runStart >= 0 && px == runPixel {
				continue
			}
			flush(col)
			runStart = col
			runPixel = px
		}
		flush(w)
	}

	if err := writeRectHeader(c, rect, EncodingCoRRE); err != nil {
		return err
	}
	if err := c.writeU32(uint32(len(subs))); err != nil {
		return err
	}
	cbpp := c.format.BytesPerPixel()
	var bgBuf [4]byte
	writePixelValue(bgBuf[:], 0, c.translator.Translate(bgServer), int(c.format.BitsPerPixel), c.format.BigEndian)
	if err := c.write(bgBuf[:cbpp]); err != nil {
		return err
	}

	bytesSent := 4 + cbpp
	for _, sr := range subs {
		var pbuf [4]byte
		writePixelValue(pbuf[:], 0, c.translator.Translate(sr.pixel), int(c.format.BitsPerPixel), c.format.BigEndian)
		if err := c.write(pbuf[:cbpp]); err != nil {
			return err
		}
		if err := c.writeU8(uint8(sr.x)); err != nil {
			return err
		}
		if err := c.writeU8(uint8(sr.y)); err != nil {
			return err
		}
		if err := c.writeU8(uint8(sr.w)); err != nil {
			return err
		}
		if err := c.writeU8(uint8(sr.h)); err != nil {
			return err
		}
		bytesSent += cbpp + 4
	}

	c.stats.record(EncodingCoRRE, 1, bytesSent+12, w*h*cbpp)
	return nil
}
