package rfb

// rreEncoder implements RRE (§4.6): a background pixel plus a list of
// foreground sub-rectangles, each one run of non-background pixels.
// Sub-rectangles are derived per scanline (no cross-row merging), which
// is always correct though not always minimal — the same tradeoff the
// simplest RRE encoders in the wild make.
type rreEncoder struct{}

func (rreEncoder) id() EncodingID { return EncodingRRE }

type subRect struct {
	pixel          uint32
	x, y, w, h int32
}

func (rreEncoder) encodeRect(c *Client, rect Rect) error {
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

	if err := writeRectHeader(c, rect, EncodingRRE); err != nil {
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
		if err := c.writeU16(uint16(sr.x)); err != nil {
			return err
		}
		if err := c.writeU16(uint16(sr.y)); err != nil {
			return err
		}
		if err := c.writeU16(uint16(sr.w)); err != nil {
			return err
		}
		if err := c.writeU16(uint16(sr.h)); err != nil {
			return err
		}
		bytesSent += cbpp + 8
	}

	c.stats.record(EncodingRRE, 1, bytesSent+12, w*h*cbpp)
	return nil
}
