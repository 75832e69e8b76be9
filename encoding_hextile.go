package rfb

const (
	hextileRaw               = 1 << 0
	hextileBackgroundSpec    = 1 << 1
	hextileForegroundSpec    = 1 << 2
	hextileAnySubrects       = 1 << 3
	hextileSubrectsColoured  = 1 << 4
)

const hextileTileSize = 16

// hextileEncoder implements Hextile (§4.6): the rectangle split into
// 16x16 tiles, each either raw or a background color plus a list of
// monochrome or individually-colored sub-rectangles. Background and
// foreground colors persist across tiles (and across update passes,
// per client) so unchanged colors aren't re-sent (§3 Client
// "hextile_have_bg/fg").
type hextileEncoder struct{}

func (hextileEncoder) id() EncodingID { return EncodingHextile }

func (hextileEncoder) encodeRect(c *Client, rect Rect) error {
	if err := writeRectHeader(c, rect, EncodingHextile); err != nil {
		return err
	}

	totalBytes := 0
	for ty := rect.Y1; ty < rect.Y2; ty += hextileTileSize {
		th := int32(hextileTileSize)
		if ty+th > rect.Y2 {
			th = rect.Y2 - ty
		}
		for tx := rect.X1; tx < rect.X2; tx += hextileTileSize {
			tw := int32(hextileTileSize)
			if tx+tw > rect.X2 {
				tw = rect.X2 - tx
			}
			n, err := encodeHextile(c, Rect{tx, ty, tx + tw, ty + th})
			if err != nil {
				return err
			}
			totalBytes += n
		}
	}

	w, h := int(rect.Width()), int(rect.Height())
	c.stats.record(EncodingHextile, 1, totalBytes+12, w*h*c.format.BytesPerPixel())
	return nil
}

func encodeHextile(c *Client, tile Rect) (int, error) {
	s := c.screen
	sbpp := int(s.format.BitsPerPixel)
	sBytes := sbpp / 8
	w, h := int(tile.Width()), int(tile.Height())
	cbpp := c.format.BytesPerPixel()

	bgServer := readPixelValue(s.frameBuffer, int(tile.Y1)*s.stride+int(tile.X1)*sBytes, sbpp, s.format.BigEndian)

	var subs []subRect
	for row := 0; row < h; row++ {
		rowOff := (int(tile.Y1)+row)*s.stride + int(tile.X1)*sBytes
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

	rawSize := w * h * cbpp
	subrectSize := 1 + cbpp + len(subs)*(2+cbpp) // worst case: coloured subrects
	if subrectSize >= rawSize || len(subs) > 255 {
		return encodeHextileRaw(c, tile, sbpp, sBytes, cbpp)
	}
	return encodeHextileSubrects(c, bgServer, subs, cbpp)
}

func encodeHextileRaw(c *Client, tile Rect, sbpp, sBytes, cbpp int) (int, error) {
	if err := c.writeU8(hextileRaw); err != nil {
		return 0, err
	}
	s := c.screen
	data := c.translator.TranslateRect(s.frameBuffer, s.stride, int(tile.X1), int(tile.Y1), int(tile.Width()), int(tile.Height()))
	if err := c.write(data); err != nil {
		return 0, err
	}
	c.hextileHaveBG, c.hextileHaveFG = false, false
	return 1 + len(data), nil
}

func encodeHextileSubrects(c *Client, bgServer uint32, subs []subRect, cbpp int) (int, error) {
	flags := byte(0)
	bgClient := c.translator.Translate(bgServer)
	needBG := !c.hextileHaveBG || c.hextileBG != bgClient
	if needBG {
		flags |= hextileBackgroundSpec
	}

	uniform := true
	var uniformColor uint32
	if len(subs) > 0 {
		uniformColor = c.translator.Translate(subs[0].pixel)
		for _, sr := range subs[1:] {
			if c.translator.Translate(sr.pixel) != uniformColor {
				uniform = false
				break
			}
		}
	}

	needFG := false
	if len(subs) > 0 {
		flags |= hextileAnySubrects
		if uniform {
			if !c.hextileHaveFG || c.hextileFG != uniformColor {
				needFG = true
				flags |= hextileForegroundSpec
			}
		} else {
			flags |= hextileSubrectsColoured
		}
	}

	if err := c.writeU8(flags); err != nil {
		return 0, err
	}
	n := 1

	if needBG {
		var buf [4]byte
		writePixelValue(buf[:], 0, bgClient, int(c.format.BitsPerPixel), c.format.BigEndian)
		if err := c.write(buf[:cbpp]); err != nil {
			return 0, err
		}
		c.hextileBG, c.hextileHaveBG = bgClient, true
		n += cbpp
	}

	if len(subs) == 0 {
		return n, nil
	}

	if uniform && needFG {
		var buf [4]byte
		writePixelValue(buf[:], 0, uniformColor, int(c.format.BitsPerPixel), c.format.BigEndian)
		if err := c.write(buf[:cbpp]); err != nil {
			return 0, err
		}
		c.hextileFG, c.hextileHaveFG = uniformColor, true
		n += cbpp
	}

	if err := c.writeU8(uint8(len(subs))); err != nil {
		return 0, err
	}
	n++

	for _, sr := range subs {
		if !uniform {
			var buf [4]byte
			writePixelValue(buf[:], 0, c.translator.Translate(sr.pixel), int(c.format.BitsPerPixel), c.format.BigEndian)
			if err := c.write(buf[:cbpp]); err != nil {
				return 0, err
			}
			n += cbpp
		}
		xy := byte(sr.x<<4) | byte(sr.y&0x0f)
		wh := byte((sr.w-1)<<4) | byte((sr.h-1)&0x0f)
		if err := c.writeU8(xy); err != nil {
			return 0, err
		}
		if err := c.writeU8(wh); err != nil {
			return 0, err
		}
		n += 2
	}

	return n, nil
}
