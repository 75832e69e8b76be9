package rfb

import (
	"bytes"
	"compress/zlib"
)

const zrleTileSize = 64

// ZRLE tile sub-encoding values (§4.6 "ZRLE"). Indexed sub-encodings
// 2..16 mean "packed palette of that many colors"; this encoder never
// emits the RLE-with-palette family (130+) to keep the tile encoder
// tractable, falling back to raw for any tile with more than 16
// distinct colors, whatever runs it contains.
const (
	zrleSubRaw   = 0
	zrleSubSolid = 1
)

// zrleEncoder implements ZRLE (§4.6): the rectangle split into 64x64
// tiles, each tile raw/solid/palette-packed, the whole rectangle's
// tile stream then passed through one persistent zlib stream (unlike
// Tight's four rotating streams, ZRLE specifies exactly one).
type zrleEncoder struct{}

func (zrleEncoder) id() EncodingID { return EncodingZRLE }

func (zrleEncoder) encodeRect(c *Client, rect Rect) error {
	if err := writeRectHeader(c, rect, EncodingZRLE); err != nil {
		return err
	}

	var tileStream bytes.Buffer
	for ty := rect.Y1; ty < rect.Y2; ty += zrleTileSize {
		th := int32(zrleTileSize)
		if ty+th > rect.Y2 {
			th = rect.Y2 - ty
		}
		for tx := rect.X1; tx < rect.X2; tx += zrleTileSize {
			tw := int32(zrleTileSize)
			if tx+tw > rect.X2 {
				tw = rect.X2 - tx
			}
			if err := encodeZRLETile(&tileStream, c, Rect{tx, ty, tx + tw, ty + th}); err != nil {
				return err
			}
		}
	}

	if c.zrleStream == nil {
		c.zrleBuf = &flushBuffer{}
		w, err := zlib.NewWriterLevel(c.zrleBuf, 6)
		if err != nil {
			return newErr("ZRLE", ErrEncoding, "failed to init zlib stream", err)
		}
		c.zrleStream = w
	}
	c.zrleBuf.Reset()

	if _, err := c.zrleStream.Write(tileStream.Bytes()); err != nil {
		return newErr("ZRLE", ErrEncoding, "compression failed", err)
	}
	if err := c.zrleStream.Flush(); err != nil {
		return newErr("ZRLE", ErrEncoding, "compression flush failed", err)
	}

	compressed := c.zrleBuf.Bytes()
	if err := c.writeU32(uint32(len(compressed))); err != nil {
		return err
	}
	if err := c.write(compressed); err != nil {
		return err
	}

	w, h := int(rect.Width()), int(rect.Height())
	c.stats.record(EncodingZRLE, 1, len(compressed)+16, w*h*c.format.BytesPerPixel())
	return nil
}

func zrleCPixel(buf []byte, c *Client, pixel uint32, cbpp int) []byte {
	full := make([]byte, 4)
	writePixelValue(full, 0, pixel, int(c.format.BitsPerPixel), c.format.BigEndian)
	if cbpp != 4 {
		return append(buf, full[:cbpp]...)
	}
	// CPIXEL: the three pixel bytes in memory order, unused byte dropped.
	if c.format.BigEndian {
		return append(buf, full[1:4]...)
	}
	return append(buf, full[0:3]...)
}

func encodeZRLETile(out *bytes.Buffer, c *Client, tile Rect) error {
	s := c.screen
	sbpp := int(s.format.BitsPerPixel)
	sBytes := sbpp / 8
	cbpp := c.format.BytesPerPixel()
	w, h := int(tile.Width()), int(tile.Height())

	serverPixels := make([]uint32, w*h)
	palette := make([]uint32, 0, 17)
	index := make(map[uint32]int, 17)
	uniform := true

	for row := 0; row < h; row++ {
		rowOff := (int(tile.Y1)+row)*s.stride + int(tile.X1)*sBytes
		for col := 0; col < w; col++ {
			sp := readPixelValue(s.frameBuffer, rowOff+col*sBytes, sbpp, s.format.BigEndian)
			cp := c.translator.Translate(sp)
			serverPixels[row*w+col] = cp
			if _, ok := index[cp]; !ok && len(palette) < 17 {
				index[cp] = len(palette)
				palette = append(palette, cp)
			}
			if cp != serverPixels[0] {
				uniform = false
			}
		}
	}

	switch {
	case uniform:
		out.WriteByte(zrleSubSolid)
		var pb []byte
		pb = zrleCPixel(pb, c, serverPixels[0], cbpp)
		out.Write(pb)

	case len(palette) <= 16:
		out.WriteByte(byte(len(palette)))
		for _, p := range palette {
			var pb []byte
			pb = zrleCPixel(pb, c, p, cbpp)
			out.Write(pb)
		}
		bits := bitsForPalette(len(palette))
		for row := 0; row < h; row++ {
			writePackedRow(out, serverPixels[row*w:(row+1)*w], index, bits)
		}

	default:
		out.WriteByte(zrleSubRaw)
		for _, p := range serverPixels {
			var pb []byte
			pb = zrleCPixel(pb, c, p, cbpp)
			out.Write(pb)
		}
	}
	return nil
}

func bitsForPalette(n int) int {
	switch {
	case n <= 2:
		return 1
	case n <= 4:
		return 2
	default:
		return 4
	}
}

// writePackedRow packs one tile row of palette indices at bits-per-
// pixel, MSB first, padding the last byte with zero bits (§4.6 "ZRLE
// packed palette").
func writePackedRow(out *bytes.Buffer, row []uint32, index map[uint32]int, bits int) {
	var cur byte
	filled := 0
	for _, px := range row {
		idx := byte(index[px])
		cur = (cur << uint(bits)) | idx
		filled += bits
		if filled == 8 {
			out.WriteByte(cur)
			cur, filled = 0, 0
		}
	}
	if filled > 0 {
		cur <<= uint(8 - filled)
		out.WriteByte(cur)
	}
}
