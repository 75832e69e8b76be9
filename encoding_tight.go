package rfb

import (
	"bytes"
	"compress/zlib"
	"image"
	"image/color"
	"image/jpeg"
)

// Tight compression-control byte layout (§4.6): the top nibble selects
// fill/jpeg/basic, the low two bits of a basic-mode byte select which
// of the four persistent zlib streams carries the data.
const (
	tightCtlFill = 0x80
	tightCtlJPEG = 0x90

	// tightCtlExplicitFilter is OR'd into a basic-mode control byte
	// (whose low two bits still select the rotating stream) to mark
	// that a filter-id byte follows instead of defaulting to "copy"
	// (raw translated pixels).
	tightCtlExplicitFilter = 0x40

	tightFilterCopy    = 0x00
	tightFilterPalette = 0x01
)

const tightJPEGThreshold = 1024 // pixels; below this, JPEG overhead rarely pays off

// tightEncoder implements Tight (§4.6): a solid-fill fast path, an
// indexed palette path (including the two-color "Mono Tight" case) for
// rectangles with few distinct colors, a JPEG path for large
// true-color rectangles when a quality level was negotiated, and a
// zlib "basic" path otherwise — rotating across four persistent
// streams so unrelated regions of the image (which compress poorly
// against each other's dictionaries) don't share one stream.
type tightEncoder struct{}

func (tightEncoder) id() EncodingID { return EncodingTight }

func (tightEncoder) encodeRect(c *Client, rect Rect) error {
	if err := writeRectHeader(c, rect, EncodingTight); err != nil {
		return err
	}

	s := c.screen
	w, h := int(rect.Width()), int(rect.Height())
	cbpp := c.format.BytesPerPixel()
	pixels := c.translator.TranslateRect(s.frameBuffer, s.stride, int(rect.X1), int(rect.Y1), w, h)

	if solid, ok := uniformPixel(pixels, cbpp); ok {
		n, err := encodeTightFill(c, solid, cbpp)
		if err == nil {
			c.stats.record(EncodingTight, 1, n+12, len(pixels))
		}
		return err
	}

	if colors, index, ok := tightPalette(pixels, cbpp); ok && len(colors) > 1 {
		n, err := encodeTightPalette(c, pixels, w, h, cbpp, colors, index)
		if err == nil {
			c.stats.record(EncodingTight, 1, n+12, len(pixels))
		}
		return err
	}

	if c.tightQualityLevel >= 0 && c.format.TrueColor && w*h >= tightJPEGThreshold {
		n, err := encodeTightJPEG(c, pixels, w, h)
		if err == nil {
			c.stats.record(EncodingTight, 1, n+12, len(pixels))
			return nil
		}
		// Fall through to basic compression if JPEG encoding failed
		// (e.g. an exotic client format jpeg.Encode can't describe).
	}

	n, err := encodeTightBasic(c, pixels, w, h, cbpp)
	if err != nil {
		return err
	}
	c.stats.record(EncodingTight, 1, n+12, len(pixels))
	return nil
}

func uniformPixel(pixels []byte, bpp int) ([]byte, bool) {
	if len(pixels) < bpp {
		return nil, false
	}
	first := pixels[:bpp]
	for off := bpp; off < len(pixels); off += bpp {
		if !bytes.Equal(pixels[off:off+bpp], first) {
			return nil, false
		}
	}
	return first, true
}

func encodeTightFill(c *Client, pixel []byte, cbpp int) (int, error) {
	if err := c.writeU8(tightCtlFill); err != nil {
		return 0, err
	}
	tp := tightPixelBytes(c, pixel, cbpp)
	if err := c.write(tp); err != nil {
		return 0, err
	}
	return 1 + len(tp), nil
}

// tightPixelBytes converts one client-format pixel to its Tight wire
// representation: full bytes normally, or the 3-byte "TPIXEL" form
// (red, green, blue bytes in that order) for 32bpp formats, per §4.6
// "Tight".
func tightPixelBytes(c *Client, pixel []byte, cbpp int) []byte {
	if cbpp != 4 {
		return pixel
	}
	v := readPixelValue(pixel, 0, 32, c.format.BigEndian)
	return []byte{byte(v >> c.format.RedShift), byte(v >> c.format.GreenShift), byte(v >> c.format.BlueShift)}
}

func packTightPixels(c *Client, raw []byte, cbpp int) []byte {
	if cbpp != 4 {
		return raw
	}
	out := make([]byte, 0, len(raw)/4*3)
	for off := 0; off < len(raw); off += 4 {
		out = append(out, tightPixelBytes(c, raw[off:off+4], 4)...)
	}
	return out
}

// maxTightPaletteColors is the largest palette the Tight encoder will
// build explicitly; above this it falls back to JPEG or
// raw basic compression instead (§4.6 "Tight").
const maxTightPaletteColors = 256

// tightPalette collects the distinct client-format pixels in pixels (a
// w*h*bpp buffer). ok is false once more than maxTightPaletteColors
// distinct colors appear. In the two-color ("Mono Tight") case, colors
// is ordered with the majority color first, matching the convention
// that index 0 is the tile's effective background (§4.6 "Tight" / "Mono
// Tight").
func tightPalette(pixels []byte, bpp int) (colors [][]byte, index map[string]int, ok bool) {
	index = make(map[string]int)
	counts := make(map[string]int)
	for off := 0; off < len(pixels); off += bpp {
		k := string(pixels[off : off+bpp])
		counts[k]++
		if _, seen := index[k]; seen {
			continue
		}
		if len(colors) == maxTightPaletteColors {
			return nil, nil, false
		}
		index[k] = len(colors)
		colors = append(colors, pixels[off:off+bpp])
	}
	if len(colors) == 2 && counts[string(colors[1])] > counts[string(colors[0])] {
		colors[0], colors[1] = colors[1], colors[0]
		index[string(colors[0])], index[string(colors[1])] = 0, 1
	}
	return colors, index, true
}

// encodeTightPalette implements Tight's indexed sub-mode (§4.6 "Tight"):
// a small color table followed by per-pixel indices, zlib-compressed
// through the same rotating stream the basic path uses. Exactly two
// colors (the "Mono Tight" case) pack indices at one bit per pixel,
// MSB first, each row padded to a byte boundary; more than two use one
// index byte per pixel.
func encodeTightPalette(c *Client, pixels []byte, w, h, cbpp int, colors [][]byte, index map[string]int) (int, error) {
	var packed bytes.Buffer
	if len(colors) == 2 {
		for row := 0; row < h; row++ {
			var cur byte
			filled := 0
			for x := 0; x < w; x++ {
				off := (row*w + x) * cbpp
				idx := byte(index[string(pixels[off:off+cbpp])])
				cur = (cur << 1) | idx
				filled++
				if filled == 8 {
					packed.WriteByte(cur)
					cur, filled = 0, 0
				}
			}
			if filled > 0 {
				cur <<= uint(8 - filled)
				packed.WriteByte(cur)
			}
		}
	} else {
		for off := 0; off < len(pixels); off += cbpp {
			packed.WriteByte(byte(index[string(pixels[off:off+cbpp])]))
		}
	}

	streamID := tightBasicRectCount(c) % 4
	if c.tightStreams[streamID] == nil {
		c.tightBufs[streamID] = &flushBuffer{}
		sw, err := zlib.NewWriterLevel(c.tightBufs[streamID], c.tightCompressLevel)
		if err != nil {
			return 0, newErr("Tight", ErrEncoding, "failed to init zlib stream", err)
		}
		c.tightStreams[streamID] = sw
	}
	buf := c.tightBufs[streamID]
	buf.Reset()
	if _, err := c.tightStreams[streamID].Write(packed.Bytes()); err != nil {
		return 0, newErr("Tight", ErrEncoding, "compression failed", err)
	}
	if err := c.tightStreams[streamID].Flush(); err != nil {
		return 0, newErr("Tight", ErrEncoding, "compression flush failed", err)
	}
	compressed := buf.Bytes()

	n := 0
	if err := c.writeU8(byte(streamID) | tightCtlExplicitFilter); err != nil {
		return 0, err
	}
	n++
	if err := c.writeU8(tightFilterPalette); err != nil {
		return 0, err
	}
	n++
	// Palette size is sent as count-1 (so 2 colors, the Mono Tight case,
	// is the wire value 1), per §4.6 "Tight".
	if err := c.writeU8(uint8(len(colors) - 1)); err != nil {
		return 0, err
	}
	n++
	for _, col := range colors {
		tp := tightPixelBytes(c, col, cbpp)
		if err := c.write(tp); err != nil {
			return 0, err
		}
		n += len(tp)
	}
	vn, err := writeTightLength(c, len(compressed))
	if err != nil {
		return 0, err
	}
	n += vn
	if err := c.write(compressed); err != nil {
		return 0, err
	}
	n += len(compressed)
	return n, nil
}

func encodeTightBasic(c *Client, pixels []byte, w, h, cbpp int) (int, error) {
	packed := packTightPixels(c, pixels, cbpp)

	streamID := tightBasicRectCount(c) % 4
	if c.tightStreams[streamID] == nil {
		c.tightBufs[streamID] = &flushBuffer{}
		sw, err := zlib.NewWriterLevel(c.tightBufs[streamID], c.tightCompressLevel)
		if err != nil {
			return 0, newErr("Tight", ErrEncoding, "failed to init zlib stream", err)
		}
		c.tightStreams[streamID] = sw
	}
	buf := c.tightBufs[streamID]
	buf.Reset()

	if _, err := c.tightStreams[streamID].Write(packed); err != nil {
		return 0, newErr("Tight", ErrEncoding, "compression failed", err)
	}
	if err := c.tightStreams[streamID].Flush(); err != nil {
		return 0, newErr("Tight", ErrEncoding, "compression flush failed", err)
	}

	compressed := buf.Bytes()
	n := 0
	if err := c.writeU8(byte(streamID)); err != nil {
		return 0, err
	}
	n++
	vn, err := writeTightLength(c, len(compressed))
	if err != nil {
		return 0, err
	}
	n += vn
	if err := c.write(compressed); err != nil {
		return 0, err
	}
	n += len(compressed)
	return n, nil
}

// tightBasicRectCount is a monotonic-enough counter (reusing the count
// of Tight rectangles already sent) to rotate across the four streams; any
// deterministic rotation is correct, this one just avoids adding a
// dedicated counter field to Client.
func tightBasicRectCount(c *Client) int {
	stats, _, _ := c.stats.Snapshot()
	return int(stats[EncodingTight].RectanglesSent)
}

// writeTightLength writes a 1-3 byte little-endian varint length
// prefix, per §4.6 "Tight"'s compact length encoding: 7 bits plus a
// continuation bit in each of the first two bytes, all 8 bits in the
// third.
func writeTightLength(c *Client, n int) (int, error) {
	buf := []byte{byte(n & 0x7f)}
	if n > 0x7f {
		buf[0] |= 0x80
		buf = append(buf, byte((n>>7)&0x7f))
		if n > 0x3fff {
			buf[1] |= 0x80
			buf = append(buf, byte(n>>14))
		}
	}
	return len(buf), c.write(buf)
}

func encodeTightJPEG(c *Client, pixels []byte, w, h int) (int, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cbpp := c.format.BytesPerPixel()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * cbpp
			v := readPixelValue(pixels, off, int(c.format.BitsPerPixel), c.format.BigEndian)
			r := scaleChannel((v>>c.format.RedShift)&uint32(c.format.RedMax), c.format.RedMax, 0xff)
			g := scaleChannel((v>>c.format.GreenShift)&uint32(c.format.GreenMax), c.format.GreenMax, 0xff)
			b := scaleChannel((v>>c.format.BlueShift)&uint32(c.format.BlueMax), c.format.BlueMax, 0xff)
			img.Set(x, y, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xff})
		}
	}

	quality := 10 + c.tightQualityLevel*10
	if quality > 100 {
		quality = 100
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return 0, newErr("Tight", ErrEncoding, "jpeg encode failed", err)
	}

	if err := c.writeU8(tightCtlJPEG); err != nil {
		return 0, err
	}
	vn, err := writeTightLength(c, out.Len())
	if err != nil {
		return 0, err
	}
	if err := c.write(out.Bytes()); err != nil {
		return 0, err
	}
	return 1 + vn + out.Len(), nil
}
