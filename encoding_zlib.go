package rfb

import "compress/zlib"

// zlibEncoder implements Zlib (§4.6): Raw-encoded pixel data passed
// through one zlib stream kept alive for the lifetime of the
// connection, so each rectangle's deflate output can reference the
// previous rectangle's dictionary.
type zlibEncoder struct{}

func (zlibEncoder) id() EncodingID { return EncodingZlib }

func (zlibEncoder) encodeRect(c *Client, rect Rect) error {
	if err := writeRectHeader(c, rect, EncodingZlib); err != nil {
		return err
	}

	if c.zlibStream == nil {
		c.zlibBuf = &flushBuffer{}
		w, err := zlib.NewWriterLevel(c.zlibBuf, c.zlibCompressLevel)
		if err != nil {
			return newErr("Zlib", ErrEncoding, "failed to init zlib stream", err)
		}
		c.zlibStream = w
	}
	c.zlibBuf.Reset()

	s := c.screen
	data := c.translator.TranslateRect(s.frameBuffer, s.stride, int(rect.X1), int(rect.Y1), int(rect.Width()), int(rect.Height()))
	if _, err := c.zlibStream.Write(data); err != nil {
		return newErr("Zlib", ErrEncoding, "compression failed", err)
	}
	if err := c.zlibStream.Flush(); err != nil {
		return newErr("Zlib", ErrEncoding, "compression flush failed", err)
	}

	compressed := c.zlibBuf.Bytes()
	if err := c.writeU32(uint32(len(compressed))); err != nil {
		return err
	}
	if err := c.write(compressed); err != nil {
		return err
	}

	c.stats.record(EncodingZlib, 1, len(compressed)+16, len(data))
	return nil
}
