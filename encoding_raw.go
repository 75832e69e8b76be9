package rfb

// rawEncoder implements the Raw encoding (§4.6): the rectangle's pixels
// verbatim in the client's negotiated format, row-major, no compression.
type rawEncoder struct{}

func (rawEncoder) id() EncodingID { return EncodingRaw }

func (rawEncoder) encodeRect(c *Client, rect Rect) error {
	if err := writeRectHeader(c, rect, EncodingRaw); err != nil {
		return err
	}
	s := c.screen
	data := c.translator.TranslateRect(s.frameBuffer, s.stride, int(rect.X1), int(rect.Y1), int(rect.Width()), int(rect.Height()))
	if err := c.write(data); err != nil {
		return err
	}
	c.stats.record(EncodingRaw, 1, len(data)+12, len(data))
	return nil
}
