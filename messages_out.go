package rfb

// Server-to-client message type bytes (§4.3, §4.8).
const (
	msgFramebufferUpdate    = 0
	msgSetColourMapEntries  = 1
	msgBell                 = 2
	msgServerCutText        = 3
)

// writeFramebufferUpdateHeader writes the message type, padding byte,
// and rectangle count that precede a FramebufferUpdate's rectangles
// (§4.6). Callers write it, then the rectangles, all under one
// sendLocked acquisition.
func writeFramebufferUpdateHeader(c *Client, numRects uint16) error {
	if err := c.writeU8(msgFramebufferUpdate); err != nil {
		return err
	}
	if err := c.writeU8(0); err != nil { // padding
		return err
	}
	return c.writeU16(numRects)
}

// writeSetColourMapEntries sends a SetColourMapEntries message
// installing entries starting at firstColour (§4.8).
func writeSetColourMapEntries(c *Client, firstColour uint16, entries []RGB16) error {
	if err := c.writeU8(msgSetColourMapEntries); err != nil {
		return err
	}
	if err := c.writeU8(0); err != nil { // padding
		return err
	}
	if err := c.writeU16(firstColour); err != nil {
		return err
	}
	if err := c.writeU16(uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.writeU16(e.R); err != nil {
			return err
		}
		if err := c.writeU16(e.G); err != nil {
			return err
		}
		if err := c.writeU16(e.B); err != nil {
			return err
		}
	}
	return nil
}

// SendBell sends a Bell message to the client.
func (c *Client) SendBell() error {
	return c.sendLocked(func() error {
		return c.writeU8(msgBell)
	})
}

// SendServerCutText sends text to the client's clipboard.
func (c *Client) SendServerCutText(text string) error {
	return c.sendLocked(func() error {
		if err := c.writeU8(msgServerCutText); err != nil {
			return err
		}
		var pad [3]byte
		if err := c.write(pad[:]); err != nil {
			return err
		}
		b := []byte(text)
		if err := c.writeU32(uint32(len(b))); err != nil {
			return err
		}
		return c.write(b)
	})
}
