package rfb

// Client-to-server message type bytes (§4.3).
const (
	msgSetPixelFormat       = 0
	msgFixColourMapEntries  = 1
	msgSetEncodings         = 2
	msgFramebufferUpdateReq = 3
	msgKeyEvent             = 4
	msgPointerEvent         = 5
	msgClientCutText        = 6
)

// runReaderLoop reads and dispatches client-to-server messages until
// the connection errors or closes (§4.3, §4.9 "reader goroutine").
func (s *Screen) runReaderLoop(c *Client) {
	for {
		msgType, err := c.readByte()
		if err != nil {
			return
		}
		if err := s.dispatchMessage(c, msgType); err != nil {
			c.logger.Debugf("message dispatch failed: %v", err)
			return
		}
	}
}

func (s *Screen) dispatchMessage(c *Client, msgType byte) error {
	switch msgType {
	case msgSetPixelFormat:
		return s.handleSetPixelFormat(c)
	case msgFixColourMapEntries:
		return s.handleFixColourMapEntries(c)
	case msgSetEncodings:
		return s.handleSetEncodings(c)
	case msgFramebufferUpdateReq:
		return s.handleFramebufferUpdateRequest(c)
	case msgKeyEvent:
		return s.handleKeyEvent(c)
	case msgPointerEvent:
		return s.handlePointerEvent(c)
	case msgClientCutText:
		return s.handleClientCutText(c)
	default:
		return protocolErr("dispatchMessage", "unknown message type", nil)
	}
}

// handleSetPixelFormat reads a new PixelFormat and rebuilds the
// client's translator under outputMu so no in-flight update straddles
// the format change (§4.3 SetPixelFormat).
func (s *Screen) handleSetPixelFormat(c *Client) error {
	var pad [3]byte
	if err := c.readFull(pad[:]); err != nil {
		return err
	}
	pf, err := UnmarshalPixelFormat(c.reader)
	if err != nil {
		return err
	}
	if !validBitsPerPixel(pf.BitsPerPixel) {
		return validationErr("SetPixelFormat", "unsupported bits-per-pixel")
	}

	t, err := NewTranslator(s.format, pf)
	if err != nil {
		return err
	}

	c.outputMu.Lock()
	c.format = pf
	c.translator = t
	c.outputMu.Unlock()

	if !pf.TrueColor {
		c.installFixedPalette(s)
	}
	return nil
}

// installFixedPalette pushes the BGR233 palette a non-true-color client
// indexes into, via SetColourMapEntries (§4.5 item 2).
func (c *Client) installFixedPalette(s *Screen) {
	_ = c.sendLocked(func() error {
		return writeSetColourMapEntries(c, 0, bgr233Palette[:])
	})
}

// handleFixColourMapEntries always fails the connection: a client
// supplying its own color map entries has nowhere to put them, since
// this server only ever runs true-color or the fixed BGR233 palette
// (§4.3 "FixColourMapEntries(1): unsupported → close").
func (s *Screen) handleFixColourMapEntries(c *Client) error {
	return protocolErr("FixColourMapEntries", "unsupported message type", nil)
}

func (s *Screen) handleSetEncodings(c *Client) error {
	var pad [1]byte
	if err := c.readFull(pad[:]); err != nil {
		return err
	}
	n, err := c.readU16()
	if err != nil {
		return err
	}

	encodings := make([]EncodingID, n)
	for i := range encodings {
		v, err := c.readS32()
		if err != nil {
			return err
		}
		encodings[i] = EncodingID(v)
	}

	s.applyEncodings(c, encodings)
	return nil
}

// applyEncodings negotiates the preferred real encoding and every
// pseudo-encoding flag from the client's ordered encoding list (§4.3
// "SetEncodings negotiation"): the first real encoding in the list the
// server also supports becomes preferred_encoding; every recognized
// pseudo-encoding toggles its corresponding capability regardless of
// position.
func (s *Screen) applyEncodings(c *Client, encodings []EncodingID) {
	c.outputMu.Lock()
	defer c.outputMu.Unlock()

	foundReal := false
	for _, id := range encodings {
		if !foundReal && realEncodings[id] {
			c.preferredEncoding = id
			foundReal = true
		}
		switch id {
		case EncodingCopyRect:
			c.useCopyRect = true
		case EncodingXCursor:
			c.enableCursorShapeUpdate = true
		case EncodingRichCursor:
			c.enableCursorShapeUpdate = true
			c.useRichCursorEncoding = true
		case EncodingPointerPos:
			c.enablePointerPosUpdate = true
		case EncodingLastRect:
			c.enableLastRectEncoding = true
		}
		if level, ok := isCompressLevel(id); ok {
			c.tightCompressLevel = level
			c.zlibCompressLevel = level
		}
		if level, ok := isQualityLevel(id); ok {
			c.tightQualityLevel = level
		}
	}
	if !foundReal {
		c.preferredEncoding = EncodingRaw
	}
}

func (s *Screen) handleFramebufferUpdateRequest(c *Client) error {
	incremental, err := c.readByte()
	if err != nil {
		return err
	}
	x, err := c.readU16()
	if err != nil {
		return err
	}
	y, err := c.readU16()
	if err != nil {
		return err
	}
	w, err := c.readU16()
	if err != nil {
		return err
	}
	h, err := c.readU16()
	if err != nil {
		return err
	}

	rect := RegionFromRect(Rect{int32(x), int32(y), int32(x) + int32(w), int32(y) + int32(h)})

	c.updateMu.Lock()
	c.requestedRegion = Union(c.requestedRegion, rect)
	if incremental == 0 {
		c.modifiedRegion = Union(c.modifiedRegion, rect)
		// A non-incremental request means the client is about to
		// repaint that area itself; any pending copy_region there
		// would otherwise still be delivered as a cheap CopyRect, but
		// the client no longer has valid "before" pixels to copy from
		// once it discards what it knows, so force a raw resend.
		c.copyRegion = Subtract(c.copyRegion, rect)
	}
	c.updateCond.Broadcast()
	c.updateMu.Unlock()
	return nil
}

func (s *Screen) handleKeyEvent(c *Client) error {
	downFlag, err := c.readByte()
	if err != nil {
		return err
	}
	var pad [2]byte
	if err := c.readFull(pad[:]); err != nil {
		return err
	}
	keysym, err := c.readU32()
	if err != nil {
		return err
	}
	c.stats.recordKeyEvent()
	if s.onKey != nil {
		s.onKey(downFlag != 0, keysym, c)
	}
	return nil
}

func (s *Screen) handlePointerEvent(c *Client) error {
	mask, err := c.readByte()
	if err != nil {
		return err
	}
	x, err := c.readU16()
	if err != nil {
		return err
	}
	y, err := c.readU16()
	if err != nil {
		return err
	}
	c.stats.recordPointerEvent()
	c.pointerMaskLast = mask

	if !s.acquirePointer(c, mask) {
		return nil
	}
	if s.onPointer != nil {
		s.onPointer(mask, x, y, c)
	}
	return nil
}

func (s *Screen) handleClientCutText(c *Client) error {
	var pad [3]byte
	if err := c.readFull(pad[:]); err != nil {
		return err
	}
	n, err := c.readU32()
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := c.readFull(buf); err != nil {
		return err
	}
	if s.onCutText != nil {
		s.onCutText(string(buf), c)
	}
	return nil
}
