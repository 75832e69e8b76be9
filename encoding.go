package rfb

// EncodingID is a signed 32-bit encoding identifier as sent on the
// wire in SetEncodings and rectangle headers (§6).
type EncodingID int32

// Encoding IDs, §6.
const (
	EncodingRaw      EncodingID = 0
	EncodingCopyRect EncodingID = 1
	EncodingRRE      EncodingID = 2
	EncodingCoRRE    EncodingID = 4
	EncodingHextile  EncodingID = 5
	EncodingZlib     EncodingID = 6
	EncodingTight    EncodingID = 7
	EncodingZlibHex  EncodingID = 8
	EncodingZRLE     EncodingID = 16

	EncodingXCursor    EncodingID = -240
	EncodingRichCursor EncodingID = -239
	EncodingPointerPos EncodingID = -232
	EncodingLastRect   EncodingID = -224

	EncodingCompressLevel0 EncodingID = -256 // CompressLevelN = -256+N
	EncodingQualityLevel0  EncodingID = -32  // QualityLevelN = -32+N
)

// isCompressLevel reports whether id is one of the CompressLevel0..9
// pseudo-encodings and returns the level.
func isCompressLevel(id EncodingID) (level int, ok bool) {
	n := int(id) - int(EncodingCompressLevel0)
	if n >= 0 && n <= 9 {
		return n, true
	}
	return 0, false
}

// isQualityLevel reports whether id is one of the QualityLevel0..9
// pseudo-encodings and returns the level.
func isQualityLevel(id EncodingID) (level int, ok bool) {
	n := int(id) - int(EncodingQualityLevel0)
	if n >= 0 && n <= 9 {
		return n, true
	}
	return 0, false
}

// realEncodings is the set of encodings that can carry pixel data;
// SetEncodings picks the first entry of the client's list found here.
var realEncodings = map[EncodingID]bool{
	EncodingRaw:     true,
	EncodingRRE:     true,
	EncodingCoRRE:   true,
	EncodingHextile: true,
	EncodingZlib:    true,
	EncodingTight:   true,
	EncodingZRLE:    true,
}

// rectEncoder renders one rectangle of the server framebuffer into a
// client's pending update, using whatever persistent per-client state
// (zlib streams, previous tile colors) it owns. Implementations live in
// encoding_*.go, one per codec named in §4.6.
type rectEncoder interface {
	id() EncodingID
	encodeRect(c *Client, rect Rect) error
}

// encoderFor resolves a client's preferred_encoding (§3 Client) to its
// rectEncoder implementation.
func encoderFor(c *Client, id EncodingID) rectEncoder {
	switch id {
	case EncodingRaw:
		return rawEncoder{}
	case EncodingRRE:
		return rreEncoder{}
	case EncodingCoRRE:
		return corREEncoder{}
	case EncodingHextile:
		return hextileEncoder{}
	case EncodingZlib:
		return zlibEncoder{}
	case EncodingTight:
		return tightEncoder{}
	case EncodingZRLE:
		return zrleEncoder{}
	default:
		return rawEncoder{}
	}
}

// writeRectHeader writes the common 12-byte rectangle header (§4.6):
// x, y, w, h, encoding id.
func writeRectHeader(c *Client, rect Rect, enc EncodingID) error {
	if err := c.writeU16(uint16(rect.X1)); err != nil {
		return err
	}
	if err := c.writeU16(uint16(rect.Y1)); err != nil {
		return err
	}
	if err := c.writeU16(uint16(rect.Width())); err != nil {
		return err
	}
	if err := c.writeU16(uint16(rect.Height())); err != nil {
		return err
	}
	return c.writeS32(int32(enc))
}
