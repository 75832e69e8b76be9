package rfb

import (
	"encoding/binary"
	"io"
)

// PixelFormat describes how a single pixel is encoded on the wire, per
// RFB §6.3.2 / §7.4. The same type is used for the server's framebuffer
// format and for a client's requested format.
type PixelFormat struct {
	BitsPerPixel uint8 // 8, 16 or 32
	Depth        uint8
	BigEndian    bool
	TrueColor    bool

	// Valid only when TrueColor is set.
	RedMax, GreenMax, BlueMax    uint16
	RedShift, GreenShift, BlueShift uint8
}

// BytesPerPixel returns BitsPerPixel/8.
func (pf PixelFormat) BytesPerPixel() int {
	return int(pf.BitsPerPixel) / 8
}

// Equal reports whether two formats describe bitwise-identical pixels,
// the condition under which the translator can skip LUT construction
// entirely (§4.5 item 1).
func (pf PixelFormat) Equal(other PixelFormat) bool {
	return pf == other
}

// DefaultServerFormat returns the commonly used 32bpp/depth24 true-color
// format with byte order matching host native order (little-endian on
// every platform this module targets).
func DefaultServerFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 32,
		Depth:        24,
		BigEndian:    false,
		TrueColor:    true,
		RedMax:       0xff,
		GreenMax:     0xff,
		BlueMax:      0xff,
		RedShift:     16,
		GreenShift:   8,
		BlueShift:    0,
	}
}

// Marshal writes the 16-byte wire representation of a PixelFormat
// (RFB §7.4): bpp, depth, big-endian flag, true-color flag, three
// 16-bit maxes, three 8-bit shifts, 3 padding bytes.
func (pf PixelFormat) Marshal(w io.Writer) error {
	var buf [16]byte
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	buf[2] = boolByte(pf.BigEndian)
	buf[3] = boolByte(pf.TrueColor)
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	// buf[13:16] padding, left zero.
	_, err := w.Write(buf[:])
	return err
}

// UnmarshalPixelFormat reads the 16-byte wire representation written by
// Marshal, as sent by a client in SetPixelFormat (§4.3) or read back by
// tests asserting on ServerInit.
func UnmarshalPixelFormat(r io.Reader) (PixelFormat, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return PixelFormat{}, err
	}
	pf := PixelFormat{
		BitsPerPixel: buf[0],
		Depth:        buf[1],
		BigEndian:    buf[2] != 0,
		TrueColor:    buf[3] != 0,
		RedMax:       binary.BigEndian.Uint16(buf[4:6]),
		GreenMax:     binary.BigEndian.Uint16(buf[6:8]),
		BlueMax:      binary.BigEndian.Uint16(buf[8:10]),
		RedShift:     buf[10],
		GreenShift:   buf[11],
		BlueShift:    buf[12],
	}
	return pf, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// validBitsPerPixel is the set the translator supports (I-S2).
func validBitsPerPixel(bpp uint8) bool {
	return bpp == 8 || bpp == 16 || bpp == 32
}
