package rfb

// readPixelValue decodes a single pixel at byte offset off of buf,
// using bpp bits and the given endianness. bpp must be 8, 16 or 32.
func readPixelValue(buf []byte, off int, bpp int, bigEndian bool) uint32 {
	switch bpp {
	case 8:
		return uint32(buf[off])
	case 16:
		if bigEndian {
			return uint32(buf[off])<<8 | uint32(buf[off+1])
		}
		return uint32(buf[off]) | uint32(buf[off+1])<<8
	default: // 32
		if bigEndian {
			return uint32(buf[off])<<24 | uint32(buf[off+1])<<16 | uint32(buf[off+2])<<8 | uint32(buf[off+3])
		}
		return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
	}
}

// writePixelValue encodes v into buf at byte offset off using bpp bits
// and the given endianness.
func writePixelValue(buf []byte, off int, v uint32, bpp int, bigEndian bool) {
	switch bpp {
	case 8:
		buf[off] = byte(v)
	case 16:
		if bigEndian {
			buf[off] = byte(v >> 8)
			buf[off+1] = byte(v)
		} else {
			buf[off] = byte(v)
			buf[off+1] = byte(v >> 8)
		}
	default: // 32
		if bigEndian {
			buf[off] = byte(v >> 24)
			buf[off+1] = byte(v >> 16)
			buf[off+2] = byte(v >> 8)
			buf[off+3] = byte(v)
		} else {
			buf[off] = byte(v)
			buf[off+1] = byte(v >> 8)
			buf[off+2] = byte(v >> 16)
			buf[off+3] = byte(v >> 24)
		}
	}
}

// bgr233Palette is the fixed 8-bit palette (3 bits red, 3 bits green, 2
// bits blue) every non-true-color client is mapped onto (§4.5 item 2),
// grounded on original_source/translate.c's rfbSetClientColourMapBGR233
// palette-building loop: red occupies bits 0-2, green bits 3-5, blue
// bits 6-7, matching BGR233Format's shifts below.
var bgr233Palette = func() [256]RGB16 {
	var p [256]RGB16
	for i := 0; i < 256; i++ {
		r := uint16(i & 0x07)
		g := uint16((i >> 3) & 0x07)
		b := uint16((i >> 6) & 0x03)
		p[i] = RGB16{
			R: r * 0xffff / 7,
			G: g * 0xffff / 7,
			B: b * 0xffff / 3,
		}
	}
	return p
}()

// bgr233Format is the synthesized true-color PixelFormat the BGR233
// palette is indexed by: a non-true-color client's pixels are, on the
// wire, really translated into this format and then happen to also
// work as palette indices, exactly as original_source/translate.c's
// BGR233Format does by setting cl->format = BGR233Format and running
// the ordinary true-color translation path against it.
var bgr233Format = PixelFormat{
	BitsPerPixel: 8,
	Depth:        8,
	BigEndian:    false,
	TrueColor:    true,
	RedMax:       7,
	GreenMax:     7,
	BlueMax:      3,
	RedShift:     0,
	GreenShift:   3,
	BlueShift:    6,
}

type translateMode int

const (
	modeCopy translateMode = iota
	modePalette8
	modeLUT
	modeChannelLUT
)

// Translator converts pixels from the server's framebuffer format to a
// single client's requested format (§4.5). One Translator is built per
// client and rebuilt whenever server or client format changes.
type Translator struct {
	server PixelFormat
	client PixelFormat
	mode   translateMode

	lut []uint32 // modeLUT: indexed by raw server pixel value

	rLUT, gLUT, bLUT []uint32 // modeChannelLUT: indexed by raw channel value, pre-shifted into client word position

	// For modePalette8, Translate always emits BGR233-encoded client
	// pixels; the caller is responsible for also pushing bgr233Palette
	// to the client via SetColourMapEntries if the client isn't
	// true-color (handled by Client.installFixedPalette).
}

// NewTranslator builds the translation strategy for one (server, client)
// format pair, choosing among the four strategies in §4.5.
func NewTranslator(server, client PixelFormat) (*Translator, error) {
	t := &Translator{server: server, client: client}

	switch {
	case server == client:
		t.mode = modeCopy

	case !client.TrueColor:
		if client.BitsPerPixel != 8 {
			return nil, validationErr("NewTranslator", "non-true-color client must use 8 bits per pixel")
		}
		t.mode = modePalette8
		if server.BitsPerPixel <= 16 {
			n := 1 << server.BitsPerPixel
			t.lut = make([]uint32, n)
			for sp := 0; sp < n; sp++ {
				t.lut[sp] = translateTrueColor(uint32(sp), server, bgr233Format)
			}
		} else {
			t.rLUT = channelLUT(server.RedMax, server.RedShift, bgr233Format.RedMax, bgr233Format.RedShift)
			t.gLUT = channelLUT(server.GreenMax, server.GreenShift, bgr233Format.GreenMax, bgr233Format.GreenShift)
			t.bLUT = channelLUT(server.BlueMax, server.BlueShift, bgr233Format.BlueMax, bgr233Format.BlueShift)
		}

	case server.BitsPerPixel <= 16:
		t.mode = modeLUT
		n := 1 << server.BitsPerPixel
		t.lut = make([]uint32, n)
		for sp := 0; sp < n; sp++ {
			t.lut[sp] = translateTrueColor(uint32(sp), server, client)
		}

	default:
		t.mode = modeChannelLUT
		t.rLUT = channelLUT(server.RedMax, server.RedShift, client.RedMax, client.RedShift)
		t.gLUT = channelLUT(server.GreenMax, server.GreenShift, client.GreenMax, client.GreenShift)
		t.bLUT = channelLUT(server.BlueMax, server.BlueShift, client.BlueMax, client.BlueShift)
	}
	return t, nil
}

// channelLUT builds a table, indexed by a raw (unshifted) server channel
// value 0..serverMax, of that channel's contribution to a client pixel
// word: the value rescaled to clientMax and shifted into clientShift.
func channelLUT(serverMax uint16, serverShift uint8, clientMax uint16, clientShift uint8) []uint32 {
	lut := make([]uint32, int(serverMax)+1)
	for v := 0; v <= int(serverMax); v++ {
		lut[v] = scaleChannel(uint32(v), serverMax, clientMax) << clientShift
		_ = serverShift // shift is applied by the caller extracting the raw channel, not stored here
	}
	return lut
}

// scaleChannel rescales a channel sample from a 0..from range to a
// 0..to range, rounding to the nearest integer.
func scaleChannel(v uint32, from, to uint16) uint32 {
	if from == 0 {
		return 0
	}
	return (v*uint32(to) + uint32(from)/2) / uint32(from)
}

// translateTrueColor converts one raw server pixel value into a raw
// client pixel value by extracting each channel per the server's
// shifts/maxes and recombining per the client's.
func translateTrueColor(sp uint32, server, client PixelFormat) uint32 {
	r := (sp >> server.RedShift) & uint32(server.RedMax)
	g := (sp >> server.GreenShift) & uint32(server.GreenMax)
	b := (sp >> server.BlueShift) & uint32(server.BlueMax)
	r = scaleChannel(r, server.RedMax, client.RedMax)
	g = scaleChannel(g, server.GreenMax, client.GreenMax)
	b = scaleChannel(b, server.BlueMax, client.BlueMax)
	return (r << client.RedShift) | (g << client.GreenShift) | (b << client.BlueShift)
}

// Translate converts one raw server-format pixel value into the
// corresponding raw client-format pixel value.
func (t *Translator) Translate(serverPixel uint32) uint32 {
	switch t.mode {
	case modeCopy:
		return serverPixel
	case modeLUT:
		return t.lut[serverPixel]
	case modeChannelLUT:
		return t.channelTranslate(serverPixel)
	default: // modePalette8: translated into bgr233Format, via whichever
		// table NewTranslator built for the server's bpp.
		if t.lut != nil {
			return t.lut[serverPixel]
		}
		return t.channelTranslate(serverPixel)
	}
}

// channelTranslate performs the per-channel-LUT translation shared by
// modeChannelLUT and the wide-server-bpp case of modePalette8.
func (t *Translator) channelTranslate(serverPixel uint32) uint32 {
	r := (serverPixel >> t.server.RedShift) & uint32(t.server.RedMax)
	g := (serverPixel >> t.server.GreenShift) & uint32(t.server.GreenMax)
	b := (serverPixel >> t.server.BlueShift) & uint32(t.server.BlueMax)
	return t.rLUT[r] | t.gLUT[g] | t.bLUT[b]
}

// TranslateRow converts one row of src (server format, serverBytes
// bytes) into dst (client format, must be at least
// width*client.BytesPerPixel() bytes), translating width pixels.
func (t *Translator) TranslateRow(dst, src []byte, width int) {
	sbpp := int(t.server.BitsPerPixel)
	cbpp := int(t.client.BitsPerPixel)
	sBytes := sbpp / 8
	cBytes := cbpp / 8

	if t.mode == modeCopy {
		copy(dst[:width*cBytes], src[:width*sBytes])
		return
	}

	for i := 0; i < width; i++ {
		sp := readPixelValue(src, i*sBytes, sbpp, t.server.BigEndian)
		cp := t.Translate(sp)
		writePixelValue(dst, i*cBytes, cp, cbpp, t.client.BigEndian)
	}
}

// TranslateRect converts a w x h block of the server framebuffer
// (stride bytes per row) into a tightly packed client-format buffer of
// w*h*client.BytesPerPixel() bytes.
func (t *Translator) TranslateRect(fb []byte, stride, x, y, w, h int) []byte {
	cBytes := t.client.BytesPerPixel()
	sBytes := t.server.BytesPerPixel()
	out := make([]byte, w*h*cBytes)
	for row := 0; row < h; row++ {
		srcOff := (y+row)*stride + x*sBytes
		dstOff := row * w * cBytes
		t.TranslateRow(out[dstOff:dstOff+w*cBytes], fb[srcOff:], w)
	}
	return out
}
