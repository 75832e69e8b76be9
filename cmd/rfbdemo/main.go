// Command rfbdemo serves a simple animated test pattern, useful for
// exercising a viewer against every encoding without needing real
// screen-capture permissions (adapted from the teacher's synthetic
// animated-pattern example).
package main

import (
	"flag"
	"log"
	"time"

	rfb "github.com/libvnc-go/rfbserver"
)

var (
	bindAddress = flag.String("bindAddress", "localhost:5900", "listen on [ip]:port")
	width       = flag.Int("width", 800, "framebuffer width")
	height      = flag.Int("height", 600, "framebuffer height")
)

func main() {
	flag.Parse()

	s, err := rfb.NewScreen(rfb.ScreenConfig{
		Width:       *width,
		Height:      *height,
		DesktopName: "rfbdemo",
		Logger:      rfb.NewStandardLogger(),
		OnNewClient: func(c *rfb.Client) rfb.ClientAction {
			log.Printf("client connected: %s", c.Host())
			return rfb.ClientAccept
		},
		OnKey: func(down bool, keysym uint32, c *rfb.Client) {
			log.Printf("key from %s: down=%v sym=%#x", c.Host(), down, keysym)
		},
		OnPointer: func(mask uint8, x, y uint16, c *rfb.Client) {
			log.Printf("pointer from %s: mask=%#x (%d,%d)", c.Host(), mask, x, y)
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	go animate(s)

	log.Printf("listening on %s (%dx%d)", *bindAddress, *width, *height)
	if err := s.Listen(*bindAddress); err != nil {
		log.Fatal(err)
	}
}

// animate paints a moving diagonal color bar across the framebuffer
// and reports only the rows it actually touched, exercising the
// incremental-update path rather than always sending a full frame.
func animate(s *rfb.Screen) {
	pf := s.Format()
	bpp := pf.BytesPerPixel()
	stride := s.Stride()
	fb := s.FrameBuffer()

	tick := time.NewTicker(66 * time.Millisecond)
	defer tick.Stop()

	offset := 0
	barHeight := 40
	for range tick.C {
		y0 := offset % s.Height()
		y1 := y0 + barHeight
		if y1 > s.Height() {
			y1 = s.Height()
		}

		for y := y0; y < y1; y++ {
			for x := 0; x < s.Width(); x++ {
				r := uint32((x + offset) % 256)
				g := uint32((y * 2) % 256)
				b := uint32((x + y) % 256)
				v := (r << pf.RedShift) | (g << pf.GreenShift) | (b << pf.BlueShift)
				writePixel(fb, y*stride+x*bpp, v, bpp, pf.BigEndian)
			}
		}

		s.MarkRectModified(0, int32(y0), int32(s.Width()), int32(y1))
		offset = (offset + 4) % s.Width()
	}
}

func writePixel(buf []byte, off int, v uint32, bpp int, bigEndian bool) {
	if bpp == 4 {
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
		return
	}
	buf[off] = byte(v)
}
