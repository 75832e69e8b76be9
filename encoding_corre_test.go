package rfb

import (
	"io"
	"testing"
)

func TestSplitCoRRETiles_ReconstructsExactlyWithoutOverlap(t *testing.T) {
	s := newTestScreen(t)
	c, _ := newTestClient(t, s)

	rect := Rect{X1: 0, Y1: 0, X2: 200, Y2: 150}
	tiles := splitCoRRETiles(c, rect)
	if len(tiles) < 2 {
		t.Fatalf("expected multiple tiles for a 200x150 rect, got %d", len(tiles))
	}

	var area int64
	region := Region{}
	for _, tile := range tiles {
		if tile.Width() > int32(c.correMaxWidth) || tile.Height() > int32(c.correMaxHeight) {
			t.Errorf("tile %+v exceeds the configured %dx%d tile size", tile, c.correMaxWidth, c.correMaxHeight)
		}
		area += int64(tile.Width()) * int64(tile.Height())
		region = Union(region, RegionFromRect(tile))
	}

	if want := int64(rect.Width()) * int64(rect.Height()); area != want {
		t.Errorf("summed tile area = %d, want %d (tiles overlap or leave gaps)", area, want)
	}
	whole := RegionFromRect(rect)
	if !Subtract(whole, region).Empty() || !Subtract(region, whole).Empty() {
		t.Errorf("tiled region does not exactly reconstruct %+v", rect)
	}
}

// CoRRE's sub-rectangle coordinates are byte-sized, so the encoder used to
// silently clip anything wider or taller than 255px to its top-left corner.
// Because the scheduler already discards the full original rectangle from
// modified_region/requested_region before encoding, that clipping was
// permanent data loss, not a deferred redraw. This verifies the scheduler
// now pre-splits such a rect into several CoRRE wire rectangles that
// together cover every pixel.
func TestSendUpdate_CoRRESplitsOversizedRectWithoutDataLoss(t *testing.T) {
	s, err := NewScreen(ScreenConfig{Width: 300, Height: 200})
	if err != nil {
		t.Fatalf("NewScreen: %v", err)
	}
	c, clientConn := newTestClient(t, s)
	c.preferredEncoding = EncodingCoRRE

	c.updateMu.Lock()
	c.requestedRegion = RegionFromRect(NewRect(0, 0, 300, 200))
	c.modifiedRegion = RegionFromRect(NewRect(0, 0, 300, 200))
	c.updateMu.Unlock()

	upd := s.computeUpdate(c)
	if upd.rawRegion.Empty() {
		t.Fatalf("expected a non-empty raw region")
	}

	done := make(chan error, 1)
	go func() { done <- s.sendUpdate(c, upd) }()

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(clientConn, hdr); err != nil {
		t.Fatalf("read FramebufferUpdate header: %v", err)
	}
	numRects := be16(hdr[2:4])
	if numRects < 2 {
		t.Fatalf("expected the 300x200 update to be split into multiple rectangles, got %d", numRects)
	}

	cbpp := c.format.BytesPerPixel()
	var totalArea int64
	for i := 0; i < int(numRects); i++ {
		rh := make([]byte, 12)
		if _, err := io.ReadFull(clientConn, rh); err != nil {
			t.Fatalf("rect %d header: %v", i, err)
		}
		w, h := be16(rh[4:6]), be16(rh[6:8])
		enc := EncodingID(int32(be32(rh[8:12])))
		if enc != EncodingCoRRE {
			t.Fatalf("rect %d encoding = %d, want EncodingCoRRE", i, enc)
		}
		if w > 255 || h > 255 {
			t.Fatalf("rect %d is %dx%d, exceeds CoRRE's byte-sized sub-rectangle coordinate limit", i, w, h)
		}
		totalArea += int64(w) * int64(h)

		numSubsBuf := make([]byte, 4)
		if _, err := io.ReadFull(clientConn, numSubsBuf); err != nil {
			t.Fatalf("rect %d sub-rectangle count: %v", i, err)
		}
		n := be32(numSubsBuf)

		bg := make([]byte, cbpp)
		if _, err := io.ReadFull(clientConn, bg); err != nil {
			t.Fatalf("rect %d background pixel: %v", i, err)
		}

		subBytes := cbpp + 4
		body := make([]byte, int(n)*subBytes)
		if _, err := io.ReadFull(clientConn, body); err != nil {
			t.Fatalf("rect %d sub-rectangles: %v", i, err)
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("sendUpdate: %v", err)
	}
	if want := int64(300 * 200); totalArea != want {
		t.Errorf("total pixel area across CoRRE rectangles = %d, want %d (data was dropped)", totalArea, want)
	}
}
