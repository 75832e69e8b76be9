package rfb

import (
	"bytes"
	"testing"
)

func TestPixelFormat_MarshalRoundTrip(t *testing.T) {
	pf := DefaultServerFormat()
	var buf bytes.Buffer
	if err := pf.Marshal(&buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if buf.Len() != 16 {
		t.Fatalf("Marshal wrote %d bytes, want 16", buf.Len())
	}
	got, err := UnmarshalPixelFormat(&buf)
	if err != nil {
		t.Fatalf("UnmarshalPixelFormat: %v", err)
	}
	if got != pf {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, pf)
	}
}

func TestPixelFormat_BytesPerPixel(t *testing.T) {
	tests := []struct {
		bpp  uint8
		want int
	}{{8, 1}, {16, 2}, {32, 4}}
	for _, tt := range tests {
		pf := PixelFormat{BitsPerPixel: tt.bpp}
		if got := pf.BytesPerPixel(); got != tt.want {
			t.Errorf("BytesPerPixel(%d) = %d, want %d", tt.bpp, got, tt.want)
		}
	}
}

func TestPixelFormat_Equal(t *testing.T) {
	a := DefaultServerFormat()
	b := DefaultServerFormat()
	if !a.Equal(b) {
		t.Errorf("identical formats should be equal")
	}
	b.RedShift = 0
	if a.Equal(b) {
		t.Errorf("differing formats should not be equal")
	}
}

func TestValidBitsPerPixel(t *testing.T) {
	for _, bpp := range []uint8{8, 16, 32} {
		if !validBitsPerPixel(bpp) {
			t.Errorf("validBitsPerPixel(%d) = false, want true", bpp)
		}
	}
	for _, bpp := range []uint8{1, 4, 24, 64} {
		if validBitsPerPixel(bpp) {
			t.Errorf("validBitsPerPixel(%d) = true, want false", bpp)
		}
	}
}
