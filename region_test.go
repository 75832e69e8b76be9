package rfb

import "testing"

func rectsEqual(a, b []Rect) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegion_UnionDisjoint(t *testing.T) {
	a := RegionFromRect(NewRect(0, 0, 10, 10))
	b := RegionFromRect(NewRect(20, 20, 10, 10))
	u := Union(a, b)
	if u.NumRects() != 2 {
		t.Fatalf("Union(disjoint) = %d rects, want 2", u.NumRects())
	}
}

func TestRegion_UnionCoalescesAdjacent(t *testing.T) {
	a := RegionFromRect(NewRect(0, 0, 10, 10))
	b := RegionFromRect(NewRect(10, 0, 10, 10))
	u := Union(a, b)
	want := []Rect{NewRect(0, 0, 20, 10)}
	if !rectsEqual(u.Rects(), want) {
		t.Errorf("Union(adjacent) = %+v, want %+v", u.Rects(), want)
	}
}

func TestRegion_IntersectOverlapping(t *testing.T) {
	a := RegionFromRect(NewRect(0, 0, 10, 10))
	b := RegionFromRect(NewRect(5, 5, 10, 10))
	i := Intersect(a, b)
	want := []Rect{NewRect(5, 5, 5, 5)}
	if !rectsEqual(i.Rects(), want) {
		t.Errorf("Intersect = %+v, want %+v", i.Rects(), want)
	}
}

func TestRegion_IntersectDisjointIsEmpty(t *testing.T) {
	a := RegionFromRect(NewRect(0, 0, 10, 10))
	b := RegionFromRect(NewRect(100, 100, 10, 10))
	if !Intersect(a, b).Empty() {
		t.Errorf("Intersect(disjoint) should be empty")
	}
}

func TestRegion_SubtractLShape(t *testing.T) {
	a := RegionFromRect(NewRect(0, 0, 10, 10))
	b := RegionFromRect(NewRect(5, 5, 10, 10))
	s := Subtract(a, b)
	var total int32
	s.Iterate(func(r Rect) bool {
		total += r.Width() * r.Height()
		return true
	})
	if total != 75 { // 100 - 25 overlap
		t.Errorf("Subtract area = %d, want 75", total)
	}
	if !ContainsRect(a, NewRect(5, 5, 5, 5)) {
		t.Errorf("expected a to contain the overlap rect")
	}
}

func TestRegion_SubtractEverythingIsEmpty(t *testing.T) {
	a := RegionFromRect(NewRect(0, 0, 10, 10))
	if !Subtract(a, a).Empty() {
		t.Errorf("Subtract(a, a) should be empty")
	}
}

func TestRegion_TranslatePreservesShape(t *testing.T) {
	a := RegionFromRects(NewRect(0, 0, 10, 10), NewRect(20, 0, 10, 10))
	moved := a.Translate(5, 5)
	want := []Rect{NewRect(5, 5, 10, 10), NewRect(25, 5, 10, 10)}
	if !rectsEqual(moved.Rects(), want) {
		t.Errorf("Translate = %+v, want %+v", moved.Rects(), want)
	}
}

func TestRegion_EmptyRegionIsZeroValue(t *testing.T) {
	var r Region
	if !r.Empty() || r.NumRects() != 0 {
		t.Errorf("zero value Region should be empty")
	}
	if _, ok := r.Extents(); ok {
		t.Errorf("Extents() of empty region should report ok=false")
	}
}

func TestRegion_RegionFromRectsUnionsOverlapping(t *testing.T) {
	r := RegionFromRects(NewRect(0, 0, 10, 10), NewRect(5, 0, 10, 10))
	var total int32
	r.Iterate(func(rect Rect) bool {
		total += rect.Width() * rect.Height()
		return true
	})
	if total != 150 { // union of two overlapping 10x10 rects offset by 5
		t.Errorf("union area = %d, want 150", total)
	}
}
