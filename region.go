package rfb

import "sort"

// Rect is an axis-aligned rectangle with X1 < X2 and Y1 < Y2. Coordinates
// are expressed in framebuffer pixels.
type Rect struct {
	X1, Y1, X2, Y2 int32
}

// NewRect builds a Rect from a point and a size, as framebuffer producers
// and FramebufferUpdateRequest handling both do.
func NewRect(x, y, w, h int32) Rect {
	return Rect{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

// Width and Height report the rectangle's extent.
func (r Rect) Width() int32  { return r.X2 - r.X1 }
func (r Rect) Height() int32 { return r.Y2 - r.Y1 }

// Empty reports whether the rectangle encloses no pixels.
func (r Rect) Empty() bool { return r.X1 >= r.X2 || r.Y1 >= r.Y2 }

// Contains reports whether the rectangle covers the given point.
func (r Rect) Contains(x, y int32) bool {
	return x >= r.X1 && x < r.X2 && y >= r.Y1 && y < r.Y2
}

// Intersects reports whether two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X1 < o.X2 && o.X1 < r.X2 && r.Y1 < o.Y2 && o.Y1 < r.Y2
}

// Translate returns the rectangle shifted by (dx, dy).
func (r Rect) Translate(dx, dy int32) Rect {
	return Rect{r.X1 + dx, r.Y1 + dy, r.X2 + dx, r.Y2 + dy}
}

// Region is a set of pixels expressed as the disjoint union of
// y-sorted, coalesced rectangles (§3, Region). The zero value is the
// empty region. A Region must be treated as immutable once returned
// from any constructor or operation below: callers that want to keep
// mutating should reassign the variable, mirroring how the algorithm
// always returns a fresh canonical rectangle list.
type Region struct {
	rects []Rect
}

// RegionFromRect builds a one-rectangle region. An empty input rect
// yields the empty region.
func RegionFromRect(r Rect) Region {
	if r.Empty() {
		return Region{}
	}
	return Region{rects: []Rect{r}}
}

// RegionFromRects builds a region as the union of an arbitrary set of
// rectangles.
func RegionFromRects(rs ...Rect) Region {
	reg := Region{}
	for _, r := range rs {
		reg = Union(reg, RegionFromRect(r))
	}
	return reg
}

// Copy returns an independent copy of the region (the underlying slice
// is never mutated in place by any operation here, so Copy is cheap,
// but callers that received a Region from a field and intend to hand
// it to another goroutine should still call Copy to avoid aliasing the
// field's backing array across a future reassignment).
func (r Region) Copy() Region {
	if len(r.rects) == 0 {
		return Region{}
	}
	out := make([]Rect, len(r.rects))
	copy(out, r.rects)
	return Region{rects: out}
}

// Empty reports whether the region contains no pixels.
func (r Region) Empty() bool { return len(r.rects) == 0 }

// NumRects returns the number of canonical rectangles in the region.
func (r Region) NumRects() int { return len(r.rects) }

// Extents returns the bounding rectangle of the whole region.
func (r Region) Extents() (Rect, bool) {
	if len(r.rects) == 0 {
		return Rect{}, false
	}
	ext := r.rects[0]
	for _, rect := range r.rects[1:] {
		if rect.X1 < ext.X1 {
			ext.X1 = rect.X1
		}
		if rect.Y1 < ext.Y1 {
			ext.Y1 = rect.Y1
		}
		if rect.X2 > ext.X2 {
			ext.X2 = rect.X2
		}
		if rect.Y2 > ext.Y2 {
			ext.Y2 = rect.Y2
		}
	}
	return ext, true
}

// Iterate yields the region's rectangles in canonical (y-then-x) order,
// stopping early if fn returns false.
func (r Region) Iterate(fn func(Rect) bool) {
	for _, rect := range r.rects {
		if !fn(rect) {
			return
		}
	}
}

// IterateReverse yields the region's rectangles in reverse canonical
// order. CopyRect uses this to choose a copy order that never reads a
// source pixel after it has already been overwritten by the same copy
// (§4.4, §4.6 CopyRect).
func (r Region) IterateReverse(fn func(Rect) bool) {
	for i := len(r.rects) - 1; i >= 0; i-- {
		if !fn(r.rects[i]) {
			return
		}
	}
}

// Rects returns a copy of the canonical rectangle list.
func (r Region) Rects() []Rect {
	out := make([]Rect, len(r.rects))
	copy(out, r.rects)
	return out
}

// Contains reports whether a point falls within the region.
func (r Region) Contains(x, y int32) bool {
	for _, rect := range r.rects {
		if rect.Contains(x, y) {
			return true
		}
	}
	return false
}

// ContainsRect reports whether rect is entirely covered by the region
// (the "rectangle-in-region" test named in §3).
func ContainsRect(r Region, rect Rect) bool {
	return Subtract(RegionFromRect(rect), r).Empty()
}

// Translate returns the region shifted by (dx, dy).
func (r Region) Translate(dx, dy int32) Region {
	if len(r.rects) == 0 {
		return Region{}
	}
	out := make([]Rect, len(r.rects))
	for i, rect := range r.rects {
		out[i] = rect.Translate(dx, dy)
	}
	// Translation preserves canonical form: ordering and adjacency are
	// shift-invariant.
	return Region{rects: out}
}

type interval struct{ x0, x1 int32 }

// booleanOp is a 1-D interval combinator.
type booleanOp func(inA, inB bool) bool

func opUnion(inA, inB bool) bool     { return inA || inB }
func opIntersect(inA, inB bool) bool { return inA && inB }
func opSubtract(inA, inB bool) bool  { return inA && !inB }

// combine implements the general two-region boolean operation described
// in §4.4: sweep the union of both regions' y-breakpoints, and within
// each horizontal strip, sweep the union of both regions' x-breakpoints,
// deciding membership of the result with op. Adjacent strips that
// produce the same x-interval list are coalesced into one band, and the
// (already disjoint) x-intervals within a band need no further merge —
// this keeps the invariant "no overlap, y-sorted, horizontally adjacent
// same-y rects coalesced" (§3).
func combine(a, b Region, op booleanOp) Region {
	ys := make([]int32, 0, 2*(len(a.rects)+len(b.rects)))
	for _, r := range a.rects {
		ys = append(ys, r.Y1, r.Y2)
	}
	for _, r := range b.rects {
		ys = append(ys, r.Y1, r.Y2)
	}
	ys = sortUniqueInt32(ys)

	var bandRows [][]interval
	var bandY []Rect // just the Y1/Y2 pair per row, reused as a Rect container

	for i := 0; i+1 < len(ys); i++ {
		y0, y1 := ys[i], ys[i+1]
		if y0 >= y1 {
			continue
		}
		aIv := intervalsAt(a, y0, y1)
		bIv := intervalsAt(b, y0, y1)
		row := combine1D(aIv, bIv, op)
		bandRows = append(bandRows, row)
		bandY = append(bandY, Rect{Y1: y0, Y2: y1})
	}

	var out []Rect
	i := 0
	for i < len(bandRows) {
		j := i + 1
		for j < len(bandRows) && bandY[j-1].Y2 == bandY[j].Y1 && sameRow(bandRows[i], bandRows[j]) {
			j++
		}
		y1, y2 := bandY[i].Y1, bandY[j-1].Y2
		for _, iv := range bandRows[i] {
			out = append(out, Rect{X1: iv.x0, Y1: y1, X2: iv.x1, Y2: y2})
		}
		i = j
	}
	if len(out) == 0 {
		return Region{}
	}
	return Region{rects: out}
}

func sameRow(a, b []interval) bool {
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

// intervalsAt returns the canonical (sorted, merged) x-intervals of
// every rectangle in reg that fully spans the strip [y0, y1). Because
// y0/y1 are drawn from the union of both regions' breakpoints, any
// rectangle either fully contains the strip or is disjoint from it.
func intervalsAt(reg Region, y0, y1 int32) []interval {
	var ivs []interval
	for _, r := range reg.rects {
		if r.Y1 <= y0 && r.Y2 >= y1 {
			ivs = append(ivs, interval{r.X1, r.X2})
		}
	}
	return mergeIntervals(ivs)
}

func mergeIntervals(ivs []interval) []interval {
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].x0 < ivs[j].x0 })
	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.x0 <= last.x1 {
			if iv.x1 > last.x1 {
				last.x1 = iv.x1
			}
			continue
		}
		out = append(out, iv)
	}
	return append([]interval(nil), out...)
}

// combine1D applies op over the breakpoints of two interval lists.
func combine1D(a, b []interval, op booleanOp) []interval {
	xs := make([]int32, 0, 2*(len(a)+len(b)))
	for _, iv := range a {
		xs = append(xs, iv.x0, iv.x1)
	}
	for _, iv := range b {
		xs = append(xs, iv.x0, iv.x1)
	}
	xs = sortUniqueInt32(xs)

	var out []interval
	for i := 0; i+1 < len(xs); i++ {
		x0, x1 := xs[i], xs[i+1]
		if x0 >= x1 {
			continue
		}
		inA := inIntervals(a, x0, x1)
		inB := inIntervals(b, x0, x1)
		if !op(inA, inB) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].x1 == x0 {
			out[n-1].x1 = x1
		} else {
			out = append(out, interval{x0, x1})
		}
	}
	return out
}

func inIntervals(ivs []interval, x0, x1 int32) bool {
	for _, iv := range ivs {
		if iv.x0 <= x0 && iv.x1 >= x1 {
			return true
		}
	}
	return false
}

func sortUniqueInt32(xs []int32) []int32 {
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	out := xs[:0]
	var last int32
	have := false
	for _, x := range xs {
		if have && x == last {
			continue
		}
		out = append(out, x)
		last = x
		have = true
	}
	return out
}

// Union returns the set of pixels in a or b.
func Union(a, b Region) Region { return combine(a, b, opUnion) }

// Intersect returns the set of pixels in both a and b.
func Intersect(a, b Region) Region { return combine(a, b, opIntersect) }

// Subtract returns the set of pixels in a but not in b.
func Subtract(a, b Region) Region { return combine(a, b, opSubtract) }
