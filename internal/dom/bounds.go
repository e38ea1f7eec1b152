package dom

import (
	"math"

	"github.com/agentic-research/assetgen/api"
)

// Bounds is an integer rectangle. A rectangle with no area is empty and
// collapses to the zero value under Union, Intersect and Scale.
type Bounds struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

func boundsFromAPI(b *api.Bounds) *Bounds {
	if b == nil {
		return nil
	}
	return &Bounds{Top: b.Top, Left: b.Left, Bottom: b.Bottom, Right: b.Right}
}

// API converts to the wire representation.
func (b *Bounds) API() *api.Bounds {
	if b == nil {
		return nil
	}
	return &api.Bounds{Top: b.Top, Left: b.Left, Bottom: b.Bottom, Right: b.Right}
}

// FromAPI converts a wire rectangle (nil → zero).
func FromAPI(b *api.Bounds) Bounds {
	if b == nil {
		return Bounds{}
	}
	return Bounds{Top: b.Top, Left: b.Left, Bottom: b.Bottom, Right: b.Right}
}

func (b Bounds) Width() int  { return b.Right - b.Left }
func (b Bounds) Height() int { return b.Bottom - b.Top }

// Empty reports whether the rectangle has no area.
func (b Bounds) Empty() bool {
	return b.Right <= b.Left || b.Bottom <= b.Top
}

func (b Bounds) normalize() Bounds {
	if b.Empty() {
		return Bounds{}
	}
	return b
}

// Union returns the smallest rectangle containing both.
func (b Bounds) Union(o Bounds) Bounds {
	if b.Empty() {
		return o.normalize()
	}
	if o.Empty() {
		return b
	}
	return Bounds{
		Top:    min(b.Top, o.Top),
		Left:   min(b.Left, o.Left),
		Bottom: max(b.Bottom, o.Bottom),
		Right:  max(b.Right, o.Right),
	}
}

// Intersect returns the overlap of both rectangles.
func (b Bounds) Intersect(o Bounds) Bounds {
	return Bounds{
		Top:    max(b.Top, o.Top),
		Left:   max(b.Left, o.Left),
		Bottom: min(b.Bottom, o.Bottom),
		Right:  min(b.Right, o.Right),
	}.normalize()
}

// Scale multiplies all edges, rounding outwards.
func (b Bounds) Scale(sx, sy float64) Bounds {
	if b.Empty() {
		return Bounds{}
	}
	return Bounds{
		Top:    int(math.Floor(float64(b.Top) * sy)),
		Left:   int(math.Floor(float64(b.Left) * sx)),
		Bottom: int(math.Ceil(float64(b.Bottom) * sy)),
		Right:  int(math.Ceil(float64(b.Right) * sx)),
	}.normalize()
}

func boundsEqual(a, b *Bounds) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
