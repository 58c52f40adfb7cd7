// Package images - Geometry, codec and region extraction for leaf analysis.
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is an integer pixel rectangle.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Rectangle converts the rect into an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// Box is an axis-aligned bounding box in source-image pixel space.
//
// A valid box satisfies X2 >= X1 and Y2 >= Y1. Boxes produced by the decoder
// always have a strictly positive width and height.
type Box struct {
	X1 float32 `json:"x1" yaml:"x1"`
	Y1 float32 `json:"y1" yaml:"y1"`
	X2 float32 `json:"x2" yaml:"x2"`
	Y2 float32 `json:"y2" yaml:"y2"`
}

// BoxFromCenter builds a box from a center point and its extents.
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width of the box.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height of the box.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area of the box. Invalid boxes have an area of 0.
func (b Box) Area() float32 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center returns the center point of the box.
func (b Box) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// AspectRatio returns width / height, or 0 when the height is 0.
func (b Box) AspectRatio() float32 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// Valid reports whether the box has ordered, finite corners.
func (b Box) Valid() bool {
	for _, v := range [...]float32{b.X1, b.Y1, b.X2, b.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// Degenerate reports whether the box is invalid or encloses no area.
func (b Box) Degenerate() bool {
	return !b.Valid() || b.Width() <= 0 || b.Height() <= 0
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (b Box) Scale(sx, sy float32) Box {
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Rect truncates the box into integer pixel coordinates.
func (b Box) Rect() Rect {
	return Rect{X1: int(b.X1), Y1: int(b.Y1), X2: int(b.X2), Y2: int(b.Y2)}
}

// Pad grows the box by n pixels on every side and clamps it to a width x height
// image. The result may be empty when the box lies outside the image.
func (b Box) Pad(n, width, height int) image.Rectangle {
	r := b.Rect()
	padded := image.Rect(r.X1-n, r.Y1-n, r.X2+n, r.Y2+n)
	return padded.Intersect(image.Rect(0, 0, width, height))
}

// IoU computes the Intersection over Union between b and o.
//
// The result is 0 for disjoint or touching boxes, and for degenerate boxes whose
// union has no area. IoU(a, b) == IoU(b, a) and IoU(a, a) == 1 for any
// non-degenerate box.
func (b Box) IoU(o Box) float32 {
	ix1 := math32.Max(b.X1, o.X1)
	iy1 := math32.Max(b.Y1, o.Y1)
	ix2 := math32.Min(b.X2, o.X2)
	iy2 := math32.Min(b.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	iou := inter / union
	if iou > 1 {
		return 1
	}
	return iou
}
