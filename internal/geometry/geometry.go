package geometry

import "math"

// Point represents a 2D point in source-image pixels.
type Point struct {
	X, Y float32
}

// Box is an axis-aligned rectangle, (left, top) inclusive, (right, bottom) exclusive.
type Box struct {
	X1, Y1 float32
	X2, Y2 float32
}

// Width returns box width
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b Box) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Diagonal returns the length of the box diagonal.
func (b Box) Diagonal() float32 {
	w := float64(b.Width())
	h := float64(b.Height())
	return float32(math.Sqrt(w*w + h*h))
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	return p.X >= b.X1 && p.X < b.X2 && p.Y >= b.Y1 && p.Y < b.Y2
}

// IoU calculates Intersection over Union of two boxes
func IoU(a, b Box) float32 {
	x1 := max32(a.X1, b.X1)
	y1 := max32(a.Y1, b.Y1)
	x2 := min32(a.X2, b.X2)
	y2 := min32(a.Y2, b.Y2)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// CenterDistance returns the Euclidean distance between box centers.
func CenterDistance(a, b Box) float32 {
	ca := a.Center()
	cb := b.Center()
	dx := float64(ca.X - cb.X)
	dy := float64(ca.Y - cb.Y)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

// ExpandSquare grows a box into a square of side max(w,h)*scale centered on the
// original center, clipped to the image bounds. Returns false when the clipped
// square ends up smaller than minSide.
func ExpandSquare(b Box, imgW, imgH int, scale float32, minSide int) (Box, bool) {
	w := b.Width()
	h := b.Height()
	if w < 1 || h < 1 {
		return Box{}, false
	}

	side := max32(w, h) * scale
	if side < float32(minSide) {
		side = float32(minSide)
	}

	c := b.Center()
	half := side / 2

	out := Box{
		X1: max32(0, c.X-half),
		Y1: max32(0, c.Y-half),
		X2: min32(float32(imgW), c.X+half),
		Y2: min32(float32(imgH), c.Y+half),
	}

	size := min32(out.Width(), out.Height())
	if size < float32(minSide) {
		return Box{}, false
	}

	// Re-square after clipping.
	out.X2 = out.X1 + size
	out.Y2 = out.Y1 + size
	return out, true
}

// DedupeBoxes drops boxes overlapping an earlier box at IoU >= threshold,
// keeping the first occurrence. Input order is preserved.
func DedupeBoxes(boxes []Box, iouThreshold float32) []Box {
	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		keep := true
		for _, kept := range out {
			if IoU(b, kept) >= iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, b)
		}
	}
	return out
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
