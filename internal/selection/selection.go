// Package selection maps user-supplied rectangles onto detected faces and
// derives selectable regions from detections.
package selection

import (
	"sort"

	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
)

const (
	// ExpandScale grows a detection box into its selectable square.
	ExpandScale = 1.35
	// MinRegionSide rejects regions too small to swap.
	MinRegionSide = 48
	// DedupeIoU collapses overlapping candidate regions.
	DedupeIoU = 0.45
)

// Region is an axis-aligned rectangle in source-image pixels, optionally
// bound to a face source.
type Region struct {
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FaceSourceID string `json:"faceSourceId,omitempty"`
}

// Box converts the region to box coordinates.
func (r Region) Box() geometry.Box {
	return geometry.Box{
		X1: float32(r.X),
		Y1: float32(r.Y),
		X2: float32(r.X + r.Width),
		Y2: float32(r.Y + r.Height),
	}
}

// FromBox converts box coordinates into a region, preserving the source tag.
func FromBox(b geometry.Box, faceSourceID string) Region {
	return Region{
		X:            int(b.X1 + 0.5),
		Y:            int(b.Y1 + 0.5),
		Width:        int(b.Width() + 0.5),
		Height:       int(b.Height() + 0.5),
		FaceSourceID: faceSourceID,
	}
}

// Normalize clamps regions to image bounds and drops degenerate ones.
func Normalize(regions []Region, imgW, imgH int) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Width <= 0 || r.Height <= 0 {
			continue
		}
		x := clampInt(r.X, 0, imgW-1)
		y := clampInt(r.Y, 0, imgH-1)
		w := clampInt(r.Width, 1, imgW-x)
		h := clampInt(r.Height, 1, imgH-y)
		out = append(out, Region{X: x, Y: y, Width: w, Height: h, FaceSourceID: r.FaceSourceID})
	}
	return out
}

// FromDetections turns detections into selectable regions: square-expand
// each box, dedupe overlaps keeping the first in detection order (NMS has
// already sorted by score), then order top-to-bottom, left-to-right.
func FromDetections(faces []detector.Face, imgW, imgH int) []Region {
	boxes := make([]geometry.Box, 0, len(faces))
	for _, f := range faces {
		sq, ok := geometry.ExpandSquare(f.Box, imgW, imgH, ExpandScale, MinRegionSide)
		if !ok {
			continue
		}
		boxes = append(boxes, sq)
	}

	boxes = geometry.DedupeBoxes(boxes, DedupeIoU)
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].Y1 != boxes[j].Y1 {
			return boxes[i].Y1 < boxes[j].Y1
		}
		return boxes[i].X1 < boxes[j].X1
	})

	out := make([]Region, len(boxes))
	for i, b := range boxes {
		out[i] = FromBox(b, "")
	}
	return out
}

// Bind picks the detection for a user region: prefer detections whose
// center lies inside the region, nearest to the region center first, ties
// broken by higher score. When the region itself contains no center, the
// square-expanded region is searched the same way. Returns false when
// nothing matches — the caller reports "no face" for the region without
// aborting.
func Bind(region Region, faces []detector.Face) (int, bool) {
	return BindExcluding(region, faces, nil)
}

// BindExcluding is Bind with a used-detection mask, for callers assigning
// several regions against one detection list.
func BindExcluding(region Region, faces []detector.Face, used map[int]bool) (int, bool) {
	rbox := region.Box()
	if idx, ok := nearestCenterIn(rbox, faces, used); ok {
		return idx, true
	}

	// No center inside the raw region; search its square expansion. The
	// expansion is not clipped here, only detection centers are tested.
	side := rbox.Width()
	if rbox.Height() > side {
		side = rbox.Height()
	}
	side *= ExpandScale
	if side < MinRegionSide {
		side = MinRegionSide
	}
	c := rbox.Center()
	expanded := geometry.Box{
		X1: c.X - side/2,
		Y1: c.Y - side/2,
		X2: c.X + side/2,
		Y2: c.Y + side/2,
	}
	return nearestCenterIn(expanded, faces, used)
}

func nearestCenterIn(area geometry.Box, faces []detector.Face, used map[int]bool) (int, bool) {
	center := area.Center()
	best := -1
	var bestDist float32
	for i, f := range faces {
		if used[i] {
			continue
		}
		c := f.Box.Center()
		if !area.Contains(c) {
			continue
		}
		d := pointDistance(c, center)
		if best < 0 || d < bestDist || (d == bestDist && f.Score > faces[best].Score) {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func pointDistance(a, b geometry.Point) float32 {
	return geometry.CenterDistance(
		geometry.Box{X1: a.X, Y1: a.Y, X2: a.X, Y2: a.Y},
		geometry.Box{X1: b.X, Y1: b.Y, X2: b.X, Y2: b.Y},
	)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
