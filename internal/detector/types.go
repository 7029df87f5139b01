package detector

import "github.com/dudu/magicmirror/internal/geometry"

// Landmarks represents the 5 facial landmark points in the fixed order
// left eye, right eye, nose, left mouth corner, right mouth corner.
type Landmarks struct {
	LeftEye    geometry.Point
	RightEye   geometry.Point
	Nose       geometry.Point
	LeftMouth  geometry.Point
	RightMouth geometry.Point
}

// Points returns the landmarks as a slice in canonical order.
func (l Landmarks) Points() []geometry.Point {
	return []geometry.Point{l.LeftEye, l.RightEye, l.Nose, l.LeftMouth, l.RightMouth}
}

// Face represents a detected face
type Face struct {
	Box       geometry.Box
	Landmarks Landmarks
	Score     float32

	// HasLandmarks is false when the model carries no landmark head and the
	// points were synthesized from box geometry. Such points are too coarse
	// for identity-stable alignment.
	HasLandmarks bool
}

// Largest returns the face with the biggest box area, or false when the
// slice is empty.
func Largest(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best, true
}
