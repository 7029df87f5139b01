// Package align holds the 5-point similarity alignment against the ArcFace
// template and the inverse-warp paste-back used to composite model output
// back into source frames.
package align

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
)

// Template112 is the ArcFace reference landmark template for the canonical
// 112x112 crop. Templates for other sizes are uniform scalings of it.
var Template112 = []geometry.Point{
	{X: 38.2946, Y: 51.6963}, // left eye
	{X: 73.5318, Y: 51.5014}, // right eye
	{X: 56.0252, Y: 71.7366}, // nose
	{X: 41.5493, Y: 92.3655}, // left mouth
	{X: 70.7299, Y: 92.2041}, // right mouth
}

// Template returns the reference landmarks scaled for a target crop size.
func Template(size int) []geometry.Point {
	scale := float32(size) / 112.0
	out := make([]geometry.Point, len(Template112))
	for i, p := range Template112 {
		out[i] = geometry.Point{X: p.X * scale, Y: p.Y * scale}
	}
	return out
}

// Transform estimates the similarity transform from detected landmarks onto
// the template at the given crop size.
func Transform(lm detector.Landmarks, size int) geometry.Affine {
	return geometry.EstimateSimilarity(lm.Points(), Template(size))
}

// Crop warps the face into an aligned size x size BGR crop and returns the
// forward transform used.
func Crop(img gocv.Mat, lm detector.Landmarks, size int) (gocv.Mat, geometry.Affine) {
	t := Transform(lm, size)
	m := matFromAffine(t)
	defer m.Close()

	aligned := gocv.NewMat()
	gocv.WarpAffine(img, &aligned, m, image.Pt(size, size))
	return aligned, t
}

// InverseWarp maps an aligned-space image back into a w x h frame using the
// inverse of the forward alignment transform.
func InverseWarp(face gocv.Mat, t geometry.Affine, w, h int) (gocv.Mat, error) {
	inv, err := t.Invert()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("alignment transform not invertible: %w", err)
	}
	m := matFromAffine(inv)
	defer m.Close()

	out := gocv.NewMat()
	gocv.WarpAffine(face, &out, m, image.Pt(w, h))
	return out, nil
}

func matFromAffine(t geometry.Affine) gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, t[r][c])
		}
	}
	return m
}
