package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
)

func TestFeatherMaskInterior(t *testing.T) {
	const size = 128
	mask := FeatherMask(size, 0.12)
	require.Len(t, mask, size*size)

	// Deep interior is fully opaque.
	assert.InDelta(t, 1.0, mask[(size/2)*size+size/2], 1e-6)

	// Edges are fully transparent.
	assert.InDelta(t, 0.0, mask[0], 1e-6)
	assert.InDelta(t, 0.0, mask[size-1], 1e-6)
	assert.InDelta(t, 0.0, mask[(size-1)*size], 1e-6)
}

func TestFeatherMaskRampMonotone(t *testing.T) {
	const size = 128
	mask := FeatherMask(size, 0.12)
	y := size / 2
	for x := 1; x < size/2; x++ {
		assert.GreaterOrEqual(t, mask[y*size+x], mask[y*size+x-1],
			"alpha must not decrease moving inward at x=%d", x)
	}
}

func TestFeatherMaskCornersTakeMinimum(t *testing.T) {
	const size = 128
	mask := FeatherMask(size, 0.12)
	border := int(float32(size) * 0.12)

	// Halfway along one border axis but deep on the other: the corner pixel
	// equals the smaller (edge-axis) factor.
	edgeMid := mask[(size/2)*size+border/2]
	corner := mask[(border/2)*size+border/2]
	assert.InDelta(t, float64(edgeMid), float64(corner), 1e-6)
	assert.Less(t, corner, float32(1))
}

func TestTemplateScaling(t *testing.T) {
	base := Template(112)
	require.Len(t, base, 5)
	assert.Equal(t, Template112, base)

	t512 := Template(512)
	for i := range t512 {
		assert.InDelta(t, float64(Template112[i].X)*512/112, float64(t512[i].X), 1e-3)
		assert.InDelta(t, float64(Template112[i].Y)*512/112, float64(t512[i].Y), 1e-3)
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.1415}
	out := bytesToFloat32(float32SliceToBytes(in))
	assert.Equal(t, in, out)
}

func TestTransformMapsLandmarksToTemplate(t *testing.T) {
	lm := landmarksAt(200, 150, 2.0)
	a := Transform(lm, 112)
	tmpl := Template(112)
	for i, p := range lm.Points() {
		mapped := a.Apply(p)
		assert.InDelta(t, float64(tmpl[i].X), float64(mapped.X), 0.05)
		assert.InDelta(t, float64(tmpl[i].Y), float64(mapped.Y), 0.05)
	}
}

// landmarksAt plants the template shape at an offset and scale, simulating a
// detected face.
func landmarksAt(dx, dy, scale float32) detector.Landmarks {
	at := func(i int) geometry.Point {
		p := Template112[i]
		return geometry.Point{X: p.X*scale + dx, Y: p.Y*scale + dy}
	}
	return detector.Landmarks{
		LeftEye:    at(0),
		RightEye:   at(1),
		Nose:       at(2),
		LeftMouth:  at(3),
		RightMouth: at(4),
	}
}
