package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// arcface landmark template, the fixed alignment target.
var template = []Point{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// applySimilarity maps points through a known rotation+scale+translation.
func applySimilarity(pts []Point, angle, scale, tx, ty float64) []Point {
	cos := math.Cos(angle) * scale
	sin := math.Sin(angle) * scale
	out := make([]Point, len(pts))
	for i, p := range pts {
		x := float64(p.X)
		y := float64(p.Y)
		out[i] = Point{
			X: float32(cos*x - sin*y + tx),
			Y: float32(sin*x + cos*y + ty),
		}
	}
	return out
}

func TestEstimateSimilarityRecoversTransform(t *testing.T) {
	cases := []struct {
		name                 string
		angle, scale, tx, ty float64
	}{
		{"identity", 0, 1, 0, 0},
		{"rotated", 0.35, 1, 0, 0},
		{"scaled", 0, 2.5, 0, 0},
		{"translated", 0, 1, 120, -40},
		{"composed", -0.6, 0.8, 33, 77},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := applySimilarity(template, tc.angle, tc.scale, tc.tx, tc.ty)
			a := EstimateSimilarity(src, template)

			// A proper similarity: positive determinant, aspect preserved.
			require.Greater(t, a.Det(), 0.0)
			colX := math.Hypot(a[0][0], a[1][0])
			colY := math.Hypot(a[0][1], a[1][1])
			assert.InDelta(t, colX, colY, 1e-6)

			// Mapping the source landmarks lands on the template sub-pixel.
			for i, p := range src {
				mapped := a.Apply(p)
				assert.InDelta(t, float64(template[i].X), float64(mapped.X), 0.01)
				assert.InDelta(t, float64(template[i].Y), float64(mapped.Y), 0.01)
			}
		})
	}
}

func TestEstimateSimilarityAtTemplateScales(t *testing.T) {
	src := applySimilarity(template, 0.2, 1.4, 50, 20)
	for _, size := range []int{112, 128, 512} {
		scale := float32(size) / 112.0
		dst := make([]Point, len(template))
		for i, p := range template {
			dst[i] = Point{X: p.X * scale, Y: p.Y * scale}
		}
		a := EstimateSimilarity(src, dst)
		require.Greater(t, a.Det(), 0.0, "size %d", size)
		for i, p := range src {
			mapped := a.Apply(p)
			assert.InDelta(t, float64(dst[i].X), float64(mapped.X), 0.05, "size %d", size)
			assert.InDelta(t, float64(dst[i].Y), float64(mapped.Y), 0.05, "size %d", size)
		}
	}
}

func TestInvertRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		a := Affine{
			{rng.Float64()*4 - 2, rng.Float64()*4 - 2, rng.Float64() * 100},
			{rng.Float64()*4 - 2, rng.Float64()*4 - 2, rng.Float64() * 100},
		}
		if math.Abs(a.Det()) < 1e-3 {
			continue
		}
		inv, err := a.Invert()
		require.NoError(t, err)

		p := Point{X: rng.Float32() * 640, Y: rng.Float32() * 640}
		back := inv.Apply(a.Apply(p))
		assert.InDelta(t, float64(p.X), float64(back.X), 1e-4)
		assert.InDelta(t, float64(p.Y), float64(back.Y), 1e-4)
	}
}

func TestInvertSingular(t *testing.T) {
	_, err := Affine{{1, 2, 0}, {2, 4, 0}}.Invert()
	assert.ErrorIs(t, err, ErrSingular)
}
