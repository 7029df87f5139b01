package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
)

func faceAt(x, y, w, h, score float32) detector.Face {
	return detector.Face{
		Box:   geometry.Box{X1: x, Y1: y, X2: x + w, Y2: y + h},
		Score: score,
	}
}

func TestNormalizeClampsToImage(t *testing.T) {
	in := []Region{
		{X: -10, Y: -10, Width: 100, Height: 100},
		{X: 500, Y: 500, Width: 400, Height: 400},
		{X: 10, Y: 10, Width: 0, Height: 50}, // degenerate, dropped
	}
	out := Normalize(in, 640, 480)
	require.Len(t, out, 2)

	assert.Equal(t, Region{X: 0, Y: 0, Width: 100, Height: 100}, out[0])
	assert.Equal(t, Region{X: 500, Y: 479, Width: 140, Height: 1}, out[1])
}

func TestNormalizePreservesSourceID(t *testing.T) {
	out := Normalize([]Region{{X: 1, Y: 1, Width: 5, Height: 5, FaceSourceID: "x"}}, 100, 100)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].FaceSourceID)
}

func TestFromDetectionsExpandsAndDedupes(t *testing.T) {
	faces := []detector.Face{
		faceAt(100, 100, 80, 80, 0.95),
		faceAt(104, 102, 80, 80, 0.90), // near-duplicate, deduped
		faceAt(400, 50, 60, 60, 0.80),
	}
	regions := FromDetections(faces, 1000, 1000)
	require.Len(t, regions, 2)

	// Top-to-bottom order: the smaller face sits higher.
	assert.InDelta(t, 430, regions[0].Box().Center().X, 1.0)
	// Square, side = max(w,h) * 1.35.
	for _, r := range regions {
		assert.Equal(t, r.Width, r.Height)
	}
	assert.InDelta(t, 108, regions[1].Width, 1.5)
}

func TestFromDetectionsRejectsTinyFaces(t *testing.T) {
	// 20 px face near the border clips below the 48 px floor.
	regions := FromDetections([]detector.Face{faceAt(0, 0, 20, 20, 0.9)}, 25, 25)
	assert.Empty(t, regions)
}

func TestBindPicksCenterInRegion(t *testing.T) {
	faces := []detector.Face{
		faceAt(0, 0, 50, 50, 0.9),    // center (25,25)
		faceAt(90, 90, 60, 60, 0.8),  // center (120,120)
		faceAt(300, 300, 60, 60, 0.7),
	}
	idx, ok := Bind(Region{X: 80, Y: 80, Width: 100, Height: 100}, faces)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestBindNearestWins(t *testing.T) {
	// Region center (150,150); both face centers inside, the closer wins.
	faces := []detector.Face{
		faceAt(100, 100, 40, 40, 0.99), // center (120,120), dist ~42
		faceAt(130, 130, 40, 40, 0.50), // center (150,150), dist 0
	}
	idx, ok := Bind(Region{X: 100, Y: 100, Width: 100, Height: 100}, faces)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestBindFallsBackToExpandedRegion(t *testing.T) {
	// Face center just outside the raw region, inside its 1.35x expansion.
	faces := []detector.Face{faceAt(195, 90, 40, 40, 0.9)} // center (215,110)
	idx, ok := Bind(Region{X: 100, Y: 100, Width: 100, Height: 100}, faces)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestBindNoFace(t *testing.T) {
	faces := []detector.Face{faceAt(600, 600, 40, 40, 0.9)}
	_, ok := Bind(Region{X: 0, Y: 0, Width: 100, Height: 100}, faces)
	assert.False(t, ok)
}

func TestBindExcludingSkipsUsedDetections(t *testing.T) {
	faces := []detector.Face{
		faceAt(90, 90, 60, 60, 0.9),
		faceAt(110, 110, 60, 60, 0.8),
	}
	used := map[int]bool{0: true}
	idx, ok := BindExcluding(Region{X: 80, Y: 80, Width: 100, Height: 100}, faces, used)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestFromBoxRoundTrip(t *testing.T) {
	r := FromBox(geometry.Box{X1: 10, Y1: 20, X2: 110, Y2: 220}, "src")
	assert.Equal(t, Region{X: 10, Y: 20, Width: 100, Height: 200, FaceSourceID: "src"}, r)
}
