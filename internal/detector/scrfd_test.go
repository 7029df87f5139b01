package detector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/magicmirror/internal/geometry"
)

func TestClassifyOutputs(t *testing.T) {
	assert.Equal(t, NineTensor, ClassifyOutputs(9))
	assert.Equal(t, SixTensor, ClassifyOutputs(6))
	assert.Equal(t, MergedTensor, ClassifyOutputs(1))
	assert.Equal(t, MergedTensor, ClassifyOutputs(3))
}

// buildStrideOutputs synthesizes one confident anchor at a grid position for
// a split-output export with 2 anchors per point.
func buildStrideOutputs(inputSize, stride, gx, gy int, score float32) (scores, bboxes, kps []float32) {
	grid := inputSize / stride
	n := grid * grid * 2
	scores = make([]float32, n)
	bboxes = make([]float32, n*4)
	kps = make([]float32, n*10)

	idx := (gy*grid + gx) * 2
	scores[idx] = score
	// Distances of one stride unit on every edge.
	for i := 0; i < 4; i++ {
		bboxes[idx*4+i] = 1
	}
	// All landmarks at the anchor center.
	return scores, bboxes, kps
}

func TestDecodeStride(t *testing.T) {
	const inputSize = 640
	const stride = 16
	scores, bboxes, kps := buildStrideOutputs(inputSize, stride, 10, 5, 0.9)

	faces := decodeStride(scores, bboxes, kps, stride, inputSize, 0.5, 1280, 1280, 0.5)
	require.Len(t, faces, 1)

	f := faces[0]
	assert.InDelta(t, 0.9, float64(f.Score), 1e-6)
	assert.True(t, f.HasLandmarks)

	// Anchor center (10.5*16, 5.5*16) with one-stride edges, unscaled by 0.5.
	cx := float32(10.5 * stride)
	cy := float32(5.5 * stride)
	assert.InDelta(t, float64((cx-stride)/0.5), float64(f.Box.X1), 1e-3)
	assert.InDelta(t, float64((cy-stride)/0.5), float64(f.Box.Y1), 1e-3)
	assert.InDelta(t, float64((cx+stride)/0.5), float64(f.Box.X2), 1e-3)
	assert.InDelta(t, float64((cy+stride)/0.5), float64(f.Box.Y2), 1e-3)

	// Zero landmark offsets decode to the anchor center.
	assert.InDelta(t, float64(cx/0.5), float64(f.Landmarks.Nose.X), 1e-3)
	assert.InDelta(t, float64(cy/0.5), float64(f.Landmarks.Nose.Y), 1e-3)
}

func TestDecodeStrideThreshold(t *testing.T) {
	scores, bboxes, kps := buildStrideOutputs(640, 8, 3, 3, 0.4)
	faces := decodeStride(scores, bboxes, kps, 8, 640, 1, 640, 640, 0.5)
	assert.Empty(t, faces)
}

func TestDecodeStrideWithoutLandmarks(t *testing.T) {
	scores, bboxes, _ := buildStrideOutputs(640, 32, 2, 2, 0.8)
	faces := decodeStride(scores, bboxes, nil, 32, 640, 1, 640, 640, 0.5)
	require.Len(t, faces, 1)
	assert.False(t, faces[0].HasLandmarks)

	// Synthesized points follow the fixed box-relative offsets.
	f := faces[0]
	c := f.Box.Center()
	w := f.Box.Width()
	h := f.Box.Height()
	assert.InDelta(t, float64(c.X-w*0.17), float64(f.Landmarks.LeftEye.X), 1e-3)
	assert.InDelta(t, float64(c.Y-h*0.12), float64(f.Landmarks.LeftEye.Y), 1e-3)
	assert.InDelta(t, float64(c.X+w*0.14), float64(f.Landmarks.RightMouth.X), 1e-3)
	assert.InDelta(t, float64(c.Y+h*0.18), float64(f.Landmarks.RightMouth.Y), 1e-3)
}

func TestDecodeMerged(t *testing.T) {
	rows := []float32{
		// x1, y1, x2, y2, score, 5 landmarks
		100, 100, 200, 200, 0.95, 120, 130, 180, 130, 150, 160, 130, 180, 170, 180,
		0, 0, 50, 50, 0.2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	faces := decodeMerged(rows, 15, 1, 640, 640, 0.5)
	require.Len(t, faces, 1)
	assert.True(t, faces[0].HasLandmarks)
	assert.InDelta(t, 100, faces[0].Box.X1, 1e-4)
	assert.InDelta(t, 120, faces[0].Landmarks.LeftEye.X, 1e-4)
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	strong := Face{Box: geometry.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}, Score: 0.9}
	weak := Face{Box: geometry.Box{X1: 10, Y1: 10, X2: 110, Y2: 110}, Score: 0.6}
	far := Face{Box: geometry.Box{X1: 400, Y1: 400, X2: 500, Y2: 500}, Score: 0.7}

	out := nms([]Face{weak, far, strong}, 0.4)
	require.Len(t, out, 2)
	assert.Equal(t, float32(0.9), out[0].Score)
	assert.Equal(t, float32(0.7), out[1].Score)
}

func TestNMSOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var faces []Face
	for i := 0; i < 30; i++ {
		x := rng.Float32() * 500
		y := rng.Float32() * 500
		s := rng.Float32() * 50
		faces = append(faces, Face{
			Box:   geometry.Box{X1: x, Y1: y, X2: x + 60 + s, Y2: y + 60 + s},
			Score: 0.5 + rng.Float32()*0.5,
		})
	}

	baseline := nms(faces, 0.4)
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]Face, len(faces))
		copy(shuffled, faces)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		assert.Equal(t, baseline, nms(shuffled, 0.4))
	}
}
