package embedder

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func norm(e *Embedding) float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestNormalizeUnitLength(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		raw := make([]float32, embeddingDim)
		for i := range raw {
			raw[i] = rng.Float32()*200 - 100
		}
		e := Normalize(raw)
		assert.InDelta(t, 1.0, norm(e), 1e-3)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	e := Normalize(make([]float32, embeddingDim))
	assert.InDelta(t, 0.0, norm(e), 1e-6)
}

func TestCosine(t *testing.T) {
	var a, b Embedding
	a[0] = 1
	b[0] = 1
	assert.InDelta(t, 1.0, float64(Cosine(&a, &b)), 1e-6)

	b[0] = 0
	b[1] = 1
	assert.InDelta(t, 0.0, float64(Cosine(&a, &b)), 1e-6)

	b[1] = 0
	b[0] = -1
	assert.InDelta(t, -1.0, float64(Cosine(&a, &b)), 1e-6)
}
