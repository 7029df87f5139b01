package swapper

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putVarint(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func floatPayload(rng *rand.Rand, corrupt bool) []byte {
	payload := make([]byte, embeddingDim*embeddingDim*4)
	for i := 0; i < len(payload); i += 4 {
		v := rng.Float32()*0.2 - 0.1
		bits := math.Float32bits(v)
		payload[i] = byte(bits)
		payload[i+1] = byte(bits >> 8)
		payload[i+2] = byte(bits >> 16)
		payload[i+3] = byte(bits >> 24)
	}
	if corrupt {
		// A NaN at (0,0), which the sparse sampler always visits.
		bits := math.Float32bits(float32(math.NaN()))
		payload[0] = byte(bits)
		payload[1] = byte(bits >> 8)
		payload[2] = byte(bits >> 16)
		payload[3] = byte(bits >> 24)
	}
	return payload
}

// buildModel assembles a minimal initializer record: the name field
// (tag 0x0A) followed by a raw_data field (tag 0x6A) with the payload.
func buildModel(payload []byte) []byte {
	data := []byte{0x08, 0x07, 0x12, 0x00} // leading unrelated fields
	data = append(data, 0x0A, 0x04)
	data = append(data, []byte("emap")...)
	data = append(data, 0x1D, 0x00, 0x02) // filler between name and data
	data = append(data, 0x6A)
	data = append(data, putVarint(len(payload))...)
	data = append(data, payload...)
	return data
}

func TestScanModelFindsEmap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	payload := floatPayload(rng, false)
	m, result := ScanModel(buildModel(payload))

	require.Equal(t, EmapFound, result)
	require.NotNil(t, m)

	// Spot-check the first row survived the little-endian parse.
	bits := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	assert.Equal(t, math.Float32frombits(bits), m[0][0])
}

func TestScanModelFloatDataFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	payload := floatPayload(rng, false)

	data := []byte{0x0A, 0x04}
	data = append(data, []byte("emap")...)
	data = append(data, 0x2A) // packed float_data instead of raw_data
	data = append(data, putVarint(len(payload))...)
	data = append(data, payload...)

	_, result := ScanModel(data)
	assert.Equal(t, EmapFound, result)
}

func TestScanModelMissing(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	junk := make([]byte, 4096)
	rng.Read(junk)
	// Make sure the name pattern is absent.
	for i := 0; i+4 <= len(junk); i++ {
		if string(junk[i:i+4]) == "emap" {
			junk[i] = 0
		}
	}
	m, result := ScanModel(junk)
	assert.Nil(t, m)
	assert.Equal(t, EmapMissing, result)
}

func TestScanModelRejectsCorruption(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, result := ScanModel(buildModel(floatPayload(rng, true)))
	assert.Nil(t, m)
	assert.Equal(t, EmapCorrupt, result)
}

func TestValidateBands(t *testing.T) {
	var tiny Emap // all zeros: mean abs below 0.001
	assert.False(t, Validate(&tiny))

	var huge Emap
	for i := range huge {
		for j := range huge[i] {
			huge[i][j] = 1000
		}
	}
	assert.False(t, Validate(&huge))

	var ok Emap
	for i := range ok {
		for j := range ok[i] {
			ok[i][j] = 0.05
		}
	}
	assert.True(t, Validate(&ok))

	assert.False(t, Validate(nil))
}

func TestTransformNormalizes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var m Emap
	for i := range m {
		for j := range m[i] {
			m[i][j] = rng.Float32()*0.2 - 0.1
		}
	}

	v := make([]float32, embeddingDim)
	for i := range v {
		v[i] = rng.Float32() - 0.5
	}

	out := m.Transform(v)
	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-3)
}

func TestTransformNilPassthrough(t *testing.T) {
	var e *Emap
	v := []float32{1, 2, 3}
	assert.Equal(t, v, e.Transform(v))
}
