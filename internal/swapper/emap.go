package swapper

import (
	"math"
)

const embeddingDim = 512

// Emap is the 512x512 linear transform stored as an initializer inside the
// InSwapper model. It maps ArcFace embeddings into the generator's latent
// space:
//
//	latent = normalize(embedding @ emap)
type Emap [embeddingDim][embeddingDim]float32

// ScanResult reports the outcome of looking for the emap initializer.
// Missing and corrupt carry different quality implications, so they surface
// as distinct warnings; in both cases the swap proceeds without the
// transform.
type ScanResult int

const (
	// EmapFound means the matrix was located and passed the validation gate.
	EmapFound ScanResult = iota
	// EmapMissing means no emap initializer exists in the model bytes.
	EmapMissing
	// EmapCorrupt means a full-size payload was located but failed validation.
	EmapCorrupt
)

func (r ScanResult) String() string {
	switch r {
	case EmapFound:
		return "found"
	case EmapMissing:
		return "missing"
	default:
		return "corrupt"
	}
}

// ScanModel locates the emap initializer inside raw ONNX model bytes.
//
// The model format is fixed at build time, so this is a stream-safe byte
// scan rather than a full protobuf parse: find the tag byte 0x0A (field 1,
// wire type 2) followed by length 4 and ASCII "emap", then look ahead for a
// length-delimited field carrying exactly 512*512*4 bytes, preferring tag
// 0x6A (raw_data, field 13) over 0x2A (packed float_data, field 5).
func ScanModel(data []byte) (*Emap, ScanResult) {
	const name = "emap"
	const payloadSize = embeddingDim * embeddingDim * 4

	sawPayload := false

	for i := 2; i+len(name) <= len(data); i++ {
		if data[i-2] != 0x0A || data[i-1] != byte(len(name)) {
			continue
		}
		if string(data[i:i+len(name)]) != name {
			continue
		}

		searchEnd := i + payloadSize + 4096
		if searchEnd > len(data) {
			searchEnd = len(data)
		}

		for _, tag := range []byte{0x6A, 0x2A} {
			payload, ok := findFieldPayload(data, i, searchEnd, tag, payloadSize)
			if !ok {
				continue
			}
			sawPayload = true
			m := parseEmap(payload)
			if Validate(m) {
				return m, EmapFound
			}
		}
	}

	if sawPayload {
		return nil, EmapCorrupt
	}
	return nil, EmapMissing
}

// findFieldPayload scans [start, end) for a length-delimited field with the
// given tag carrying exactly wantLen bytes.
func findFieldPayload(data []byte, start, end int, tag byte, wantLen int) ([]byte, bool) {
	for i := start; i < end-1; i++ {
		if data[i] != tag {
			continue
		}
		length, next, ok := readVarint(data, i+1)
		if !ok {
			continue
		}
		if length == wantLen && next+length <= len(data) {
			return data[next : next+length], true
		}
	}
	return nil, false
}

// readVarint decodes a protobuf varint at offset, returning the value and
// the offset just past it.
func readVarint(data []byte, offset int) (int, int, bool) {
	var result uint64
	shift := uint(0)
	pos := offset
	for pos < len(data) && shift < 35 {
		b := data[pos]
		result |= uint64(b&0x7F) << shift
		pos++
		if b&0x80 == 0 {
			return int(result), pos, true
		}
		shift += 7
	}
	return 0, 0, false
}

// parseEmap interprets the payload as little-endian float32, row-major.
func parseEmap(payload []byte) *Emap {
	var m Emap
	for i := 0; i < embeddingDim; i++ {
		for j := 0; j < embeddingDim; j++ {
			off := (i*embeddingDim + j) * 4
			bits := uint32(payload[off]) | uint32(payload[off+1])<<8 |
				uint32(payload[off+2])<<16 | uint32(payload[off+3])<<24
			m[i][j] = math.Float32frombits(bits)
		}
	}
	return &m
}

// Validate is the mandatory gate before using a scanned matrix: every
// sampled entry must be finite and the sampled mean absolute value must lie
// in [0.001, 50].
func Validate(m *Emap) bool {
	if m == nil {
		return false
	}
	var sumAbs float64
	count := 0
	for i := 0; i < embeddingDim; i += 32 {
		for j := 0; j < embeddingDim; j += 32 {
			v := float64(m[i][j])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
			sumAbs += math.Abs(v)
			count++
		}
	}
	avgAbs := sumAbs / float64(count)
	return avgAbs >= 0.001 && avgAbs <= 50
}

// Transform applies the emap to an L2-normalized identity vector and
// re-normalizes. A nil receiver passes the vector through unchanged.
func (e *Emap) Transform(embedding []float32) []float32 {
	if e == nil {
		return embedding
	}

	latent := make([]float32, embeddingDim)
	for j := 0; j < embeddingDim; j++ {
		var sum float32
		for i := 0; i < embeddingDim; i++ {
			sum += embedding[i] * e[i][j]
		}
		latent[j] = sum
	}

	var norm float64
	for _, v := range latent {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}
	for i := range latent {
		latent[i] = latent[i] / float32(norm)
	}
	return latent
}
