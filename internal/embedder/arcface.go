// Package embedder extracts 512-dimensional identity vectors with the
// ArcFace r50 model.
package embedder

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/align"
	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/inference"
)

const (
	inputSize    = 112
	embeddingDim = 512
)

// Embedding is a 512-dimensional, L2-normalized identity vector.
type Embedding [embeddingDim]float32

// Cosine computes cosine similarity between two embeddings. Both are unit
// vectors, so the dot product suffices.
func Cosine(a, b *Embedding) float32 {
	var dot float32
	for i := 0; i < embeddingDim; i++ {
		dot += a[i] * b[i]
	}
	return dot
}

// ArcFace wraps the embedding model session.
type ArcFace struct {
	session *inference.Session
}

// NewArcFace creates an embedder on a session loaded from the manager.
func NewArcFace(mgr *inference.Manager, modelName string, accelerate bool) (*ArcFace, error) {
	session, err := mgr.Load(modelName, accelerate)
	if err != nil {
		return nil, fmt.Errorf("failed to create ArcFace session: %w", err)
	}
	return &ArcFace{session: session}, nil
}

// Embed aligns the face to the 112x112 template, runs the model and returns
// the L2-normalized identity vector.
func (e *ArcFace) Embed(img gocv.Mat, lm detector.Landmarks) (*Embedding, error) {
	aligned, _ := align.Crop(img, lm, inputSize)
	defer aligned.Close()

	inputData := preprocess(aligned)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, inputSize, inputSize),
		inputData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, embeddingDim})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return Normalize(outputTensor.GetData()), nil
}

// preprocess converts the aligned BGR crop to NCHW floats, (p - 127.5) / 127.5.
func preprocess(img gocv.Mat) []float32 {
	plane := inputSize * inputSize
	data := make([]float32, 3*plane)
	pixels := img.ToBytes() // HWC, BGR

	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			src := (y*inputSize + x) * 3
			dst := y*inputSize + x
			data[0*plane+dst] = (float32(pixels[src+0]) - 127.5) / 127.5
			data[1*plane+dst] = (float32(pixels[src+1]) - 127.5) / 127.5
			data[2*plane+dst] = (float32(pixels[src+2]) - 127.5) / 127.5
		}
	}
	return data
}

// Normalize L2-normalizes a raw model output into an Embedding.
func Normalize(data []float32) *Embedding {
	var embedding Embedding

	var norm float64
	for _, v := range data[:embeddingDim] {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}

	for i := 0; i < embeddingDim; i++ {
		embedding[i] = data[i] / float32(norm)
	}
	return &embedding
}
