// Package enhancer restores swapped face regions with the GFPGAN model.
// The stage is optional; construction failure or missing landmarks degrade
// to a pass-through.
package enhancer

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/align"
	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
	"github.com/dudu/magicmirror/internal/inference"
)

const (
	inputSize = 512
	// borderFrac is the feather ramp of the paste-back mask; narrower than
	// the swapper's because the enhanced crop covers more context.
	borderFrac = 0.10
)

// GFPGAN performs face enhancement/restoration.
type GFPGAN struct {
	session *inference.Session
}

// NewGFPGAN creates an enhancer on a session loaded from the manager.
func NewGFPGAN(mgr *inference.Manager, modelName string, accelerate bool) (*GFPGAN, error) {
	session, err := mgr.Load(modelName, accelerate)
	if err != nil {
		return nil, fmt.Errorf("failed to create GFPGAN session: %w", err)
	}
	return &GFPGAN{session: session}, nil
}

// Enhance restores one face region and returns a new frame. Faces without
// usable landmarks are skipped silently and the input is returned as a
// clone. No color transfer is applied; the model preserves color.
func (g *GFPGAN) Enhance(frame gocv.Mat, face detector.Face) (gocv.Mat, error) {
	if !hasLandmarks(face) {
		return frame.Clone(), nil
	}

	aligned, t := align.Crop(frame, face.Landmarks, inputSize)
	defer aligned.Close()

	enhanced, err := g.run(aligned)
	if err != nil {
		return gocv.Mat{}, err
	}

	enhancedMat, err := gocv.NewMatFromBytes(inputSize, inputSize, gocv.MatTypeCV8UC3, enhanced)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer enhancedMat.Close()

	return align.PasteBack(frame, enhancedMat, t, borderFrac)
}

func (g *GFPGAN) run(aligned gocv.Mat) ([]byte, error) {
	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, inputSize, inputSize),
		preprocess(aligned),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, inputSize, inputSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := g.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("GFPGAN inference failed: %w", err)
	}

	return postprocess(outputTensor.GetData()), nil
}

// preprocess converts the aligned BGR crop to NCHW floats in [-1, 1]:
// (p/255 - 0.5) / 0.5.
func preprocess(img gocv.Mat) []float32 {
	plane := inputSize * inputSize
	data := make([]float32, 3*plane)
	pixels := img.ToBytes() // HWC, BGR

	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			src := (y*inputSize + x) * 3
			dst := y*inputSize + x
			data[0*plane+dst] = (float32(pixels[src+0])/255 - 0.5) / 0.5
			data[1*plane+dst] = (float32(pixels[src+1])/255 - 0.5) / 0.5
			data[2*plane+dst] = (float32(pixels[src+2])/255 - 0.5) / 0.5
		}
	}
	return data
}

// postprocess maps the [-1, 1] NCHW output back to HWC BGR bytes:
// (o*0.5 + 0.5) * 255.
func postprocess(data []float32) []byte {
	plane := inputSize * inputSize
	out := make([]byte, plane*3)
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			idx := y*inputSize + x
			p := idx * 3
			out[p+0] = clampByte((data[0*plane+idx]*0.5 + 0.5) * 255)
			out[p+1] = clampByte((data[1*plane+idx]*0.5 + 0.5) * 255)
			out[p+2] = clampByte((data[2*plane+idx]*0.5 + 0.5) * 255)
		}
	}
	return out
}

func hasLandmarks(face detector.Face) bool {
	zero := geometry.Point{}
	for _, p := range face.Landmarks.Points() {
		if p != zero {
			return true
		}
	}
	return false
}

func clampByte(v float32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
