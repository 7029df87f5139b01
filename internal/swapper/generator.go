package swapper

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/align"
	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/embedder"
	"github.com/dudu/magicmirror/internal/inference"
	"github.com/dudu/magicmirror/internal/logging"
)

const (
	inputSize = 128
	// borderFrac is the feather ramp width of the paste-back mask.
	borderFrac = 0.12
)

// Inswapper performs face swapping using the InSwapper model.
type Inswapper struct {
	session    *inference.Session
	emap       *Emap
	emapStatus ScanResult
	colorBlend float32
}

// NewInswapper creates a swapper on a session loaded from the manager. The
// emap initializer is scanned out of the model bytes up front; its absence
// or corruption degrades quality but is never an error.
func NewInswapper(mgr *inference.Manager, modelName string, accelerate bool, colorBlend float32) (*Inswapper, error) {
	session, err := mgr.Load(modelName, accelerate)
	if err != nil {
		return nil, fmt.Errorf("failed to create Inswapper session: %w", err)
	}

	data, err := mgr.ModelBytes(modelName)
	if err != nil {
		return nil, err
	}

	emap, status := ScanModel(data)
	log := logging.Component("swapper").WithField("model", modelName)
	switch status {
	case EmapFound:
		log.Debug("emap initializer extracted")
	case EmapMissing:
		log.Warn("no emap initializer in model, swapping with raw embeddings; quality will suffer")
	case EmapCorrupt:
		log.Warn("emap initializer failed validation, swapping with raw embeddings; quality will suffer")
	}

	return &Inswapper{
		session:    session,
		emap:       emap,
		emapStatus: status,
		colorBlend: colorBlend,
	}, nil
}

// EmapStatus reports how the emap scan resolved.
func (s *Inswapper) EmapStatus() ScanResult {
	return s.emapStatus
}

// Swap replaces one face in the frame with the given identity and returns a
// new frame. The input frame is left untouched.
func (s *Inswapper) Swap(frame gocv.Mat, face detector.Face, identity *embedder.Embedding) (gocv.Mat, error) {
	aligned, t := align.Crop(frame, face.Landmarks, inputSize)
	defer aligned.Close()

	raw, err := s.generate(aligned, identity)
	if err != nil {
		return gocv.Mat{}, err
	}

	// The raw generator output is unusable by itself: match its color
	// statistics to the input crop before compositing.
	refPix := aligned.ToBytes()
	corrected := transferColor(raw, refPix, inputSize, s.colorBlend)

	correctedMat, err := gocv.NewMatFromBytes(inputSize, inputSize, gocv.MatTypeCV8UC3, corrected)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer correctedMat.Close()

	return align.PasteBack(frame, correctedMat, t, borderFrac)
}

// generate runs the model on an aligned 128x128 crop and returns the output
// as 8-bit BGR pixels.
func (s *Inswapper) generate(aligned gocv.Mat, identity *embedder.Embedding) ([]byte, error) {
	targetTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, inputSize, inputSize),
		preprocessTarget(aligned),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	latent := s.emap.Transform(identity[:])
	sourceTensor, err := ort.NewTensor(ort.NewShape(1, embeddingDim), latent)
	if err != nil {
		return nil, fmt.Errorf("failed to create source tensor: %w", err)
	}
	defer sourceTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, inputSize, inputSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = s.session.Run(
		[]ort.Value{targetTensor, sourceTensor},
		[]ort.Value{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return postprocess(outputTensor.GetData()), nil
}

// preprocessTarget converts the aligned BGR crop to NCHW floats keeping raw
// pixel values in [0, 255]; the model consumes unnormalized input.
func preprocessTarget(img gocv.Mat) []float32 {
	plane := inputSize * inputSize
	data := make([]float32, 3*plane)
	pixels := img.ToBytes() // HWC, BGR

	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			src := (y*inputSize + x) * 3
			dst := y*inputSize + x
			data[0*plane+dst] = float32(pixels[src+0])
			data[1*plane+dst] = float32(pixels[src+1])
			data[2*plane+dst] = float32(pixels[src+2])
		}
	}
	return data
}

// postprocess converts the NCHW pixel-valued output back to HWC BGR bytes.
func postprocess(data []float32) []byte {
	plane := inputSize * inputSize
	out := make([]byte, plane*3)
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			idx := y*inputSize + x
			p := idx * 3
			out[p+0] = clampByte(data[0*plane+idx])
			out[p+1] = clampByte(data[1*plane+idx])
			out[p+2] = clampByte(data[2*plane+idx])
		}
	}
	return out
}

// transferColor shifts the swapped crop toward the reference crop's color
// statistics, channel-wise: c' = (c - mean_tgt) * (std_src / std_tgt) +
// mean_src, with std floored at 1, then blends the result with the raw
// output. Statistics are computed over the inner region (1/6-margin inset)
// to avoid background contamination.
func transferColor(swapped, ref []byte, size int, blend float32) []byte {
	if blend <= 0 {
		out := make([]byte, len(swapped))
		copy(out, swapped)
		return out
	}

	margin := size / 6
	tgtMean, tgtStd := regionStats(swapped, size, margin)
	srcMean, srcStd := regionStats(ref, size, margin)

	for c := 0; c < 3; c++ {
		if tgtStd[c] < 1 {
			tgtStd[c] = 1
		}
		if srcStd[c] < 1 {
			srcStd[c] = 1
		}
	}

	out := make([]byte, len(swapped))
	for i := 0; i < size*size; i++ {
		p := i * 3
		for c := 0; c < 3; c++ {
			v := float32(swapped[p+c])
			transferred := (v-tgtMean[c])*(srcStd[c]/tgtStd[c]) + srcMean[c]
			out[p+c] = clampByte(v*(1-blend) + transferred*blend)
		}
	}
	return out
}

// regionStats computes per-channel mean and standard deviation over the
// margin-inset interior of a square BGR pixel buffer.
func regionStats(pixels []byte, size, margin int) (mean, std [3]float32) {
	count := 0
	var sum [3]float64
	for y := margin; y < size-margin; y++ {
		for x := margin; x < size-margin; x++ {
			p := (y*size + x) * 3
			for c := 0; c < 3; c++ {
				sum[c] += float64(pixels[p+c])
			}
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	for c := 0; c < 3; c++ {
		mean[c] = float32(sum[c] / float64(count))
	}

	var varSum [3]float64
	for y := margin; y < size-margin; y++ {
		for x := margin; x < size-margin; x++ {
			p := (y*size + x) * 3
			for c := 0; c < 3; c++ {
				d := float64(pixels[p+c]) - float64(mean[c])
				varSum[c] += d * d
			}
		}
	}
	for c := 0; c < 3; c++ {
		std[c] = float32(math.Sqrt(varSum[c] / float64(count)))
	}
	return mean, std
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
