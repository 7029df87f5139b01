package detector

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/geometry"
	"github.com/dudu/magicmirror/internal/inference"
)

// OutputShape tags the three known SCRFD export layouts. The variant is
// chosen once at session-open time from the output signature.
type OutputShape int

const (
	// NineTensor is the standard export: 3 strides x (scores, bboxes, kps).
	NineTensor OutputShape = iota
	// SixTensor is the landmark-free export: 3 strides x (scores, bboxes).
	SixTensor
	// MergedTensor is a single [N, 5] or [N, 15] detection matrix.
	MergedTensor
)

// ClassifyOutputs maps a model output count to its decoder variant.
func ClassifyOutputs(count int) OutputShape {
	switch count {
	case 9:
		return NineTensor
	case 6:
		return SixTensor
	default:
		return MergedTensor
	}
}

var featureStrides = []int{8, 16, 32}

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	session       *inference.Session
	inputSize     int
	confThreshold float32
	nmsThreshold  float32
	shape         OutputShape
}

// NewSCRFD creates a detector on a session loaded from the manager.
func NewSCRFD(mgr *inference.Manager, modelName string, inputSize int, confThreshold, nmsThreshold float32, accelerate bool) (*SCRFD, error) {
	session, err := mgr.Load(modelName, accelerate)
	if err != nil {
		return nil, fmt.Errorf("failed to create SCRFD session: %w", err)
	}

	return &SCRFD{
		session:       session,
		inputSize:     inputSize,
		confThreshold: confThreshold,
		nmsThreshold:  nmsThreshold,
		shape:         ClassifyOutputs(session.OutputCount()),
	}, nil
}

// Detect finds faces in a BGR image. Results are in source-pixel
// coordinates, NMS-filtered and sorted by score descending.
func (s *SCRFD) Detect(img gocv.Mat) ([]Face, error) {
	origHeight := img.Rows()
	origWidth := img.Cols()

	inputData, scale := s.preprocess(img)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(s.inputSize), int64(s.inputSize)),
		inputData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// Anchor counts differ between exports; let the runtime allocate outputs.
	outputs := make([]ort.Value, s.session.OutputCount())
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	raw := make([][]float32, len(outputs))
	shapes := make([][]int64, len(outputs))
	for i, o := range outputs {
		data, shape, err := inference.TensorData(o)
		if err != nil {
			return nil, err
		}
		raw[i] = data
		shapes[i] = shape
	}

	var faces []Face
	switch s.shape {
	case NineTensor:
		for level, stride := range featureStrides {
			faces = append(faces, decodeStride(
				raw[level], raw[level+3], raw[level+6],
				stride, s.inputSize, scale, origWidth, origHeight, s.confThreshold)...)
		}
	case SixTensor:
		for level, stride := range featureStrides {
			faces = append(faces, decodeStride(
				raw[level], raw[level+3], nil,
				stride, s.inputSize, scale, origWidth, origHeight, s.confThreshold)...)
		}
	case MergedTensor:
		cols := 0
		if len(shapes[0]) == 2 {
			cols = int(shapes[0][1])
		}
		faces = decodeMerged(raw[0], cols, scale, origWidth, origHeight, s.confThreshold)
	}

	return nms(faces, s.nmsThreshold), nil
}

// preprocess letterboxes the image into the model square and normalizes
// pixels as (p - 127.5) / 128. The padded area must carry the normalized
// value of black (~ -0.996), not zero: zero padding shifts the anchor
// statistics at the border strides.
func (s *SCRFD) preprocess(img gocv.Mat) ([]float32, float32) {
	height := img.Rows()
	width := img.Cols()

	longest := width
	if height > longest {
		longest = height
	}
	scale := float32(s.inputSize) / float32(longest)

	newWidth := int(float32(width) * scale)
	newHeight := int(float32(height) * scale)

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)
	defer resized.Close()

	const padVal = (0 - 127.5) / 128.0

	plane := s.inputSize * s.inputSize
	data := make([]float32, 3*plane)
	for i := range data {
		data[i] = padVal
	}

	pixels := resized.ToBytes() // HWC, BGR
	for y := 0; y < newHeight; y++ {
		for x := 0; x < newWidth; x++ {
			src := (y*newWidth + x) * 3
			dst := y*s.inputSize + x
			data[0*plane+dst] = (float32(pixels[src+0]) - 127.5) / 128.0
			data[1*plane+dst] = (float32(pixels[src+1]) - 127.5) / 128.0
			data[2*plane+dst] = (float32(pixels[src+2]) - 127.5) / 128.0
		}
	}

	return data, scale
}

// decodeStride decodes one feature level of a split-output export. kps may be
// nil for the landmark-free variant. scores is [N], bboxes [N*4], kps [N*10];
// coordinates come back in source pixels.
func decodeStride(scores, bboxes, kps []float32, stride, inputSize int, scale float32, origW, origH int, confThreshold float32) []Face {
	grid := inputSize / stride
	gridTotal := grid * grid
	numAnchors := len(scores)
	if numAnchors == 0 || gridTotal == 0 {
		return nil
	}
	anchorsPerPoint := (numAnchors + gridTotal - 1) / gridTotal
	if anchorsPerPoint < 1 {
		anchorsPerPoint = 1
	}

	var faces []Face
	for i := 0; i < numAnchors; i++ {
		score := scores[i]
		if score < confThreshold {
			continue
		}

		point := i / anchorsPerPoint
		gx := point % grid
		gy := point / grid

		cx := (float32(gx) + 0.5) * float32(stride)
		cy := (float32(gy) + 0.5) * float32(stride)

		b := i * 4
		box := geometry.Box{
			X1: clamp((cx-bboxes[b+0]*float32(stride))/scale, 0, float32(origW)),
			Y1: clamp((cy-bboxes[b+1]*float32(stride))/scale, 0, float32(origH)),
			X2: clamp((cx+bboxes[b+2]*float32(stride))/scale, 0, float32(origW)),
			Y2: clamp((cy+bboxes[b+3]*float32(stride))/scale, 0, float32(origH)),
		}

		face := Face{Box: box, Score: score}
		if kps != nil && (i+1)*10 <= len(kps) {
			k := i * 10
			pt := func(n int) geometry.Point {
				return geometry.Point{
					X: (cx + kps[k+n*2]*float32(stride)) / scale,
					Y: (cy + kps[k+n*2+1]*float32(stride)) / scale,
				}
			}
			face.Landmarks = Landmarks{
				LeftEye:    pt(0),
				RightEye:   pt(1),
				Nose:       pt(2),
				LeftMouth:  pt(3),
				RightMouth: pt(4),
			}
			face.HasLandmarks = true
		} else {
			face.Landmarks = landmarksFromBox(box)
		}
		faces = append(faces, face)
	}
	return faces
}

// decodeMerged decodes a single [N, cols] detection matrix where each row is
// x1,y1,x2,y2,score and, with cols >= 15, ten landmark coordinates.
func decodeMerged(output []float32, cols int, scale float32, origW, origH int, confThreshold float32) []Face {
	if cols < 5 {
		return nil
	}

	var faces []Face
	for off := 0; off+cols <= len(output); off += cols {
		row := output[off : off+cols]
		score := row[4]
		if score < confThreshold {
			continue
		}

		box := geometry.Box{
			X1: clamp(row[0]/scale, 0, float32(origW)),
			Y1: clamp(row[1]/scale, 0, float32(origH)),
			X2: clamp(row[2]/scale, 0, float32(origW)),
			Y2: clamp(row[3]/scale, 0, float32(origH)),
		}

		face := Face{Box: box, Score: score}
		if cols >= 15 {
			pt := func(n int) geometry.Point {
				return geometry.Point{X: row[5+n*2] / scale, Y: row[6+n*2] / scale}
			}
			face.Landmarks = Landmarks{
				LeftEye:    pt(0),
				RightEye:   pt(1),
				Nose:       pt(2),
				LeftMouth:  pt(3),
				RightMouth: pt(4),
			}
			face.HasLandmarks = true
		} else {
			face.Landmarks = landmarksFromBox(box)
		}
		faces = append(faces, face)
	}
	return faces
}

// landmarksFromBox synthesizes five points from box geometry. Deliberately
// coarse: callers needing identity stability should use the
// landmark-equipped model.
func landmarksFromBox(box geometry.Box) Landmarks {
	c := box.Center()
	w := box.Width()
	h := box.Height()
	return Landmarks{
		LeftEye:    geometry.Point{X: c.X - w*0.17, Y: c.Y - h*0.12},
		RightEye:   geometry.Point{X: c.X + w*0.17, Y: c.Y - h*0.12},
		Nose:       geometry.Point{X: c.X, Y: c.Y + h*0.02},
		LeftMouth:  geometry.Point{X: c.X - w*0.14, Y: c.Y + h*0.18},
		RightMouth: geometry.Point{X: c.X + w*0.14, Y: c.Y + h*0.18},
	}
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
