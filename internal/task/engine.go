package task

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/config"
	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/embedder"
	"github.com/dudu/magicmirror/internal/enhancer"
	"github.com/dudu/magicmirror/internal/geometry"
	"github.com/dudu/magicmirror/internal/inference"
	"github.com/dudu/magicmirror/internal/logging"
	"github.com/dudu/magicmirror/internal/selection"
	"github.com/dudu/magicmirror/internal/swapper"
)

// Logical model names resolved against the configured models directory.
const (
	ModelDetector = "scrfd_2.5g.onnx"
	ModelEmbedder = "arcface_w600k_r50.onnx"
	ModelSwapper  = "inswapper_128_fp16.onnx"
	ModelEnhancer = "gfpgan_1.4.onnx"
)

// engine bundles the four model stages behind one accelerator setting.
// Sessions are shared read-only across every task for the process lifetime.
type engine struct {
	cfg *config.Config
	det *detector.SCRFD
	emb *embedder.ArcFace
	swp *swapper.Inswapper
	enh *enhancer.GFPGAN // nil when disabled or unavailable
}

func newEngine(cfg *config.Config, mgr *inference.Manager, accelerate bool) (*engine, error) {
	det, err := detector.NewSCRFD(mgr, ModelDetector,
		cfg.Detector.InputSize, cfg.Detector.ConfThreshold, cfg.Detector.NMSThreshold, accelerate)
	if err != nil {
		return nil, E(CodeModelLoadFailed, err)
	}
	emb, err := embedder.NewArcFace(mgr, ModelEmbedder, accelerate)
	if err != nil {
		return nil, E(CodeModelLoadFailed, err)
	}
	swp, err := swapper.NewInswapper(mgr, ModelSwapper, accelerate, cfg.Swap.ColorBlend)
	if err != nil {
		return nil, E(CodeModelLoadFailed, err)
	}

	var enh *enhancer.GFPGAN
	if cfg.Swap.Enhance {
		enh, err = enhancer.NewGFPGAN(mgr, ModelEnhancer, accelerate)
		if err != nil {
			logging.Component("task").Warnf("enhancer unavailable, continuing without: %v", err)
			enh = nil
		}
	}

	return &engine{cfg: cfg, det: det, emb: emb, swp: swp, enh: enh}, nil
}

// detectFaces runs the detector over the full image, downscaling oversize
// inputs first and mapping boxes back to source coordinates.
func (e *engine) detectFaces(img gocv.Mat) ([]detector.Face, error) {
	maxSide := e.cfg.Detector.MaxDetectSide
	longest := img.Cols()
	if img.Rows() > longest {
		longest = img.Rows()
	}
	if maxSide <= 0 || longest <= maxSide {
		return e.det.Detect(img)
	}

	scale := float32(maxSide) / float32(longest)
	resized := gocv.NewMat()
	gocv.Resize(img, &resized,
		image.Pt(int(float32(img.Cols())*scale), int(float32(img.Rows())*scale)),
		0, 0, gocv.InterpolationLinear)
	defer resized.Close()

	faces, err := e.det.Detect(resized)
	if err != nil {
		return nil, err
	}
	for i := range faces {
		faces[i].Box = geometry.Box{
			X1: faces[i].Box.X1 / scale,
			Y1: faces[i].Box.Y1 / scale,
			X2: faces[i].Box.X2 / scale,
			Y2: faces[i].Box.Y2 / scale,
		}
		pts := faces[i].Landmarks.Points()
		for j := range pts {
			pts[j].X /= scale
			pts[j].Y /= scale
		}
		faces[i].Landmarks = detector.Landmarks{
			LeftEye:    pts[0],
			RightEye:   pts[1],
			Nose:       pts[2],
			LeftMouth:  pts[3],
			RightMouth: pts[4],
		}
	}
	return faces, nil
}

// detectInRegions runs detection inside each search area (the whole frame
// when none are given) and returns selectable square regions in global
// coordinates.
func (e *engine) detectInRegions(img gocv.Mat, searchAreas []selection.Region) ([]selection.Region, error) {
	w := img.Cols()
	h := img.Rows()

	areas := selection.Normalize(searchAreas, w, h)
	if len(areas) == 0 {
		faces, err := e.detectFaces(img)
		if err != nil {
			return nil, err
		}
		return selection.FromDetections(faces, w, h), nil
	}

	var all []detector.Face
	for _, area := range areas {
		roi := img.Region(image.Rect(area.X, area.Y, area.X+area.Width, area.Y+area.Height))
		crop := roi.Clone() // detach from the parent so the crop is contiguous
		roi.Close()
		faces, err := e.det.Detect(crop)
		crop.Close()
		if err != nil {
			return nil, err
		}
		for _, f := range faces {
			f.Box.X1 += float32(area.X)
			f.Box.Y1 += float32(area.Y)
			f.Box.X2 += float32(area.X)
			f.Box.Y2 += float32(area.Y)
			lm := f.Landmarks
			shift := func(p geometry.Point) geometry.Point {
				return geometry.Point{X: p.X + float32(area.X), Y: p.Y + float32(area.Y)}
			}
			f.Landmarks = detector.Landmarks{
				LeftEye:    shift(lm.LeftEye),
				RightEye:   shift(lm.RightEye),
				Nose:       shift(lm.Nose),
				LeftMouth:  shift(lm.LeftMouth),
				RightMouth: shift(lm.RightMouth),
			}
			all = append(all, f)
		}
	}
	return selection.FromDetections(all, w, h), nil
}

// embedLargest detects the subject and embeds its largest face; the standard
// way a face source resolves to an identity vector.
func (e *engine) embedLargest(img gocv.Mat) (*embedder.Embedding, error) {
	faces, err := e.detectFaces(img)
	if err != nil {
		return nil, err
	}
	face, ok := detector.Largest(faces)
	if !ok {
		return nil, E(CodeNoFaceDetected, nil)
	}
	return e.emb.Embed(img, face.Landmarks)
}

// swapFace swaps one face and optionally enhances the swapped region,
// returning a new frame. The input frame is untouched.
func (e *engine) swapFace(frame gocv.Mat, face detector.Face, identity *embedder.Embedding) (gocv.Mat, error) {
	swapped, err := e.swp.Swap(frame, face, identity)
	if err != nil {
		return gocv.Mat{}, err
	}
	if e.enh == nil {
		return swapped, nil
	}

	enhanced, err := e.enh.Enhance(swapped, face)
	if err != nil {
		// Enhancement is an optional stage; the swap result stands.
		logging.Component("task").Warnf("enhancement failed, keeping swap output: %v", err)
		return swapped, nil
	}
	swapped.Close()
	return enhanced, nil
}

// swapAllFaces swaps every detected face with one identity. Per-face
// failures are isolated: remaining faces continue and the successful swaps
// are kept. Returns the new frame and the number of faces swapped.
func (e *engine) swapAllFaces(frame gocv.Mat, faces []detector.Face, identity *embedder.Embedding) (gocv.Mat, int) {
	log := logging.Component("task")
	out := frame.Clone()
	swapped := 0
	for i, face := range faces {
		next, err := e.swapFace(out, face, identity)
		if err != nil {
			log.Warnf("swapping face %d failed, continuing: %v", i, err)
			continue
		}
		out.Close()
		out = next
		swapped++
	}
	return out, swapped
}

// resolveSources detects and embeds each face source exactly once.
func (e *engine) resolveSources(sources []FaceSource) (map[string]*embedder.Embedding, error) {
	if len(sources) == 0 {
		return nil, E(CodeMissingFaceSources, nil)
	}
	out := make(map[string]*embedder.Embedding, len(sources))
	for _, src := range sources {
		img, err := decodeImage(src.Image)
		if err != nil {
			return nil, err
		}
		identity, embErr := e.embedLargest(img)
		img.Close()
		if embErr != nil {
			return nil, fmt.Errorf("face source %s: %w", src.ID, embErr)
		}
		out[src.ID] = identity
	}
	return out, nil
}
