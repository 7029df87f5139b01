package task

import (
	"errors"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/config"
	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/embedder"
	"github.com/dudu/magicmirror/internal/imaging"
	"github.com/dudu/magicmirror/internal/inference"
	"github.com/dudu/magicmirror/internal/logging"
	"github.com/dudu/magicmirror/internal/selection"
	"github.com/dudu/magicmirror/internal/tracker"
	"github.com/dudu/magicmirror/internal/video"
)

// Manager is the headless task API every shell drives. Still-image
// operations run on the caller's goroutine; video swaps run on a private
// worker set behind a Handle.
type Manager struct {
	cfg *config.Config
	inf *inference.Manager

	mu      sync.Mutex
	engines map[bool]*engine
	tasks   map[string]*Handle
}

// NewManager builds the façade on top of a models directory.
func NewManager(cfg *config.Config) (*Manager, error) {
	inf, err := inference.NewManager(cfg.ModelsDir)
	if err != nil {
		return nil, E(CodeModelLoadFailed, err)
	}
	return &Manager{
		cfg:     cfg,
		inf:     inf,
		engines: make(map[bool]*engine),
		tasks:   make(map[string]*Handle),
	}, nil
}

// Close releases every model session.
func (m *Manager) Close() error {
	return m.inf.Close()
}

// Task looks up a running or finished task by ID.
func (m *Manager) Task(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.tasks[id]
	return h, ok
}

// engine returns the stage bundle for an accelerator preference, building it
// on first use. Sessions are shared across tasks.
func (m *Manager) engine(accelerate bool) (*engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[accelerate]; ok {
		return e, nil
	}
	e, err := newEngine(m.cfg, m.inf, accelerate)
	if err != nil {
		return nil, err
	}
	m.engines[accelerate] = e
	return e, nil
}

// decodeImage maps imaging boundary errors onto the task taxonomy.
func decodeImage(data []byte) (gocv.Mat, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) {
			return gocv.Mat{}, E(CodeUnsupportedImageFormat, err)
		}
		return gocv.Mat{}, E(CodeImageDecodeFailed, err)
	}
	return img, nil
}

// DetectFacesInImage runs the detector and returns selectable regions:
// square-expanded, deduped, ordered top-to-bottom. Optional search areas
// scope detection to crops.
func (m *Manager) DetectFacesInImage(imageBytes []byte, searchAreas []selection.Region) ([]selection.Region, error) {
	e, err := m.engine(false)
	if err != nil {
		return nil, err
	}

	img, err := decodeImage(imageBytes)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return e.detectInRegions(img, searchAreas)
}

// DetectFacesInVideo seeks the key frame, decodes it, and runs the image
// detection pathway on it.
func (m *Manager) DetectFacesInVideo(path string, keyFrameMs float64, searchAreas []selection.Region) (*VideoDetection, error) {
	if !imaging.IsSupportedVideoExt(path) {
		return nil, E(CodeUnsupportedVideoFormat, nil)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, E(CodeFileNotFound, err)
	}

	e, err := m.engine(false)
	if err != nil {
		return nil, err
	}

	reader, err := video.OpenReader(path)
	if err != nil {
		return nil, E(CodeVideoOpenFailed, err)
	}
	defer reader.Close()

	frameIndex := reader.FrameIndexForMs(keyFrameMs)
	frame, err := reader.ReadFrameAt(frameIndex)
	if err != nil {
		return nil, E(CodeVideoOpenFailed, err)
	}
	defer frame.Close()

	regions, err := e.detectInRegions(frame, searchAreas)
	if err != nil {
		return nil, err
	}

	return &VideoDetection{
		Regions:     regions,
		FrameWidth:  frame.Cols(),
		FrameHeight: frame.Rows(),
		FrameIndex:  frameIndex,
	}, nil
}

// SwapImage performs a synchronous still-image swap. Per-face failures keep
// the remaining faces going; regions that bind no detection are reported in
// RegionResults without aborting.
func (m *Manager) SwapImage(req ImageRequest) (*ImageResult, error) {
	e, err := m.engine(false)
	if err != nil {
		return nil, err
	}

	subject, err := decodeImage(req.Subject)
	if err != nil {
		return nil, err
	}
	defer subject.Close()

	var (
		out    gocv.Mat
		result = &ImageResult{}
	)
	if len(req.Sources) > 0 || len(req.Bindings) > 0 {
		out, err = m.swapImageMultiSource(e, subject, req, result)
	} else {
		out, err = m.swapImageSingle(e, subject, req, result)
	}
	if err != nil {
		return nil, err
	}
	defer out.Close()

	ext := req.OutputExt
	if ext == "" {
		ext = ".png"
	}
	encoded, err := imaging.Encode(out, ext)
	if err != nil && ext != ".png" {
		encoded, err = imaging.Encode(out, ".png")
	}
	if err != nil {
		return nil, E(CodeOutputWriteFailed, err)
	}
	result.Image = encoded
	return result, nil
}

// swapImageSingle swaps one identity onto every detected face, or onto the
// faces bound by the caller's regions.
func (m *Manager) swapImageSingle(e *engine, subject gocv.Mat, req ImageRequest, result *ImageResult) (gocv.Mat, error) {
	if len(req.Target) == 0 {
		return gocv.Mat{}, E(CodeMissingFaceSources, nil)
	}

	target, err := decodeImage(req.Target)
	if err != nil {
		return gocv.Mat{}, err
	}
	identity, err := e.embedLargest(target)
	target.Close()
	if err != nil {
		return gocv.Mat{}, err
	}

	faces, err := e.detectFaces(subject)
	if err != nil {
		return gocv.Mat{}, err
	}

	regions := selection.Normalize(req.Regions, subject.Cols(), subject.Rows())
	if len(regions) == 0 {
		if len(faces) == 0 {
			return gocv.Mat{}, E(CodeNoFaceDetected, nil)
		}
		out, swapped := e.swapAllFaces(subject, faces, identity)
		result.SwappedFaces = swapped
		return out, nil
	}

	out := subject.Clone()
	used := make(map[int]bool)
	for _, region := range regions {
		idx, ok := selection.BindExcluding(region, faces, used)
		if !ok {
			result.RegionResults = append(result.RegionResults, RegionResult{Region: region})
			continue
		}
		used[idx] = true

		next, err := e.swapFace(out, faces[idx], identity)
		if err != nil {
			logging.Component("task").Warnf("region swap failed, continuing: %v", err)
			result.RegionResults = append(result.RegionResults, RegionResult{Region: region})
			continue
		}
		out.Close()
		out = next
		result.SwappedFaces++
		result.RegionResults = append(result.RegionResults, RegionResult{Region: region, Swapped: true})
	}
	return out, nil
}

// swapImageMultiSource runs the binding list in caller order. Each binding
// operates on the already-swapped pixels, so detection reflects prior swaps
// and order is the caller's to choose.
func (m *Manager) swapImageMultiSource(e *engine, subject gocv.Mat, req ImageRequest, result *ImageResult) (gocv.Mat, error) {
	if len(req.Sources) == 0 {
		return gocv.Mat{}, E(CodeMissingFaceSources, nil)
	}
	if len(req.Bindings) == 0 {
		return gocv.Mat{}, E(CodeInvalidFaceSourceBinding, nil)
	}

	identities, err := e.resolveSources(req.Sources)
	if err != nil {
		return gocv.Mat{}, err
	}
	for _, b := range req.Bindings {
		if b.FaceSourceID == "" {
			return gocv.Mat{}, E(CodeInvalidFaceSourceBinding, nil)
		}
		if _, ok := identities[b.FaceSourceID]; !ok {
			return gocv.Mat{}, E(CodeFaceSourceNotFound, nil)
		}
	}

	log := logging.Component("task")
	out := subject.Clone()
	for _, binding := range req.Bindings {
		identity := identities[binding.FaceSourceID]

		faces, err := e.detectFaces(out)
		if err != nil {
			log.Warnf("detection failed during binding, continuing: %v", err)
			continue
		}

		var face detector.Face
		if binding.Region != nil {
			regions := selection.Normalize([]selection.Region{*binding.Region}, out.Cols(), out.Rows())
			if len(regions) == 0 {
				result.RegionResults = append(result.RegionResults, RegionResult{Region: *binding.Region})
				continue
			}
			idx, ok := selection.Bind(regions[0], faces)
			if !ok {
				result.RegionResults = append(result.RegionResults, RegionResult{Region: regions[0]})
				continue
			}
			face = faces[idx]
		} else {
			var ok bool
			face, ok = detector.Largest(faces)
			if !ok {
				continue
			}
		}

		next, err := e.swapFace(out, face, identity)
		if err != nil {
			log.Warnf("binding swap failed, continuing: %v", err)
			continue
		}
		out.Close()
		out = next
		result.SwappedFaces++
		if binding.Region != nil {
			result.RegionResults = append(result.RegionResults, RegionResult{Region: *binding.Region, Swapped: true})
		}
	}
	return out, nil
}

// SwapVideo starts an asynchronous video swap and returns its handle.
func (m *Manager) SwapVideo(req VideoRequest) (*Handle, error) {
	if !imaging.IsSupportedVideoExt(req.SubjectPath) {
		return nil, E(CodeUnsupportedVideoFormat, nil)
	}
	if _, err := os.Stat(req.SubjectPath); err != nil {
		return nil, E(CodeFileNotFound, err)
	}

	h := newHandle()
	m.mu.Lock()
	m.tasks[h.id] = h
	m.mu.Unlock()

	go func() {
		outputPath, err := m.runVideo(h, req)
		h.finish(outputPath, err)
	}()

	return h, nil
}

// runVideo executes the full video task: resolve identities, seed tracks,
// run the frame pipeline, then remux audio.
func (m *Manager) runVideo(h *Handle, req VideoRequest) (string, error) {
	log := logging.Component("task").WithField("task_id", h.id)
	h.setRunning()
	h.setStage(StageValidatingInput)

	e, err := m.engine(req.UseAccelerator)
	if err != nil {
		return "", err
	}

	h.setStage(StageOpeningVideo)
	reader, err := video.OpenReader(req.SubjectPath)
	if err != nil {
		return "", E(CodeVideoOpenFailed, err)
	}
	defer reader.Close()
	h.setStage(StageReadingMetadata)

	multiSource := len(req.Sources) > 0 || len(req.Bindings) > 0

	h.setStage(StageExtractingTarget)
	var (
		identity   *embedder.Embedding
		identities map[string]*embedder.Embedding
		tracks     *tracker.Set
		trackMu    sync.Mutex
	)
	if multiSource {
		resolved, err := e.resolveSources(req.Sources)
		if err != nil {
			return "", err
		}
		identities = resolved

		var seedRegions []selection.Region
		for _, b := range req.Bindings {
			if b.FaceSourceID == "" || b.Region == nil {
				continue
			}
			if _, ok := resolved[b.FaceSourceID]; !ok {
				return "", E(CodeFaceSourceNotFound, nil)
			}
			r := *b.Region
			r.FaceSourceID = b.FaceSourceID
			seedRegions = append(seedRegions, r)
		}
		if len(seedRegions) == 0 {
			return "", E(CodeInvalidFaceSourceBinding, nil)
		}

		h.setStage(StageBuildingTracks)
		keyIndex := reader.FrameIndexForMs(req.KeyFrameMs)
		keyFrame, err := reader.ReadFrameAt(keyIndex)
		if err != nil {
			return "", E(CodeVideoOpenFailed, err)
		}
		faces, derr := e.det.Detect(keyFrame)
		seedRegions = selection.Normalize(seedRegions, keyFrame.Cols(), keyFrame.Rows())
		keyFrame.Close()
		if derr != nil {
			return "", derr
		}

		tracks = tracker.NewSet()
		tracks.Seed(seedRegions, faces)
		if len(tracks.Active()) == 0 {
			return "", E(CodeNoFaceInSelectedRegions, nil)
		}
	} else {
		target, err := decodeImage(req.Target)
		if err != nil {
			return "", err
		}
		emb, embErr := e.embedLargest(target)
		target.Close()
		if embErr != nil {
			return "", embErr
		}
		identity = emb
	}

	reader.SeekFrame(0)

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = imaging.VideoOutputPath(req.SubjectPath)
	}
	videoOnlyPath := strings.TrimSuffix(outputPath, ".mp4") + "_video.mp4"

	writer, err := video.OpenWriter(videoOnlyPath, reader.Width, reader.Height, reader.FPS)
	if err != nil {
		return "", E(CodeVideoWriteFailed, err)
	}
	transcode := writer.NeedsTranscode()

	h.setStage(StageProcessingFrames)

	process := func(index int, frame gocv.Mat) (gocv.Mat, error) {
		// Detection runs exactly once per frame; swapped pixels are never
		// re-detected.
		faces, err := e.det.Detect(frame)
		if err != nil {
			return frame, err
		}
		if len(faces) == 0 && !multiSource {
			return frame, nil
		}

		if !multiSource {
			out, _ := e.swapAllFaces(frame, faces, identity)
			return out, nil
		}

		trackMu.Lock()
		assignments := tracks.Match(faces)
		trackMu.Unlock()

		out := frame
		for _, a := range assignments {
			bound, ok := identities[a.Track.FaceSourceID]
			if !ok {
				continue
			}
			next, err := e.swapFace(out, faces[a.FaceIndex], bound)
			if err != nil {
				log.WithField("frame", index).Warnf("track swap failed: %v", err)
				continue
			}
			if out.Ptr() != frame.Ptr() {
				out.Close()
			}
			out = next
		}
		return out, nil
	}

	written, err := video.Process(reader, writer, process, video.Options{
		Workers: m.workerCount(req.UseAccelerator),
		Cancel:  &h.cancel,
		OnProgress: func(p video.Progress) {
			total := p.Total
			if total <= 0 {
				total = p.Processed
			}
			h.setProgress(float64(p.Processed)/float64(total)*100, p.ETASeconds)
		},
	})
	if err != nil {
		if errors.Is(err, video.ErrCancelled) {
			return "", E(CodeCancelled, err)
		}
		return "", E(CodeVideoWriteFailed, err)
	}
	if written == 0 {
		_ = os.Remove(videoOnlyPath)
		return "", E(CodeVideoOutputMissing, nil)
	}
	if _, err := os.Stat(videoOnlyPath); err != nil {
		return "", E(CodeVideoOutputMissing, err)
	}

	h.setStage(StageMuxingAudio)
	if err := video.FinalizeOutput(req.SubjectPath, videoOnlyPath, outputPath, transcode,
		reader.Width, reader.Height, reader.FPS); err != nil {
		return "", E(CodeVideoWriteFailed, err)
	}

	h.setStage(StageFinalizing)
	log.WithField("frames", written).Info("video swap finished")
	return outputPath, nil
}

func (m *Manager) workerCount(accelerate bool) int {
	vc := m.cfg.Video
	vc.UseAccelerator = accelerate
	return vc.WorkerCount()
}
