package task

import "github.com/dudu/magicmirror/internal/selection"

// FaceSource is one target identity: an ID and the encoded photo it is
// extracted from. Each source is detected and embedded once per task.
type FaceSource struct {
	ID    string `json:"id"`
	Image []byte `json:"-"`
}

// Binding assigns a face source to a subject region. A nil Region means the
// single-source shortcut: swap the largest detected subject face.
type Binding struct {
	FaceSourceID string            `json:"faceSourceId"`
	Region       *selection.Region `json:"region,omitempty"`
}

// ImageRequest describes a synchronous still-image swap.
type ImageRequest struct {
	Subject []byte
	// Target is the single-identity photo. Mutually exclusive with Sources.
	Target []byte
	// Sources plus Bindings drive the multi-source path.
	Sources  []FaceSource
	Bindings []Binding
	// Regions restricts a single-identity swap to user-chosen rectangles.
	Regions []selection.Region
	// OutputExt picks the encoder (defaults to ".png").
	OutputExt string
}

// ImageResult is the outcome of a still-image swap.
type ImageResult struct {
	Image []byte
	// SwappedFaces counts the faces actually replaced.
	SwappedFaces int
	// RegionResults reports the per-region outcome when regions were given.
	RegionResults []RegionResult
}

// RegionResult tells the caller whether a requested region contained a face.
type RegionResult struct {
	Region  selection.Region `json:"region"`
	Swapped bool             `json:"swapped"`
}

// VideoRequest describes an asynchronous video swap.
type VideoRequest struct {
	SubjectPath string
	// Target is the single-identity photo. Mutually exclusive with Sources.
	Target []byte
	// Sources plus Bindings drive the tracked multi-source path; bindings
	// must carry regions placed on the key frame.
	Sources  []FaceSource
	Bindings []Binding
	// KeyFrameMs selects the frame where tracks are seeded from bindings.
	KeyFrameMs float64
	// UseAccelerator asks for the platform accelerator provider.
	UseAccelerator bool
	// OutputPath overrides the derived <subject>_output.mp4 location.
	OutputPath string
}

// VideoDetection is the result of detect_faces_in_video.
type VideoDetection struct {
	Regions     []selection.Region `json:"regions"`
	FrameWidth  int                `json:"frameWidth"`
	FrameHeight int                `json:"frameHeight"`
	FrameIndex  int                `json:"frameIndex"`
}

// Stage labels surfaced through Status.Stage, in pipeline order.
const (
	StageValidatingInput  = "validating-input"
	StageOpeningVideo     = "opening-video"
	StageReadingMetadata  = "reading-video-metadata"
	StageExtractingTarget = "extracting-target-face"
	StageBuildingTracks   = "building-face-tracks"
	StageProcessingFrames = "processing-video-frames"
	StageMuxingAudio      = "muxing-audio"
	StageFinalizing       = "finalizing"
)
