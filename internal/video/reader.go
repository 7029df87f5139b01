// Package video implements the concurrent frame pipeline: one decoder, a
// bounded worker pool, an ordered writer, and audio pass-through.
package video

import (
	"errors"
	"math"

	"gocv.io/x/gocv"
)

// Decoder failures surfaced to the task layer.
var (
	ErrOpenFailed  = errors.New("video open failed")
	ErrFrameRead   = errors.New("video frame read failed")
	ErrWriteFailed = errors.New("video write failed")
	ErrCancelled   = errors.New("video processing cancelled")
)

const defaultFPS = 25.0

// Reader decodes frames from a video container in decode order.
type Reader struct {
	cap    *gocv.VideoCapture
	path   string
	Width  int
	Height int
	FPS    float64
	// TotalFrames is the container's frame-count estimate; 0 when unknown.
	TotalFrames int
}

// OpenReader opens a video file and probes its metadata. An unreadable FPS
// falls back to 25; unreadable dimensions are probed from the first frame.
func OpenReader(path string) (*Reader, error) {
	cap, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, ErrOpenFailed
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, ErrOpenFailed
	}

	r := &Reader{
		cap:         cap,
		path:        path,
		Width:       int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:         cap.Get(gocv.VideoCaptureFPS),
		TotalFrames: int(cap.Get(gocv.VideoCaptureFrameCount)),
	}
	if r.FPS <= 0 || math.IsNaN(r.FPS) {
		r.FPS = defaultFPS
	}
	if r.TotalFrames < 0 {
		r.TotalFrames = 0
	}

	if r.Width <= 0 || r.Height <= 0 {
		frame := gocv.NewMat()
		if !cap.Read(&frame) || frame.Empty() {
			frame.Close()
			cap.Close()
			return nil, ErrOpenFailed
		}
		r.Width = frame.Cols()
		r.Height = frame.Rows()
		frame.Close()
		r.SeekFrame(0)
	}

	return r, nil
}

// FrameIndexForMs maps a timestamp to a decode-order frame index, clamped to
// the known frame count.
func (r *Reader) FrameIndexForMs(ms float64) int {
	if ms < 0 {
		ms = 0
	}
	idx := int(ms/1000.0*r.FPS + 0.5)
	if r.TotalFrames > 0 && idx > r.TotalFrames-1 {
		idx = r.TotalFrames - 1
	}
	return idx
}

// SeekFrame positions the decoder at a frame index.
func (r *Reader) SeekFrame(index int) {
	r.cap.Set(gocv.VideoCapturePosFrames, float64(index))
}

// Read decodes the next frame into dst, returning false at end of stream.
func (r *Reader) Read(dst *gocv.Mat) bool {
	return r.cap.Read(dst) && !dst.Empty()
}

// ReadFrameAt seeks to an index and decodes that single frame.
func (r *Reader) ReadFrameAt(index int) (gocv.Mat, error) {
	r.SeekFrame(index)
	frame := gocv.NewMat()
	if !r.Read(&frame) {
		frame.Close()
		return gocv.Mat{}, ErrFrameRead
	}
	return frame, nil
}

// Close releases the decoder.
func (r *Reader) Close() error {
	return r.cap.Close()
}
