package video

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/logging"
)

// Writer encodes BGR frames into an MP4 container. It prefers the H.264
// fourcc and falls back to mp4v when the build lacks an encoder; the audio
// remux step transcodes in that case.
type Writer struct {
	w      *gocv.VideoWriter
	path   string
	width  int
	height int
	fps    float64
	fourcc string
}

// OpenWriter creates the output video file.
func OpenWriter(path string, width, height int, fps float64) (*Writer, error) {
	for _, fourcc := range []string{"avc1", "mp4v"} {
		w, err := gocv.VideoWriterFile(path, fourcc, fps, width, height, true)
		if err != nil {
			continue
		}
		if !w.IsOpened() {
			w.Close()
			continue
		}
		if fourcc != "avc1" {
			logging.Component("video").Warnf("H.264 writer unavailable, using %s; remux will transcode", fourcc)
		}
		return &Writer{
			w:      w,
			path:   path,
			width:  width,
			height: height,
			fps:    fps,
			fourcc: fourcc,
		}, nil
	}
	return nil, ErrWriteFailed
}

// NeedsTranscode reports whether the fallback fourcc was used.
func (w *Writer) NeedsTranscode() bool {
	return w.fourcc != "avc1"
}

// Write encodes one frame after coercing it to the writer geometry.
func (w *Writer) Write(frame gocv.Mat) error {
	normalized, owned := NormalizeFrame(frame, w.width, w.height)
	if owned {
		defer normalized.Close()
	}
	return w.w.Write(normalized)
}

// Close finalizes the container.
func (w *Writer) Close() error {
	return w.w.Close()
}

// NormalizeFrame coerces a worker output frame to 8-bit BGR at the writer
// geometry: an empty frame becomes a black frame, gray and BGRA collapse to
// BGR, size mismatches resample bilinearly. The second return value tells the
// caller whether a new Mat was allocated and must be closed.
func NormalizeFrame(frame gocv.Mat, width, height int) (gocv.Mat, bool) {
	if frame.Empty() {
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3), true
	}

	out := frame
	owned := false

	replace := func(m gocv.Mat) {
		if owned {
			out.Close()
		}
		out = m
		owned = true
	}

	switch out.Channels() {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(out, &bgr, gocv.ColorGrayToBGR)
		replace(bgr)
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(out, &bgr, gocv.ColorBGRAToBGR)
		replace(bgr)
	}

	if out.Cols() != width || out.Rows() != height {
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		replace(resized)
	}

	if out.Type() != gocv.MatTypeCV8UC3 {
		converted := gocv.NewMat()
		out.ConvertTo(&converted, gocv.MatTypeCV8UC3)
		replace(converted)
	}

	return out, owned
}

// CalcBitrate scales a 4 Mbps @ 1080p reference linearly by pixel count,
// floored at 1 Mbps.
func CalcBitrate(width, height int) int {
	const (
		baseBitrate = 4_000_000
		refPixels   = 1920 * 1080
		minBitrate  = 1_000_000
	)
	bitrate := int(int64(baseBitrate) * int64(width) * int64(height) / refPixels)
	if bitrate < minBitrate {
		bitrate = minBitrate
	}
	return bitrate
}
