package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dudu/magicmirror/internal/logging"
)

// Boundary errors. The task layer maps these onto its error codes.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecodeFailed      = errors.New("image decode failed")
	ErrEncodeFailed      = errors.New("image encode failed")
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

// IsSupportedImageExt reports whether the path extension is an accepted
// still-image format.
func IsSupportedImageExt(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// IsSupportedVideoExt reports whether the path extension is an accepted
// video container.
func IsSupportedVideoExt(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// Decode turns encoded image bytes into an 8-bit 3-channel BGR Mat.
// 16-bit and grayscale inputs are coerced to 8-bit BGR; HEIC/HEIF are
// rejected at the boundary.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, ErrDecodeFailed
	}
	if isHEIF(data) {
		return gocv.Mat{}, fmt.Errorf("%w: HEIC/HEIF", ErrUnsupportedFormat)
	}

	m, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err == nil && !m.Empty() {
		out, err := normalizeTo8UC3(m)
		m.Close()
		return out, err
	}
	if err == nil {
		m.Close()
	}

	// OpenCV builds vary in codec coverage; fall back to the pure-Go decoders.
	return decodeStdlib(data)
}

// ReadFile decodes an image file from disk.
func ReadFile(path string) (gocv.Mat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gocv.Mat{}, err
	}
	return Decode(data)
}

// normalizeTo8UC3 coerces any decoded Mat to contiguous 8-bit BGR.
func normalizeTo8UC3(m gocv.Mat) (gocv.Mat, error) {
	work := m.Clone()

	// 16-bit (and any other depth): min-max scale into [0, 255].
	if work.Type() != gocv.MatTypeCV8UC1 &&
		work.Type() != gocv.MatTypeCV8UC3 &&
		work.Type() != gocv.MatTypeCV8UC4 {
		scaled := gocv.NewMat()
		gocv.Normalize(work, &scaled, 0, 255, gocv.NormMinMax)
		converted := gocv.NewMat()
		scaled.ConvertTo(&converted, gocv.MatTypeCV8U)
		scaled.Close()
		work.Close()
		work = converted
	}

	switch work.Channels() {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(work, &bgr, gocv.ColorGrayToBGR)
		work.Close()
		return bgr, nil
	case 3:
		return work, nil
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(work, &bgr, gocv.ColorBGRAToBGR)
		work.Close()
		return bgr, nil
	default:
		ch := work.Channels()
		work.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %d channels", ErrDecodeFailed, ch)
	}
}

// decodeStdlib decodes via the Go image registry (png/jpeg plus the x/image
// webp, bmp and tiff decoders) and converts to a BGR Mat.
func decodeStdlib(data []byte) (gocv.Mat, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	bgr := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := rgba.PixOffset(x, y)
			dst := (y*w + x) * 3
			bgr[dst+0] = rgba.Pix[src+2]
			bgr[dst+1] = rgba.Pix[src+1]
			bgr[dst+2] = rgba.Pix[src+0]
		}
	}

	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return m, nil
}

// isHEIF sniffs the ISOBMFF ftyp brand for HEIC/HEIF containers.
func isHEIF(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	switch brand {
	case "heic", "heix", "heim", "heis", "hevc", "hevx", "mif1", "msf1":
		return true
	}
	return false
}

// Encode serializes a BGR Mat using the format implied by ext. JPEG output
// uses quality 95.
func Encode(img gocv.Mat, ext string) ([]byte, error) {
	ext = strings.ToLower(ext)

	var (
		buf *gocv.NativeByteBuffer
		err error
	)
	switch ext {
	case ".jpg", ".jpeg":
		buf, err = gocv.IMEncodeWithParams(gocv.JPEGFileExt, img,
			[]int{gocv.IMWriteJpegQuality, 95})
	case ".png":
		buf, err = gocv.IMEncode(gocv.PNGFileExt, img)
	default:
		buf, err = gocv.IMEncode(gocv.FileExt(ext), img)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	if len(out) == 0 {
		return nil, ErrEncodeFailed
	}
	return out, nil
}

// WriteFile saves an image, preserving the path extension and falling back to
// PNG when that encoder is unavailable. Returns the path actually written.
func WriteFile(path string, img gocv.Mat) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || (!imageExts[ext]) {
		ext = ".png"
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	}

	data, err := Encode(img, ext)
	if err == nil {
		if werr := os.WriteFile(path, data, 0o644); werr == nil {
			return path, nil
		} else {
			return "", werr
		}
	}

	if ext == ".png" {
		return "", err
	}
	logging.Component("imaging").Warnf("encoding %s failed, falling back to PNG: %v", ext, err)

	pngPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	data, err = Encode(img, ".png")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(pngPath, data, 0o644); err != nil {
		return "", err
	}
	return pngPath, nil
}

// OutputPath derives the sibling output filename for an input file, keeping
// the extension: subject.jpg -> subject_output.jpg.
func OutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + "_output" + ext
}

// VideoOutputPath derives the sibling MP4 output filename for an input video.
func VideoOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + "_output.mp4"
}
