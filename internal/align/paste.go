package align

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/geometry"
)

// FeatherMask builds a size x size alpha map: 1 in the interior, dropping
// through a smoothstep ramp over borderFrac of each side. Corners take the
// per-axis minimum so they fade first.
func FeatherMask(size int, borderFrac float32) []float32 {
	border := int(float32(size) * borderFrac)
	if border < 4 {
		border = 4
	}

	mask := make([]float32, size*size)
	for y := 0; y < size; y++ {
		dy := y
		if size-1-y < dy {
			dy = size - 1 - y
		}
		fy := float32(1)
		if dy < border {
			fy = float32(dy) / float32(border)
		}
		for x := 0; x < size; x++ {
			dx := x
			if size-1-x < dx {
				dx = size - 1 - x
			}
			fx := float32(1)
			if dx < border {
				fx = float32(dx) / float32(border)
			}

			a := fx
			if fy < a {
				a = fy
			}
			// smoothstep
			a = a * a * (3 - 2*a)
			mask[y*size+x] = a
		}
	}
	return mask
}

// PasteBack inverse-warps an aligned face crop and its feathered mask into
// the source frame and alpha-composites them. The composite runs in the
// source frame to avoid a redundant resampling. Returns a new frame; the
// caller keeps ownership of the input.
func PasteBack(frame gocv.Mat, face gocv.Mat, t geometry.Affine, borderFrac float32) (gocv.Mat, error) {
	w := frame.Cols()
	h := frame.Rows()
	size := face.Cols()
	if face.Rows() != size {
		return gocv.Mat{}, fmt.Errorf("aligned face must be square, got %dx%d", face.Cols(), face.Rows())
	}

	warpedFace, err := InverseWarp(face, t, w, h)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer warpedFace.Close()

	maskMat, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV32F,
		float32SliceToBytes(FeatherMask(size, borderFrac)))
	if err != nil {
		return gocv.Mat{}, err
	}
	defer maskMat.Close()

	warpedMask, err := InverseWarp(maskMat, t, w, h)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer warpedMask.Close()

	return composite(frame, warpedFace, warpedMask)
}

// composite blends output = frame*(1-a) + face*a per pixel, clipped to
// [0, 255].
func composite(frame, warpedFace, warpedMask gocv.Mat) (gocv.Mat, error) {
	w := frame.Cols()
	h := frame.Rows()

	framePix := frame.ToBytes()
	facePix := warpedFace.ToBytes()
	alpha := bytesToFloat32(warpedMask.ToBytes())

	out := make([]byte, len(framePix))
	copy(out, framePix)

	for i := 0; i < w*h; i++ {
		a := alpha[i]
		if a <= 0 {
			continue
		}
		if a > 1 {
			a = 1
		}
		p := i * 3
		for c := 0; c < 3; c++ {
			v := float32(framePix[p+c])*(1-a) + float32(facePix[p+c])*a
			out[p+c] = clampByte(v)
		}
	}

	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, out)
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

func float32SliceToBytes(data []float32) []byte {
	out := make([]byte, len(data)*4)
	for i, f := range data {
		bits := math.Float32bits(f)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
