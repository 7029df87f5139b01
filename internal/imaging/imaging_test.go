package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupportedImageExts(t *testing.T) {
	for _, p := range []string{"a.png", "b.JPG", "c.jpeg", "d.webp", "e.bmp", "f.tif", "g.TIFF"} {
		assert.True(t, IsSupportedImageExt(p), p)
	}
	for _, p := range []string{"a.heic", "b.heif", "c.gif", "d.mp4", "noext"} {
		assert.False(t, IsSupportedImageExt(p), p)
	}
}

func TestSupportedVideoExts(t *testing.T) {
	for _, p := range []string{"a.mp4", "b.MOV", "c.avi", "d.mkv", "e.webm", "f.m4v"} {
		assert.True(t, IsSupportedVideoExt(p), p)
	}
	for _, p := range []string{"a.png", "b.wmv", "c.flv"} {
		assert.False(t, IsSupportedVideoExt(p), p)
	}
}

func TestHEIFSniff(t *testing.T) {
	heic := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic")...)
	heic = append(heic, make([]byte, 16)...)
	assert.True(t, isHEIF(heic))

	mif1 := append([]byte{0, 0, 0, 0x18}, []byte("ftypmif1")...)
	assert.True(t, isHEIF(mif1))

	// MP4 also carries ftyp but a different brand.
	mp4 := append([]byte{0, 0, 0, 0x18}, []byte("ftypisom")...)
	assert.False(t, isHEIF(mp4))

	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	assert.False(t, isHEIF(png))
	assert.False(t, isHEIF([]byte{1, 2, 3}))
}

func TestDecodeEmpty(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrDecodeFailed)
}

func TestDecodeRejectsHEIF(t *testing.T) {
	heic := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic")...)
	heic = append(heic, make([]byte, 64)...)
	_, err := Decode(heic)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/a/subject_output.jpg", OutputPath("/a/subject.jpg"))
	assert.Equal(t, "pic_output.tiff", OutputPath("pic.tiff"))
	assert.Equal(t, "/a/clip_output.mp4", VideoOutputPath("/a/clip.mov"))
	assert.Equal(t, "clip_output.mp4", VideoOutputPath("clip.mp4"))
}
