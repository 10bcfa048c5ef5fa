package video

import (
	"fmt"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// FrameSize is the byte length of one rgb24 frame
func FrameSize(width, height int) int {
	return width * height * 3
}

// FromRGB24 builds a frame from packed rgb24 pixels
func FromRGB24(index, width, height int, data []byte) (*frame.Frame, error) {
	if len(data) != FrameSize(width, height) {
		return nil, fmt.Errorf("rgb24 buffer is %d bytes, want %d for %dx%d", len(data), FrameSize(width, height), width, height)
	}

	f := frame.New(index, width, height)
	pix := f.Image.Pix
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		pix[j] = data[i]
		pix[j+1] = data[i+1]
		pix[j+2] = data[i+2]
	}
	return f, nil
}

// ToRGB24 packs a frame into dst, growing it if needed
func ToRGB24(f *frame.Frame, dst []byte) []byte {
	w, h := f.Width(), f.Height()
	size := FrameSize(w, h)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	img := f.Image
	k := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			dst[k] = row[i]
			dst[k+1] = row[i+1]
			dst[k+2] = row[i+2]
			k += 3
		}
	}
	return dst
}
