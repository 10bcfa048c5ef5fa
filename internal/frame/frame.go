// Package frame holds the per-frame data model shared by every pipeline stage.
//
// A Frame is owned by exactly one stage at a time. Stages hand it to the next
// stage and never touch it again, so no locking is needed on pixel data.
package frame

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one decoded image from the video's frame sequence.
type Frame struct {
	// Index is the zero-based position in the source sequence. Output order is Index order.
	Index int

	// Timestamp is the presentation time derived from the source frame rate.
	Timestamp time.Duration

	// Image holds the pixels. Alpha is always opaque.
	Image *image.RGBA
}

// New allocates an opaque black frame of the given size.
func New(index, width, height int) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return &Frame{Index: index, Image: img}
}

// FromImage copies any image into a new frame.
func FromImage(index int, src image.Image) *Frame {
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	return &Frame{Index: index, Image: img}
}

// Width in pixels.
func (f *Frame) Width() int { return f.Image.Rect.Dx() }

// Height in pixels.
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Clone returns a deep copy with the same index and timestamp.
func (f *Frame) Clone() *Frame {
	img := &image.RGBA{
		Pix:    append([]uint8(nil), f.Image.Pix...),
		Stride: f.Image.Stride,
		Rect:   f.Image.Rect,
	}
	return &Frame{Index: f.Index, Timestamp: f.Timestamp, Image: img}
}

// Equal reports whether both frames have identical dimensions and pixels.
func (f *Frame) Equal(other *Frame) bool {
	if f.Image.Rect != other.Image.Rect {
		return false
	}
	w := f.Width() * 4
	for y := 0; y < f.Height(); y++ {
		a := f.Image.Pix[y*f.Image.Stride : y*f.Image.Stride+w]
		b := other.Image.Pix[y*other.Image.Stride : y*other.Image.Stride+w]
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// Fill paints a rectangle with a solid RGB colour, clipped to the frame.
func (f *Frame) Fill(r image.Rectangle, c [3]uint8) {
	r = r.Intersect(f.Image.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := f.Image.PixOffset(x, y)
			f.Image.Pix[i] = c[0]
			f.Image.Pix[i+1] = c[1]
			f.Image.Pix[i+2] = c[2]
			f.Image.Pix[i+3] = 0xff
		}
	}
}

// RGB returns the colour at (x, y).
func (f *Frame) RGB(x, y int) [3]uint8 {
	i := f.Image.PixOffset(x, y)
	return [3]uint8{f.Image.Pix[i], f.Image.Pix[i+1], f.Image.Pix[i+2]}
}
