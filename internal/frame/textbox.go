package frame

import (
	"fmt"
	"image"
)

// TextBox is an axis-aligned rectangle in frame pixel coordinates bounding on-screen text.
type TextBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxFromRect converts an image rectangle.
func BoxFromRect(r image.Rectangle) TextBox {
	r = r.Canon()
	return TextBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts the box to an image rectangle.
func (b TextBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the box has no area.
func (b TextBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Clamp intersects the box with a width x height frame. The bool is false when nothing remains.
func (b TextBox) Clamp(width, height int) (TextBox, bool) {
	r := b.Rect().Intersect(image.Rect(0, 0, width, height))
	if r.Empty() {
		return TextBox{}, false
	}
	return BoxFromRect(r), true
}

// Pad grows the box by n pixels on every side. Callers clamp afterwards.
func (b TextBox) Pad(n int) TextBox {
	return TextBox{X: b.X - n, Y: b.Y - n, Width: b.Width + 2*n, Height: b.Height + 2*n}
}

// Union returns the smallest box covering both.
func (b TextBox) Union(o TextBox) TextBox {
	return BoxFromRect(b.Rect().Union(o.Rect()))
}

// Overlaps reports whether the boxes share at least one pixel.
func (b TextBox) Overlaps(o TextBox) bool {
	return b.Rect().Overlaps(o.Rect())
}

func (b TextBox) String() string {
	return fmt.Sprintf("{%d,%d,%d,%d}", b.X, b.Y, b.Width, b.Height)
}

// ClampAll clamps every box to the frame, dropping empty ones. Order is preserved.
func ClampAll(boxes []TextBox, width, height int) []TextBox {
	out := make([]TextBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Empty() {
			continue
		}
		if c, ok := b.Clamp(width, height); ok {
			out = append(out, c)
		}
	}
	return out
}
