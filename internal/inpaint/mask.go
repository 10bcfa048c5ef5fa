package inpaint

import "github.com/adverant/nexus/videotranslate-worker/internal/frame"

// Mask marks pixels to reconstruct. Same spatial size as the frame it was built for.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// BuildMask marks the interior of every box. Boxes are clamped to the frame first and
// zero-area boxes are ignored, so overlapping boxes simply merge.
func BuildMask(width, height int, boxes []frame.TextBox) *Mask {
	m := &Mask{Width: width, Height: height, Pix: make([]bool, width*height)}
	for _, b := range frame.ClampAll(boxes, width, height) {
		for y := b.Y; y < b.Y+b.Height; y++ {
			row := y * width
			for x := b.X; x < b.X+b.Width; x++ {
				m.Pix[row+x] = true
			}
		}
	}
	return m
}

// At reports whether (x, y) is marked. Out-of-range coordinates are unmarked.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x]
}

// Count returns the number of marked pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Components counts 4-connected regions of marked pixels.
func (m *Mask) Components() int {
	seen := make([]bool, len(m.Pix))
	stack := make([]int, 0, 64)
	n := 0
	for start, marked := range m.Pix {
		if !marked || seen[start] {
			continue
		}
		n++
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%m.Width, p/m.Width
			for _, d := range neighbours4 {
				nx, ny := x+d[0], y+d[1]
				if !m.At(nx, ny) {
					continue
				}
				q := ny*m.Width + nx
				if !seen[q] {
					seen[q] = true
					stack = append(stack, q)
				}
			}
		}
	}
	return n
}

var neighbours4 = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
