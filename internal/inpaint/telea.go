/**
 * Region Inpainter - fast marching reconstruction (Telea)
 *
 * The mask boundary is marched inward in order of distance from the known region.
 * Each newly reached pixel is the weighted mean of known pixels within Radius,
 * weighted by direction along the distance gradient, geometric distance and level-set distance.
 * Pixels outside the mask are never written.
 */

package inpaint

import (
	"container/heap"
	"math"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// DefaultRadius is the information-propagation distance in pixels.
const DefaultRadius = 3

// Inpainter reconstructs background pixels under a set of boxes.
type Inpainter interface {
	// Inpaint returns a new frame. Pixels outside every box are identical to the input.
	Inpaint(f *frame.Frame, boxes []frame.TextBox) *frame.Frame
}

const (
	flagKnown uint8 = iota
	flagBand
	flagInside
)

const infDistance = 1.0e6

// Telea is the fast-marching inpainter.
type Telea struct {
	Radius int
}

// NewTelea creates an inpainter. A non-positive radius means DefaultRadius.
func NewTelea(radius int) *Telea {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Telea{Radius: radius}
}

// Inpaint builds one mask from all boxes and reconstructs it in a single pass.
func (t *Telea) Inpaint(f *frame.Frame, boxes []frame.TextBox) *frame.Frame {
	out := f.Clone()
	mask := BuildMask(f.Width(), f.Height(), boxes)
	if mask.Count() == 0 {
		return out
	}
	t.InpaintMask(out, mask)
	return out
}

// InpaintMask reconstructs masked pixels of f in place.
// A mask covering the whole frame has no known pixels to march from; the frame
// is then filled with its mean colour.
func (t *Telea) InpaintMask(f *frame.Frame, mask *Mask) {
	if mask.Count() == len(mask.Pix) {
		f.Fill(f.Image.Rect, meanColor(f))
		return
	}
	m := &marcher{
		img:    f,
		w:      mask.Width,
		h:      mask.Height,
		radius: t.Radius,
		flags:  make([]uint8, len(mask.Pix)),
		dist:   make([]float64, len(mask.Pix)),
	}
	m.run(mask)
}

type marcher struct {
	img    *frame.Frame
	w, h   int
	radius int
	flags  []uint8
	dist   []float64
	band   narrowBand
}

func (m *marcher) run(mask *Mask) {
	for i, marked := range mask.Pix {
		if marked {
			m.flags[i] = flagInside
			m.dist[i] = infDistance
		}
	}

	// Initial narrow band: known pixels touching the mask.
	for i, marked := range mask.Pix {
		if marked {
			continue
		}
		x, y := i%m.w, i/m.w
		for _, d := range neighbours4 {
			if mask.At(x+d[0], y+d[1]) {
				m.flags[i] = flagBand
				heap.Push(&m.band, bandItem{t: 0, idx: i})
				break
			}
		}
	}

	for m.band.Len() > 0 {
		item := heap.Pop(&m.band).(bandItem)
		m.flags[item.idx] = flagKnown
		x, y := item.idx%m.w, item.idx/m.w

		for _, d := range neighbours4 {
			nx, ny := x+d[0], y+d[1]
			if !m.inBounds(nx, ny) {
				continue
			}
			n := ny*m.w + nx
			if m.flags[n] != flagInside {
				continue
			}
			m.dist[n] = math.Min(
				math.Min(m.solve(nx, ny-1, nx-1, ny), m.solve(nx, ny+1, nx-1, ny)),
				math.Min(m.solve(nx, ny-1, nx+1, ny), m.solve(nx, ny+1, nx+1, ny)),
			)
			m.paint(nx, ny)
			m.flags[n] = flagBand
			heap.Push(&m.band, bandItem{t: m.dist[n], idx: n})
		}
	}
}

func (m *marcher) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.w && y < m.h
}

// sample returns the distance at (x, y) and whether the pixel is outside the unknown region.
func (m *marcher) sample(x, y int) (float64, bool) {
	if !m.inBounds(x, y) {
		return infDistance, false
	}
	i := y*m.w + x
	return m.dist[i], m.flags[i] != flagInside
}

// solve is the first-order eikonal update from two orthogonal neighbours.
func (m *marcher) solve(x1, y1, x2, y2 int) float64 {
	a, aKnown := m.sample(x1, y1)
	b, bKnown := m.sample(x2, y2)
	switch {
	case aKnown && bKnown:
		if math.Abs(a-b) >= 1.0 {
			return 1 + math.Min(a, b)
		}
		return (a + b + math.Sqrt(2.0-(a-b)*(a-b))) * 0.5
	case aKnown:
		return 1 + a
	case bKnown:
		return 1 + b
	default:
		return 1 + math.Min(a, b)
	}
}

func (m *marcher) gradient(x, y int) (gx, gy float64) {
	c := m.dist[y*m.w+x]
	axis := func(lo, hi float64, loKnown, hiKnown bool) float64 {
		switch {
		case hiKnown && loKnown:
			return (hi - lo) * 0.5
		case hiKnown:
			return hi - c
		case loKnown:
			return c - lo
		default:
			return 0
		}
	}
	l, lk := m.sample(x-1, y)
	r, rk := m.sample(x+1, y)
	u, uk := m.sample(x, y-1)
	d, dk := m.sample(x, y+1)
	return axis(l, r, lk, rk), axis(u, d, uk, dk)
}

func (m *marcher) paint(x, y int) {
	gx, gy := m.gradient(x, y)
	c := m.dist[y*m.w+x]
	r2 := m.radius * m.radius

	var acc [3]float64
	var sum float64
	for ky := y - m.radius; ky <= y+m.radius; ky++ {
		for kx := x - m.radius; kx <= x+m.radius; kx++ {
			if !m.inBounds(kx, ky) {
				continue
			}
			k := ky*m.w + kx
			if m.flags[k] == flagInside {
				continue
			}
			rx, ry := float64(x-kx), float64(y-ky)
			lenSq := rx*rx + ry*ry
			if lenSq == 0 || lenSq > float64(r2) {
				continue
			}
			dst := 1.0 / (lenSq * math.Sqrt(lenSq))
			lev := 1.0 / (1.0 + math.Abs(m.dist[k]-c))
			dir := rx*gx + ry*gy
			if math.Abs(dir) <= 0.01 {
				dir = 1.0e-6
			}
			w := math.Abs(dst * lev * dir)

			px := m.img.RGB(kx, ky)
			acc[0] += w * float64(px[0])
			acc[1] += w * float64(px[1])
			acc[2] += w * float64(px[2])
			sum += w
		}
	}
	if sum == 0 {
		return
	}

	i := m.img.Image.PixOffset(x, y)
	for ch := 0; ch < 3; ch++ {
		m.img.Image.Pix[i+ch] = clampByte(math.Round(acc[ch] / sum))
	}
	m.img.Image.Pix[i+3] = 0xff
}

func meanColor(f *frame.Frame) [3]uint8 {
	var sum [3]float64
	n := 0
	for y := 0; y < f.Height(); y++ {
		for x := 0; x < f.Width(); x++ {
			c := f.RGB(f.Image.Rect.Min.X+x, f.Image.Rect.Min.Y+y)
			sum[0] += float64(c[0])
			sum[1] += float64(c[1])
			sum[2] += float64(c[2])
			n++
		}
	}
	if n == 0 {
		return [3]uint8{}
	}
	return [3]uint8{clampByte(sum[0] / float64(n)), clampByte(sum[1] / float64(n)), clampByte(sum[2] / float64(n))}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

type bandItem struct {
	t   float64
	idx int
}

// narrowBand is a min-heap on distance, ties broken by pixel index for deterministic output.
type narrowBand []bandItem

func (b narrowBand) Len() int { return len(b) }
func (b narrowBand) Less(i, j int) bool {
	if b[i].t != b[j].t {
		return b[i].t < b[j].t
	}
	return b[i].idx < b[j].idx
}
func (b narrowBand) Swap(i, j int)       { b[i], b[j] = b[j], b[i] }
func (b *narrowBand) Push(x interface{}) { *b = append(*b, x.(bandItem)) }
func (b *narrowBand) Pop() interface{} {
	old := *b
	n := len(old)
	item := old[n-1]
	*b = old[:n-1]
	return item
}
