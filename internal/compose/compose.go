/**
 * Compositor - draws translated text onto reconstructed frames
 *
 * Lines pair with boxes by index. Each line is placed just above its box, or
 * just below it when the space above is outside the frame. Text colour is
 * black or white, whichever contrasts with the background under the text,
 * with a one-pixel shadow in the opposite colour.
 */

package compose

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

const (
	DefaultFontSize = 24
	DefaultGap      = 4
	shadowOffset    = 1
)

// Config holds compositor configuration
type Config struct {
	FontSize float64 // points at 72 DPI, so points == pixels
	Gap      int     // pixels between text and box edge
}

// Placement records where one line was drawn
type Placement struct {
	BoxIndex int
	Line     string
	Bounds   image.Rectangle // text plus shadow
	Baseline image.Point
	Below    bool
	Color    color.RGBA
}

// Compositor renders text with a shared font. Safe for concurrent use.
type Compositor struct {
	config  Config
	ascent  int
	descent int
	faces   sync.Pool
}

// New creates a compositor using the embedded Go Regular font
func New(cfg Config) (*Compositor, error) {
	if cfg.FontSize <= 0 {
		cfg.FontSize = DefaultFontSize
	}
	if cfg.Gap < 0 {
		cfg.Gap = 0
	}

	ttf, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	newFace := func() (font.Face, error) {
		return opentype.NewFace(ttf, &opentype.FaceOptions{
			Size:    cfg.FontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	}

	// opentype faces cache glyphs internally and are not goroutine-safe
	probe, err := newFace()
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	metrics := probe.Metrics()

	c := &Compositor{
		config:  cfg,
		ascent:  metrics.Ascent.Ceil(),
		descent: metrics.Descent.Ceil(),
	}
	c.faces.New = func() interface{} {
		face, err := newFace()
		if err != nil {
			// options and font were already validated by the probe face
			panic(err)
		}
		return face
	}
	c.faces.Put(probe)
	return c, nil
}

// SplitLines splits translated text on line breaks
func SplitLines(translated string) []string {
	if translated == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(translated, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}

// Render splits translated text into lines and draws them against boxes
func (c *Compositor) Render(f *frame.Frame, boxes []frame.TextBox, translated string) (*frame.Frame, []Placement) {
	return c.RenderLines(f, boxes, SplitLines(translated))
}

// RenderLines draws lines[i] for boxes[i] on a copy of f. Boxes without a line stay blank;
// surplus lines are dropped.
func (c *Compositor) RenderLines(f *frame.Frame, boxes []frame.TextBox, lines []string) (*frame.Frame, []Placement) {
	out := f.Clone()
	n := min(len(boxes), len(lines))
	if n == 0 {
		return out, nil
	}

	face := c.faces.Get().(font.Face)
	defer c.faces.Put(face)

	placements := make([]Placement, 0, n)
	for i := 0; i < n; i++ {
		line := lines[i]
		if line == "" {
			continue
		}
		p := c.place(out, face, boxes[i], line)
		p.BoxIndex = i
		c.draw(out, face, p)
		placements = append(placements, p)
	}
	return out, placements
}

// Measure returns the size of line including its shadow
func (c *Compositor) Measure(line string) image.Point {
	face := c.faces.Get().(font.Face)
	defer c.faces.Put(face)
	return image.Pt(font.MeasureString(face, line).Ceil()+shadowOffset, c.ascent+c.descent+shadowOffset)
}

func (c *Compositor) place(f *frame.Frame, face font.Face, box frame.TextBox, line string) Placement {
	w := font.MeasureString(face, line).Ceil() + shadowOffset
	h := c.ascent + c.descent + shadowOffset
	frameW, frameH := f.Width(), f.Height()

	below := false
	top := box.Y - c.config.Gap - h
	if top < 0 {
		below = true
		top = box.Y + box.Height + c.config.Gap
		if top+h > frameH {
			top = max(0, frameH-h)
		}
	}

	x := box.X
	if x+w > frameW {
		x = frameW - w
	}
	x = max(0, x)

	bounds := image.Rect(x, top, x+w, top+h)
	return Placement{
		Line:     line,
		Bounds:   bounds,
		Baseline: image.Pt(x, top+c.ascent),
		Below:    below,
		Color:    contrastColor(f, bounds),
	}
}

func (c *Compositor) draw(f *frame.Frame, face font.Face, p Placement) {
	shadow := color.RGBA{255 - p.Color.R, 255 - p.Color.G, 255 - p.Color.B, 255}

	d := &font.Drawer{Dst: f.Image, Face: face}

	d.Src = image.NewUniform(shadow)
	d.Dot = fixed.P(p.Baseline.X+shadowOffset, p.Baseline.Y+shadowOffset)
	d.DrawString(p.Line)

	d.Src = image.NewUniform(p.Color)
	d.Dot = fixed.P(p.Baseline.X, p.Baseline.Y)
	d.DrawString(p.Line)
}

var (
	black = color.RGBA{0, 0, 0, 255}
	white = color.RGBA{255, 255, 255, 255}
)

// contrastColor picks black on light backgrounds and white on dark ones, by mean CIE L*
func contrastColor(f *frame.Frame, r image.Rectangle) color.RGBA {
	r = r.Intersect(f.Image.Rect)
	if r.Empty() {
		return white
	}

	var sum float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px := f.RGB(x, y)
			col := colorful.Color{R: float64(px[0]) / 255, G: float64(px[1]) / 255, B: float64(px[2]) / 255}
			l, _, _ := col.Lab()
			sum += l
		}
	}
	if sum/float64(r.Dx()*r.Dy()) > 0.5 {
		return black
	}
	return white
}
