package inpaint

import (
	"image"
	"testing"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// gradientFrame paints a deterministic non-uniform background.
func gradientFrame(w, h int) *frame.Frame {
	f := frame.New(0, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Fill(image.Rect(x, y, x+1, y+1), [3]uint8{uint8(x * 255 / w), uint8(y * 255 / h), 90})
		}
	}
	return f
}

func assertOutsideUnchanged(t *testing.T, in, out *frame.Frame, mask *Mask) {
	t.Helper()
	for y := 0; y < in.Height(); y++ {
		for x := 0; x < in.Width(); x++ {
			if mask.At(x, y) {
				continue
			}
			if in.RGB(x, y) != out.RGB(x, y) {
				t.Fatalf("pixel (%d,%d) outside mask changed: %v -> %v", x, y, in.RGB(x, y), out.RGB(x, y))
			}
		}
	}
}

func TestInpaintNoBoxesIsNoOp(t *testing.T) {
	in := gradientFrame(40, 30)
	ip := NewTelea(0)

	once := ip.Inpaint(in, nil)
	twice := ip.Inpaint(once, nil)

	if !once.Equal(in) || !twice.Equal(in) {
		t.Fatalf("inpainting with no boxes must be a no-op")
	}
	if once == in {
		t.Fatalf("Inpaint must return a new frame")
	}
}

func TestInpaintLeavesOutsidePixelsUnchanged(t *testing.T) {
	in := gradientFrame(120, 80)
	boxes := []frame.TextBox{{X: 10, Y: 10, Width: 30, Height: 12}, {X: 60, Y: 40, Width: 25, Height: 20}}
	// Glyph-like strokes inside the boxes.
	in.Fill(image.Rect(12, 12, 38, 14), [3]uint8{255, 255, 255})
	in.Fill(image.Rect(62, 45, 80, 47), [3]uint8{255, 255, 255})

	out := NewTelea(DefaultRadius).Inpaint(in, boxes)
	assertOutsideUnchanged(t, in, out, BuildMask(120, 80, boxes))
}

func TestInpaintUniformBackgroundErasesGlyphs(t *testing.T) {
	bg := [3]uint8{30, 60, 120}
	in := frame.New(0, 100, 60)
	in.Fill(in.Image.Rect, bg)
	box := frame.TextBox{X: 20, Y: 15, Width: 50, Height: 25}
	in.Fill(image.Rect(25, 20, 65, 35), [3]uint8{250, 250, 250})

	out := NewTelea(DefaultRadius).Inpaint(in, []frame.TextBox{box})

	for y := box.Y; y < box.Y+box.Height; y++ {
		for x := box.X; x < box.X+box.Width; x++ {
			if out.RGB(x, y) != bg {
				t.Fatalf("pixel (%d,%d) = %v, want background %v", x, y, out.RGB(x, y), bg)
			}
		}
	}
}

func TestOverlappingBoxesMergeIntoOneRegion(t *testing.T) {
	in := gradientFrame(100, 60)
	in.Fill(image.Rect(15, 22, 70, 26), [3]uint8{255, 255, 0})

	overlapping := []frame.TextBox{{X: 10, Y: 20, Width: 40, Height: 10}, {X: 30, Y: 20, Width: 40, Height: 10}}
	union := []frame.TextBox{{X: 10, Y: 20, Width: 60, Height: 10}}

	mask := BuildMask(100, 60, overlapping)
	if got := mask.Components(); got != 1 {
		t.Fatalf("overlapping boxes produced %d components, want 1", got)
	}

	ip := NewTelea(DefaultRadius)
	a := ip.Inpaint(in, overlapping)
	b := ip.Inpaint(in, union)
	if !a.Equal(b) {
		t.Fatalf("overlapping boxes must reconstruct exactly like their union box")
	}
}

func TestDisjointBoxesAreSeparateComponents(t *testing.T) {
	mask := BuildMask(100, 60, []frame.TextBox{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 50, Y: 30, Width: 10, Height: 10},
		{X: 20, Y: 20, Width: 0, Height: 10},
	})
	if got := mask.Components(); got != 2 {
		t.Fatalf("Components = %d, want 2", got)
	}
	if got := mask.Count(); got != 200 {
		t.Fatalf("Count = %d, want 200", got)
	}
}

func TestBoxesOutsideFrameAreClamped(t *testing.T) {
	in := gradientFrame(50, 40)
	boxes := []frame.TextBox{{X: 40, Y: 30, Width: 30, Height: 30}, {X: 200, Y: 200, Width: 5, Height: 5}}

	mask := BuildMask(50, 40, boxes)
	if got := mask.Count(); got != 100 {
		t.Fatalf("clamped mask count = %d, want 100", got)
	}

	out := NewTelea(DefaultRadius).Inpaint(in, boxes)
	assertOutsideUnchanged(t, in, out, mask)
}

func TestBoxCoveringWholeFrameErasesGlyphs(t *testing.T) {
	in := frame.New(0, 40, 20)
	in.Fill(in.Image.Rect, [3]uint8{20, 20, 20})
	in.Fill(image.Rect(10, 8, 30, 10), [3]uint8{255, 255, 255})

	out := NewTelea(DefaultRadius).Inpaint(in, []frame.TextBox{{X: -2, Y: -2, Width: 50, Height: 30}})
	if out.Equal(in) {
		t.Fatal("frame-sized box left the frame unchanged")
	}
	want := out.RGB(0, 0)
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			if got := out.RGB(x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want uniform %v", x, y, got, want)
			}
		}
	}
	if want == [3]uint8{255, 255, 255} {
		t.Fatalf("glyph colour survived: %v", want)
	}
}

func TestInpaintIsDeterministic(t *testing.T) {
	in := gradientFrame(80, 50)
	boxes := []frame.TextBox{{X: 5, Y: 5, Width: 30, Height: 15}, {X: 20, Y: 10, Width: 40, Height: 30}}
	ip := NewTelea(DefaultRadius)
	if !ip.Inpaint(in, boxes).Equal(ip.Inpaint(in, boxes)) {
		t.Fatalf("identical input must give identical output")
	}
}

func TestNewBackend(t *testing.T) {
	if b, err := NewBackend("telea", 3); err != nil || b == nil {
		t.Fatalf("telea: %v", err)
	}
	if _, err := NewBackend("navier-stokes", 3); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	b, err := NewBackend("opencv", 3)
	if OpenCVAvailable != (err == nil) || (err == nil && b == nil) {
		t.Fatalf("opencv backend: available=%v err=%v", OpenCVAvailable, err)
	}
}
