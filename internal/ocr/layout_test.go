package ocr

import (
	"errors"
	"reflect"
	"testing"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

func word(x, y, w, h int, text string) Word {
	return Word{Box: frame.TextBox{X: x, Y: y, Width: w, Height: h}, Text: text, Confidence: 90}
}

func TestGroupLinesMergesCharactersIntoLines(t *testing.T) {
	// "HELLO" as five character boxes plus a second caption further down.
	chars := []Word{
		word(50, 50, 30, 40, "H"),
		word(84, 51, 30, 39, "E"),
		word(118, 50, 28, 40, "L"),
		word(150, 50, 28, 40, "L"),
		word(182, 49, 32, 41, "O"),
		word(60, 200, 20, 20, "o"),
		word(82, 200, 20, 20, "k"),
	}

	got := GroupLines(chars, DefaultLayoutConfig())
	want := []frame.TextBox{
		{X: 50, Y: 49, Width: 164, Height: 41},
		{X: 60, Y: 200, Width: 42, Height: 20},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupLines = %v, want %v", got, want)
	}
}

func TestGroupLinesKeepsDistantCaptionsApart(t *testing.T) {
	words := []Word{
		word(10, 10, 40, 20, "left"),
		word(300, 10, 40, 20, "right"),
	}
	got := GroupLines(words, DefaultLayoutConfig())
	if len(got) != 2 {
		t.Fatalf("expected two regions, got %v", got)
	}
	if got[0].X != 10 || got[1].X != 300 {
		t.Fatalf("regions not in reading order: %v", got)
	}
}

func TestGroupLinesDropsNoise(t *testing.T) {
	words := []Word{
		{Box: frame.TextBox{X: 1, Y: 1, Width: 10, Height: 10}, Text: "x", Confidence: 5},
		{Box: frame.TextBox{X: 20, Y: 1, Width: 10, Height: 10}, Text: "", Confidence: 95},
		{Box: frame.TextBox{X: 40, Y: 1, Width: 0, Height: 10}, Text: "y", Confidence: 95},
	}
	if got := GroupLines(words, DefaultLayoutConfig()); len(got) != 0 {
		t.Fatalf("expected no regions, got %v", got)
	}
}

func TestGroupLinesIsDeterministicUnderInputPermutation(t *testing.T) {
	a := []Word{word(10, 10, 20, 20, "a"), word(32, 10, 20, 20, "b"), word(10, 60, 20, 20, "c")}
	b := []Word{a[2], a[1], a[0]}
	if !reflect.DeepEqual(GroupLines(a, DefaultLayoutConfig()), GroupLines(b, DefaultLayoutConfig())) {
		t.Fatalf("grouping depends on input order")
	}
}

type fakeBackend struct {
	words     []Word
	detectErr error
	texts     map[frame.TextBox]string
	recErr    error
}

func (f *fakeBackend) Detect(*frame.Frame) ([]Word, error) {
	return f.words, f.detectErr
}

func (f *fakeBackend) Recognize(_ *frame.Frame, box frame.TextBox) (string, error) {
	if f.recErr != nil {
		return "", f.recErr
	}
	return f.texts[box], nil
}

func TestDetectorDegradesToEmptyOnBackendError(t *testing.T) {
	d := NewDetector(&fakeBackend{detectErr: errors.New("malformed image")}, DetectorConfig{Layout: DefaultLayoutConfig()})
	if got := d.Detect(frame.New(0, 100, 100)); len(got) != 0 {
		t.Fatalf("expected empty box list, got %v", got)
	}
}

func TestDetectorPadsAndClamps(t *testing.T) {
	backend := &fakeBackend{words: []Word{word(0, 10, 20, 10, "hi"), word(90, 90, 10, 10, "x")}}
	d := NewDetector(backend, DetectorConfig{Layout: DefaultLayoutConfig(), Padding: 2})

	got := d.Detect(frame.New(0, 100, 100))
	want := []frame.TextBox{{X: 0, Y: 8, Width: 22, Height: 14}, {X: 88, Y: 88, Width: 12, Height: 12}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Detect = %v, want %v", got, want)
	}
}

func TestExtractorNormalisesAndDegrades(t *testing.T) {
	box := frame.TextBox{X: 50, Y: 50, Width: 200, Height: 50}
	f := frame.New(0, 320, 240)

	e := NewExtractor(&fakeBackend{texts: map[frame.TextBox]string{box: "  HELLO\n"}})
	if got := e.Extract(f, box); got != "HELLO" {
		t.Fatalf("Extract = %q, want HELLO", got)
	}
	if got := e.ExtractAll(f, []frame.TextBox{box, {X: 0, Y: 0, Width: 5, Height: 5}}); !reflect.DeepEqual(got, []string{"HELLO", ""}) {
		t.Fatalf("ExtractAll = %q", got)
	}

	failing := NewExtractor(&fakeBackend{recErr: errors.New("tesseract crashed")})
	if got := failing.Extract(f, box); got != "" {
		t.Fatalf("failing Extract = %q, want empty", got)
	}
}
