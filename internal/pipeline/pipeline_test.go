package pipeline

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/nexus/videotranslate-worker/internal/compose"
	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/inpaint"
	"github.com/adverant/nexus/videotranslate-worker/internal/translate"
)

var helloBox = frame.TextBox{X: 50, Y: 50, Width: 200, Height: 50}

type fixedDetector struct {
	boxes func(f *frame.Frame) []frame.TextBox
}

func (d fixedDetector) Detect(f *frame.Frame) []frame.TextBox {
	return d.boxes(f)
}

type fixedExtractor struct {
	text string
}

func (e fixedExtractor) ExtractAll(_ *frame.Frame, boxes []frame.TextBox) []string {
	out := make([]string, len(boxes))
	for i := range out {
		out[i] = e.text
	}
	return out
}

// dictionary is a deterministic translator backed by a map
type dictionary map[string]string

func (d dictionary) Translate(_ context.Context, text, _ string) (string, error) {
	if out, ok := d[text]; ok {
		return out, nil
	}
	return "", apperrors.NewTranslationUnavailableError("no entry for "+text, nil)
}

// listingTranslator also reports its supported languages
type listingTranslator struct {
	dictionary
	langs []string
}

func (l listingTranslator) SupportedLanguages(context.Context) ([]string, error) {
	return l.langs, nil
}

func textFrame(index, w, h int, box frame.TextBox) *frame.Frame {
	f := frame.New(index, w, h)
	f.Fill(f.Image.Rect, [3]uint8{30, 60, 90})
	f.Fill(box.Rect(), [3]uint8{250, 250, 250})
	return f
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "fr"
	}
	if cfg.Detector == nil {
		cfg.Detector = fixedDetector{boxes: func(*frame.Frame) []frame.TextBox { return []frame.TextBox{helloBox} }}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = fixedExtractor{text: "HELLO"}
	}
	if cfg.Translator == nil {
		cfg.Translator = dictionary{"HELLO": "BONJOUR"}
	}
	if cfg.Inpainter == nil {
		cfg.Inpainter = inpaint.NewTelea(inpaint.DefaultRadius)
	}
	if cfg.Compositor == nil {
		c, err := compose.New(compose.Config{FontSize: compose.DefaultFontSize, Gap: compose.DefaultGap})
		if err != nil {
			t.Fatalf("compose.New: %v", err)
		}
		cfg.Compositor = c
	}
	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNoTextFramesPassThroughUnchanged(t *testing.T) {
	p := newPipeline(t, Config{
		Detector: fixedDetector{boxes: func(*frame.Frame) []frame.TextBox { return nil }},
	})

	var inputs []*frame.Frame
	for i := 0; i < 5; i++ {
		inputs = append(inputs, textFrame(i, 64, 48, frame.TextBox{X: 4, Y: 4, Width: 10, Height: 10}))
	}
	originals := make([]*frame.Frame, len(inputs))
	for i, f := range inputs {
		originals[i] = f.Clone()
	}

	sink := &Collector{}
	report := p.Run(context.Background(), NewSliceSource(inputs...), sink)
	if report.State != JobComplete || report.FramesDone != 5 || report.FramesWithText != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	for i, got := range sink.Frames() {
		if !got.Equal(originals[i]) {
			t.Fatalf("frame %d changed without text", i)
		}
	}
}

func TestHelloBecomesBonjour(t *testing.T) {
	p := newPipeline(t, Config{})
	in := textFrame(0, 320, 240, helloBox)

	out, res, err := p.ProcessFrame(context.Background(), in)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %s, want Done", res.State)
	}
	if !reflect.DeepEqual(res.Texts, []string{"HELLO"}) || !reflect.DeepEqual(res.Translations, []string{"BONJOUR"}) {
		t.Fatalf("texts %q translations %q", res.Texts, res.Translations)
	}

	// the white box is reconstructed from the surrounding background
	if got := out.RGB(helloBox.X+helloBox.Width/2, helloBox.Y+helloBox.Height/2); got != [3]uint8{30, 60, 90} {
		t.Fatalf("box centre = %v, want background", got)
	}

	// something is drawn just above the box and nothing far below it
	changedAbove, changedBelow := 0, 0
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			if out.RGB(x, y) == in.RGB(x, y) || helloBox.Rect().Overlaps(image.Rect(x, y, x+1, y+1)) {
				continue
			}
			if y < helloBox.Y {
				changedAbove++
			} else {
				changedBelow++
			}
		}
	}
	if changedAbove == 0 {
		t.Fatal("translated text not drawn above the box")
	}
	if changedBelow != 0 {
		t.Fatalf("%d pixels changed below the box", changedBelow)
	}
}

func TestTranslationUnavailableSkipsFrame(t *testing.T) {
	p := newPipeline(t, Config{Translator: dictionary{}})

	in := textFrame(0, 320, 240, helloBox)
	original := in.Clone()
	sink := &Collector{}

	var results []FrameResult
	p.config.Observer = func(r FrameResult) { results = append(results, r) }

	report := p.Run(context.Background(), NewSliceSource(in), sink)
	if report.State != JobComplete {
		t.Fatalf("job state = %s, want Complete (err %v)", report.State, report.Err)
	}
	if report.FramesSkipped != 1 || report.FramesDone != 0 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(results) != 1 || results[0].State != StateSkipped {
		t.Fatalf("unexpected results %+v", results)
	}
	if !errors.Is(results[0].Err, apperrors.ErrTranslationUnavailable) {
		t.Fatalf("skip reason = %v", results[0].Err)
	}
	if !sink.Frames()[0].Equal(original) {
		t.Fatal("skipped frame was modified")
	}
}

func TestEmptyExtractionIsNotTranslated(t *testing.T) {
	var calls atomic.Int32
	p := newPipeline(t, Config{
		Extractor: fixedExtractor{text: ""},
		Translator: translate.Func(func(context.Context, string, string) (string, error) {
			calls.Add(1)
			return "x", nil
		}),
	})

	out, res, err := p.ProcessFrame(context.Background(), textFrame(0, 320, 240, helloBox))
	if err != nil || res.State != StateDone {
		t.Fatalf("ProcessFrame = %v, %v", res.State, err)
	}
	if calls.Load() != 0 {
		t.Fatalf("translator called %d times for empty text", calls.Load())
	}
	// the original glyphs are still erased
	if got := out.RGB(helloBox.X+10, helloBox.Y+10); got != [3]uint8{30, 60, 90} {
		t.Fatalf("box not reconstructed: %v", got)
	}
}

func TestFramesReassembledInOrder(t *testing.T) {
	const n = 60
	box := frame.TextBox{X: 10, Y: 20, Width: 20, Height: 10}

	rng := rand.New(rand.NewSource(1))
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(5)) * time.Millisecond
	}

	p := newPipeline(t, Config{
		Workers:               4,
		TranslatorConcurrency: 8,
		MaxInFlight:           16,
		Detector: fixedDetector{boxes: func(f *frame.Frame) []frame.TextBox {
			time.Sleep(delays[f.Index])
			return []frame.TextBox{box}
		}},
		Translator: translate.Func(func(context.Context, string, string) (string, error) {
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			return "OK", nil
		}),
	})

	var inputs []*frame.Frame
	for i := 0; i < n; i++ {
		inputs = append(inputs, textFrame(i, 64, 48, box))
	}

	var mu sync.Mutex
	var order []int
	sink := SinkFunc(func(_ context.Context, f *frame.Frame) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, f.Index)
		return nil
	})

	report := p.Run(context.Background(), NewSliceSource(inputs...), sink)
	if report.State != JobComplete || report.FramesTotal != n || report.FramesDone != n {
		t.Fatalf("unexpected report %+v", report)
	}
	for i, idx := range order {
		if idx != i {
			t.Fatalf("sink received frame %d at position %d", idx, i)
		}
	}
}

func TestCancellationFailsJobAndStopsTranslating(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	p := newPipeline(t, Config{
		Workers:               2,
		TranslatorConcurrency: 2,
		Translator: translate.Func(func(ctx context.Context, _, _ string) (string, error) {
			if calls.Add(1) == 1 {
				cancel()
			}
			<-ctx.Done()
			return "", apperrors.NewTranslationUnavailableError("aborted", ctx.Err())
		}),
	})

	var inputs []*frame.Frame
	for i := 0; i < 100; i++ {
		inputs = append(inputs, textFrame(i, 320, 240, helloBox))
	}

	report := p.Run(ctx, NewSliceSource(inputs...), &Collector{})
	if report.State != JobFailed {
		t.Fatalf("job state = %s, want Failed", report.State)
	}
	if !errors.Is(report.Err, apperrors.ErrJobCancelled) {
		t.Fatalf("err = %v, want JOB_CANCELLED", report.Err)
	}
	if n := calls.Load(); n > 2 {
		t.Fatalf("translator called %d times after cancellation", n)
	}
}

func TestSourceErrorFailsJob(t *testing.T) {
	p := newPipeline(t, Config{})

	src := &failingSource{failAt: 3}
	report := p.Run(context.Background(), src, &Collector{})
	if report.State != JobFailed {
		t.Fatalf("job state = %s, want Failed", report.State)
	}
	if !errors.Is(report.Err, apperrors.ErrSourceDecode) {
		t.Fatalf("err = %v, want SOURCE_DECODE_FAILED", report.Err)
	}
	if report.FailedFrame != 3 || report.FailedStage != "Source" {
		t.Fatalf("failed at frame %d stage %q", report.FailedFrame, report.FailedStage)
	}
}

func TestSinkErrorFailsJob(t *testing.T) {
	p := newPipeline(t, Config{})

	var inputs []*frame.Frame
	for i := 0; i < 6; i++ {
		inputs = append(inputs, textFrame(i, 320, 240, helloBox))
	}
	sink := SinkFunc(func(_ context.Context, f *frame.Frame) error {
		if f.Index == 2 {
			return errors.New("disk full")
		}
		return nil
	})

	report := p.Run(context.Background(), NewSliceSource(inputs...), sink)
	if report.State != JobFailed || !errors.Is(report.Err, apperrors.ErrSinkEncode) {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.FailedFrame != 2 || report.FailedStage != "Sink" {
		t.Fatalf("failed at frame %d stage %q", report.FailedFrame, report.FailedStage)
	}
	if report.FramesDone != 2 {
		t.Fatalf("frames written before failure = %d, want 2", report.FramesDone)
	}
}

func TestUnsupportedLanguageFailsAtConstruction(t *testing.T) {
	tr := listingTranslator{dictionary: dictionary{}, langs: []string{"fr", "de"}}
	base := Config{
		Detector:   fixedDetector{boxes: func(*frame.Frame) []frame.TextBox { return nil }},
		Extractor:  fixedExtractor{},
		Translator: tr,
		Inpainter:  inpaint.NewTelea(3),
		Compositor: mustCompositor(t),
	}

	for _, lang := range []string{"xx", "French", ""} {
		cfg := base
		cfg.TargetLanguage = lang
		if _, err := New(context.Background(), cfg); !errors.Is(err, apperrors.ErrUnsupportedLanguage) {
			t.Errorf("New(%q) err = %v, want UNSUPPORTED_LANGUAGE", lang, err)
		}
	}

	base.TargetLanguage = "de"
	if _, err := New(context.Background(), base); err != nil {
		t.Fatalf("New(de): %v", err)
	}
}

func TestMissingComponentIsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{TargetLanguage: "fr"})
	if apperrors.CodeOf(err) != apperrors.ErrorInvalidConfig {
		t.Fatalf("err = %v, want INVALID_CONFIG", err)
	}
}

func TestProcessFrameObservesCancellation(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, res, err := p.ProcessFrame(ctx, textFrame(7, 320, 240, helloBox))
	if !errors.Is(err, apperrors.ErrJobCancelled) {
		t.Fatalf("err = %v, want JOB_CANCELLED", err)
	}
	var pe *apperrors.ProcessingError
	if !errors.As(err, &pe) || pe.FrameIndex != 7 || pe.Stage != "Detecting" {
		t.Fatalf("unexpected error detail %v", err)
	}
	if res.State.Terminal() {
		t.Fatalf("cancelled frame reached %s", res.State)
	}
}

func TestDeterministicTranslatorIsStable(t *testing.T) {
	tr := dictionary{"HELLO": "BONJOUR"}
	a, errA := tr.Translate(context.Background(), "HELLO", "fr")
	b, errB := tr.Translate(context.Background(), "HELLO", "fr")
	if errA != nil || errB != nil || a != b {
		t.Fatalf("translations differ: %q %q (%v %v)", a, b, errA, errB)
	}
}

func TestFrameStateString(t *testing.T) {
	want := []string{"Detecting", "Extracting", "Translating", "Reconstructing", "Compositing", "Done", "Skipped"}
	for i, s := range want {
		if got := FrameState(i).String(); got != s {
			t.Errorf("FrameState(%d) = %q, want %q", i, got, s)
		}
	}
}

type failingSource struct {
	failAt int
	pos    int
}

func (s *failingSource) Next(context.Context) (*frame.Frame, error) {
	if s.pos == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	s.pos++
	return textFrame(s.pos-1, 320, 240, helloBox), nil
}

func mustCompositor(t *testing.T) *compose.Compositor {
	t.Helper()
	c, err := compose.New(compose.Config{})
	if err != nil {
		t.Fatal(err)
	}
	return c
}
