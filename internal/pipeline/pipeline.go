/**
 * Pipeline - per-frame text replacement with ordered reassembly
 *
 * Frames flow through three worker pools connected by channels:
 *
 *   source -> analyze (Detect, Extract)       CPU workers
 *          -> translate (Translate per box)   network-bound, capped separately
 *          -> render (Inpaint, Composite)     CPU workers
 *          -> collector (reorder by index)    -> sink
 *
 * A window bounds how many frames are between the source and the sink, which
 * also bounds the reorder buffer. Cancellation is observed at every state
 * transition.
 */

package pipeline

import (
	"context"
	goerrors "errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/videotranslate-worker/internal/compose"
	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/inpaint"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/translate"
)

// Source yields frames in temporal order and returns io.EOF after the last one.
type Source interface {
	Next(ctx context.Context) (*frame.Frame, error)
}

// Sink consumes frames in temporal order.
type Sink interface {
	Write(ctx context.Context, f *frame.Frame) error
}

// Detector finds text regions. It never fails; backend errors yield no regions.
type Detector interface {
	Detect(f *frame.Frame) []frame.TextBox
}

// Extractor reads one string per region, "" when nothing is readable.
type Extractor interface {
	ExtractAll(f *frame.Frame, boxes []frame.TextBox) []string
}

// Compositor draws lines[i] next to boxes[i] on a copy of f.
type Compositor interface {
	RenderLines(f *frame.Frame, boxes []frame.TextBox, lines []string) (*frame.Frame, []compose.Placement)
}

// Config is validated once by New.
type Config struct {
	TargetLanguage string

	Detector   Detector
	Extractor  Extractor
	Translator translate.Translator
	Inpainter  inpaint.Inpainter
	Compositor Compositor

	Workers               int // analyze and render pool size, defaults to NumCPU
	TranslatorConcurrency int // translate pool size, defaults to 4
	MaxInFlight           int // frames between source and sink, defaults to 4 x Workers

	// Observer, if set, receives every frame result in index order from a single goroutine.
	Observer func(FrameResult)
}

// Pipeline turns source frames into frames with translated text.
type Pipeline struct {
	config Config
	logger *logging.Logger
}

// New validates the configuration and the target language before any frame is processed.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Detector == nil:
		return nil, apperrors.NewInvalidConfigError("detector is required", nil)
	case cfg.Extractor == nil:
		return nil, apperrors.NewInvalidConfigError("extractor is required", nil)
	case cfg.Translator == nil:
		return nil, apperrors.NewInvalidConfigError("translator is required", nil)
	case cfg.Inpainter == nil:
		return nil, apperrors.NewInvalidConfigError("inpainter is required", nil)
	case cfg.Compositor == nil:
		return nil, apperrors.NewInvalidConfigError("compositor is required", nil)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.TranslatorConcurrency <= 0 {
		cfg.TranslatorConcurrency = 4
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4 * cfg.Workers
	}

	if err := translate.ValidateTarget(ctx, cfg.Translator, cfg.TargetLanguage); err != nil {
		return nil, err
	}

	return &Pipeline{
		config: cfg,
		logger: logging.NewLogger("Pipeline").With("target_lang", cfg.TargetLanguage),
	}, nil
}

// task carries one frame through the stages. Exactly one goroutine owns it at a time.
type task struct {
	seq   int
	in    *frame.Frame
	out   *frame.Frame
	res   FrameResult
	start time.Time
}

func newTask(seq int, f *frame.Frame) *task {
	return &task{
		seq:   seq,
		in:    f,
		res:   FrameResult{Index: seq, State: StateDetecting},
		start: time.Now(),
	}
}

// enter moves the task to s unless the job has been cancelled.
func (t *task) enter(ctx context.Context, s FrameState) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewJobCancelledError(t.seq, s.String(), err)
	}
	t.res.State = s
	return nil
}

func (t *task) finish(s FrameState, out *frame.Frame) {
	t.res.State = s
	t.out = out
	t.res.Duration = time.Since(t.start)
}

// ProcessFrame runs all stages on one frame. The only error is cancellation;
// translation failures yield a Skipped result and the unmodified frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, f *frame.Frame) (*frame.Frame, FrameResult, error) {
	t := newTask(f.Index, f)
	for _, stage := range []func(context.Context, *task) error{p.analyze, p.translateTexts, p.render} {
		if err := stage(ctx, t); err != nil {
			return nil, t.res, err
		}
	}
	return t.out, t.res, nil
}

func (p *Pipeline) analyze(ctx context.Context, t *task) error {
	if err := t.enter(ctx, StateDetecting); err != nil {
		return err
	}
	boxes := p.config.Detector.Detect(t.in)
	if len(boxes) == 0 {
		t.finish(StateDone, t.in)
		return nil
	}
	t.res.Boxes = boxes

	if err := t.enter(ctx, StateExtracting); err != nil {
		return err
	}
	t.res.Texts = p.config.Extractor.ExtractAll(t.in, boxes)
	return nil
}

func (p *Pipeline) translateTexts(ctx context.Context, t *task) error {
	if t.res.State.Terminal() {
		return nil
	}
	if err := t.enter(ctx, StateTranslating); err != nil {
		return err
	}

	translations := make([]string, len(t.res.Texts))
	for i, text := range t.res.Texts {
		if text == "" {
			continue
		}
		translated, err := p.config.Translator.Translate(ctx, text, p.config.TargetLanguage)
		if err != nil {
			if ctx.Err() != nil {
				return apperrors.NewJobCancelledError(t.seq, StateTranslating.String(), ctx.Err())
			}
			p.logger.Warn("Frame skipped", "frame", t.seq, "box", i, "error", err)
			t.res.Err = err
			t.finish(StateSkipped, t.in)
			return nil
		}
		// one box, one line
		translations[i] = strings.Join(strings.Fields(translated), " ")
	}
	t.res.Translations = translations
	return nil
}

func (p *Pipeline) render(ctx context.Context, t *task) error {
	if t.res.State.Terminal() {
		return nil
	}
	if err := t.enter(ctx, StateReconstructing); err != nil {
		return err
	}
	clean := p.config.Inpainter.Inpaint(t.in, t.res.Boxes)

	if err := t.enter(ctx, StateCompositing); err != nil {
		return err
	}
	out, _ := p.config.Compositor.RenderLines(clean, t.res.Boxes, t.res.Translations)
	out.Index = t.in.Index
	out.Timestamp = t.in.Timestamp
	t.finish(StateDone, out)
	return nil
}

// Run processes every frame from src and writes them to sink in source order.
// Source and sink errors fail the job immediately; so does cancellation of ctx.
func (p *Pipeline) Run(ctx context.Context, src Source, sink Sink) Report {
	start := time.Now()
	report := Report{State: JobRunning, FailedFrame: apperrors.NoFrame}

	g, gctx := errgroup.WithContext(ctx)
	window := make(chan struct{}, p.config.MaxInFlight)
	analyzeCh := make(chan *task)
	translateCh := make(chan *task)
	renderCh := make(chan *task)
	doneCh := make(chan *task)

	var total atomic.Int64

	g.Go(func() error {
		defer close(analyzeCh)
		for seq := 0; ; seq++ {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return apperrors.NewJobCancelledError(seq, "Source", gctx.Err())
			}

			f, err := src.Next(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return apperrors.NewJobCancelledError(seq, "Source", gctx.Err())
				}
				return apperrors.NewSourceDecodeError(seq, err)
			}
			f.Index = seq
			total.Add(1)

			select {
			case analyzeCh <- newTask(seq, f):
			case <-gctx.Done():
				return apperrors.NewJobCancelledError(seq, "Source", gctx.Err())
			}
		}
	})

	runStage(g, gctx, p.config.Workers, analyzeCh, translateCh, p.analyze)
	runStage(g, gctx, p.config.TranslatorConcurrency, translateCh, renderCh, p.translateTexts)
	runStage(g, gctx, p.config.Workers, renderCh, doneCh, p.render)

	g.Go(func() error {
		pending := make(map[int]*task)
		next := 0
		for t := range doneCh {
			pending[t.seq] = t
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)

				if err := gctx.Err(); err != nil {
					return apperrors.NewJobCancelledError(next, "Sink", err)
				}
				if err := sink.Write(gctx, ready.out); err != nil {
					if gctx.Err() != nil {
						return apperrors.NewJobCancelledError(next, "Sink", gctx.Err())
					}
					return apperrors.NewSinkEncodeError(next, err)
				}
				p.record(&report, ready.res)
				<-window
				next++
			}
		}
		return nil
	})

	err := g.Wait()
	report.FramesTotal = int(total.Load())
	report.Duration = time.Since(start)

	if err != nil {
		report.State = JobFailed
		report.Err = err
		var pe *apperrors.ProcessingError
		if goerrors.As(err, &pe) {
			report.FailedFrame = pe.FrameIndex
			report.FailedStage = pe.Stage
		}
		p.logger.Error("Job failed",
			"frame", report.FailedFrame, "stage", report.FailedStage,
			"frames_written", report.FramesDone+report.FramesSkipped, "error", err)
		return report
	}

	report.State = JobComplete
	p.logger.Info("Job complete",
		"frames", report.FramesTotal, "done", report.FramesDone,
		"skipped", report.FramesSkipped, "with_text", report.FramesWithText,
		"duration", report.Duration)
	return report
}

const progressInterval = 100

// record runs on the collector goroutine only.
func (p *Pipeline) record(report *Report, res FrameResult) {
	switch res.State {
	case StateSkipped:
		report.FramesSkipped++
	default:
		report.FramesDone++
	}
	if len(res.Boxes) > 0 {
		report.FramesWithText++
	}

	if p.config.Observer != nil {
		p.config.Observer(res)
	}

	if written := report.FramesDone + report.FramesSkipped; written%progressInterval == 0 {
		p.logger.Info("Progress", "frames_written", written, "skipped", report.FramesSkipped)
	}
}

// runStage starts n workers applying fn to tasks from in, and closes out once they all return.
func runStage(g *errgroup.Group, ctx context.Context, n int, in <-chan *task, out chan<- *task, fn func(context.Context, *task) error) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for t := range in {
				if err := fn(ctx, t); err != nil {
					return err
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return apperrors.NewJobCancelledError(t.seq, t.res.State.String(), ctx.Err())
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(out)
		return nil
	})
}
