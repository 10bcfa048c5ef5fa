/**
 * Video Processor for VideoTranslate Worker
 *
 * Runs one translation job end to end:
 * - resolve the input (local path or download)
 * - probe it with ffprobe
 * - decode frames, run the frame pipeline, encode frames (audio copied through)
 * - record per-frame outcomes in PostgreSQL
 * - upload the finished video as an artifact
 *
 * OCR, translation, inpainting and font state are built once per worker and
 * shared by every job; a pipeline is built per job because the target
 * language is per job.
 */

package processor

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/adverant/nexus/videotranslate-worker/internal/clients"
	"github.com/adverant/nexus/videotranslate-worker/internal/compose"
	"github.com/adverant/nexus/videotranslate-worker/internal/config"
	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/inpaint"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/ocr"
	"github.com/adverant/nexus/videotranslate-worker/internal/pipeline"
	"github.com/adverant/nexus/videotranslate-worker/internal/storage"
	"github.com/adverant/nexus/videotranslate-worker/internal/translate"
	"github.com/adverant/nexus/videotranslate-worker/internal/video"
)

// progressInterval is how many frames pass between progress callbacks
const progressInterval = 25

// VideoProcessorInterface defines the interface for video processing
type VideoProcessorInterface interface {
	ProcessVideo(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// Store persists job status and frame results
type Store interface {
	storage.JobStore
	storage.FrameStore
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Config         *config.Config
	Store          Store                   // nil disables persistence
	RedisClient    *redis.Client           // nil disables the shared translation cache
	ArtifactClient *clients.ArtifactClient // nil disables artifact upload
}

// ProcessRequest represents a video translation request
type ProcessRequest struct {
	JobID          string
	UserID         string
	InputPath      string // local file; takes precedence over FileURL
	FileURL        string
	OutputPath     string // defaults to TempDir/<job>-<lang>.mp4
	TargetLanguage string // defaults to TARGET_LANGUAGE
	Metadata       map[string]interface{}

	// OnProgress, if set, is called every few frames and once at the end
	OnProgress func(done, total int)
}

// ProcessResult represents the processing result
type ProcessResult struct {
	OutputPath       string
	TargetLanguage   string
	Report           pipeline.Report
	FramesStored     int
	ArtifactID       string
	ArtifactURL      string
	ProcessingTimeMs int64
}

// Metadata flattens the result into job status metadata
func (r *ProcessResult) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"outputPath":     r.OutputPath,
		"targetLanguage": r.TargetLanguage,
		"framesTotal":    r.Report.FramesTotal,
		"framesDone":     r.Report.FramesDone,
		"framesSkipped":  r.Report.FramesSkipped,
		"framesWithText": r.Report.FramesWithText,
		"framesStored":   r.FramesStored,
		"processingTime": r.ProcessingTimeMs,
	}
	if r.ArtifactID != "" {
		m["artifactId"] = r.ArtifactID
		m["artifactUrl"] = r.ArtifactURL
	}
	return m
}

// FailureMetadata builds job status metadata for a failed job. result may be nil and
// a zero duration keeps the result's own processing time.
func FailureMetadata(result *ProcessResult, err error, duration time.Duration) map[string]interface{} {
	m := map[string]interface{}{}
	if result != nil {
		m = result.Metadata()
	}

	var pe *apperrors.ProcessingError
	if goerrors.As(err, &pe) {
		for k, v := range pe.ToMap() {
			m[k] = v
		}
	}
	m["error"] = err.Error()
	if duration > 0 {
		m["processingTime"] = duration.Milliseconds()
	}
	return m
}

// components are the shared per-worker stages
type components struct {
	detector   pipeline.Detector
	extractor  pipeline.Extractor
	translator translate.Translator
	inpainter  inpaint.Inpainter
	compositor pipeline.Compositor
	close      func()
}

// VideoProcessor handles video translation jobs
type VideoProcessor struct {
	config    *config.Config
	store     Store
	artifacts *clients.ArtifactClient
	parts     components
	logger    *logging.Logger
}

// NewVideoProcessor creates a new video processor
func NewVideoProcessor(cfg *ProcessorConfig) (*VideoProcessor, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := cfg.Config
	logger := logging.NewLogger("VideoProcessor")

	backend, err := ocr.NewTesseractBackend(&ocr.TesseractConfig{
		Languages: strings.Split(c.OCRLanguage, "+"),
		PoolSize:  c.WorkerCount,
		Level:     ocr.BoxLevel(c.OCRBoxLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Tesseract: %w", err)
	}

	layout := ocr.DefaultLayoutConfig()
	layout.MinConfidence = c.OCRMinConfidence

	httpTranslator, err := translate.NewHTTPTranslator(&translate.HTTPConfig{
		BaseURL:           c.TranslatorURL,
		APIKey:            c.TranslatorAPIKey,
		RequestsPerSecond: c.TranslatorRPS,
		Timeout:           c.TranslatorTimeout,
		MaxRetries:        c.TranslatorMaxRetries,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpTranslator.HealthCheck(ctx); err != nil {
		logger.Warn("Translator health check failed, frames will be skipped until it recovers",
			"url", c.TranslatorURL, "error", err)
	} else {
		logger.Info("Translator connection verified", "url", c.TranslatorURL)
	}

	caches := []translate.Cache{translate.NewMemoryCache()}
	if cfg.RedisClient != nil {
		caches = append(caches, translate.NewRedisCache(cfg.RedisClient, "", c.TranslationCacheTTL))
	}

	inpainter, err := inpaint.NewBackend(c.InpaintBackend, c.InpaintRadius)
	if err != nil {
		backend.Close()
		return nil, err
	}

	compositor, err := compose.New(compose.Config{FontSize: c.FontSize, Gap: compose.DefaultGap})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	if cfg.ArtifactClient == nil {
		logger.Warn("FileProcess API URL not configured, translated videos stay on local disk")
	}

	return &VideoProcessor{
		config:    c,
		store:     cfg.Store,
		artifacts: cfg.ArtifactClient,
		parts: components{
			detector:   ocr.NewDetector(backend, ocr.DetectorConfig{Layout: layout, Padding: c.BoxPadding}),
			extractor:  ocr.NewExtractor(backend),
			translator: translate.NewCachingTranslator(httpTranslator, caches...),
			inpainter:  inpainter,
			compositor: compositor,
			close:      backend.Close,
		},
		logger: logger,
	}, nil
}

// Close releases the OCR pool
func (p *VideoProcessor) Close() {
	if p.parts.close != nil {
		p.parts.close()
	}
}

// NewPipeline builds a frame pipeline for one target language
func (p *VideoProcessor) NewPipeline(ctx context.Context, targetLang string, observer func(pipeline.FrameResult)) (*pipeline.Pipeline, error) {
	return pipeline.New(ctx, pipeline.Config{
		TargetLanguage:        targetLang,
		Detector:              p.parts.detector,
		Extractor:             p.parts.extractor,
		Translator:            p.parts.translator,
		Inpainter:             p.parts.inpainter,
		Compositor:            p.parts.compositor,
		Workers:               p.config.WorkerCount,
		TranslatorConcurrency: p.config.TranslatorConcurrency,
		MaxInFlight:           p.config.MaxInFlight,
		Observer:              observer,
	})
}

// ProcessVideo translates the text in every frame of a video
func (p *VideoProcessor) ProcessVideo(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	logger := p.logger.With("job_id", req.JobID)

	targetLang := req.TargetLanguage
	if targetLang == "" {
		targetLang = p.config.TargetLanguage
	}
	result := &ProcessResult{TargetLanguage: targetLang}

	// Step 1: build the pipeline, rejecting the target language before any input is read
	var recorder *storage.FrameRecorder
	if p.store != nil {
		recorder = storage.NewFrameRecorder(p.store, req.JobID, storage.DefaultFrameBatchSize)
	}
	done, total := 0, 0
	observer := func(res pipeline.FrameResult) {
		if recorder != nil {
			recorder.Add(ctx, FrameRow(res))
		}
		done++
		if req.OnProgress != nil && done%progressInterval == 0 {
			req.OnProgress(done, total)
		}
	}

	pl, err := p.NewPipeline(ctx, targetLang, observer)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(p.config.TempDir, req.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, apperrors.NewStorageFailedError(req.JobID, err)
	}
	defer os.RemoveAll(workDir)

	// Step 2: resolve input
	input, err := p.resolveInput(ctx, req, workDir)
	if err != nil {
		return nil, err
	}

	// Step 3: probe
	info, err := video.Probe(ctx, p.config.FFprobePath, input)
	if err != nil {
		return nil, apperrors.NewSourceDecodeError(apperrors.NoFrame, err)
	}
	total = info.Frames
	logger.Info("Video probed",
		"width", info.Width, "height", info.Height, "fps", info.FPS,
		"frames", info.Frames, "duration", info.Duration, "audio", info.HasAudio)

	// Step 4: decode -> pipeline -> encode
	output := req.OutputPath
	if output == "" {
		output = filepath.Join(p.config.TempDir, fmt.Sprintf("%s-%s.mp4", req.JobID, targetLang))
	}
	result.OutputPath = output

	decoder, err := video.NewDecoder(ctx, video.DecoderConfig{
		FFmpegPath: p.config.FFmpegPath,
		Input:      input,
		Info:       info,
	})
	if err != nil {
		return nil, apperrors.NewSourceDecodeError(apperrors.NoFrame, err)
	}
	defer decoder.Close()

	frameRate := info.FrameRate
	if frameRate == "" {
		frameRate = strconv.FormatFloat(info.FPS, 'f', -1, 64)
	}
	audio := ""
	if info.HasAudio {
		audio = input
	}
	encoder, err := video.NewEncoder(ctx, video.EncoderConfig{
		FFmpegPath:  p.config.FFmpegPath,
		Output:      output,
		Width:       info.Width,
		Height:      info.Height,
		FrameRate:   frameRate,
		Codec:       p.config.VideoCodec,
		AudioSource: audio,
	})
	if err != nil {
		return nil, apperrors.NewSinkEncodeError(apperrors.NoFrame, err)
	}

	report := pl.Run(ctx, decoder, encoder)
	result.Report = report

	if recorder != nil {
		// Frame rows already observed are kept for failed jobs too
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		recorder.Flush(flushCtx)
		cancel()
		result.FramesStored, _ = recorder.Written()
	}

	if report.State == pipeline.JobFailed {
		encoder.Abort()
		os.Remove(output)
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		logger.Error("Video translation failed",
			"failed_frame", report.FailedFrame, "failed_stage", report.FailedStage, "error", report.Err)
		return result, report.Err
	}

	if err := encoder.Close(); err != nil {
		os.Remove(output)
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result, apperrors.NewSinkEncodeError(apperrors.NoFrame, err)
	}
	if req.OnProgress != nil {
		req.OnProgress(report.FramesTotal, report.FramesTotal)
	}

	logger.Info("Video translated",
		"frames", report.FramesTotal, "with_text", report.FramesWithText,
		"skipped", report.FramesSkipped, "duration", report.Duration, "output", output)

	// Step 5: artifact upload (non-fatal)
	if p.artifacts != nil {
		resp, err := p.artifacts.UploadArtifact(ctx, &clients.ArtifactUploadRequest{
			FilePath:      output,
			SourceService: "videotranslate-worker",
			SourceID:      req.JobID,
			Metadata: map[string]interface{}{
				"targetLanguage": targetLang,
				"framesTotal":    report.FramesTotal,
				"framesSkipped":  report.FramesSkipped,
				"userId":         req.UserID,
			},
		})
		if err != nil {
			logger.Warn("Failed to store artifact, output stays on local disk", "output", output, "error", err)
		} else {
			result.ArtifactID = resp.Artifact.ID
			result.ArtifactURL = resp.Artifact.DownloadURL
		}
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// ProcessImage translates the text in a single still image
func (p *VideoProcessor) ProcessImage(ctx context.Context, inputPath, outputPath, targetLang string) (pipeline.FrameResult, error) {
	if targetLang == "" {
		targetLang = p.config.TargetLanguage
	}
	img, err := imaging.Open(inputPath)
	if err != nil {
		return pipeline.FrameResult{}, apperrors.NewSourceDecodeError(0, err)
	}

	pl, err := p.NewPipeline(ctx, targetLang, nil)
	if err != nil {
		return pipeline.FrameResult{}, err
	}

	out, res, err := pl.ProcessFrame(ctx, frame.FromImage(0, img))
	if err != nil {
		return res, err
	}
	if err := imaging.Save(out.Image, outputPath); err != nil {
		return res, apperrors.NewSinkEncodeError(0, err)
	}
	return res, nil
}

// UpdateJobStatus updates job status in database
func (p *VideoProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}
	return p.store.UpdateJobStatus(ctx, jobUpdate(jobID, status, progress, metadata))
}

// jobUpdate extracts typed columns from loosely typed metadata
func jobUpdate(jobID, status string, progress int, metadata map[string]interface{}) *storage.JobUpdate {
	update := &storage.JobUpdate{
		JobID:       jobID,
		Status:      status,
		FailedFrame: apperrors.NoFrame,
		Metadata:    map[string]interface{}{"progress": progress},
	}

	for k, v := range metadata {
		update.Metadata[k] = v
	}
	if metadata == nil {
		return update
	}

	update.InputPath = cast.ToString(metadata["inputPath"])
	update.OutputPath = cast.ToString(metadata["outputPath"])
	update.TargetLanguage = cast.ToString(metadata["targetLanguage"])
	update.FramesTotal = cast.ToInt(metadata["framesTotal"])
	update.FramesDone = cast.ToInt(metadata["framesDone"])
	update.FramesSkipped = cast.ToInt(metadata["framesSkipped"])
	update.ProcessingTimeMs = cast.ToInt64(metadata["processingTime"])
	update.ArtifactID = cast.ToString(metadata["artifactId"])

	if idx, ok := metadata["frame_index"]; ok {
		update.FailedFrame = cast.ToInt(idx)
		update.FailedStage = cast.ToString(metadata["stage"])
	}
	if errorMsg, ok := metadata["error"].(string); ok {
		update.ErrorCode = cast.ToString(metadata["error_code"])
		if update.ErrorCode == "" {
			update.ErrorCode = "PROCESSING_ERROR"
		}
		update.ErrorMessage = errorMsg
	}

	return update
}

// FrameRow converts a frame result into its stored form
func FrameRow(res pipeline.FrameResult) storage.FrameRow {
	row := storage.FrameRow{
		FrameIndex:     res.Index,
		State:          res.State.String(),
		BoxCount:       len(res.Boxes),
		SourceText:     strings.Join(res.Texts, "\n"),
		TranslatedText: strings.Join(res.Translations, "\n"),
		DurationMs:     res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		row.ErrorCode = string(apperrors.CodeOf(res.Err))
		if row.ErrorCode == "" {
			row.ErrorCode = "PROCESSING_ERROR"
		}
	}
	return row
}
