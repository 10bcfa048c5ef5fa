package queue

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
)

// TaskTranslateVideo is the asynq task type and the Redis job type
const TaskTranslateVideo = "translate-video"

// DefaultProcessingTimeout applies when no timeout is configured
const DefaultProcessingTimeout = time.Hour

// JobPayload is the job body shared by both queue backends
type JobPayload struct {
	JobID          string                 `json:"jobId"`
	UserID         string                 `json:"userId,omitempty"`
	InputPath      string                 `json:"inputPath,omitempty"`
	FileURL        string                 `json:"fileUrl,omitempty"`
	OutputPath     string                 `json:"outputPath,omitempty"`
	TargetLanguage string                 `json:"targetLanguage,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the fields every job needs
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if p.InputPath == "" && p.FileURL == "" {
		return fmt.Errorf("job %s has neither inputPath nor fileUrl", p.JobID)
	}
	return nil
}

func (p *JobPayload) request(onProgress func(done, total int)) *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:          p.JobID,
		UserID:         p.UserID,
		InputPath:      p.InputPath,
		FileURL:        p.FileURL,
		OutputPath:     p.OutputPath,
		TargetLanguage: p.TargetLanguage,
		Metadata:       p.Metadata,
		OnProgress:     onProgress,
	}
}

// Retryable reports whether a failed job may succeed on another attempt.
// Bad input and bad configuration fail the same way every time.
func Retryable(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrorUnsupportedLanguage, apperrors.ErrorInvalidConfig:
		return false
	}
	return true
}

// runJob processes one job under a timeout and records its status in PostgreSQL.
// A failure is recorded as "retrying" when the job will run again, "failed" otherwise.
func runJob(ctx context.Context, proc processor.VideoProcessorInterface, payload *JobPayload, timeout time.Duration, lastAttempt bool, onProgress func(done, total int)) (*processor.ProcessResult, error) {
	logger := logging.NewLogger("Job").With("job_id", payload.JobID)
	startTime := time.Now()

	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}

	if err := proc.UpdateJobStatus(ctx, payload.JobID, "processing", 0, map[string]interface{}{
		"inputPath":      firstNonEmpty(payload.InputPath, payload.FileURL),
		"targetLanguage": payload.TargetLanguage,
		"userId":         payload.UserID,
	}); err != nil {
		logger.Warn("Failed to update status to processing", "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Processing video", "target_lang", payload.TargetLanguage, "timeout", timeout)
	result, err := proc.ProcessVideo(processCtx, payload.request(onProgress))
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			logger.Error("Processing timed out", "duration", duration, "timeout", timeout)
			err = apperrors.NewProcessingTimeoutError(payload.JobID, timeout, err)
		} else {
			logger.Error("Processing failed", "duration", duration, "error", err)
		}

		status := "failed"
		if ctx.Err() != nil || (!lastAttempt && Retryable(err)) {
			status = "retrying"
		}

		// Written without ctx's cancellation so a job interrupted by shutdown is still recorded
		statusCtx, statusCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer statusCancel()
		if updateErr := proc.UpdateJobStatus(statusCtx, payload.JobID, status, 100, processor.FailureMetadata(result, err, duration)); updateErr != nil {
			logger.Warn("Failed to update job status", "status", status, "error", updateErr)
		}
		return result, err
	}

	logger.Info("Processing completed",
		"duration", duration,
		"frames", result.Report.FramesTotal,
		"skipped", result.Report.FramesSkipped,
		"artifact_id", result.ArtifactID)

	if err := proc.UpdateJobStatus(ctx, payload.JobID, "completed", 100, result.Metadata()); err != nil {
		logger.Warn("Failed to update status to completed", "error", err)
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
