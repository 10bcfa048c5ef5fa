package errors

import (
	goerrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the video text translation worker
 *
 * Component-local conditions (detection, extraction) degrade and never escape.
 * Translation errors are frame-fatal. Source/Sink and configuration errors are job-fatal.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Per-frame component errors
	ErrorDetectionFailed        ErrorCode = "DETECTION_FAILED"
	ErrorExtractionFailed       ErrorCode = "EXTRACTION_FAILED"
	ErrorTranslationUnavailable ErrorCode = "TRANSLATION_UNAVAILABLE"
	ErrorUnsupportedLanguage    ErrorCode = "UNSUPPORTED_LANGUAGE"

	// Container boundary errors
	ErrorSourceDecodeFailed ErrorCode = "SOURCE_DECODE_FAILED"
	ErrorSinkEncodeFailed   ErrorCode = "SINK_ENCODE_FAILED"

	// Job errors
	ErrorJobCancelled      ErrorCode = "JOB_CANCELLED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorInvalidConfig     ErrorCode = "INVALID_CONFIG"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// NoFrame marks errors that are not tied to a single frame.
const NoFrame = -1

// Sentinels for errors.Is. ProcessingError.Is matches on Code only.
var (
	ErrUnsupportedLanguage    = &ProcessingError{Code: ErrorUnsupportedLanguage, FrameIndex: NoFrame}
	ErrTranslationUnavailable = &ProcessingError{Code: ErrorTranslationUnavailable, FrameIndex: NoFrame}
	ErrSourceDecode           = &ProcessingError{Code: ErrorSourceDecodeFailed, FrameIndex: NoFrame}
	ErrSinkEncode             = &ProcessingError{Code: ErrorSinkEncodeFailed, FrameIndex: NoFrame}
	ErrJobCancelled           = &ProcessingError{Code: ErrorJobCancelled, FrameIndex: NoFrame}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code       ErrorCode
	Message    string
	JobID      string
	FrameIndex int
	Stage      string
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	prefix := string(e.Code)
	if e.FrameIndex != NoFrame {
		prefix = fmt.Sprintf("%s [frame %d", prefix, e.FrameIndex)
		if e.Stage != "" {
			prefix += ", stage " + e.Stage
		}
		prefix += "]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Factory functions for common errors

func NewUnsupportedLanguageError(lang string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorUnsupportedLanguage,
		Message:    fmt.Sprintf("Unsupported target language: %q", lang),
		FrameIndex: NoFrame,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"target_language": lang,
		},
		Cause: cause,
	}
}

func NewTranslationUnavailableError(reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorTranslationUnavailable,
		Message:    fmt.Sprintf("Translation backend unavailable: %s", reason),
		FrameIndex: NoFrame,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewDetectionFailedError(frameIndex int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorDetectionFailed,
		Message:    "Text region detection failed",
		FrameIndex: frameIndex,
		Stage:      "Detecting",
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewExtractionFailedError(frameIndex int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorExtractionFailed,
		Message:    "Text extraction failed",
		FrameIndex: frameIndex,
		Stage:      "Extracting",
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewSourceDecodeError(frameIndex int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorSourceDecodeFailed,
		Message:    "Failed to decode frame from source",
		FrameIndex: frameIndex,
		Stage:      "Source",
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewSinkEncodeError(frameIndex int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorSinkEncodeFailed,
		Message:    "Failed to encode frame to sink",
		FrameIndex: frameIndex,
		Stage:      "Sink",
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewJobCancelledError(frameIndex int, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorJobCancelled,
		Message:    "Job cancelled",
		FrameIndex: frameIndex,
		Stage:      stage,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorProcessingTimeout,
		Message:    fmt.Sprintf("Processing timed out after %v", duration),
		JobID:      jobID,
		FrameIndex: NoFrame,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewInvalidConfigError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorInvalidConfig,
		Message:    message,
		FrameIndex: NoFrame,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorStorageFailed,
		Message:    "Failed to store processing results",
		JobID:      jobID,
		FrameIndex: NoFrame,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if goerrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsFrameFatal reports whether err aborts a single frame but not the job.
func IsFrameFatal(err error) bool {
	switch CodeOf(err) {
	case ErrorTranslationUnavailable, ErrorUnsupportedLanguage:
		return true
	}
	return false
}

// IsJobFatal reports whether err aborts the whole job.
func IsJobFatal(err error) bool {
	switch CodeOf(err) {
	case ErrorSourceDecodeFailed, ErrorSinkEncodeFailed, ErrorInvalidConfig,
		ErrorJobCancelled, ErrorProcessingTimeout:
		return true
	}
	return false
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.FrameIndex != NoFrame {
		result["frame_index"] = e.FrameIndex
	}
	if e.Stage != "" {
		result["stage"] = e.Stage
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
