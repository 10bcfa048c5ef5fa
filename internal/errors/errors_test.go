package errors

import (
	goerrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestProcessingErrorIsMatchesCode(t *testing.T) {
	err := NewTranslationUnavailableError("503 from backend", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("frame 7: %w", err)

	if !goerrors.Is(wrapped, ErrTranslationUnavailable) {
		t.Fatalf("expected wrapped error to match ErrTranslationUnavailable")
	}
	if goerrors.Is(wrapped, ErrUnsupportedLanguage) {
		t.Fatalf("did not expect match with ErrUnsupportedLanguage")
	}
	if got := CodeOf(wrapped); got != ErrorTranslationUnavailable {
		t.Fatalf("CodeOf = %s, want %s", got, ErrorTranslationUnavailable)
	}
}

func TestPropagationPolicy(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		frameFatal bool
		jobFatal   bool
	}{
		{"translation unavailable", NewTranslationUnavailableError("x", nil), true, false},
		{"unsupported language", NewUnsupportedLanguageError("xx", nil), true, false},
		{"source decode", NewSourceDecodeError(3, nil), false, true},
		{"sink encode", NewSinkEncodeError(3, nil), false, true},
		{"detection", NewDetectionFailedError(1, nil), false, false},
		{"extraction", NewExtractionFailedError(1, nil), false, false},
		{"timeout", NewProcessingTimeoutError("job", time.Second, nil), false, true},
		{"plain error", fmt.Errorf("plain"), false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFrameFatal(tc.err); got != tc.frameFatal {
				t.Errorf("IsFrameFatal = %v, want %v", got, tc.frameFatal)
			}
			if got := IsJobFatal(tc.err); got != tc.jobFatal {
				t.Errorf("IsJobFatal = %v, want %v", got, tc.jobFatal)
			}
		})
	}
}

func TestErrorMessageIncludesFrameAndStage(t *testing.T) {
	err := NewSinkEncodeError(42, fmt.Errorf("broken pipe"))
	want := "SINK_ENCODE_FAILED [frame 42, stage Sink]: Failed to encode frame to sink (caused by: broken pipe)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	m := err.ToMap()
	if m["frame_index"] != 42 || m["stage"] != "Sink" || m["cause"] != "broken pipe" {
		t.Fatalf("unexpected map: %v", m)
	}
}
