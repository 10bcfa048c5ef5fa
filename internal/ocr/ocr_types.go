/**
 * OCR Types - shared data structures for text detection and recognition
 */

package ocr

import (
	"strings"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// Backend is the narrow OCR interface the pipeline depends on.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Detect returns raw word- or character-granularity boxes for the frame.
	Detect(f *frame.Frame) ([]Word, error)

	// Recognize returns the text inside box.
	Recognize(f *frame.Frame, box frame.TextBox) (string, error)
}

// Word is a raw recognizer box before coalescing
type Word struct {
	Box        frame.TextBox
	Text       string
	Confidence float64 // 0-100, as reported by Tesseract
}

// BoxLevel selects the granularity requested from the backend
type BoxLevel string

const (
	BoxLevelWord   BoxLevel = "word"
	BoxLevelSymbol BoxLevel = "symbol"
)

// NormalizeText collapses all whitespace runs, including line breaks, to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
