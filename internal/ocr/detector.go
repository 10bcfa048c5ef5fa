package ocr

import (
	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// DetectorConfig holds detector configuration
type DetectorConfig struct {
	Layout  LayoutConfig
	Padding int // pixels added around each region so antialiased glyph edges are erased too
}

// Detector finds line-level text regions in a frame
type Detector struct {
	backend Backend
	config  DetectorConfig
	logger  *logging.Logger
}

// NewDetector creates a detector over an OCR backend
func NewDetector(backend Backend, cfg DetectorConfig) *Detector {
	return &Detector{
		backend: backend,
		config:  cfg,
		logger:  logging.NewLogger("Detector"),
	}
}

// Detect returns regions in reading order. Backend failures degrade to no regions.
func (d *Detector) Detect(f *frame.Frame) []frame.TextBox {
	words, err := d.backend.Detect(f)
	if err != nil {
		d.logger.Warn("Detection degraded to empty box list",
			"frame", f.Index, "error", apperrors.NewDetectionFailedError(f.Index, err))
		return nil
	}

	lines := GroupLines(words, d.config.Layout)
	if d.config.Padding > 0 {
		for i := range lines {
			lines[i] = lines[i].Pad(d.config.Padding)
		}
	}
	return frame.ClampAll(lines, f.Width(), f.Height())
}

// Extractor reads the text inside detected regions
type Extractor struct {
	backend Backend
	logger  *logging.Logger
}

// NewExtractor creates an extractor over an OCR backend
func NewExtractor(backend Backend) *Extractor {
	return &Extractor{
		backend: backend,
		logger:  logging.NewLogger("Extractor"),
	}
}

// Extract returns the normalised text in box, or "" when nothing readable is found or the backend fails.
func (e *Extractor) Extract(f *frame.Frame, box frame.TextBox) string {
	text, err := e.backend.Recognize(f, box)
	if err != nil {
		e.logger.Warn("Extraction degraded to empty text",
			"frame", f.Index, "box", box.String(), "error", apperrors.NewExtractionFailedError(f.Index, err))
		return ""
	}
	return NormalizeText(text)
}

// ExtractAll returns one string per box, index-aligned with boxes.
func (e *Extractor) ExtractAll(f *frame.Frame, boxes []frame.TextBox) []string {
	texts := make([]string, len(boxes))
	for i, b := range boxes {
		texts[i] = e.Extract(f, b)
	}
	return texts
}
