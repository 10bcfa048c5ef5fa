/**
 * Tesseract OCR backend
 *
 * gosseract clients wrap a single TessBaseAPI and are not safe for concurrent use,
 * so the backend keeps a fixed pool and hands one client to each caller.
 */

package ocr

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// minRecognizeHeight is the crop height below which crops are upscaled before recognition.
const minRecognizeHeight = 32

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string
	PoolSize  int
	Level     BoxLevel
}

// TesseractBackend implements Backend with a pool of gosseract clients
type TesseractBackend struct {
	clients chan *gosseract.Client
	level   gosseract.PageIteratorLevel
	logger  *logging.Logger
}

// NewTesseractBackend creates PoolSize clients configured for the given languages
func NewTesseractBackend(cfg *TesseractConfig) (*TesseractBackend, error) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	level := gosseract.RIL_WORD
	switch cfg.Level {
	case BoxLevelSymbol:
		level = gosseract.RIL_SYMBOL
	case BoxLevelWord, "":
	default:
		return nil, fmt.Errorf("unknown OCR box level %q", cfg.Level)
	}

	t := &TesseractBackend{
		clients: make(chan *gosseract.Client, cfg.PoolSize),
		level:   level,
		logger:  logging.NewLogger("TesseractOCR"),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		client := gosseract.NewClient()
		if err := client.SetLanguage(cfg.Languages...); err != nil {
			client.Close()
			t.Close()
			return nil, fmt.Errorf("failed to set tesseract language %v: %w", cfg.Languages, err)
		}
		t.clients <- client
	}

	t.logger.Info("Tesseract pool ready", "size", cfg.PoolSize, "languages", strings.Join(cfg.Languages, "+"), "level", string(cfg.Level))
	return t, nil
}

// Detect runs sparse-text layout analysis on the luminance channel and returns raw boxes
func (t *TesseractBackend) Detect(f *frame.Frame) ([]Word, error) {
	data, err := encodeLuma(f.Image)
	if err != nil {
		return nil, err
	}

	client := <-t.clients
	defer func() { t.clients <- client }()

	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(t.level)
	if err != nil {
		return nil, fmt.Errorf("tesseract layout analysis failed: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, Word{
			Box:        frame.BoxFromRect(b.Box),
			Text:       strings.TrimSpace(b.Word),
			Confidence: b.Confidence,
		})
	}
	return words, nil
}

// Recognize crops the box, upscales small crops and reads a single line of text
func (t *TesseractBackend) Recognize(f *frame.Frame, box frame.TextBox) (string, error) {
	crop := imaging.Grayscale(imaging.Crop(f.Image, box.Rect()))
	if crop.Bounds().Empty() {
		return "", nil
	}
	if crop.Bounds().Dy() < minRecognizeHeight {
		crop = imaging.Resize(crop, 0, minRecognizeHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode crop: %w", err)
	}

	client := <-t.clients
	defer func() { t.clients <- client }()

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return text, nil
}

// Close releases every pooled client
func (t *TesseractBackend) Close() {
	for {
		select {
		case c := <-t.clients:
			c.Close()
		default:
			return
		}
	}
}

func encodeLuma(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Grayscale(img), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
