/**
 * Layout - coalesces raw recognizer boxes into line-level text regions
 *
 * Tesseract reports words or single characters. Captions are translated and
 * redrawn per line, so neighbouring boxes on the same text line are merged.
 * The merge is a fixed point over boxes sorted in reading order, so identical
 * input always yields identical regions in identical order.
 */

package ocr

import (
	"sort"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// LayoutConfig controls how raw boxes are grouped
type LayoutConfig struct {
	// MinConfidence drops boxes below this Tesseract confidence (0-100)
	MinConfidence float64

	// GapFactor is the largest horizontal gap, in multiples of the smaller box height, bridged on one line
	GapFactor float64

	// MinOverlap is the vertical overlap, as a fraction of the smaller height, for two boxes to share a line
	MinOverlap float64
}

// DefaultLayoutConfig returns the grouping used by the worker
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		MinConfidence: 40,
		GapFactor:     1.0,
		MinOverlap:    0.5,
	}
}

// GroupLines filters raw boxes and merges them into line regions in reading order
func GroupLines(words []Word, cfg LayoutConfig) []frame.TextBox {
	boxes := make([]frame.TextBox, 0, len(words))
	for _, w := range words {
		if w.Box.Empty() || w.Text == "" || w.Confidence < cfg.MinConfidence {
			continue
		}
		boxes = append(boxes, w.Box)
	}
	sortReadingOrder(boxes)

	for {
		merged, changed := mergePass(boxes, cfg)
		boxes = merged
		if !changed {
			break
		}
	}

	sortReadingOrder(boxes)
	return boxes
}

// mergePass folds every box into the first earlier region it joins with
func mergePass(boxes []frame.TextBox, cfg LayoutConfig) ([]frame.TextBox, bool) {
	out := make([]frame.TextBox, 0, len(boxes))
	changed := false
	for _, b := range boxes {
		joined := false
		for i := range out {
			if shouldJoin(out[i], b, cfg) {
				out[i] = out[i].Union(b)
				joined = true
				changed = true
				break
			}
		}
		if !joined {
			out = append(out, b)
		}
	}
	return out, changed
}

func shouldJoin(a, b frame.TextBox, cfg LayoutConfig) bool {
	if a.Overlaps(b) {
		return true
	}

	minH := a.Height
	if b.Height < minH {
		minH = b.Height
	}

	top := max(a.Y, b.Y)
	bottom := min(a.Y+a.Height, b.Y+b.Height)
	if float64(bottom-top) < cfg.MinOverlap*float64(minH) {
		return false
	}

	gap := max(a.X, b.X) - min(a.X+a.Width, b.X+b.Width)
	return float64(gap) <= cfg.GapFactor*float64(minH)
}

// sortReadingOrder orders regions top-to-bottom then left-to-right
func sortReadingOrder(boxes []frame.TextBox) {
	sort.SliceStable(boxes, func(i, j int) bool {
		a, b := boxes[i], boxes[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Width != b.Width {
			return a.Width < b.Width
		}
		return a.Height < b.Height
	})
}
