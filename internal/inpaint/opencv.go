//go:build opencv

package inpaint

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// OpenCV delegates reconstruction to cv::inpaint with the Telea method.
// Pixels outside the mask are copied back from the input so the contract holds exactly.
type OpenCV struct {
	Radius   int
	fallback *Telea
	logger   *logging.Logger
}

// NewOpenCV creates an OpenCV-backed inpainter. Conversion failures fall back to the Go implementation.
func NewOpenCV(radius int) *OpenCV {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &OpenCV{
		Radius:   radius,
		fallback: NewTelea(radius),
		logger:   logging.NewLogger("OpenCVInpainter"),
	}
}

func (o *OpenCV) Inpaint(f *frame.Frame, boxes []frame.TextBox) *frame.Frame {
	mask := BuildMask(f.Width(), f.Height(), boxes)
	if mask.Count() == 0 {
		return f.Clone()
	}

	src, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		o.logger.Warn("Mat conversion failed, using Go inpainter", "frame", f.Index, "error", err)
		return o.fallback.Inpaint(f, boxes)
	}
	defer src.Close()

	maskMat := gocv.NewMatWithSize(mask.Height, mask.Width, gocv.MatTypeCV8U)
	defer maskMat.Close()
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.Pix[y*mask.Width+x] {
				maskMat.SetUCharAt(y, x, 255)
			}
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Inpaint(src, maskMat, &dst, float32(o.Radius), gocv.Telea)

	img, err := dst.ToImage()
	if err != nil {
		o.logger.Warn("Mat to image failed, using Go inpainter", "frame", f.Index, "error", err)
		return o.fallback.Inpaint(f, boxes)
	}

	out := f.Clone()
	rec := frame.FromImage(f.Index, img)
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if !mask.Pix[y*mask.Width+x] {
				continue
			}
			c := rec.RGB(x, y)
			out.Fill(image.Rect(x, y, x+1, y+1), c)
		}
	}
	return out
}
