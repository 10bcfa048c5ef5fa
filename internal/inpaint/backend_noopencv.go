//go:build !opencv

package inpaint

// OpenCVAvailable reports whether this binary links gocv.
const OpenCVAvailable = false

func newOpenCV(int) Inpainter { return nil }
