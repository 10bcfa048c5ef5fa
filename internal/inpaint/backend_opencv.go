//go:build opencv

package inpaint

// OpenCVAvailable reports whether this binary links gocv.
const OpenCVAvailable = true

func newOpenCV(radius int) Inpainter { return NewOpenCV(radius) }
