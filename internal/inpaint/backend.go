package inpaint

import "fmt"

// NewBackend returns the inpainter named by INPAINT_BACKEND.
func NewBackend(name string, radius int) (Inpainter, error) {
	switch name {
	case "", "telea":
		return NewTelea(radius), nil
	case "opencv":
		if !OpenCVAvailable {
			return nil, fmt.Errorf("inpaint backend opencv requires a build with -tags opencv")
		}
		return newOpenCV(radius), nil
	default:
		return nil, fmt.Errorf("unknown inpaint backend %q", name)
	}
}
