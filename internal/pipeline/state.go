package pipeline

import (
	"time"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// FrameState is the position of one frame in the per-frame state machine.
// States only move forward; Done and Skipped are terminal.
type FrameState int

const (
	StateDetecting FrameState = iota
	StateExtracting
	StateTranslating
	StateReconstructing
	StateCompositing
	StateDone
	StateSkipped
)

func (s FrameState) String() string {
	switch s {
	case StateDetecting:
		return "Detecting"
	case StateExtracting:
		return "Extracting"
	case StateTranslating:
		return "Translating"
	case StateReconstructing:
		return "Reconstructing"
	case StateCompositing:
		return "Compositing"
	case StateDone:
		return "Done"
	case StateSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further stage runs for the frame.
func (s FrameState) Terminal() bool {
	return s == StateDone || s == StateSkipped
}

// JobState is the state of a whole-video run.
type JobState string

const (
	JobRunning  JobState = "Running"
	JobComplete JobState = "Complete"
	JobFailed   JobState = "Failed"
)

// FrameResult describes how one frame left the pipeline.
type FrameResult struct {
	Index        int
	State        FrameState
	Boxes        []frame.TextBox
	Texts        []string // index-aligned with Boxes
	Translations []string // index-aligned with Boxes; nil when Skipped
	Err          error    // set when Skipped
	Duration     time.Duration
}

// Report summarises a run.
type Report struct {
	State          JobState
	FramesTotal    int
	FramesDone     int
	FramesSkipped  int
	FramesWithText int
	FailedFrame    int
	FailedStage    string
	Err            error
	Duration       time.Duration
}
