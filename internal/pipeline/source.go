package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
)

// SliceSource yields frames from memory.
type SliceSource struct {
	frames []*frame.Frame
	pos    int
}

func NewSliceSource(frames ...*frame.Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// Collector is a Sink that keeps every frame in memory.
type Collector struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (c *Collector) Write(_ context.Context, f *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

// Frames returns the frames written so far, in write order.
func (c *Collector) Frames() []*frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*frame.Frame(nil), c.frames...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f *frame.Frame) error

func (fn SinkFunc) Write(ctx context.Context, f *frame.Frame) error {
	return fn(ctx, f)
}
