package video

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// EncoderConfig holds encoder configuration
type EncoderConfig struct {
	FFmpegPath  string
	Output      string
	Width       int
	Height      int
	FrameRate   string // passed to -r unchanged, e.g. "30000/1001"
	Codec       string // libx264 when empty
	AudioSource string // file whose first audio stream is copied, empty for none
}

// Encoder writes frames to a video file through an ffmpeg child process.
// It implements pipeline.Sink.
type Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *syncBuffer
	width  int
	height int
	buf    []byte
	frames int
	closed bool
	logger *logging.Logger
}

func encoderArgs(cfg EncoderConfig) []string {
	codec := cfg.Codec
	if codec == "" {
		codec = "libx264"
	}
	rate := cfg.FrameRate
	if rate == "" {
		rate = "25"
	}

	args := []string{
		"-y", "-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height),
		"-r", rate,
		"-i", "-",
	}
	if cfg.AudioSource != "" {
		args = append(args, "-i", cfg.AudioSource, "-map", "0:v:0", "-map", "1:a?", "-c:a", "copy")
	}
	args = append(args, "-c:v", codec, "-pix_fmt", "yuv420p", cfg.Output)
	return args
}

// NewEncoder starts ffmpeg. The process is killed when ctx is cancelled.
func NewEncoder(ctx context.Context, cfg EncoderConfig) (*Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid output dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, ffmpeg, encoderArgs(cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &Encoder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		width:  cfg.Width,
		height: cfg.Height,
		logger: logging.NewLogger("Encoder").With("output", cfg.Output),
	}, nil
}

// Write encodes one frame. Frames must arrive in presentation order.
func (e *Encoder) Write(ctx context.Context, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Width() != e.width || f.Height() != e.height {
		return fmt.Errorf("frame %d is %dx%d, encoder expects %dx%d", f.Index, f.Width(), f.Height(), e.width, e.height)
	}

	e.buf = ToRGB24(f, e.buf)
	if _, err := e.stdin.Write(e.buf); err != nil {
		return fmt.Errorf("failed to write frame %d to ffmpeg: %w (%s)", f.Index, err, strings.TrimSpace(e.stderr.String()))
	}
	e.frames++
	return nil
}

// Frames returns the number of frames written
func (e *Encoder) Frames() int {
	return e.frames
}

// Close flushes the stream and waits for ffmpeg to finalize the container
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w\nOutput: %s", err, strings.TrimSpace(e.stderr.String()))
	}
	e.logger.Info("Video encoded", "frames", e.frames)
	return nil
}

// Abort kills ffmpeg without finalizing the output
func (e *Encoder) Abort() {
	if e.closed {
		return
	}
	e.closed = true

	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
}
