package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/adverant/nexus/videotranslate-worker/internal/frame"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	FFmpegPath string
	Input      string
	Info       *Info
}

// Decoder reads frames from a video file through an ffmpeg child process.
// It implements pipeline.Source.
type Decoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *syncBuffer
	width  int
	height int
	fps    float64
	buf    []byte
	index  int
	logger *logging.Logger

	waitOnce sync.Once
	waitErr  error
}

func decoderArgs(input string) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", input,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

// NewDecoder starts ffmpeg. The process is killed when ctx is cancelled.
func NewDecoder(ctx context.Context, cfg DecoderConfig) (*Decoder, error) {
	if cfg.Info == nil {
		return nil, fmt.Errorf("video info is required")
	}
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, ffmpeg, decoderArgs(cfg.Input)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &Decoder{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		width:  cfg.Info.Width,
		height: cfg.Info.Height,
		fps:    cfg.Info.FPS,
		buf:    make([]byte, FrameSize(cfg.Info.Width, cfg.Info.Height)),
		logger: logging.NewLogger("Decoder").With("input", cfg.Input),
	}, nil
}

// Next returns the next frame, or io.EOF once ffmpeg has exited cleanly
func (d *Decoder) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, err := io.ReadFull(d.stdout, d.buf)
	switch {
	case err == io.EOF:
		if werr := d.wait(); werr != nil {
			return nil, werr
		}
		d.logger.Debug("Decoder reached end of stream", "frames", d.index)
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		if werr := d.wait(); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("truncated frame %d", d.index)
	case err != nil:
		return nil, fmt.Errorf("failed to read frame %d: %w", d.index, err)
	}

	f, err := FromRGB24(d.index, d.width, d.height, d.buf)
	if err != nil {
		return nil, err
	}
	if d.fps > 0 {
		f.Timestamp = time.Duration(math.Round(float64(d.index) * float64(time.Second) / d.fps))
	}
	d.index++
	return f, nil
}

func (d *Decoder) wait() error {
	d.waitOnce.Do(func() {
		if err := d.cmd.Wait(); err != nil {
			d.waitErr = fmt.Errorf("ffmpeg decode failed: %w\nOutput: %s", err, strings.TrimSpace(d.stderr.String()))
		}
	})
	return d.waitErr
}

// Close stops ffmpeg if it is still running
func (d *Decoder) Close() error {
	d.stdout.Close()
	if d.cmd.ProcessState == nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.wait()
	return nil
}
