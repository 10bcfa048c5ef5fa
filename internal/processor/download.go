package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
)

const (
	downloadMaxRetries = 5
	downloadMaxBackoff = 32 * time.Second
	downloadTimeout    = 30 * time.Minute
)

var downloadInitialBackoff = time.Second

// resolveInput returns a local path for the job input, downloading FileURL into workDir when needed
func (p *VideoProcessor) resolveInput(ctx context.Context, req *ProcessRequest, workDir string) (string, error) {
	if req.InputPath != "" {
		if _, err := os.Stat(req.InputPath); err != nil {
			return "", apperrors.NewSourceDecodeError(apperrors.NoFrame, err)
		}
		return req.InputPath, nil
	}

	if req.FileURL == "" {
		return "", apperrors.NewInvalidConfigError("no video source provided (inputPath or fileUrl)", nil)
	}

	dst := filepath.Join(workDir, "input"+urlExt(req.FileURL))
	if err := downloadFile(ctx, p.logger.With("job_id", req.JobID), req.FileURL, dst); err != nil {
		return "", apperrors.NewSourceDecodeError(apperrors.NoFrame, err)
	}
	return dst, nil
}

func urlExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

type warnLogger interface {
	Warn(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
}

// downloadFile streams fileURL to dst with exponential backoff between attempts
func downloadFile(ctx context.Context, logger warnLogger, fileURL, dst string) error {
	client := &http.Client{Timeout: downloadTimeout}
	backoff := downloadInitialBackoff

	var lastErr error
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		n, err := downloadOnce(ctx, client, fileURL, dst)
		if err == nil {
			logger.Info("Input downloaded", "attempt", attempt, "bytes", n)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return fmt.Errorf("download cancelled: %w", ctx.Err())
		}
		logger.Warn("Download attempt failed", "attempt", attempt, "max", downloadMaxRetries, "error", err)

		if attempt < downloadMaxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
			backoff *= 2
			if backoff > downloadMaxBackoff {
				backoff = downloadMaxBackoff
			}
		}
	}

	return fmt.Errorf("failed to download file after %d attempts: %w", downloadMaxRetries, lastErr)
}

func downloadOnce(ctx context.Context, client *http.Client, fileURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		os.Remove(dst)
		return 0, fmt.Errorf("short read: got %d of %d bytes", n, resp.ContentLength)
	}
	return n, nil
}
