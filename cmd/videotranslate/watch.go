package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
)

// settleDelay is how long a file must stay quiet before it is picked up
const settleDelay = 2 * time.Second

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true, ".m4v": true,
}

// isCandidate reports whether name is a video that is not itself an output for lang
func isCandidate(name, lang string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if !videoExts[ext] || strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(name, filepath.Ext(name)), "."+lang)
}

// pendingSet debounces write bursts per file
type pendingSet struct {
	seen map[string]time.Time
	done map[string]bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{seen: make(map[string]time.Time), done: make(map[string]bool)}
}

func (p *pendingSet) touch(name string, at time.Time) {
	if p.done[name] {
		return
	}
	p.seen[name] = at
}

// ready pops files that have been quiet for settleDelay
func (p *pendingSet) ready(now time.Time) []string {
	var out []string
	for name, last := range p.seen {
		if now.Sub(last) >= settleDelay {
			out = append(out, name)
			delete(p.seen, name)
			p.done[name] = true
		}
	}
	return out
}

func watchDir(ctx context.Context, proc *processor.VideoProcessor, dir, outDir, lang string, logger *logging.Logger) error {
	if outDir == "" {
		outDir = dir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("Watching for videos", "dir", dir, "outdir", outDir, "lang", lang)

	pending := newPendingSet()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isCandidate(event.Name, lang) {
				pending.touch(event.Name, time.Now())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "error", err)

		case now := <-ticker.C:
			for _, name := range pending.ready(now) {
				out := outputPathFor(name, outDir, lang)
				if err := translateVideo(ctx, proc, name, out, lang, logger); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Error("Translation failed", "input", name, "error", err)
				}
			}
		}
	}
}
