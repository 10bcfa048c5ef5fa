/**
 * videotranslate - command line front end
 *
 *   videotranslate -in clip.mp4 -out clip.fr.mp4 -lang fr
 *   videotranslate -image -in slide.png -out slide.de.png -lang de
 *   videotranslate -watch ./inbox -outdir ./outbox -lang es
 *   videotranslate -enqueue -in /shared/clip.mp4 -lang fr
 *
 * Configuration other than the flags comes from the same environment
 * variables as the worker.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/videotranslate-worker/internal/config"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
	"github.com/adverant/nexus/videotranslate-worker/internal/queue"
)

type options struct {
	in      string
	out     string
	lang    string
	image   bool
	watch   string
	outDir  string
	enqueue bool
	envFile string
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("videotranslate", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.in, "in", "", "input video or image")
	fs.StringVar(&o.out, "out", "", "output path (default: <in>.<lang>.<ext>)")
	fs.StringVar(&o.lang, "lang", "", "target language code (default: TARGET_LANGUAGE)")
	fs.BoolVar(&o.image, "image", false, "treat the input as a single still image")
	fs.StringVar(&o.watch, "watch", "", "translate every video that appears in this directory")
	fs.StringVar(&o.outDir, "outdir", "", "output directory for -watch (default: the watched directory)")
	fs.BoolVar(&o.enqueue, "enqueue", false, "push a job onto the worker queue instead of processing locally")
	fs.StringVar(&o.envFile, "env", ".env.nexus", "optional dotenv file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case o.watch != "" && (o.in != "" || o.image || o.enqueue):
		return nil, errors.New("-watch cannot be combined with -in, -image or -enqueue")
	case o.watch == "" && o.in == "":
		return nil, errors.New("-in or -watch is required")
	case o.enqueue && o.image:
		return nil, errors.New("-enqueue only accepts videos")
	}
	return o, nil
}

// outputPathFor inserts the language before the extension: clip.mp4 -> clip.fr.mp4
func outputPathFor(in, dir, lang string) string {
	ext := filepath.Ext(in)
	base := strings.TrimSuffix(filepath.Base(in), ext)
	if dir == "" {
		dir = filepath.Dir(in)
	}
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s%s", base, lang, ext))
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}

	godotenv.Load(opts.envFile)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.lang != "" {
		cfg.TargetLanguage = opts.lang
	}
	logging.Configure(os.Stderr, cfg.LogLevel, true)
	logger := logging.NewLogger("videotranslate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("Failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options, logger *logging.Logger) error {
	redisClient := connectRedis(ctx, cfg.RedisURL, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if opts.enqueue {
		return enqueue(ctx, cfg, opts, redisClient, logger)
	}

	proc, err := processor.NewVideoProcessor(&processor.ProcessorConfig{Config: cfg, RedisClient: redisClient})
	if err != nil {
		return err
	}
	defer proc.Close()

	if opts.watch != "" {
		return watchDir(ctx, proc, opts.watch, opts.outDir, cfg.TargetLanguage, logger)
	}

	out := opts.out
	if out == "" {
		out = outputPathFor(opts.in, "", cfg.TargetLanguage)
	}

	if opts.image {
		res, err := proc.ProcessImage(ctx, opts.in, out, cfg.TargetLanguage)
		if err != nil {
			return err
		}
		logger.Info("Image translated", "output", out, "regions", len(res.Boxes), "state", res.State.String())
		return nil
	}

	return translateVideo(ctx, proc, opts.in, out, cfg.TargetLanguage, logger)
}

// enqueue hands the job to whichever queue backend the workers consume
func enqueue(ctx context.Context, cfg *config.Config, opts *options, redisClient *redis.Client, logger *logging.Logger) error {
	in, err := filepath.Abs(opts.in)
	if err != nil {
		return err
	}
	payload := queue.JobPayload{
		InputPath:      in,
		OutputPath:     opts.out,
		TargetLanguage: cfg.TargetLanguage,
	}

	var id string
	switch cfg.QueueBackend {
	case "asynq":
		producer, err := queue.NewProducer(cfg.RedisURL, cfg.QueueName)
		if err != nil {
			return err
		}
		defer producer.Close()
		id, err = producer.Enqueue(ctx, payload)
		if err != nil {
			return err
		}
	default:
		if redisClient == nil {
			return errors.New("-enqueue needs a reachable REDIS_URL")
		}
		id, err = queue.EnqueueRedisJob(ctx, redisClient, cfg.QueueName, payload, 0)
		if err != nil {
			return err
		}
	}
	logger.Info("Job enqueued", "job_id", id, "queue", cfg.QueueName, "backend", cfg.QueueBackend)
	return nil
}

func translateVideo(ctx context.Context, proc *processor.VideoProcessor, in, out, lang string, logger *logging.Logger) error {
	jobID := uuid.New().String()
	start := time.Now()
	result, err := proc.ProcessVideo(ctx, &processor.ProcessRequest{
		JobID:          jobID,
		InputPath:      in,
		OutputPath:     out,
		TargetLanguage: lang,
		OnProgress: func(done, total int) {
			logger.Info("Progress", "frames", done, "of", total)
		},
	})
	if err != nil {
		return err
	}
	r := result.Report
	logger.Info("Video translated",
		"output", result.OutputPath,
		"frames", r.FramesTotal,
		"with_text", r.FramesWithText,
		"skipped", r.FramesSkipped,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// connectRedis returns nil when Redis is not reachable; the CLI then runs without the shared cache
func connectRedis(ctx context.Context, url string, logger *logging.Logger) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("Invalid REDIS_URL, translation cache is in-memory only", "error", err)
		return nil
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Debug("Redis not reachable, translation cache is in-memory only", "error", err)
		client.Close()
		return nil
	}
	return client
}
