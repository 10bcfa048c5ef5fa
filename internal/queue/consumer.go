/**
 * Asynq Queue Consumer for VideoTranslate Worker
 *
 * Alternative to the list-based RedisConsumer for deployments that schedule
 * jobs through asynq. Selected with QUEUE_BACKEND=asynq.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
)

// Consumer handles job consumption through asynq
type Consumer struct {
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.VideoProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.VideoProcessorInterface
	ProcessingTimeout time.Duration
}

// asynqLogger adapts logging.Logger to asynq.Logger
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}

// retryDelay is exponential backoff: 5s, 10s, 20s, capped at 60s
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer").With("queue", cfg.QueueName)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("Task processing error",
					"type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
			}),
			Logger:          asynqLogger{l: logger},
			ShutdownTimeout: 30 * time.Second,
		},
	)

	consumer := &Consumer{
		inspector: asynq.NewInspector(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}

	consumer.mux.HandleFunc(TaskTranslateVideo, consumer.handleTranslateVideo)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}
	return nil
}

// ResultRetention is how long a finished task and its result summary stay inspectable
const ResultRetention = 24 * time.Hour

// NewTranslateVideoTask builds a task for payload, assigning a job ID when missing
func NewTranslateVideoTask(payload JobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	opts = append([]asynq.Option{
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(DefaultMaxRetries),
		asynq.Retention(ResultRetention),
	}, opts...)
	return asynq.NewTask(TaskTranslateVideo, data, opts...), nil
}

// Producer submits jobs to an asynq queue
type Producer struct {
	client    *asynq.Client
	queueName string
}

// NewProducer connects to the Redis behind an asynq deployment
func NewProducer(redisURL, queueName string) (*Producer, error) {
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{client: asynq.NewClient(redisOpt), queueName: queueName}, nil
}

// Enqueue submits a job and returns its ID
func (p *Producer) Enqueue(ctx context.Context, payload JobPayload) (string, error) {
	task, err := NewTranslateVideoTask(payload, asynq.Queue(p.queueName))
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}

// Close releases the Redis connection
func (p *Producer) Close() error {
	return p.client.Close()
}

// handleTranslateVideo processes a video translation task
func (c *Consumer) handleTranslateVideo(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		payload.JobID, _ = asynq.GetTaskID(ctx)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	onProgress := func(done, total int) {
		progress, _ := json.Marshal(map[string]int{"framesDone": done, "framesTotal": total})
		if _, err := task.ResultWriter().Write(progress); err != nil {
			c.logger.Debug("Failed to write task progress", "job_id", payload.JobID, "error", err)
		}
	}

	result, err := runJob(ctx, c.processor, &payload, c.config.ProcessingTimeout, retried >= maxRetry, onProgress)
	if err != nil {
		if !Retryable(err) {
			return fmt.Errorf("video translation failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("video translation failed: %w", err)
	}

	summary, _ := json.Marshal(result.Metadata())
	if _, err := task.ResultWriter().Write(summary); err != nil {
		c.logger.Debug("Failed to write task result", "job_id", payload.JobID, "error", err)
	}
	return nil
}

// GetStatistics returns queue statistics
func (c *Consumer) GetStatistics() (map[string]interface{}, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue info: %w", err)
	}
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"pending":     info.Pending,
		"active":      info.Active,
		"retry":       info.Retry,
		"completed":   info.Completed,
		"failed":      info.Failed,
	}, nil
}
