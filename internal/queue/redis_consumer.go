/**
 * Direct Redis Queue Consumer for VideoTranslate Worker
 *
 * Compatible with the TypeScript RedisQueue implementation used by the API:
 *   <queue>             LIST of job IDs (LPUSH by producers, BRPOP here)
 *   <queue>:data        HASH job ID -> RedisJobData JSON
 *   <queue>:processing  SET of running job IDs
 *   <queue>:completed   SET, with results in <queue>:results
 *   <queue>:failed      SET, with errors in <queue>:errors
 *   <queue>:events      PUB/SUB channel for WebSocket streaming
 */

package queue

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
)

// DefaultMaxRetries is used when a job does not carry its own limit
const DefaultMaxRetries = 3

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	ownClient bool
	processor processor.VideoProcessorInterface
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	Client            *redis.Client // reused when set, otherwise created from RedisURL
	QueueName         string
	Concurrency       int
	Processor         processor.VideoProcessorInterface
	ProcessingTimeout time.Duration
}

var errNoJobs = goerrors.New("no jobs available")

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" && cfg.Client == nil {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "videotranslate:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	client, own := cfg.Client, false
	if client == nil {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client, own = redis.NewClient(opt), true
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if own {
			client.Close()
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		ownClient: own,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logging.NewLogger("RedisConsumer").With("queue", cfg.QueueName),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop cancels running jobs, which are re-queued, and waits for workers to exit
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	logger := c.logger.With("worker", id)
	logger.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			logger.Debug("Worker stopping")
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if goerrors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			logger.Warn("Worker error", "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]
	jobData, err := c.client.HGet(c.ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if err := job.Payload.Validate(); err != nil {
		c.updateJobStatus(job.Payload.JobID, "failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = DefaultMaxRetries
	}

	jobID := job.Payload.JobID
	c.updateJobStatus(jobID, "processing", nil)

	onProgress := func(done, total int) {
		c.publish("progress", jobID, map[string]interface{}{"framesDone": done, "framesTotal": total})
	}

	lastAttempt := job.Attempts+1 >= job.MaxRetries
	processResult, err := runJob(c.ctx, c.processor, &job.Payload, c.config.ProcessingTimeout, lastAttempt, onProgress)
	if err == nil {
		c.updateJobStatus(jobID, "completed", processResult.Metadata())
		return nil
	}

	// Shutdown: put the job back without charging an attempt
	if c.ctx.Err() != nil {
		c.requeue(&job, "shutdown")
		return nil
	}

	job.Attempts++
	if job.Attempts < job.MaxRetries && Retryable(err) {
		c.requeue(&job, err.Error())
		return nil
	}

	failure := processor.FailureMetadata(processResult, err, 0)
	failure["attempts"] = job.Attempts
	c.updateJobStatus(jobID, "failed", failure)
	return nil
}

// requeue stores the updated attempt count and pushes the job back for another worker
func (c *RedisConsumer) requeue(job *RedisJobData, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updatedData, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for retry", "job_id", job.Payload.JobID, "error", err)
		return
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, updatedData)
		pipe.SRem(ctx, c.key("processing"), job.Payload.JobID)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to re-queue job", "job_id", job.Payload.JobID, "error", err)
		return
	}

	c.logger.Info("Job re-queued",
		"job_id", job.Payload.JobID, "attempt", job.Attempts, "max", job.MaxRetries, "reason", reason)
	c.publishWith(ctx, "retrying", job.Payload.JobID, map[string]interface{}{"attempts": job.Attempts})
}

// updateJobStatus updates the queue bookkeeping sets and publishes an event.
// PostgreSQL is updated by runJob.
func (c *RedisConsumer) updateJobStatus(jobID string, status string, result map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch status {
		case "processing":
			pipe.SAdd(ctx, c.key("processing"), jobID)
		case "completed":
			pipe.SRem(ctx, c.key("processing"), jobID)
			pipe.SAdd(ctx, c.key("completed"), jobID)
			if result != nil {
				resultData, _ := json.Marshal(result)
				pipe.HSet(ctx, c.key("results"), jobID, resultData)
			}
		case "failed":
			pipe.SRem(ctx, c.key("processing"), jobID)
			pipe.SAdd(ctx, c.key("failed"), jobID)
			if result != nil {
				errorData, _ := json.Marshal(result)
				pipe.HSet(ctx, c.key("errors"), jobID, errorData)
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to update queue status", "job_id", jobID, "status", status, "error", err)
	}

	c.publishWith(ctx, status, jobID, result)
}

func (c *RedisConsumer) publish(status, jobID string, fields map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.publishWith(ctx, status, jobID, fields)
}

// publishWith publishes a job event for WebSocket streaming
func (c *RedisConsumer) publishWith(ctx context.Context, status, jobID string, fields map[string]interface{}) {
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	for k, v := range fields {
		if _, reserved := event[k]; !reserved {
			event[k] = v
		}
	}
	eventData, _ := json.Marshal(event)
	if err := c.client.Publish(ctx, c.key("events"), eventData).Err(); err != nil {
		c.logger.Debug("Failed to publish event", "job_id", jobID, "event", status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

// Ping checks the Redis connection
func (c *RedisConsumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// EnqueueRedisJob stores a job and pushes it onto the queue, returning the queue ID
func EnqueueRedisJob(ctx context.Context, client *redis.Client, queueName string, payload JobPayload, maxRetries int) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTranslateVideo,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, queueName+":data", job.ID, data)
		pipe.LPush(ctx, queueName, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}
