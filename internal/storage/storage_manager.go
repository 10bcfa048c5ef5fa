/**
 * Storage Manager for VideoTranslate Worker
 *
 * Coordinates job status updates and batched per-frame result writes.
 * Frame results arrive one at a time, in order, from the pipeline collector;
 * they are buffered and written with COPY once a batch fills.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// DefaultFrameBatchSize is the number of frame rows written per COPY
const DefaultFrameBatchSize = 50

// JobStore persists job status
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
}

// FrameStore persists frame results
type FrameStore interface {
	InsertFrameResults(ctx context.Context, jobID string, rows []FrameRow) error
}

// StorageManager owns the PostgreSQL connection
type StorageManager struct {
	postgres *PostgresClient
}

// NewStorageManager connects to PostgreSQL and creates the schema
func NewStorageManager(ctx context.Context, postgresURL string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close() // Cleanup on failure
		return nil, err
	}

	return &StorageManager{postgres: postgres}, nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// InsertFrameResults writes frame rows to PostgreSQL
func (sm *StorageManager) InsertFrameResults(ctx context.Context, jobID string, rows []FrameRow) error {
	return sm.postgres.InsertFrameResults(ctx, jobID, rows)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// Ping checks database connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns connection pool statistics
func (sm *StorageManager) GetStats() map[string]interface{} {
	pgStats := sm.postgres.GetStats()
	return map[string]interface{}{
		"max_open_connections": pgStats.MaxOpenConnections,
		"open_connections":     pgStats.OpenConnections,
		"in_use":               pgStats.InUse,
		"idle":                 pgStats.Idle,
		"wait_count":           pgStats.WaitCount,
		"wait_duration":        pgStats.WaitDuration.String(),
	}
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	if sm.postgres != nil {
		if err := sm.postgres.Close(); err != nil {
			return fmt.Errorf("failed to close PostgreSQL: %w", err)
		}
	}
	return nil
}

// FrameRecorder buffers frame rows for one job and writes them in batches
type FrameRecorder struct {
	store     FrameStore
	jobID     string
	batchSize int
	logger    *logging.Logger

	mu      sync.Mutex
	rows    []FrameRow
	written int
	failed  int
}

// NewFrameRecorder creates a recorder for jobID
func NewFrameRecorder(store FrameStore, jobID string, batchSize int) *FrameRecorder {
	if batchSize <= 0 {
		batchSize = DefaultFrameBatchSize
	}
	return &FrameRecorder{
		store:     store,
		jobID:     jobID,
		batchSize: batchSize,
		logger:    logging.NewLogger("FrameRecorder").With("job_id", jobID),
	}
}

// Add buffers a row and flushes when the batch is full
func (r *FrameRecorder) Add(ctx context.Context, row FrameRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)

	if len(r.rows) >= r.batchSize {
		return r.flush(ctx)
	}
	return nil
}

// Flush writes all pending rows
func (r *FrameRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush(ctx)
}

// Written returns the number of rows stored and the number dropped after write failures
func (r *FrameRecorder) Written() (stored, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failed
}

func (r *FrameRecorder) flush(ctx context.Context) error {
	if len(r.rows) == 0 {
		return nil
	}

	batch := r.rows
	r.rows = nil

	if err := r.store.InsertFrameResults(ctx, r.jobID, batch); err != nil {
		r.failed += len(batch)
		r.logger.Warn("Failed to store frame results",
			"first_frame", batch[0].FrameIndex, "rows", len(batch), "error", err)
		return err
	}
	r.written += len(batch)
	return nil
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes Unicode escapes that PostgreSQL JSONB rejects
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
