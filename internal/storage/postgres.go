/**
 * PostgreSQL Client for VideoTranslate Worker
 *
 * Handles database operations for job tracking and per-frame results.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS videotranslate;

	CREATE TABLE IF NOT EXISTS videotranslate.translation_jobs (
		id                 UUID PRIMARY KEY,
		user_id            TEXT NOT NULL DEFAULT 'anonymous',
		input_path         TEXT,
		output_path        TEXT,
		target_language    TEXT,
		status             TEXT NOT NULL,
		frames_total       INTEGER,
		frames_done        INTEGER,
		frames_skipped     INTEGER,
		failed_frame       INTEGER,
		failed_stage       TEXT,
		processing_time_ms BIGINT,
		artifact_id        TEXT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS videotranslate.frame_results (
		job_id          UUID NOT NULL,
		frame_index     INTEGER NOT NULL,
		state           TEXT NOT NULL,
		box_count       INTEGER NOT NULL,
		source_text     TEXT,
		translated_text TEXT,
		error_code      TEXT,
		duration_ms     BIGINT,
		PRIMARY KEY (job_id, frame_index)
	);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	InputPath        string
	OutputPath       string
	TargetLanguage   string
	FramesTotal      int
	FramesDone       int
	FramesSkipped    int
	FailedFrame      int // negative when no single frame failed
	FailedStage      string
	ProcessingTimeMs int64
	ArtifactID       string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// FrameRow is one frame's outcome. Text columns hold one line per box.
type FrameRow struct {
	FrameIndex     int
	State          string
	BoxCount       int
	SourceText     string
	TranslatedText string
	ErrorCode      string
	DurationMs     int64
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the schema and tables if they do not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. Zero counters and empty strings keep the stored value.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	// Convert metadata to JSONB
	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	var userID string
	if uid, ok := update.Metadata["userId"].(string); ok {
		userID = uid
	}

	errorMessage := sanitizeText(update.ErrorMessage)

	var failedFrame sql.NullInt64
	if update.FailedFrame >= 0 && update.FailedStage != "" {
		failedFrame = sql.NullInt64{Int64: int64(update.FailedFrame), Valid: true}
	}

	query := `
		INSERT INTO videotranslate.translation_jobs (
			id, user_id, input_path, output_path, target_language,
			status, frames_total, frames_done, frames_skipped,
			failed_frame, failed_stage, processing_time_ms, artifact_id,
			error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'anonymous'), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
			$6, NULLIF($7, 0), NULLIF($8, 0), NULLIF($9, 0),
			$10, NULLIF($11, ''), NULLIF($12, 0), NULLIF($13, ''),
			NULLIF($14, ''), NULLIF($15, ''), COALESCE($16::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			input_path = COALESCE(EXCLUDED.input_path, videotranslate.translation_jobs.input_path),
			output_path = COALESCE(EXCLUDED.output_path, videotranslate.translation_jobs.output_path),
			target_language = COALESCE(EXCLUDED.target_language, videotranslate.translation_jobs.target_language),
			frames_total = COALESCE(EXCLUDED.frames_total, videotranslate.translation_jobs.frames_total),
			frames_done = COALESCE(EXCLUDED.frames_done, videotranslate.translation_jobs.frames_done),
			frames_skipped = COALESCE(EXCLUDED.frames_skipped, videotranslate.translation_jobs.frames_skipped),
			failed_frame = EXCLUDED.failed_frame,
			failed_stage = EXCLUDED.failed_stage,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, videotranslate.translation_jobs.processing_time_ms),
			artifact_id = COALESCE(EXCLUDED.artifact_id, videotranslate.translation_jobs.artifact_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = videotranslate.translation_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		userID,                  // $2
		update.InputPath,        // $3
		update.OutputPath,       // $4
		update.TargetLanguage,   // $5
		update.Status,           // $6
		update.FramesTotal,      // $7
		update.FramesDone,       // $8
		update.FramesSkipped,    // $9
		failedFrame,             // $10
		update.FailedStage,      // $11
		update.ProcessingTimeMs, // $12
		update.ArtifactID,       // $13
		update.ErrorCode,        // $14
		errorMessage,            // $15
		metadataJSON,            // $16
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// InsertFrameResults bulk-loads frame rows with COPY inside one transaction
func (p *PostgresClient) InsertFrameResults(ctx context.Context, jobID string, rows []FrameRow) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("videotranslate", "frame_results",
		"job_id", "frame_index", "state", "box_count", "source_text", "translated_text", "error_code", "duration_ms"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			jobID, r.FrameIndex, r.State, r.BoxCount,
			nullIfEmpty(sanitizeText(r.SourceText)),
			nullIfEmpty(sanitizeText(r.TranslatedText)),
			nullIfEmpty(r.ErrorCode),
			r.DurationMs,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy frame %d: %w", r.FrameIndex, err)
		}
	}

	// flush buffered rows
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit frame results: %w", err)
	}
	return nil
}

// ErrJobNotFound is returned by GetJobByID for an unknown ID
var ErrJobNotFound = errors.New("job not found")

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, status, target_language,
			frames_total, frames_done, frames_skipped,
			failed_frame, failed_stage, processing_time_ms,
			output_path, artifact_id, error_code, error_message,
			metadata, created_at, updated_at
		FROM videotranslate.translation_jobs
		WHERE id = $1::uuid
	`

	var (
		id, userID, status                      string
		targetLanguage, failedStage, outputPath sql.NullString
		artifactID, errorCode, errorMessage     sql.NullString
		framesTotal, framesDone, framesSkipped  sql.NullInt64
		failedFrame, processingTimeMs           sql.NullInt64
		metadataJSON                            []byte
		createdAt, updatedAt                    time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &status, &targetLanguage,
		&framesTotal, &framesDone, &framesSkipped,
		&failedFrame, &failedStage, &processingTimeMs,
		&outputPath, &artifactID, &errorCode, &errorMessage,
		&metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	// Parse metadata
	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	for key, v := range map[string]sql.NullString{
		"targetLanguage": targetLanguage,
		"failedStage":    failedStage,
		"outputPath":     outputPath,
		"artifactId":     artifactID,
		"errorCode":      errorCode,
		"errorMessage":   errorMessage,
	} {
		if v.Valid {
			result[key] = v.String
		}
	}
	for key, v := range map[string]sql.NullInt64{
		"framesTotal":      framesTotal,
		"framesDone":       framesDone,
		"framesSkipped":    framesSkipped,
		"failedFrame":      failedFrame,
		"processingTimeMs": processingTimeMs,
	} {
		if v.Valid {
			result[key] = v.Int64
		}
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sanitizeText strips NUL bytes, which PostgreSQL TEXT columns reject
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
