/**
 * Artifact Client for VideoTranslate Worker
 *
 * Uploads translated videos to permanent storage via the FileProcess API.
 * The API picks the storage backend (PostgreSQL buffer, MinIO, Google Drive)
 * by size and returns an artifact ID plus a download URL, which the worker
 * records on the job row.
 *
 * Videos are streamed from disk into the multipart body; they are never held
 * in memory whole.
 */

package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// ArtifactClient handles communication with the FileProcess API for artifact storage
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArtifactUploadRequest represents a file upload request
type ArtifactUploadRequest struct {
	FilePath      string                 // file streamed as the "file" part
	Filename      string                 // defaults to the base name of FilePath
	MimeType      string                 // defaults to video/mp4
	SourceService string                 // service creating the artifact
	SourceID      string                 // job ID
	TTLDays       int                    // 0 = 36500 (~100 years)
	Metadata      map[string]interface{} // targetLanguage, frame counts
}

// ArtifactUploadResponse represents the response from uploading an artifact
type ArtifactUploadResponse struct {
	Success  bool `json:"success"`
	Artifact struct {
		ID             string `json:"id"`
		Filename       string `json:"filename"`
		FileSize       int64  `json:"file_size"`
		MimeType       string `json:"mime_type"`
		StorageBackend string `json:"storage_backend"` // postgres_buffer, minio, google_drive
		DownloadURL    string `json:"download_url"`
		CreatedAt      string `json:"created_at"`
		ExpiresAt      string `json:"expires_at,omitempty"`
	} `json:"artifact,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // large videos
		},
		logger: logging.NewLogger("ArtifactClient"),
	}
}

// HealthCheck verifies the FileProcess API is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artifact service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact service health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// UploadArtifact streams a file to permanent storage
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*ArtifactUploadResponse, error) {
	if req.FilePath == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if req.SourceService == "" {
		return nil, fmt.Errorf("source_service is required: identifies the service creating this artifact")
	}
	if req.SourceID == "" {
		return nil, fmt.Errorf("source_id is required: identifies the job creating this artifact")
	}

	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact file: %w", err)
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("artifact file %s is empty", req.FilePath)
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.FilePath)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = 36500
	}

	var metadataJSON []byte
	if len(req.Metadata) > 0 {
		metadataJSON, err = json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
		}
	}

	c.logger.Info("Uploading artifact",
		"filename", filename, "size", stat.Size(), "mime_type", mimeType, "source_id", req.SourceID)

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		writer.CloseWithError(writeArtifactForm(form, file, filename, req.SourceService, req.SourceID, ttlDays, metadataJSON))
	}()

	// FileProcess API mounts routes at /fileprocess/api/*
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fileprocess/api/files/upload", body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("X-File-Mime-Type", mimeType)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("HTTP request to artifact storage failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result ArtifactUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w (raw response: %s)", err, string(respBody))
	}

	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}
	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	uploadDuration := time.Since(startTime)
	c.logger.Info("Artifact uploaded",
		"id", result.Artifact.ID,
		"storage", result.Artifact.StorageBackend,
		"url", result.Artifact.DownloadURL,
		"duration", uploadDuration,
		"mb_per_sec", float64(stat.Size())/1024/1024/uploadDuration.Seconds())

	return &result, nil
}

func writeArtifactForm(form *multipart.Writer, file io.Reader, filename, sourceService, sourceID string, ttlDays int, metadataJSON []byte) error {
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to write file data to form: %w", err)
	}

	fields := [][2]string{
		{"source_service", sourceService},
		{"source_id", sourceID},
		{"ttl_days", strconv.Itoa(ttlDays)},
	}
	if len(metadataJSON) > 0 {
		fields = append(fields, [2]string{"metadata", string(metadataJSON)})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	return form.Close()
}
