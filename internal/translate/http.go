/**
 * HTTP Translator - LibreTranslate-compatible translation backend
 *
 * POST {base}/translate   {"q","source","target","format","api_key"} -> {"translatedText"}
 * GET  {base}/languages   -> [{"code","name","targets"}]
 *
 * One HTTP client is shared by all pipeline workers; requests are paced by a token
 * bucket so a long video cannot exceed the backend's rate limit.
 */

package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
)

// HTTPConfig holds translation backend configuration
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	SourceLanguage    string  // "auto" when empty
	RequestsPerSecond float64 // <= 0 disables pacing
	Timeout           time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// HTTPTranslator handles communication with the translation service
type HTTPTranslator struct {
	baseURL    string
	apiKey     string
	source     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     *logging.Logger

	langsMu sync.Mutex
	langs   []string
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

type languageEntry struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets,omitempty"`
}

// NewHTTPTranslator creates a new translation client
func NewHTTPTranslator(cfg *HTTPConfig) (*HTTPTranslator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("translator base URL is required")
	}

	source := cfg.SourceLanguage
	if source == "" {
		source = "auto"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryDelay := cfg.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &HTTPTranslator{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		source:     source,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logging.NewLogger("HTTPTranslator"),
	}, nil
}

// Translate translates text, retrying transient failures with exponential backoff
func (t *HTTPTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", apperrors.NewTranslationUnavailableError("rate limiter wait aborted", err)
		}

		translated, retryable, err := t.translateOnce(ctx, text, targetLang)
		if err == nil {
			return translated, nil
		}
		if !retryable || attempt >= t.maxRetries {
			return "", err
		}

		delay := t.retryDelay * time.Duration(1<<uint(attempt))
		t.logger.Debug("Retrying translation", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", apperrors.NewTranslationUnavailableError("cancelled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (t *HTTPTranslator) translateOnce(ctx context.Context, text, targetLang string) (string, bool, error) {
	reqBody, err := json.Marshal(translateRequest{
		Q:      text,
		Source: t.source,
		Target: targetLang,
		Format: "text",
		APIKey: t.apiKey,
	})
	if err != nil {
		return "", false, apperrors.NewTranslationUnavailableError("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(reqBody))
	if err != nil {
		return "", false, apperrors.NewTranslationUnavailableError("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "videotranslate-worker")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", ctx.Err() == nil, apperrors.NewTranslationUnavailableError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, apperrors.NewTranslationUnavailableError("failed to read response body", err)
	}

	var parsed translateResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode == http.StatusOK:
		if parsed.Error != "" {
			return "", false, apperrors.NewTranslationUnavailableError(parsed.Error, nil)
		}
		return parsed.TranslatedText, false, nil

	case resp.StatusCode == http.StatusBadRequest && rejectsTarget(parsed.Error, targetLang):
		return "", false, apperrors.NewUnsupportedLanguageError(targetLang, fmt.Errorf("%s", parsed.Error))

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, apperrors.NewTranslationUnavailableError(
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)

	default:
		return "", false, apperrors.NewTranslationUnavailableError(
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
}

// rejectsTarget reports whether a 400 error message refers to the target language,
// e.g. LibreTranslate's "xx is not supported"
func rejectsTarget(msg, targetLang string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "not supported") || strings.Contains(lower, "language") {
		return true
	}
	target := strings.ToLower(targetLang)
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	}) {
		if target != "" && word == target {
			return true
		}
	}
	return false
}

// SupportedLanguages returns every code the backend accepts as a target. The list is fetched once.
func (t *HTTPTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	t.langsMu.Lock()
	defer t.langsMu.Unlock()
	if t.langs != nil {
		return t.langs, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/languages", nil)
	if err != nil {
		return nil, apperrors.NewTranslationUnavailableError("failed to create languages request", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTranslationUnavailableError("languages request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.NewTranslationUnavailableError(
			fmt.Sprintf("languages returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var entries []languageEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, apperrors.NewTranslationUnavailableError("failed to parse languages", err)
	}

	seen := make(map[string]bool)
	langs := make([]string, 0, len(entries))
	add := func(code string) {
		if code != "" && !seen[code] {
			seen[code] = true
			langs = append(langs, code)
		}
	}
	for _, e := range entries {
		add(e.Code)
		for _, target := range e.Targets {
			add(target)
		}
	}

	t.langs = langs
	t.logger.Info("Translation languages loaded", "count", len(langs))
	return langs, nil
}

// HealthCheck verifies the translation service is reachable
func (t *HTTPTranslator) HealthCheck(ctx context.Context) error {
	_, err := t.SupportedLanguages(ctx)
	return err
}
