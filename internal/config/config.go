/**
 * Configuration for VideoTranslate Worker
 *
 * Loads configuration from environment variables (optionally seeded from .env.nexus)
 */

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/videotranslate-worker/internal/translate"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL     string
	QueueBackend string // "redis" (list + hash) or "asynq"
	QueueName    string

	// PostgreSQL configuration; empty disables persistence
	DatabaseURL string

	// Translation backend
	TranslatorURL         string
	TranslatorAPIKey      string
	TranslatorConcurrency int
	TranslatorRPS         float64
	TranslatorMaxRetries  int
	TranslatorTimeout     time.Duration
	TranslationCacheTTL   time.Duration

	// Languages
	TargetLanguage string
	OCRLanguage    string // Tesseract language(s), e.g. "eng" or "eng+deu"

	// Detection and rendering
	OCRBoxLevel      string // "word" or "symbol"
	OCRMinConfidence float64
	BoxPadding       int
	InpaintRadius    int
	InpaintBackend   string // "telea" or "opencv"
	FontSize         float64

	// Concurrency
	JobConcurrency int // videos processed at once
	WorkerCount    int // CPU workers per video
	MaxInFlight    int // frames between decoder and encoder per video

	// Video tooling
	FFmpegPath  string
	FFprobePath string
	VideoCodec  string
	TempDir     string

	// Service URLs
	FileProcessAPIURL string // artifact storage for finished videos; empty disables upload

	// Job and process
	ProcessingTimeout int // milliseconds
	HealthPort        int // 0 disables the health endpoint
	LogLevel          string
	AppEnv            string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	workers := getEnvAsIntOrDefault("WORKER_COUNT", runtime.NumCPU())

	cfg := &Config{
		RedisURL:              getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueBackend:          strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", "redis")),
		QueueName:             getEnvOrDefault("QUEUE_NAME", "videotranslate:jobs"),
		DatabaseURL:           getEnvOrDefault("DATABASE_URL", ""),
		TranslatorURL:         getEnvOrDefault("TRANSLATOR_URL", "http://localhost:5000"),
		TranslatorAPIKey:      getEnvOrDefault("TRANSLATOR_API_KEY", ""),
		TranslatorConcurrency: getEnvAsIntOrDefault("TRANSLATOR_CONCURRENCY", 4),
		TranslatorRPS:         getEnvAsFloatOrDefault("TRANSLATOR_RPS", 10),
		TranslatorMaxRetries:  getEnvAsIntOrDefault("TRANSLATOR_MAX_RETRIES", 2),
		TranslatorTimeout:     time.Duration(getEnvAsIntOrDefault("TRANSLATOR_TIMEOUT_MS", 30000)) * time.Millisecond,
		TranslationCacheTTL:   time.Duration(getEnvAsIntOrDefault("TRANSLATION_CACHE_TTL_SECONDS", 86400)) * time.Second,
		TargetLanguage:        getEnvOrDefault("TARGET_LANGUAGE", "fr"),
		OCRLanguage:           getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRBoxLevel:           strings.ToLower(getEnvOrDefault("OCR_BOX_LEVEL", "word")),
		OCRMinConfidence:      getEnvAsFloatOrDefault("OCR_MIN_CONFIDENCE", 40),
		BoxPadding:            getEnvAsIntOrDefault("BOX_PADDING", 2),
		InpaintRadius:         getEnvAsIntOrDefault("INPAINT_RADIUS", 3),
		InpaintBackend:        strings.ToLower(getEnvOrDefault("INPAINT_BACKEND", "telea")),
		FontSize:              getEnvAsFloatOrDefault("FONT_SIZE", 24),
		JobConcurrency:        getEnvAsIntOrDefault("JOB_CONCURRENCY", 1),
		WorkerCount:           workers,
		MaxInFlight:           getEnvAsIntOrDefault("MAX_IN_FLIGHT_FRAMES", 4*workers),
		FFmpegPath:            getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		VideoCodec:            getEnvOrDefault("VIDEO_CODEC", "libx264"),
		TempDir:               getEnvOrDefault("TEMP_DIR", "/tmp/videotranslate"),
		FileProcessAPIURL:     getEnvOrDefault("FILEPROCESS_API_URL", ""),
		ProcessingTimeout:     getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 3600000), // 1 hour
		HealthPort:            getEnvAsIntOrDefault("HEALTH_PORT", 8098),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		AppEnv:                getEnvOrDefault("APP_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

var tesseractLangs = regexp.MustCompile(`^[a-z_]+(\+[a-z_]+)*$`)

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueBackend != "redis" && c.QueueBackend != "asynq" {
		return fmt.Errorf("QUEUE_BACKEND must be redis or asynq, got %q", c.QueueBackend)
	}

	if _, err := url.ParseRequestURI(c.TranslatorURL); err != nil {
		return fmt.Errorf("TRANSLATOR_URL is invalid: %w", err)
	}

	if !translate.ValidLanguageCode(c.TargetLanguage) {
		return fmt.Errorf("TARGET_LANGUAGE must be a language code such as fr or pt-BR, got %q", c.TargetLanguage)
	}

	if !tesseractLangs.MatchString(c.OCRLanguage) {
		return fmt.Errorf("OCR_LANGUAGE must be Tesseract language names joined by '+', got %q", c.OCRLanguage)
	}

	if c.OCRBoxLevel != "word" && c.OCRBoxLevel != "symbol" {
		return fmt.Errorf("OCR_BOX_LEVEL must be word or symbol, got %q", c.OCRBoxLevel)
	}

	if c.OCRMinConfidence < 0 || c.OCRMinConfidence > 100 {
		return fmt.Errorf("OCR_MIN_CONFIDENCE must be between 0 and 100, got %v", c.OCRMinConfidence)
	}

	if c.InpaintBackend != "telea" && c.InpaintBackend != "opencv" {
		return fmt.Errorf("INPAINT_BACKEND must be telea or opencv, got %q", c.InpaintBackend)
	}

	if c.InpaintRadius < 1 || c.InpaintRadius > 20 {
		return fmt.Errorf("INPAINT_RADIUS must be between 1 and 20, got %d", c.InpaintRadius)
	}

	if c.BoxPadding < 0 || c.BoxPadding > 32 {
		return fmt.Errorf("BOX_PADDING must be between 0 and 32, got %d", c.BoxPadding)
	}

	if c.FontSize < 6 || c.FontSize > 200 {
		return fmt.Errorf("FONT_SIZE must be between 6 and 200, got %v", c.FontSize)
	}

	if c.TranslatorConcurrency < 1 || c.TranslatorConcurrency > 64 {
		return fmt.Errorf("TRANSLATOR_CONCURRENCY must be between 1 and 64, got %d", c.TranslatorConcurrency)
	}

	if c.TranslatorRPS < 0 {
		return fmt.Errorf("TRANSLATOR_RPS must not be negative, got %v", c.TranslatorRPS)
	}

	if c.JobConcurrency < 1 || c.JobConcurrency > 16 {
		return fmt.Errorf("JOB_CONCURRENCY must be between 1 and 16, got %d", c.JobConcurrency)
	}

	if c.WorkerCount < 1 || c.WorkerCount > 256 {
		return fmt.Errorf("WORKER_COUNT must be between 1 and 256, got %d", c.WorkerCount)
	}

	if c.MaxInFlight < c.WorkerCount {
		return fmt.Errorf("MAX_IN_FLIGHT_FRAMES must be at least WORKER_COUNT (%d), got %d", c.WorkerCount, c.MaxInFlight)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 0 and 65535, got %d", c.HealthPort)
	}

	return nil
}

// Timeout returns ProcessingTimeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
