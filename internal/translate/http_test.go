package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
)

func newTestTranslator(t *testing.T, handler http.HandlerFunc, retries int) *HTTPTranslator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr, err := NewHTTPTranslator(&HTTPConfig{
		BaseURL:        srv.URL,
		APIKey:         "secret",
		MaxRetries:     retries,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPTranslator: %v", err)
	}
	return tr
}

func TestHTTPTranslatorTranslates(t *testing.T) {
	tr := newTestTranslator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Q != "HELLO" || req.Target != "fr" || req.Source != "auto" || req.APIKey != "secret" {
			t.Errorf("unexpected payload %+v", req)
		}
		json.NewEncoder(w).Encode(translateResponse{TranslatedText: "BONJOUR"})
	}, 0)

	got, err := tr.Translate(context.Background(), "HELLO", "fr")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "BONJOUR" {
		t.Fatalf("Translate = %q, want BONJOUR", got)
	}
}

func TestHTTPTranslatorSkipsEmptyText(t *testing.T) {
	var calls int32
	tr := newTestTranslator(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, 0)

	got, err := tr.Translate(context.Background(), "   ", "fr")
	if err != nil || got != "" {
		t.Fatalf("Translate(blank) = %q, %v", got, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("backend called %d times for blank text", calls)
	}
}

func TestHTTPTranslatorErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		retries  int
		wantCode apperrors.ErrorCode
		wantHits int32
	}{
		{"unsupported language", http.StatusBadRequest, `{"error":"xx is not supported"}`, 2, apperrors.ErrorUnsupportedLanguage, 1},
		{"target code named", http.StatusBadRequest, `{"error":"Invalid target: xx"}`, 2, apperrors.ErrorUnsupportedLanguage, 1},
		{"bad request without language", http.StatusBadRequest, `{"error":"invalid request"}`, 2, apperrors.ErrorTranslationUnavailable, 1},
		{"server error retried", http.StatusInternalServerError, `boom`, 2, apperrors.ErrorTranslationUnavailable, 3},
		{"rate limited retried", http.StatusTooManyRequests, `slow down`, 1, apperrors.ErrorTranslationUnavailable, 2},
		{"forbidden not retried", http.StatusForbidden, `{"error":"bad key"}`, 3, apperrors.ErrorTranslationUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			tr := newTestTranslator(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, tt.retries)

			got, err := tr.Translate(context.Background(), "HELLO", "xx")
			if err == nil {
				t.Fatalf("expected error, got %q", got)
			}
			if got != "" {
				t.Errorf("source text leaked as translation: %q", got)
			}
			if code := apperrors.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if n := atomic.LoadInt32(&hits); n != tt.wantHits {
				t.Errorf("backend hit %d times, want %d", n, tt.wantHits)
			}
		})
	}
}

func TestHTTPTranslatorRecoversAfterTransientFailure(t *testing.T) {
	var hits int32
	tr := newTestTranslator(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(translateResponse{TranslatedText: "BONJOUR"})
	}, 2)

	got, err := tr.Translate(context.Background(), "HELLO", "fr")
	if err != nil || got != "BONJOUR" {
		t.Fatalf("Translate = %q, %v", got, err)
	}
}

func TestHTTPTranslatorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := NewHTTPTranslator(&HTTPConfig{BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTPTranslator: %v", err)
	}
	_, err = tr.Translate(context.Background(), "HELLO", "fr")
	if apperrors.CodeOf(err) != apperrors.ErrorTranslationUnavailable {
		t.Fatalf("expected TRANSLATION_UNAVAILABLE, got %v", err)
	}
}

func TestSupportedLanguagesAndValidateTarget(t *testing.T) {
	var hits int32
	tr := newTestTranslator(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/languages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]languageEntry{
			{Code: "en", Name: "English", Targets: []string{"fr", "de"}},
			{Code: "fr", Name: "French", Targets: []string{"en"}},
		})
	}, 0)

	ctx := context.Background()
	if err := ValidateTarget(ctx, tr, "fr"); err != nil {
		t.Fatalf("fr rejected: %v", err)
	}
	if err := ValidateTarget(ctx, tr, "de"); err != nil {
		t.Fatalf("de rejected: %v", err)
	}
	err := ValidateTarget(ctx, tr, "ja")
	if apperrors.CodeOf(err) != apperrors.ErrorUnsupportedLanguage {
		t.Fatalf("ja: expected UNSUPPORTED_LANGUAGE, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("language list fetched %d times, want 1", hits)
	}
}

func TestValidLanguageCode(t *testing.T) {
	tests := map[string]bool{
		"fr":       true,
		"pt-BR":    true,
		"zh-Hant":  true,
		"fra":      true,
		"":         false,
		"French":   false,
		"fr_FR":    false,
		"f":        false,
		"../../fr": false,
	}
	for code, want := range tests {
		if got := ValidLanguageCode(code); got != want {
			t.Errorf("ValidLanguageCode(%q) = %v, want %v", code, got, want)
		}
	}
}
