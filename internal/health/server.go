/**
 * Health endpoints for VideoTranslate Worker
 *
 *   GET /health  liveness, always 200 while the process runs
 *   GET /ready   runs every dependency check, 503 if any fails
 *   GET /stats   queue and connection pool statistics
 *   GET /jobs/{id} persisted job status, when a job lookup is registered
 */

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/storage"
)

// CheckFunc reports whether one dependency is usable
type CheckFunc func(ctx context.Context) error

// StatsFunc returns a statistics section for /stats
type StatsFunc func(ctx context.Context) (interface{}, error)

// JobFunc looks up a persisted job
type JobFunc func(ctx context.Context, jobID string) (map[string]interface{}, error)

// Server serves the worker's health endpoints
type Server struct {
	started time.Time
	timeout time.Duration
	logger  *logging.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
	stats  map[string]StatsFunc
	job    JobFunc

	srv *http.Server
}

// NewServer creates a health server listening on port. Checks run with a 3s timeout.
func NewServer(port int) *Server {
	s := &Server{
		started: time.Now(),
		timeout: 3 * time.Second,
		logger:  logging.NewLogger("Health"),
		checks:  map[string]CheckFunc{},
		stats:   map[string]StatsFunc{},
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// AddCheck registers a readiness check
func (s *Server) AddCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// AddStats registers a statistics section
func (s *Server) AddStats(name string, stats StatsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name] = stats
}

// SetJobLookup enables GET /jobs/{id}
func (s *Server) SetJobLookup(fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = fn
}

// Router returns the endpoint routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	return r
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Health endpoint listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health endpoint stopped", "error", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Millis int64  `json:"ms"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make([]CheckFunc, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	results := make([]checkResult, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			err := checks[i](ctx)
			results[i] = checkResult{Name: names[i], OK: err == nil, Millis: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i)
	}
	wg.Wait()

	status, code := "ready", http.StatusOK
	for _, res := range results {
		if !res.OK {
			status, code = "not_ready", http.StatusServiceUnavailable
			s.logger.Warn("Readiness check failed", "check", res.Name, "error", res.Error)
		}
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := make(map[string]StatsFunc, len(s.stats))
	for k, v := range s.stats {
		stats[k] = v
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	response := map[string]interface{}{}
	for name, fn := range stats {
		value, err := fn(ctx)
		if err != nil {
			response[name] = map[string]string{"error": err.Error()}
			continue
		}
		response[name] = value
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lookup := s.job
	s.mu.RUnlock()
	if lookup == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job persistence is not enabled"})
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id must be a UUID"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	job, err := lookup(ctx, id)
	switch {
	case errors.Is(err, storage.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		s.logger.Warn("Job lookup failed", "job_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
