// Package http serves the worker's operational endpoints: health, Prometheus
// metrics, scheduled job status and read access to the Redis projections.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/redis"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/scheduler"
	"github.com/classpoints/classpoints-hub/internal/interface/http/handlers"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":9090".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Version is reported by /healthz.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobControl exposes scheduler state and manual runs.
// *scheduler.Scheduler satisfies it.
type JobControl interface {
	ListJobs() []scheduler.JobInfo
	GetHistory(limit int) []scheduler.JobResult
	RunNow(ctx context.Context, name string) (*scheduler.JobResult, error)
}

// RankingReader reads published rankings. *redis.RankingCache satisfies it.
type RankingReader interface {
	Page(ctx context.Context, classID string, page, pageSize int) (*redis.RankingPage, error)
	Meta(ctx context.Context, classID string) (*redis.RankingMeta, error)
}

// DigestReader reads stored daily digests. *redis.Cache satisfies it.
type DigestReader interface {
	Get(ctx context.Context, key string, dest any) error
}

// Dependencies are optional except Health; missing ones disable their routes.
type Dependencies struct {
	Health   handlers.HealthChecker
	Gatherer prometheus.Gatherer
	Jobs     JobControl
	Rankings RankingReader
	Digests  DigestReader
	Logger   *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the ops HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a server. Call Start to listen.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker(config.Version)
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("ops_http")),
	}
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.deps.Jobs != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/history", s.handleJobHistory)
			r.Post("/{name}/run", s.handleRunJob)
		})
	}

	r.Route("/classes/{classID}", func(r chi.Router) {
		r.Get("/ranking", s.handleRanking)
		r.Get("/digests/{date}", s.handleDigest)
	})
	return r
}

// loggingMiddleware logs every request at debug level and failures at warn.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := s.logger.With(logger.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Latency(time.Since(start)),
		}
		if ww.Status() >= http.StatusInternalServerError {
			reqLog.Warn("http request failed", fields...)
			return
		}
		reqLog.Debug("http request", fields...)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// jobView and resultView flatten scheduler state for JSON; errors become strings.
type jobView struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Schedule    string      `json:"schedule"`
	LastRun     *time.Time  `json:"last_run,omitempty"`
	NextRun     time.Time   `json:"next_run"`
	RunCount    int64       `json:"run_count"`
	FailCount   int64       `json:"fail_count"`
	LastResult  *resultView `json:"last_result,omitempty"`
}

type resultView struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Manual     bool      `json:"manual,omitempty"`
}

func viewResult(r scheduler.JobResult) resultView {
	v := resultView{
		Job:        r.JobName,
		StartedAt:  r.StartedAt,
		DurationMs: r.Duration.Milliseconds(),
		Success:    r.Success,
		Manual:     r.Manual,
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return v
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.deps.Jobs.ListJobs()
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = jobView{
			Name:        j.Name,
			Description: j.Description,
			Schedule:    j.Schedule,
			NextRun:     j.NextRun,
			RunCount:    j.RunCount,
			FailCount:   j.FailCount,
		}
		if !j.LastRun.IsZero() {
			last := j.LastRun
			views[i].LastRun = &last
		}
		if j.LastResult != nil {
			r := viewResult(*j.LastResult)
			views[i].LastResult = &r
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	history := s.deps.Jobs.GetHistory(queryInt(r, "limit", 50))
	views := make([]resultView, len(history))
	for i, h := range history {
		views[i] = viewResult(h)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleRunJob runs a job synchronously. A failed run still answers 200;
// the outcome is in the returned result.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, http.StatusNotFound, "job_not_found", fmt.Sprintf("no job named %s", name))
		return
	}
	if res == nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResult(*res))
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rankings == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "projection_disabled", "ranking projection is not enabled")
		return
	}
	classID := chi.URLParam(r, "classID")

	page, err := s.deps.Rankings.Page(r.Context(), classID, queryInt(r, "page", 1), queryInt(r, "page_size", 20))
	if err != nil {
		if errors.Is(err, redis.ErrInvalidPageParams) {
			writeJSONError(w, http.StatusBadRequest, "invalid_page", err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}
	if page.TotalCount == 0 {
		writeJSONError(w, http.StatusNotFound, "not_published", fmt.Sprintf("no ranking published for class %s", classID))
		return
	}

	meta, err := s.deps.Rankings.Meta(r.Context(), classID)
	if err != nil && !errors.Is(err, redis.ErrRankingEmpty) {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ranking": page, "meta": meta})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Digests == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "projection_disabled", "digests are not enabled")
		return
	}
	classID, date := chi.URLParam(r, "classID"), chi.URLParam(r, "date")

	var digest json.RawMessage
	if err := s.deps.Digests.Get(r.Context(), redis.DigestKey(classID, date), &digest); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no digest for class %s on %s", classID, date))
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
	writeJSONError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting ops server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every JSON response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
