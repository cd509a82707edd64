// Package server exposes crawl sessions over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/output"
	"github.com/jmylchreest/sitescout/internal/session"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

// Config controls the HTTP listener and per-client rate limit.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	RateRequests      int           `mapstructure:"rate_requests" yaml:"rate_requests" validate:"min=1"`
	RateWindow        time.Duration `mapstructure:"rate_window" yaml:"rate_window" validate:"gt=0"`
	TrustProxy        bool          `mapstructure:"trust_proxy" yaml:"trust_proxy"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes      int64         `mapstructure:"-" yaml:"-"`
}

// DefaultConfig listens on :5000 and allows three crawl requests per client
// every thirty seconds.
func DefaultConfig() Config {
	return Config{
		Addr:              ":5000",
		RateRequests:      3,
		RateWindow:        30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		MaxBodyBytes:      64 << 10,
	}
}

// Registry is the session surface the server needs. *session.Registry
// satisfies it.
type Registry interface {
	Start(seed string) (string, error)
	Progress(id string) (session.Progress, error)
	Result(id string) (*sitescout.Result, error)
	Active() int
}

// Server routes HTTP requests to a Registry.
type Server struct {
	config   Config
	registry Registry
	limiter  *clientLimiter
	validate *validator.Validate
	mux      *http.ServeMux
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New wires the routes.
func New(registry Registry, cfg Config, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s := &Server{
		config:   cfg,
		registry: registry,
		validate: validator.New(),
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newClientLimiter(cfg.RateRequests, cfg.RateWindow, s.now)
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /crawl", s.handleCrawl)
	s.mux.HandleFunc("GET /progress/{id}", s.handleProgress)
	s.mux.HandleFunc("GET /download/{id}/{file}", s.handleDownload)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         sitescout.Version(),
		"active_sessions": s.registry.Active(),
		"timestamp":       s.now().UTC(),
	})
}

type crawlRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

type crawlResponse struct {
	Message   string `json:"message"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r, s.config.TrustProxy)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "Rate limit exceeded",
			"message": fmt.Sprintf("Maximum %d requests per %s", s.config.RateRequests, s.config.RateWindow),
		})
		return
	}

	var req crawlRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	id, err := s.registry.Start(req.URL)
	switch {
	case errors.Is(err, session.ErrMaxSessions):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, crawlResponse{
		Message:   "Crawling started",
		URL:       req.URL,
		SessionID: id,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Progress(r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session expired or not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// downloads maps file names to export formats.
var downloads = map[string]output.Format{
	"sitemap.xml": output.FormatSitemap,
	"urls.csv":    output.FormatCSV,
	"urls.xlsx":   output.FormatXLSX,
	"urls.json":   output.FormatJSON,
	"urls.jsonl":  output.FormatJSONL,
	"urls.yaml":   output.FormatYAML,
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	format, ok := downloads[file]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown download "+file)
		return
	}

	result, err := s.registry.Result(r.PathValue("id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found. Please generate a sitemap first.")
		return
	case errors.Is(err, session.ErrRunning):
		writeError(w, http.StatusConflict, "Crawl still running")
		return
	case err != nil:
		writeError(w, http.StatusNotFound, "No data: "+err.Error())
		return
	}

	var buf bytes.Buffer
	if err := output.WriteRecords(&buf, format, result.Records(), output.WithLastMod(result.CompletedAt)); err != nil {
		logger.Error("export failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
