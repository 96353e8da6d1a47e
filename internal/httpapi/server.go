// Package httpapi is the webhook dispatcher: it decodes provider callbacks,
// hands them to the ingest service and maps outcomes to HTTP responses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"memoryagent/internal/domain"
	"memoryagent/internal/ingest"
	"memoryagent/internal/metrics"
)

const serviceName = "Memory Agent"

// Processor handles one decoded webhook "data" object.
type Processor interface {
	ProcessMessage(ctx context.Context, sourceName string, payload map[string]any) (*ingest.Result, error)
}

type Config struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	Processor    Processor
	Sources      domain.SourceStore        // optional; checked before the body is decoded
	Metrics      *metrics.MetricsCollector // nil disables /metrics and request metrics
	MetricsPath  string
	Version      string
	Logger       *slog.Logger
	Now          func() time.Time
}

type Server struct {
	addr        string
	maxBody     int64
	processor   Processor
	sources     domain.SourceStore
	metrics     *metrics.MetricsCollector
	metricsPath string
	version     string
	logger      *slog.Logger
	now         func() time.Time
	server      *http.Server
}

func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		maxBody:     cfg.MaxBodyBytes,
		processor:   cfg.Processor,
		sources:     cfg.Sources,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		version:     cfg.Version,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	webhook := s.instrument("webhook", s.handleWebhook)
	for _, prefix := range []string{"/webhook", "/api/v1/webhook"} {
		mux.HandleFunc("POST "+prefix+"/{source}", webhook)
		mux.HandleFunc("POST "+prefix+"/{source}/{$}", webhook)
	}

	health := s.instrument("health", s.handleHealth)
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /health/{$}", health)

	if s.metrics != nil {
		mux.HandleFunc("GET "+s.metricsPath, s.metrics.Handler())
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("source")
	log := s.logger.With("source", name)

	if s.sources != nil {
		src, err := s.sources.FindActiveSource(r.Context(), name)
		if err != nil {
			s.internalError(w, log, err)
			return
		}
		if src == nil {
			s.notFound(w, log, name)
			return
		}
	}

	payload, err := decodeBody(w, r, s.maxBody)
	if err != nil {
		log.Warn("webhook body rejected", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid data",
			"details": err.Error(),
		})
		return
	}

	result, err := s.processor.ProcessMessage(r.Context(), name, payload)
	switch {
	case err == nil:
		log.Info("webhook processed", "status", result.Status, "reply_sent", result.ReplySent)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "Message processed successfully",
			"result":  result,
		})
	case errors.Is(err, domain.ErrSourceNotFound):
		s.notFound(w, log, name)
	case errors.Is(err, domain.ErrUnsupportedProvider), errors.Is(err, domain.ErrInvalidPayload):
		log.Warn("webhook rejected", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
	default:
		s.internalError(w, log, err)
	}
}

func (s *Server) notFound(w http.ResponseWriter, log *slog.Logger, name string) {
	log.Warn("webhook for unknown or inactive source")
	writeJSON(w, http.StatusNotFound, map[string]any{
		"status":  "error",
		"message": fmt.Sprintf("Source '%s' not found or inactive", name),
	})
}

func (s *Server) internalError(w http.ResponseWriter, log *slog.Logger, err error) {
	log.Error("webhook failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status":  "error",
		"message": "Internal server error",
		"details": err.Error(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": s.now().Format(time.RFC3339Nano),
		"version":   s.version,
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveRequest(route, rec.status, time.Since(start))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
