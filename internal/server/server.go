// Package server provides the HTTP intake endpoints for the site deployer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/jonathan/site-deployer/internal/pipeline"
	"github.com/jonathan/site-deployer/internal/server/ratelimit"
)

// Fulfiller handles the two intake payloads
type Fulfiller interface {
	Submit(ctx context.Context, raw []byte) (*pipeline.Response, error)
	Report(ctx context.Context, raw []byte) (*pipeline.Ack, error)
}

// Drainer waits for detached work to finish
type Drainer interface {
	Drain(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	fulfiller    Fulfiller
	background   Drainer
	store        io.Closer
	rateLimiter  *ratelimit.Limiter
	maxBodyBytes int64
	drainTimeout time.Duration
	shutdown     time.Duration
	inflight     sync.WaitGroup
	logger       *slog.Logger
}

const defaultShutdownTimeout = 30 * time.Second

// Config holds server configuration
type Config struct {
	Port         int
	MaxBodyBytes int64
	// DrainTimeout bounds how long shutdown waits for background notifications
	DrainTimeout time.Duration
	// ShutdownTimeout bounds the graceful HTTP shutdown. It is raised to
	// DrainTimeout when that is longer.
	ShutdownTimeout time.Duration
	RateLimit       *ratelimit.Config
}

// New creates a new server instance. background and store may be nil.
func New(cfg Config, fulfiller Fulfiller, background Drainer, store io.Closer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}
	if cfg.DrainTimeout > shutdown {
		shutdown = cfg.DrainTimeout
	}
	s := &Server{
		shutdown:     shutdown,
		fulfiller:    fulfiller,
		background:   background,
		store:        store,
		rateLimiter:  ratelimit.NewLimiter(cfg.RateLimit),
		maxBodyBytes: cfg.MaxBodyBytes,
		drainTimeout: cfg.DrainTimeout,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api-endpoint", s.handleSubmit)
	mux.HandleFunc("POST /evaluation/notify", s.handleReport)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withTracking(s.withRecovery(s.withLogging(s.withRateLimit(s.withBodyLimit(mux))))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      300 * time.Second, // publishing can take minutes
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured port and serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down:
// stop accepting, finish in-flight requests, drain background
// notifications within the drain timeout, and close the store.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	s.rateLimiter.Stop()

	drainCtx := context.Background()
	if s.drainTimeout > 0 {
		var drainCancel context.CancelFunc
		drainCtx, drainCancel = context.WithTimeout(drainCtx, s.drainTimeout)
		defer drainCancel()
	}

	// Handlers still running past Shutdown keep writing to the store
	if err := s.waitInflight(drainCtx); err != nil {
		s.logger.Warn("in-flight requests abandoned", slog.String("error", err.Error()))
	}

	if s.background != nil {
		if err := s.background.Drain(drainCtx); err != nil {
			s.logger.Warn("background notifications abandoned", slog.String("error", err.Error()))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("server stopped")
	return serveErr
}

func (s *Server) waitInflight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withTracking counts running handlers so shutdown can wait for them
func (s *Server) withTracking(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		next.ServeHTTP(w, r)
	})
}

// withRecovery turns handler panics into internal_error responses
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panicked",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))
				s.jsonResponse(w, http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Detail: fmt.Sprint(rec)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

// withBodyLimit caps the request body size
func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	if s.maxBodyBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientID extracts the client identifier from the request.
// X-Forwarded-For is ignored; only the socket peer is trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimitResponse writes a 429 Too Many Requests response
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	retryAfter := int(info.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	s.logger.Warn("rate limit exceeded",
		slog.String("client", s.extractClientID(r)),
		slog.String("path", r.URL.Path),
		slog.Int("limit", info.Limit))
	s.jsonResponse(w, http.StatusTooManyRequests, ErrorResponse{Error: CodeRateLimited})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}
