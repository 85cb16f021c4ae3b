// Package api serves the diagram service over HTTP with gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rendis/diagrammer/internal/service"
	"github.com/rendis/diagrammer/internal/store"
	"github.com/rendis/diagrammer/internal/streaming"
)

// HTTPRecorder receives per-request metrics.
type HTTPRecorder interface {
	HTTPRequest(route string, code int, d time.Duration)
}

// RunReader replays the recorded events of a run.
type RunReader interface {
	ReplayEvents(ctx context.Context, runID string) (*store.RunHistory, error)
}

// Deps are the collaborators of a Server. Everything but Service is optional.
type Deps struct {
	Service  *service.Service
	Hub      streaming.EventHub
	Runs     RunReader
	Metrics  http.Handler
	Recorder HTTPRecorder
	Ready    func(ctx context.Context) error
	Logger   *slog.Logger
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	Provider       string
	CORSOrigins    []string
	APIKeyHeader   string
	AllowedAPIKeys []string
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	opts   Options
	engine *gin.Engine

	done      chan struct{}
	closeOnce sync.Once
}

// New builds the router.
func New(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	s := &Server{deps: deps, opts: opts, engine: gin.New(), done: make(chan struct{})}
	s.routes()
	return s
}

// FromRuntime wires a Server to every handle a Runtime exposes.
func FromRuntime(rt *service.Runtime, version string) *Server {
	deps := Deps{
		Service:  rt.Service,
		Hub:      rt.Hub,
		Metrics:  rt.Metrics.Handler(),
		Recorder: rt.Metrics,
		Ready:    rt.Ready,
		Logger:   rt.Logger,
	}
	if rt.Store != nil {
		deps.Runs = rt.Store
	}
	return New(deps, Options{
		Version:        version,
		Provider:       rt.Generator.Name(),
		CORSOrigins:    rt.Config.CORSOrigins,
		APIKeyHeader:   rt.Config.APIKeyHeader,
		AllowedAPIKeys: rt.Config.AllowedAPIKeys,
	})
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), otelgin.Middleware("diagrammer"), processTime(), requestContext(s.deps.Logger, s.deps.Recorder), cors(s.opts.CORSOrigins, s.opts.APIKeyHeader))

	r.GET("/health", s.health)
	r.GET("/health/live", s.live)
	r.GET("/health/ready", s.ready)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	v1 := r.Group("/api/v1", apiKey(s.opts.APIKeyHeader, s.opts.AllowedAPIKeys))
	v1.POST("/diagram/generate", s.generate)
	v1.POST("/diagram/assistant", s.assistant)
	v1.POST("/diagram/validate", s.validate)
	v1.GET("/kinds", s.kinds)
	v1.GET("/conversations/:token", s.conversation)
	v1.GET("/runs/:id", s.run)
	v1.GET("/events", s.events)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Close ends open event streams. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// ListenAndServe serves the router on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	return ListenAndServe(ctx, addr, s.engine, grace, s.deps.Logger, s.Close)
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully within grace. onShutdown hooks run when shutdown begins, before
// in-flight requests are drained.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, grace time.Duration, logger *slog.Logger, onShutdown ...func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never end on their own.
	for _, f := range onShutdown {
		srv.RegisterOnShutdown(f)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
