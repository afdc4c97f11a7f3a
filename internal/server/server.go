package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/graph"
	"github.com/vk/framegraph/internal/introspect"
	"github.com/vk/framegraph/internal/metrics"
)

//go:embed static/index.html
var indexHTML []byte

// DefaultStreamInterval is how often /ws pushes a snapshot.
const DefaultStreamInterval = 500 * time.Millisecond

const shutdownTimeout = 5 * time.Second

// Controller is the part of the scheduler the server drives.
type Controller interface {
	introspect.Source
	Graph() *graph.Graph
	Pool() *buffer.Pool
	ResetNode(name string) error
}

// Config configures a Server.
type Config struct {
	// Port to listen on. Zero picks a free port.
	Port int
	// StreamInterval is the /ws push period.
	StreamInterval time.Duration
	// Registry backs /metrics. Nil builds one with metrics.NewRegistry.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Server is the HTTP introspection server.
type Server struct {
	ctrl     Controller
	router   *gin.Engine
	logger   *slog.Logger
	interval time.Duration
	port     int
}

// New builds the router. Nothing listens until Run.
func New(ctrl Controller, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = DefaultStreamInterval
	}
	reg := cfg.Registry
	if reg == nil {
		var err error
		if reg, err = metrics.NewRegistry(ctrl); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	s := &Server{
		ctrl:     ctrl,
		logger:   cfg.Logger,
		interval: cfg.StreamInterval,
		port:     cfg.Port,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/", s.index)
	router.GET("/health", s.health)
	router.GET("/snapshot", s.snapshot)
	router.GET("/nodeList", s.nodeList)
	router.GET("/props", s.graphProps)
	router.GET("/node/:name", s.node)
	router.GET("/node/:name/props", s.nodeProps)
	router.PUT("/node/:name/props/:prop", s.setNodeProp)
	router.GET("/node/:name/stream/:stream", s.stream)
	router.GET("/node/:name/pin/:pin", s.pin)
	router.POST("/node/:name/reset", s.resetNode)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/ws", s.live)

	s.router = router
	return s, nil
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Introspection server starting.", "address", fmt.Sprintf("http://%s/", ln.Addr()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("Introspection server failed unexpectedly.", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down introspection server.")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Introspection server shutdown failed.", "error", err)
		return err
	}
	s.logger.Debug("Introspection server shut down gracefully.")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request handled.",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"remote_addr", c.ClientIP(),
		)
	}
}
