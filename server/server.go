// Package server implements C11: the Echo router and component lifecycle
// owner. Routes validate inputs, translate them to component calls, and
// shape responses; a readiness gate blocks teardown until in-flight
// requests drain or shutdown_deadline elapses.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	httpkit "codeintel.dev/http"
	"codeintel.dev/codeerr"
	"codeintel.dev/health"
	"codeintel.dev/registry"
	"codeintel.dev/sse"
)

// Server owns the Echo instance and the readiness gate described in §4.11.
type Server struct {
	echo *echo.Echo
	reg  *registry.Registry
	mon  *health.Monitor
	sse  *sse.Manager
	log  *logrus.Logger

	inflight sync.WaitGroup
	draining chan struct{}
	once     sync.Once
}

// Config configures the Echo instance.
type Config struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// New builds the Server and registers every route from §6.
func New(cfg Config, reg *registry.Registry, mon *health.Monitor, sseManager *sse.Manager, log *logrus.Logger) *Server {
	s := &Server{reg: reg, mon: mon, sse: sseManager, log: log, draining: make(chan struct{})}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpkit.NewErrorHandler(log)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	}
	e.Use(s.readinessGate)

	e.POST("/tools/analyze-code", s.handleAnalyzeCode)
	e.POST("/tools/create-adr", s.handleCreateADR)
	e.POST("/tools/debug-issue", s.handleDebugIssue)
	e.POST("/tools/crawl-docs", s.handleCrawlDocs)
	e.POST("/tools/search-knowledge", s.handleSearchKnowledge)
	e.GET("/tools/get-task/:id", s.handleGetTask)

	e.GET("/adrs", s.handleListADRs)
	e.GET("/adrs/:id", s.handleGetADR)
	e.PATCH("/adrs/:id", s.handleTransitionADR)

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/mcp/sse", sseManager.HandleStream)
	e.POST("/mcp/messages/:session", sseManager.HandleMessage)

	s.echo = e
	return s
}

// readinessGate tracks in-flight requests so Shutdown can wait for them to
// drain, per §4.11's "readiness gate until all in-flight requests drain or
// a shutdown deadline elapses". New requests are rejected once draining.
func (s *Server) readinessGate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		select {
		case <-s.draining:
			return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
		default:
		}
		s.inflight.Add(1)
		defer s.inflight.Done()
		return next(c)
	}
}

// Start runs the HTTP listener; blocks until Shutdown stops it.
func (s *Server) Start(port int) error {
	return httpkit.StartServer(s.echo, httpkit.ServerConfig{Port: port}, s.log)
}

// Shutdown implements §5's process shutdown sequencing: stop accepting new
// HTTP requests, close SSE sessions, wait up to deadline for in-flight HTTP
// requests, then the caller runs component Cleanup in reverse order (task
// workers are waited for there, in TaskManager's Cleanup).
func (s *Server) Shutdown(ctx context.Context, deadline time.Duration) error {
	s.once.Do(func() { close(s.draining) })

	_ = s.sse.Cleanup(ctx)

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(deadline):
		s.log.Warn("shutdown deadline elapsed with requests still in flight")
	}

	return httpkit.GracefulShutdown(s.echo, deadline, s.log)
}

// Echo exposes the underlying instance for tests that want to drive
// requests directly through httptest.
func (s *Server) Echo() *echo.Echo { return s.echo }

func bindJSON(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return codeerr.New(codeerr.ValidationFailed, "malformed request body")
	}
	return nil
}
