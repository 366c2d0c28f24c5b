// Package http provides the HTTP API for rulesmith.
//
// POST /api/v1/rules/generate runs one document through the pipeline and streams
// every event as it is emitted: NDJSON by default, Server-Sent Events when the
// client sends Accept: text/event-stream. GET /api/v1/runs/:id/events relays a
// run's events from NATS to late subscribers.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/events"
	"github.com/fyrsmithlabs/rulesmith/internal/logging"
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/service"
)

const defaultMaxDocumentBytes = 5 << 20

// Server provides HTTP endpoints for rulesmith.
type Server struct {
	echo     *echo.Echo
	registry service.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxDocumentBytes caps the generate request body.
	MaxDocumentBytes int64

	// Heartbeat is the idle interval between stream keep-alives.
	Heartbeat time.Duration

	Version string
}

// NewServer creates a new HTTP server.
func NewServer(registry service.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if registry == nil || registry.Pipeline() == nil {
		return nil, fmt.Errorf("pipeline service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = events.DefaultHeartbeat
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(registry.Telemetry().Meter(httpInstrumentationName), logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", requestID),
			)

			return err
		}
	})
	e.Use(metrics.MetricsMiddleware())

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// Streaming routes.
const (
	routeGenerate  = "/api/v1/rules/generate"
	routeRunEvents = "/api/v1/runs/:id/events"
)

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST(routeGenerate, s.handleGenerate)
	s.echo.GET(routeRunEvents, s.handleRunEvents)
}

// handleHealth reports liveness and the state of optional collaborators.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: map[string]string{"pipeline": "ok", "events": "disabled"},
	}

	if nc := s.registry.NATS(); nc != nil {
		if nc.IsConnected() {
			resp.Services["events"] = "ok"
		} else {
			resp.Services["events"] = "disconnected"
			resp.Status = "degraded"
		}
	}
	if tel := s.registry.Telemetry(); tel != nil && tel.IsEnabled() {
		health := tel.Health()
		resp.Telemetry = &health
		if health.Degraded {
			resp.Status = "degraded"
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// handleGenerate starts a run and streams its events until the terminal one.
// Disconnecting cancels the run at the next stage boundary.
func (s *Server) handleGenerate(c echo.Context) error {
	req, err := s.bindGenerate(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	doc := orchestrator.NewDocument(req.DocumentID, req.Title, req.Document)

	run, err := s.registry.Pipeline().Start(ctx, doc, "")
	if err != nil {
		if errors.Is(err, service.ErrEmptyDocument) {
			return echo.NewHTTPError(http.StatusBadRequest, "document field is required")
		}
		s.logger.Error("failed to start run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	res := c.Response()
	w := events.WriterFor(c.Request().Header.Get(echo.HeaderAccept), res)
	events.SetStreamHeaders(res.Header(), w)
	res.Header().Set("X-Run-ID", run.ID())
	res.WriteHeader(http.StatusOK)

	logger := s.logger.With(
		zap.String("run.id", run.ID()),
		zap.String("document.id", doc.ID),
		zap.String("request_id", logging.RequestIDFromContext(ctx)),
	)

	if err := events.Stream(ctx, run.Events(), w, s.config.Heartbeat); err != nil {
		// the client is gone; the run stops at the next boundary
		logger.Info("event stream closed early", zap.Error(err))
		go func() {
			result, err := run.Wait()
			logRunEnd(logger, result, err)
		}()
		return nil
	}

	result, err := run.Wait()
	logRunEnd(logger, result, err)
	return nil
}

func (s *Server) bindGenerate(c echo.Context) (GenerateRequest, error) {
	var req GenerateRequest
	httpReq := c.Request()
	httpReq.Body = http.MaxBytesReader(c.Response(), httpReq.Body, s.config.MaxDocumentBytes)

	if strings.HasPrefix(httpReq.Header.Get(echo.HeaderContentType), echo.MIMETextPlain) {
		body, err := io.ReadAll(httpReq.Body)
		if err != nil {
			return req, bodyError(err)
		}
		req.Document = string(body)
		req.Title = c.QueryParam("title")
		req.DocumentID = c.QueryParam("document_id")
	} else if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid generate request", zap.Error(err))
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, bodyError(maxErr)
		}
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Document) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "document field is required")
	}
	return req, nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("document exceeds %d bytes", maxErr.Limit))
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

// handleRunEvents relays a run's events from NATS as they are published.
func (s *Server) handleRunEvents(c echo.Context) error {
	nc := s.registry.NATS()
	if nc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event relay is not configured")
	}

	runID := c.Param("id")
	res := c.Response()
	w := events.NewSSEWriter(res)
	events.SetStreamHeaders(res.Header(), w)
	res.WriteHeader(http.StatusOK)

	err := events.Relay(c.Request().Context(), nc, s.registry.SubjectPrefix(), runID, w, s.config.Heartbeat)
	if err != nil {
		s.logger.Warn("event relay ended", zap.String("run.id", runID), zap.Error(err))
	}
	return nil
}

func logRunEnd(logger *zap.Logger, result *orchestrator.Result, err error) {
	if result == nil {
		logger.Error("run failed", zap.Error(err))
		return
	}
	logger.Info("run finished",
		zap.String("state", string(result.State)),
		zap.Int("rules", len(result.Rules)),
		zap.Int64("events_dropped", result.EventsDropped),
	)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, e.g. for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}
