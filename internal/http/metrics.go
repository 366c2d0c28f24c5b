package http

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/events"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/rulesmith/internal/http"

// Response framings reported on request metrics.
const (
	framingSSE    = "sse"
	framingNDJSON = "ndjson"
	framingUnary  = "unary"
)

// HTTPMetrics records request counts and latency by route and framing, plus the
// number of event streams held open.
type HTTPMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	streams  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTP metrics on meter, or on the global meter provider
// when meter is nil.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &HTTPMetrics{logger: logger}
	var err error

	if m.requests, err = meter.Int64Counter(
		"rulesmith.http.requests_total",
		metric.WithDescription("HTTP requests by method, route, status and response framing"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	// a streamed generate request lives as long as its run
	if m.duration, err = meter.Float64Histogram(
		"rulesmith.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration; streamed requests span the whole run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	); err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	if m.streams, err = meter.Int64UpDownCounter(
		"rulesmith.http.open_streams",
		metric.WithDescription("Event streams currently held open, by route"),
		metric.WithUnit("{stream}"),
	); err != nil {
		logger.Warn("failed to create open streams gauge", zap.Error(err))
	}

	return m
}

// MetricsMiddleware returns an Echo middleware that records request metrics.
// Streaming routes are counted as open until their handler returns.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			route := routeLabel(c.Path())

			streaming := isStreamingRoute(route)
			if streaming && m.streams != nil {
				m.streams.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
				defer m.streams.Add(ctx, -1, metric.WithAttributes(attribute.String("route", route)))
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", c.Response().Status),
				attribute.String("framing", framingOf(c.Response().Header().Get(echo.HeaderContentType))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// routeLabel keeps route patterns as labels so run IDs never reach them.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

func isStreamingRoute(route string) bool {
	return route == routeGenerate || route == routeRunEvents
}

func framingOf(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, events.ContentTypeSSE):
		return framingSSE
	case strings.HasPrefix(contentType, events.ContentTypeNDJSON):
		return framingNDJSON
	default:
		return framingUnary
	}
}
