package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

type serverInstruments struct {
	requests  *telemetry.Counter
	throttled *telemetry.Counter
	latency   *telemetry.Histogram
	inFlight  metric.Int64UpDownCounter
}

func newServerInstruments(meter metric.Meter) (*serverInstruments, error) {
	var (
		in  serverInstruments
		err error
	)
	if in.requests, err = telemetry.NewCounter(meter,
		"http_server_request_total", "HTTP requests served", "{request}"); err != nil {
		return nil, err
	}
	if in.throttled, err = telemetry.NewCounter(meter,
		"http_server_throttled_total", "Requests rejected with 429 by a rate limiter", "{request}"); err != nil {
		return nil, err
	}
	if in.latency, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if in.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return &in, nil
}

func passThrough(c *gin.Context) { c.Next() }

// HTTPMetrics records request count, latency and in-flight requests by method,
// route pattern and status class. It passes requests through when metrics
// are off.
func HTTPMetrics(mp *telemetry.MeterProvider, log *zap.Logger) gin.HandlerFunc {
	if !mp.IsEnabled() {
		return passThrough
	}
	return HTTPMetricsWithMeter(mp.Meter("http.server"), log)
}

// HTTPMetricsWithMeter builds the middleware on an explicit meter
func HTTPMetricsWithMeter(meter metric.Meter, log *zap.Logger) gin.HandlerFunc {
	in, err := newServerInstruments(meter)
	if err != nil {
		log.Warn("HTTP metrics disabled", zap.Error(err))
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		began := time.Now()
		in.inFlight.Add(ctx, 1)
		defer in.inFlight.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		in.latency.RecordDuration(ctx, time.Since(began), attrs...)

		status := c.Writer.Status()
		in.requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusGroup.String(StatusGroup(status)))...)
		if status == http.StatusTooManyRequests {
			in.throttled.Inc(ctx, attrs...)
		}
	}
}

// StatusGroup names the class of a status code, such as "4xx"
func StatusGroup(status int) string {
	if status < 200 || status > 599 {
		return "other"
	}
	return string(rune('0'+status/100)) + "xx"
}
