// Package telemetry records study metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	serviceName    = "cbt-research"
	exportInterval = 30 * time.Second
)

// Metrics holds the study instruments.
type Metrics struct {
	submitted      metric.Int64Counter
	submitFailed   metric.Int64Counter
	dashboardLoads metric.Int64Counter
	engagement     metric.Int64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	submitted, err := meter.Int64Counter("cbt.sessions.submitted",
		metric.WithDescription("Session records stored"))
	if err != nil {
		return nil, fmt.Errorf("create submitted counter: %w", err)
	}
	submitFailed, err := meter.Int64Counter("cbt.sessions.submit_failed",
		metric.WithDescription("Session submissions that failed to store"))
	if err != nil {
		return nil, fmt.Errorf("create submit_failed counter: %w", err)
	}
	dashboardLoads, err := meter.Int64Counter("cbt.dashboard.loads",
		metric.WithDescription("Research dashboard loads"))
	if err != nil {
		return nil, fmt.Errorf("create dashboard counter: %w", err)
	}
	engagement, err := meter.Int64Histogram("cbt.sessions.engagement",
		metric.WithDescription("Engagement of stored sessions"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5))
	if err != nil {
		return nil, fmt.Errorf("create engagement histogram: %w", err)
	}

	return &Metrics{
		submitted:      submitted,
		submitFailed:   submitFailed,
		dashboardLoads: dashboardLoads,
		engagement:     engagement,
	}, nil
}

// Noop returns metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(serviceName))
	return m
}

// SessionSubmitted records a stored session.
func (m *Metrics) SessionSubmitted(ctx context.Context, engagement int) {
	m.submitted.Add(ctx, 1)
	m.engagement.Record(ctx, int64(engagement))
}

// SubmitFailed records a failed submission. reason is "unavailable" or "write".
func (m *Metrics) SubmitFailed(ctx context.Context, reason string) {
	m.submitFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// DashboardLoaded records a dashboard load.
func (m *Metrics) DashboardLoaded(ctx context.Context) {
	m.dashboardLoads.Add(ctx, 1)
}

// Setup returns live metrics exported periodically to w when enabled, or
// no-op metrics otherwise. The shutdown func flushes pending exports.
func Setup(ctx context.Context, enabled bool, w io.Writer) (*Metrics, func(context.Context) error, error) {
	if !enabled {
		return Noop(), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m, err := NewMetrics(mp.Meter(serviceName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	slog.Info("Metrics export enabled", "interval", exportInterval)
	return m, mp.Shutdown, nil
}
