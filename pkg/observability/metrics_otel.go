package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies the tracer and meter of this module
const InstrumentationName = "github.com/platinummonkey/tenantguard"

// Tracer returns the module tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	checkDuration      metric.Float64Histogram
	resolutionDuration metric.Float64Histogram
	storeDuration      metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.checkDuration, err = meter.Float64Histogram(
		"tenantguard.permission.check.duration",
		metric.WithDescription("Permission check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	m.resolutionDuration, err = meter.Float64Histogram(
		"tenantguard.tenant.resolution.duration",
		metric.WithDescription("Tenant resolution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution duration histogram: %w", err)
	}

	m.storeDuration, err = meter.Float64Histogram(
		"tenantguard.store.duration",
		metric.WithDescription("Membership store call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	return m, nil
}

// RecordCheckDuration records how long one permission check took
func (m *OTelMetrics) RecordCheckDuration(ctx context.Context, d time.Duration, allowed bool, reason string) {
	if m == nil {
		return
	}
	m.checkDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("reason", reason),
	))
}

// RecordResolutionDuration records how long one tenant resolution took
func (m *OTelMetrics) RecordResolutionDuration(ctx context.Context, d time.Duration, source, outcome string) {
	if m == nil {
		return
	}
	m.resolutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordStoreDuration records how long one store call took
func (m *OTelMetrics) RecordStoreDuration(ctx context.Context, d time.Duration, operation string, failed bool) {
	if m == nil {
		return
	}
	m.storeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("error", failed),
	))
}
