package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CycleMetrics holds detection and remediation workflow metrics
type CycleMetrics struct {
	detectionCycles   metric.Int64Counter
	detectionDuration metric.Float64Histogram
	driftDetails      metric.Int64Counter
	remediationRuns   metric.Int64Counter
	rollbackRuns      metric.Int64Counter
}

// NewCycleMetrics creates workflow metrics following OTEL conventions
func NewCycleMetrics() (*CycleMetrics, error) {
	meter := otel.Meter("veer")

	detectionCycles, err := meter.Int64Counter(
		"veer.detection.cycles",
		metric.WithDescription("Number of drift detection cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	detectionDuration, err := meter.Float64Histogram(
		"veer.detection.duration",
		metric.WithDescription("Duration of drift detection cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	driftDetails, err := meter.Int64Counter(
		"veer.drift.details",
		metric.WithDescription("Number of drift details emitted"),
		metric.WithUnit("{detail}"),
	)
	if err != nil {
		return nil, err
	}

	remediationRuns, err := meter.Int64Counter(
		"veer.remediation.runs",
		metric.WithDescription("Number of remediation runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	rollbackRuns, err := meter.Int64Counter(
		"veer.rollback.runs",
		metric.WithDescription("Number of rollback runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &CycleMetrics{
		detectionCycles:   detectionCycles,
		detectionDuration: detectionDuration,
		driftDetails:      driftDetails,
		remediationRuns:   remediationRuns,
		rollbackRuns:      rollbackRuns,
	}, nil
}

// RecordDetection records one detection cycle
func (m *CycleMetrics) RecordDetection(ctx context.Context, environment string, driftDetected bool, details int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("environment", environment),
		attribute.Bool("drift_detected", driftDetected),
	)
	m.detectionCycles.Add(ctx, 1, attrs)
	m.detectionDuration.Record(ctx, seconds, attrs)
	if details > 0 {
		m.driftDetails.Add(ctx, int64(details), metric.WithAttributes(
			attribute.String("environment", environment),
		))
	}
}

// RecordRemediation records one remediation run outcome
func (m *CycleMetrics) RecordRemediation(ctx context.Context, environment, outcome string) {
	m.remediationRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", environment),
		attribute.String("outcome", outcome),
	))
}

// RecordRollback records one rollback run outcome
func (m *CycleMetrics) RecordRollback(ctx context.Context, environment, outcome string) {
	m.rollbackRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", environment),
		attribute.String("outcome", outcome),
	))
}
