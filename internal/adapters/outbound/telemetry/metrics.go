package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements outbound.MetricsRecorder using OpenTelemetry.
type Metrics struct {
	refreshDuration metric.Float64Histogram
	refreshes       metric.Int64Counter
	feedChecks      metric.Int64Counter
	actionDuration  metric.Float64Histogram
	ledgerEvents    metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsFromMeter(otel.Meter(meterName))
}

// NewMetricsFromMeter creates the instruments on meter.
func NewMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	refreshDuration, err := meter.Float64Histogram(
		"snapshot_refresh_duration_seconds",
		metric.WithDescription("Time taken by one snapshot refresh"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot_refresh_duration_seconds histogram: %w", err)
	}

	refreshes, err := meter.Int64Counter(
		"snapshot_refreshes_total",
		metric.WithDescription("Snapshot refreshes by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot_refreshes_total counter: %w", err)
	}

	feedChecks, err := meter.Int64Counter(
		"price_feed_checks_total",
		metric.WithDescription("Price feed health checks by feed and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create price_feed_checks_total counter: %w", err)
	}

	actionDuration, err := meter.Float64Histogram(
		"action_duration_seconds",
		metric.WithDescription("Time from submission to outcome for user actions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create action_duration_seconds histogram: %w", err)
	}

	ledgerEvents, err := meter.Int64Counter(
		"ledger_events_total",
		metric.WithDescription("Consumed ledger events by name and handling"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger_events_total counter: %w", err)
	}

	return &Metrics{
		refreshDuration: refreshDuration,
		refreshes:       refreshes,
		feedChecks:      feedChecks,
		actionDuration:  actionDuration,
		ledgerEvents:    ledgerEvents,
	}, nil
}

func (m *Metrics) RecordRefresh(ctx context.Context, duration time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.refreshDuration.Record(ctx, duration.Seconds(), attrs)
	m.refreshes.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordFeedHealth(ctx context.Context, symbol string, healthy bool) {
	m.feedChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feed", symbol),
		attribute.Bool("healthy", healthy),
	))
}

func (m *Metrics) RecordAction(ctx context.Context, kind, outcome string, duration time.Duration) {
	m.actionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordLedgerEvent(ctx context.Context, name, handling string) {
	m.ledgerEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", name),
		attribute.String("handling", handling),
	))
}
