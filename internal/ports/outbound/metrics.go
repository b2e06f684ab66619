package outbound

import (
	"context"
	"time"
)

// MetricsRecorder records application metrics without tying services to a
// telemetry implementation.
type MetricsRecorder interface {
	// RecordRefresh records one refresh run; status is "published", "discarded" or "failed".
	RecordRefresh(ctx context.Context, duration time.Duration, status string)
	// RecordFeedHealth records the outcome of one feed check.
	RecordFeedHealth(ctx context.Context, symbol string, healthy bool)
	// RecordAction records an action's outcome.
	RecordAction(ctx context.Context, kind, outcome string, duration time.Duration)
	// RecordLedgerEvent records a consumed ledger event and what was done with it.
	RecordLedgerEvent(ctx context.Context, name, handling string)
}
