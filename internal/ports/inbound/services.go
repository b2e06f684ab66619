// Package inbound contains the primary/inbound ports.
package inbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// PositionReader serves published snapshots to inbound adapters.
type PositionReader interface {
	Snapshot(account common.Address) (*entity.AccountSnapshot, bool)
	Refresh(ctx context.Context, account common.Address) (*entity.AccountSnapshot, error)
}

// FeedReader serves the latest feed health set.
type FeedReader interface {
	Latest() entity.FeedHealthSet
	EmergencyMode() bool
}

// HealthChecker reports readiness and liveness for deployment health checks.
type HealthChecker interface {
	// IsReady returns true once a first snapshot has been published.
	IsReady() bool

	// IsHealthy returns true while refreshes keep succeeding.
	IsHealthy() bool
}
