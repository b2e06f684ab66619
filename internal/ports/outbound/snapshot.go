package outbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// SnapshotPublisher receives every snapshot the synchronizer publishes.
// Publishers must not mutate the snapshot.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot *entity.AccountSnapshot) error
}

// SnapshotCache stores the latest snapshot per account for readers outside
// the process.
type SnapshotCache interface {
	SnapshotPublisher
	GetSnapshot(ctx context.Context, chainID int64, account common.Address) (*entity.AccountSnapshot, error)
	Close() error
}

// SnapshotRepository keeps the history of published snapshots.
type SnapshotRepository interface {
	SnapshotPublisher
	LatestSnapshot(ctx context.Context, chainID int64, account common.Address) (*entity.AccountSnapshot, error)
	ListSnapshots(ctx context.Context, chainID int64, account common.Address, limit int) ([]*entity.AccountSnapshot, error)
}
