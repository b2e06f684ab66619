package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.SnapshotRepository = (*SnapshotRepository)(nil)

// defaultListLimit bounds ListSnapshots when the caller passes no limit.
const defaultListLimit = 100

// SnapshotRepository stores every published snapshot as a row. The
// queryable columns are denormalized from the JSON payload.
type SnapshotRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSnapshotRepository creates a new PostgreSQL snapshot repository.
func NewSnapshotRepository(pool *pgxpool.Pool, logger *slog.Logger) (*SnapshotRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotRepository{
		pool:   pool,
		logger: logger.With("component", "snapshot-repository"),
	}, nil
}

// PublishSnapshot appends the snapshot to the account's history.
func (r *SnapshotRepository) PublishSnapshot(ctx context.Context, snapshot *entity.AccountSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	degraded := snapshot.DegradedAssets()
	if degraded == nil {
		degraded = []string{}
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO account_snapshot (chain_id, account, generation, refreshed_at, is_verified,
		     collateral_ratio_bps, risk_level, emergency_mode, degraded_assets, snapshot)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snapshot.ChainID, accountKey(snapshot.Account), int64(snapshot.Generation), snapshot.RefreshedAt,
		snapshot.IsVerified, snapshot.CollateralRatioBps, string(snapshot.RiskLevel()),
		snapshot.EmergencyMode(), degraded, payload)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	r.logger.Debug("snapshot saved",
		"account", snapshot.Account.Hex(),
		"generation", snapshot.Generation)
	return nil
}

// LatestSnapshot returns the most recently refreshed snapshot, or nil if the
// account has none.
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, chainID int64, account common.Address) (*entity.AccountSnapshot, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT snapshot FROM account_snapshot
		 WHERE chain_id = $1 AND account = $2
		 ORDER BY refreshed_at DESC, id DESC
		 LIMIT 1`,
		chainID, accountKey(account)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return decodeSnapshot(payload)
}

// ListSnapshots returns up to limit snapshots, newest first.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, chainID int64, account common.Address, limit int) ([]*entity.AccountSnapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT snapshot FROM account_snapshot
		 WHERE chain_id = $1 AND account = $2
		 ORDER BY refreshed_at DESC, id DESC
		 LIMIT $3`,
		chainID, accountKey(account), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*entity.AccountSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}

func decodeSnapshot(payload []byte) (*entity.AccountSnapshot, error) {
	var snap entity.AccountSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func accountKey(account common.Address) string {
	return strings.ToLower(account.Hex())
}
