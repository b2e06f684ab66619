// snapshot_cache.go provides an in-memory SnapshotCache.
//
// Mirrors the Redis cache semantics for tests. Data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.SnapshotCache = (*SnapshotCache)(nil)

// SnapshotCache keeps the newest snapshot per chain and account.
type SnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[string]*entity.AccountSnapshot
	published int
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{snapshots: make(map[string]*entity.AccountSnapshot)}
}

func (c *SnapshotCache) key(chainID int64, account common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(account.Hex()))
}

// PublishSnapshot stores a copy of s unless a newer generation is already cached.
func (c *SnapshotCache) PublishSnapshot(_ context.Context, s *entity.AccountSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(s.ChainID, s.Account)
	if cur, ok := c.snapshots[k]; ok && cur.Generation > s.Generation {
		return nil
	}
	c.snapshots[k] = s.Clone()
	c.published++
	return nil
}

// GetSnapshot returns the cached snapshot, or nil when there is none.
func (c *SnapshotCache) GetSnapshot(_ context.Context, chainID int64, account common.Address) (*entity.AccountSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[c.key(chainID, account)]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// PublishCount returns how many snapshots were stored.
func (c *SnapshotCache) PublishCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

func (c *SnapshotCache) Close() error {
	return nil
}
