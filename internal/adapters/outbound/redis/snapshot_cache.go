// Package redis provides a Redis implementation of the SnapshotCache port.
//
// Each account's latest snapshot is stored as a hash under
// prefix:chainID:account:snapshot with a generation field, so a slow writer
// can never overwrite a newer snapshot. Entries expire after the configured TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.SnapshotCache = (*SnapshotCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long a snapshot lives without being replaced
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns defaults for the snapshot cache.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		TTL:       24 * time.Hour,
		KeyPrefix: "chainguard",
	}
}

// storeNewer writes the snapshot only when its generation is at least the
// stored one. Returns 1 when written.
var storeNewer = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "generation")
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "generation", ARGV[1], "data", ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

// SnapshotCache is a Redis implementation of outbound.SnapshotCache.
type SnapshotCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewSnapshotCache creates a Redis snapshot cache.
func NewSnapshotCache(cfg Config, logger *slog.Logger) (*SnapshotCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &SnapshotCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-snapshot-cache"),
	}, nil
}

// Ping checks the Redis connection.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

func (c *SnapshotCache) key(chainID int64, account common.Address) string {
	return fmt.Sprintf("%s:%d:%s:snapshot", c.keyPrefix, chainID, strings.ToLower(account.Hex()))
}

// PublishSnapshot stores s unless a newer generation is already cached.
func (c *SnapshotCache) PublishSnapshot(ctx context.Context, s *entity.AccountSnapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := c.key(s.ChainID, s.Account)
	written, err := storeNewer.Run(ctx, c.client, []string{key}, s.Generation, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	if written == 0 {
		c.logger.Debug("cached snapshot is newer, skipped", "key", key, "generation", s.Generation)
	}
	return nil
}

// GetSnapshot returns the cached snapshot, or nil when none is cached.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, chainID int64, account common.Address) (*entity.AccountSnapshot, error) {
	data, err := c.client.HGet(ctx, c.key(chainID, account), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var s entity.AccountSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// DeleteSnapshot removes the cached snapshot for account.
func (c *SnapshotCache) DeleteSnapshot(ctx context.Context, chainID int64, account common.Address) error {
	if err := c.client.Del(ctx, c.key(chainID, account)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
