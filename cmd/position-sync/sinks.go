package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/chainguard/db/migrations"
	"github.com/archon-research/chainguard/db/migrator"
	"github.com/archon-research/chainguard/internal/adapters/outbound/postgres"
	"github.com/archon-research/chainguard/internal/adapters/outbound/redis"
	"github.com/archon-research/chainguard/internal/adapters/outbound/sns"
	"github.com/archon-research/chainguard/internal/config"
	"github.com/archon-research/chainguard/internal/pkg/env"
	"github.com/archon-research/chainguard/internal/ports/outbound"
	"github.com/archon-research/chainguard/internal/services/position_sync"
)

// sinks are the optional downstream consumers of published snapshots.
type sinks struct {
	// events is nil when no notification topic is configured.
	events     outbound.EventSink
	publishers []outbound.SnapshotPublisher
	closers    []func() error
}

func (s *sinks) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *sinks, err error) {
	s := &sinks{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if cfg.SNS.TopicARN != "" {
		notifier, err := newNotifier(ctx, cfg.SNS, logger)
		if err != nil {
			return nil, err
		}
		s.events = notifier
		s.publishers = append(s.publishers, position_sync.EventPublisher(notifier))
		s.closers = append(s.closers, notifier.Close)
		logger.Info("SNS notifications enabled", "topic", cfg.SNS.TopicARN)
	}

	if cfg.Redis.Addr != "" {
		cache, err := redis.NewSnapshotCache(redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       cfg.Redis.TTL,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis cache: %w", err)
		}
		s.closers = append(s.closers, cache.Close)
		if err := cache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		s.publishers = append(s.publishers, cache)
		logger.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	if cfg.Postgres.URL != "" {
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.Postgres.URL))
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		logger.Info("PostgreSQL connected")

		if cfg.Postgres.Migrate {
			if err := migrate(ctx, pool, logger); err != nil {
				return nil, err
			}
		}
		repo, err := postgres.NewSnapshotRepository(pool, logger)
		if err != nil {
			return nil, fmt.Errorf("creating snapshot repository: %w", err)
		}
		s.publishers = append(s.publishers, repo)
	}

	return s, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if err := migrator.New(pool, migrations.FS, logger).ApplyAll(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func newNotifier(ctx context.Context, cfg config.SNSConfig, logger *slog.Logger) (*sns.Notifier, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := awssns.NewFromConfig(awsCfg, func(o *awssns.Options) {
		if endpoint := env.Get("AWS_SNS_ENDPOINT", ""); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	notifier, err := sns.NewNotifier(client, sns.Config{TopicARN: cfg.TopicARN, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("creating SNS notifier: %w", err)
	}
	return notifier, nil
}
