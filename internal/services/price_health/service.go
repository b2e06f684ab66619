package price_health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/blockchain"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/chainguard/internal/services/price_health"

// Config holds configuration for the price health monitor.
type Config struct {
	// ChainID is stamped on emergency notifications.
	ChainID int64

	// Feeds lists the feeds to check on every poll.
	Feeds []entity.FeedConfig

	// PollInterval is how often Start re-checks every feed.
	PollInterval time.Duration

	// CheckTimeout bounds a single poll.
	CheckTimeout time.Duration

	Logger  *slog.Logger
	Metrics outbound.MetricsRecorder

	// Now is the clock used for CheckedAt. Defaults to time.Now.
	Now func() time.Time
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		PollInterval: 10 * time.Second,
		CheckTimeout: 15 * time.Second,
		Logger:       slog.Default(),
		Now:          time.Now,
	}
}

// polled is one completed poll. seq orders polls so an older poll that
// finishes late never replaces a newer one.
type polled struct {
	seq   uint64
	feeds entity.FeedHealthSet
}

// Service polls price feed health and keeps the latest feed health set.
type Service struct {
	config Config
	ledger blockchain.Querier
	sink   outbound.EventSink

	seq       atomic.Uint64
	latest    atomic.Pointer[polled]
	emergency atomic.Bool

	// publishMu orders emergency transitions.
	publishMu sync.Mutex

	tracer trace.Tracer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a monitor. sink may be nil, in which case emergency
// transitions are only logged.
func NewService(config Config, ledger blockchain.Querier, sink outbound.EventSink) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if len(config.Feeds) == 0 {
		return nil, fmt.Errorf("at least one feed is required")
	}
	seen := make(map[string]bool, len(config.Feeds))
	for _, f := range config.Feeds {
		if f.Symbol == "" {
			return nil, fmt.Errorf("feed %d has no symbol", f.FeedIndex)
		}
		if seen[f.Symbol] {
			return nil, fmt.Errorf("duplicate feed symbol %s", f.Symbol)
		}
		seen[f.Symbol] = true
	}

	defaults := ConfigDefaults()
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.CheckTimeout == 0 {
		config.CheckTimeout = defaults.CheckTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Service{
		config: config,
		ledger: ledger,
		sink:   sink,
		tracer: otel.Tracer(tracerName),
		logger: config.Logger.With("component", "price-health"),
	}, nil
}

// CheckAll checks every configured feed concurrently and returns a fresh set.
// A feed whose check fails is reported unhealthy with Error set and no
// numeric fields; it never fails the whole poll. The result replaces the
// stored set unless a newer poll has already been stored.
func (s *Service) CheckAll(ctx context.Context) entity.FeedHealthSet {
	seq := s.seq.Add(1)
	ctx, span := s.tracer.Start(ctx, "price_health.CheckAll",
		trace.WithAttributes(attribute.Int("feeds", len(s.config.Feeds))))
	defer span.End()

	results := make([]entity.PriceFeedHealth, len(s.config.Feeds))
	var wg sync.WaitGroup
	for i, feed := range s.config.Feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.check(ctx, feed)
		}()
	}
	wg.Wait()

	feeds := make(entity.FeedHealthSet, len(results))
	for _, r := range results {
		feeds[r.Symbol] = r
	}

	unhealthy := feeds.Unhealthy()
	if len(unhealthy) > 0 {
		span.SetStatus(codes.Error, "unhealthy feeds")
		span.SetAttributes(attribute.StringSlice("unhealthy", unhealthy))
	}

	s.store(ctx, seq, feeds)
	return feeds.Clone()
}

func (s *Service) check(ctx context.Context, feed entity.FeedConfig) entity.PriceFeedHealth {
	now := s.config.Now()
	res, err := blockchain.CheckPriceFeedHealth(ctx, s.ledger, feed.FeedIndex)
	if err != nil {
		s.logger.Warn("price feed check failed", "symbol", feed.Symbol, "feedIndex", feed.FeedIndex, "error", err)
		s.recordFeed(ctx, feed.Symbol, false)
		return entity.PriceFeedHealth{
			Symbol:    feed.Symbol,
			FeedIndex: feed.FeedIndex,
			IsHealthy: false,
			Error:     entity.UserMessage(err),
			CheckedAt: now,
		}
	}
	h := res.ToPriceFeedHealth(feed, now)
	if h.IsHealthy {
		formatted, err := blockchain.GetPriceFormatted(ctx, s.ledger, feed.FeedIndex)
		if err != nil {
			s.logger.Debug("formatted price unavailable", "symbol", feed.Symbol, "error", err)
		} else {
			h.Formatted = formatted
		}
	}
	s.recordFeed(ctx, feed.Symbol, h.IsHealthy)
	return h
}

func (s *Service) recordFeed(ctx context.Context, symbol string, healthy bool) {
	if s.config.Metrics != nil {
		s.config.Metrics.RecordFeedHealth(ctx, symbol, healthy)
	}
}

// store swaps in feeds when seq is newer than the stored poll, then reports
// an emergency transition if the derived state flipped.
func (s *Service) store(ctx context.Context, seq uint64, feeds entity.FeedHealthSet) {
	next := &polled{seq: seq, feeds: feeds}
	for {
		cur := s.latest.Load()
		if cur != nil && cur.seq >= seq {
			return
		}
		if s.latest.CompareAndSwap(cur, next) {
			break
		}
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	// A newer poll may have landed while waiting for the lock.
	if cur := s.latest.Load(); cur.seq != seq {
		return
	}
	active := entity.EmergencyState(feeds)
	if s.emergency.Swap(active) == active {
		return
	}

	unhealthy := feeds.Unhealthy()
	if active {
		s.logger.Warn("emergency mode entered", "unhealthyFeeds", unhealthy)
	} else {
		s.logger.Info("emergency mode cleared")
	}
	if s.sink == nil {
		return
	}
	event := outbound.EmergencyEvent{
		ChainID:        s.config.ChainID,
		Active:         active,
		UnhealthyFeeds: unhealthy,
		ObservedAt:     s.config.Now(),
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish emergency event", "active", active, "error", err)
	}
}

// Latest returns a copy of the most recent feed health set, or nil before the
// first poll completes.
func (s *Service) Latest() entity.FeedHealthSet {
	cur := s.latest.Load()
	if cur == nil {
		return nil
	}
	return cur.feeds.Clone()
}

// EmergencyMode derives emergency state from the latest set on every call.
func (s *Service) EmergencyMode() bool {
	cur := s.latest.Load()
	if cur == nil {
		return false
	}
	return entity.EmergencyState(cur.feeds)
}

// Start polls immediately and then every PollInterval until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("price health monitor started", "feeds", len(s.config.Feeds), "pollInterval", s.config.PollInterval)
	return nil
}

// Stop stops polling and waits for an in-flight poll to return.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("price health monitor stopped")
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	s.poll()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Service) poll() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.CheckTimeout)
	defer cancel()
	s.CheckAll(ctx)
}
