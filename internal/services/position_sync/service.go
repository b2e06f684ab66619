// Package position_sync keeps a consistent AccountSnapshot per account by
// reading the ledger's authoritative state.
//
// Refreshes for one account are serialized: a call that arrives while a run
// is in flight joins a single queued follow-up run, so a caller that asks for
// a refresh after a state change always observes a run that started after it.
// Every run takes a generation from a per-account counter and a result is
// published only when its generation is newer than the published one.
package position_sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/blockchain"
	"github.com/archon-research/chainguard/internal/pkg/retry"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/chainguard/internal/services/position_sync"

// ErrSuperseded is returned to callers whose refresh was discarded by Reset.
var ErrSuperseded = errors.New("refresh superseded by reset")

// Refresh steps reported in entity.RefreshError.
const (
	StepAccess           = "access"
	StepDeposit          = "deposit_balance"
	StepBorrowed         = "borrowed_amount"
	StepPosition         = "user_position"
	StepDIDProfile       = "did_profile"
	StepCollateralRatio  = "collateral_ratio"
	StepLiquidationPrice = "liquidation_price"
)

// FeedChecker supplies the feed health folded into every snapshot.
type FeedChecker interface {
	CheckAll(ctx context.Context) entity.FeedHealthSet
}

// Config holds configuration for the Service.
type Config struct {
	ChainID int64

	// Assets are the symbols whose rate and info are read for verified accounts.
	Assets []string

	// RefreshInterval is the period of the background refresh started by Start.
	RefreshInterval time.Duration

	// RefreshTimeout bounds one refresh run.
	RefreshTimeout time.Duration

	// Retry applies to required reads that fail with a network error.
	Retry retry.Config

	// UnhealthyAfter is the number of consecutive failed runs after which
	// IsHealthy reports false.
	UnhealthyAfter int

	Logger  *slog.Logger
	Metrics outbound.MetricsRecorder
	Now     func() time.Time
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		RefreshInterval: 30 * time.Second,
		RefreshTimeout:  2 * time.Minute,
		Retry:           retry.DefaultConfig(),
		UnhealthyAfter:  3,
		Logger:          slog.Default(),
		Now:             time.Now,
	}
}

// run is one refresh execution shared by every caller that joined it.
type run struct {
	done chan struct{}
	snap *entity.AccountSnapshot
	err  error
}

func newRun() *run {
	return &run{done: make(chan struct{})}
}

type accountState struct {
	account common.Address

	mu         sync.Mutex
	running    bool
	queued     *run
	generation uint64

	published atomic.Pointer[entity.AccountSnapshot]
}

// Service is the position synchronizer.
type Service struct {
	config     Config
	ledger     blockchain.Querier
	feeds      FeedChecker
	publishers []outbound.SnapshotPublisher

	// mu guards accounts, epoch and the base context. Reset replaces all three.
	mu       sync.RWMutex
	accounts map[common.Address]*accountState
	epoch    uint64
	baseCtx  context.Context
	cancel   context.CancelFunc

	failures  atomic.Int64
	succeeded atomic.Bool

	tracer  trace.Tracer
	logger  *slog.Logger
	loopMu  sync.Mutex
	loopCxl context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a synchronizer. feeds may be nil, in which case
// snapshots carry no feed health.
func NewService(config Config, ledger blockchain.Querier, feeds FeedChecker, publishers ...outbound.SnapshotPublisher) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	for i, p := range publishers {
		if p == nil {
			return nil, fmt.Errorf("publisher %d is nil", i)
		}
	}

	defaults := ConfigDefaults()
	if config.RefreshInterval == 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if config.RefreshTimeout == 0 {
		config.RefreshTimeout = defaults.RefreshTimeout
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.UnhealthyAfter == 0 {
		config.UnhealthyAfter = defaults.UnhealthyAfter
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:     config,
		ledger:     ledger,
		feeds:      feeds,
		publishers: publishers,
		accounts:   make(map[common.Address]*accountState),
		baseCtx:    baseCtx,
		cancel:     cancel,
		tracer:     otel.Tracer(tracerName),
		logger:     config.Logger.With("component", "position-sync"),
	}, nil
}

func (s *Service) state(account common.Address) (*accountState, uint64, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[account]
	if !ok {
		st = &accountState{account: account}
		s.accounts[account] = st
	}
	return st, s.epoch, s.baseCtx
}

// Snapshot returns the published snapshot for account. The returned value is
// shared and must not be modified.
func (s *Service) Snapshot(account common.Address) (*entity.AccountSnapshot, bool) {
	s.mu.RLock()
	st, ok := s.accounts[account]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := st.published.Load()
	return snap, snap != nil
}

// Refresh rebuilds the snapshot for account and returns the published result.
// If a run is already in flight the call joins the single queued follow-up
// run. ctx only bounds how long the caller waits; the run itself is bounded by
// RefreshTimeout and cancelled by Reset.
func (s *Service) Refresh(ctx context.Context, account common.Address) (*entity.AccountSnapshot, error) {
	r := s.enqueue(account)
	select {
	case <-r.done:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enqueue starts a run or joins the queued follow-up.
func (s *Service) enqueue(account common.Address) *run {
	st, epoch, baseCtx := s.state(account)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		if st.queued == nil {
			st.queued = newRun()
		}
		return st.queued
	}
	st.running = true
	r := newRun()
	go s.drive(baseCtx, epoch, st, r)
	return r
}

// drive executes r and then every follow-up queued while it ran.
func (s *Service) drive(baseCtx context.Context, epoch uint64, st *accountState, r *run) {
	for r != nil {
		s.execute(baseCtx, epoch, st, r)
		close(r.done)

		st.mu.Lock()
		r = st.queued
		st.queued = nil
		if r == nil {
			st.running = false
		}
		st.mu.Unlock()
	}
}

func (s *Service) execute(baseCtx context.Context, epoch uint64, st *accountState, r *run) {
	start := s.config.Now()
	ctx, cancel := context.WithTimeout(baseCtx, s.config.RefreshTimeout)
	defer cancel()

	st.mu.Lock()
	st.generation++
	generation := st.generation
	st.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "position_sync.Refresh", trace.WithAttributes(
		attribute.String("account", st.account.Hex()),
		attribute.Int64("generation", int64(generation)),
	))
	defer span.End()

	snap, err := s.build(ctx, st.account, generation)
	if err != nil {
		if s.stale(epoch) {
			r.err = ErrSuperseded
			s.record(ctx, start, "discarded")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.failures.Add(1)
		s.record(ctx, start, "failed")
		s.logger.Warn("refresh failed", "account", st.account.Hex(), "generation", generation, "error", err)
		r.err = err
		return
	}

	if !s.publish(ctx, epoch, st, snap) {
		if s.stale(epoch) {
			r.err = ErrSuperseded
		} else {
			r.snap = st.published.Load()
		}
		s.record(ctx, start, "discarded")
		s.logger.Debug("refresh result discarded", "account", st.account.Hex(), "generation", generation)
		return
	}

	s.failures.Store(0)
	s.succeeded.Store(true)
	s.record(ctx, start, "published")
	r.snap = snap
}

func (s *Service) stale(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch != epoch
}

func (s *Service) record(ctx context.Context, start time.Time, status string) {
	if s.config.Metrics != nil {
		s.config.Metrics.RecordRefresh(ctx, s.config.Now().Sub(start), status)
	}
}

// publish swaps snap in if it is newer than the published snapshot and the
// identity epoch has not changed, then fans it out. It reports whether snap
// was published.
func (s *Service) publish(ctx context.Context, epoch uint64, st *accountState, snap *entity.AccountSnapshot) bool {
	s.mu.RLock()
	if s.epoch != epoch {
		s.mu.RUnlock()
		return false
	}
	for {
		cur := st.published.Load()
		if cur != nil && cur.Generation >= snap.Generation {
			s.mu.RUnlock()
			return false
		}
		if st.published.CompareAndSwap(cur, snap) {
			break
		}
	}
	s.mu.RUnlock()

	s.logger.Debug("snapshot published",
		"account", snap.Account.Hex(),
		"generation", snap.Generation,
		"verified", snap.IsVerified,
		"emergency", snap.EmergencyMode())
	s.fanOut(ctx, snap)
	return true
}

// fanOut hands snap to every publisher. Failures are logged only.
func (s *Service) fanOut(ctx context.Context, snap *entity.AccountSnapshot) {
	// Publishers run after the refresh deadline would otherwise cut them off.
	ctx = context.WithoutCancel(ctx)
	for _, p := range s.publishers {
		if err := p.PublishSnapshot(ctx, snap); err != nil {
			s.logger.Warn("snapshot publisher failed", "account", snap.Account.Hex(), "generation", snap.Generation, "error", err)
		}
	}
}

// Patch applies fn to a copy of the published snapshot and publishes it under
// a new generation. When a refresh is in flight the patch is dropped and a
// follow-up refresh is queued instead, since the run may already have read
// older state. It reports whether the patch was applied.
func (s *Service) Patch(account common.Address, fn func(*entity.AccountSnapshot)) bool {
	st, epoch, baseCtx := s.state(account)

	st.mu.Lock()
	if st.running {
		if st.queued == nil {
			st.queued = newRun()
		}
		st.mu.Unlock()
		s.logger.Debug("patch deferred to queued refresh", "account", account.Hex())
		return false
	}
	cur := st.published.Load()
	if cur == nil {
		st.mu.Unlock()
		return false
	}
	st.generation++
	next := cur.Clone()
	fn(next)
	next.Account = cur.Account
	next.ChainID = cur.ChainID
	next.Generation = st.generation
	st.mu.Unlock()

	return s.publish(baseCtx, epoch, st, next)
}

// Reset discards every snapshot and cancels in-flight runs. Runs that finish
// afterwards are not published. Used on account or network switch.
func (s *Service) Reset() {
	s.mu.Lock()
	s.epoch++
	s.cancel()
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.accounts = make(map[common.Address]*accountState)
	epoch := s.epoch
	s.mu.Unlock()

	s.failures.Store(0)
	s.succeeded.Store(false)
	s.logger.Info("synchronizer reset", "epoch", epoch)
}

// Start refreshes account immediately and then every RefreshInterval.
func (s *Service) Start(ctx context.Context, account common.Address) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopCxl != nil {
		return fmt.Errorf("synchronizer already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.loopCxl = cancel

	s.wg.Add(1)
	go s.loop(ctx, account)

	s.logger.Info("position sync started", "account", account.Hex(), "refreshInterval", s.config.RefreshInterval)
	return nil
}

// Stop ends the periodic refresh and cancels in-flight runs.
func (s *Service) Stop() error {
	s.loopMu.Lock()
	if s.loopCxl != nil {
		s.loopCxl()
		s.loopCxl = nil
	}
	s.loopMu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	s.logger.Info("position sync stopped")
	return nil
}

func (s *Service) loop(ctx context.Context, account common.Address) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Refresh(ctx, account); err != nil && ctx.Err() == nil {
			s.logger.Debug("periodic refresh failed", "account", account.Hex(), "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// IsReady reports whether at least one snapshot has been published.
func (s *Service) IsReady() bool {
	return s.succeeded.Load()
}

// IsHealthy reports false after UnhealthyAfter consecutive failed runs.
func (s *Service) IsHealthy() bool {
	return s.failures.Load() < int64(s.config.UnhealthyAfter)
}
