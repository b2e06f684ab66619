// Package event_reactor binds a scoped ledger event subscription to one
// account and turns events into snapshot patches, refreshes and notices.
package event_reactor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/retry"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

// Synchronizer is the part of the position synchronizer the reactor drives.
type Synchronizer interface {
	Refresh(ctx context.Context, account common.Address) (*entity.AccountSnapshot, error)
	Patch(account common.Address, fn func(*entity.AccountSnapshot)) bool
}

// State is the subscription state.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribed
)

func (s State) String() string {
	if s == StateSubscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Event handling outcomes, reported to metrics.
const (
	handlingRefresh = "refresh"
	handlingPatch   = "patch"
	handlingIgnored = "ignored"
	handlingNotice  = "notice"
)

// Config holds configuration for the Reactor.
type Config struct {
	// CoalesceWindow collapses refresh triggers that arrive within it into one refresh.
	CoalesceWindow time.Duration

	// Retry is the resubscribe policy after a broken stream.
	Retry retry.Config

	// NoticeBuffer is the capacity of the Notices channel. Notices are dropped when it is full.
	NoticeBuffer int

	Logger  *slog.Logger
	Metrics outbound.MetricsRecorder
	Now     func() time.Time
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		CoalesceWindow: 250 * time.Millisecond,
		Retry:          retry.DefaultConfig(),
		NoticeBuffer:   32,
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

// binding is one live subscription scope.
type binding struct {
	account common.Address
	cancel  context.CancelFunc
	done    chan struct{}
	// refreshes tracks refreshes started from this scope.
	refreshes sync.WaitGroup
}

// Reactor consumes ledger events for the bound account.
type Reactor struct {
	config       Config
	ledger       outbound.LedgerGateway
	synchronizer Synchronizer

	mu      sync.Mutex
	state   State
	current *binding

	notices chan Notice
	logger  *slog.Logger
}

// NewReactor creates an unbound reactor.
func NewReactor(config Config, ledger outbound.LedgerGateway, synchronizer Synchronizer) (*Reactor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if synchronizer == nil {
		return nil, fmt.Errorf("synchronizer is required")
	}

	defaults := ConfigDefaults()
	if config.CoalesceWindow == 0 {
		config.CoalesceWindow = defaults.CoalesceWindow
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.NoticeBuffer == 0 {
		config.NoticeBuffer = defaults.NoticeBuffer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Reactor{
		config:       config,
		ledger:       ledger,
		synchronizer: synchronizer,
		notices:      make(chan Notice, config.NoticeBuffer),
		logger:       config.Logger.With("component", "event-reactor"),
	}, nil
}

// Notices delivers user-facing messages derived from events.
func (r *Reactor) Notices() <-chan Notice {
	return r.notices
}

// State returns the current subscription state.
func (r *Reactor) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Account returns the bound account and whether one is bound.
func (r *Reactor) Account() (common.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return common.Address{}, false
	}
	return r.current.account, true
}

// Bind releases the current scope, waiting for its event loop to exit, and
// subscribes for account. Retryable subscribe failures are retried with the
// configured policy. On error the reactor is left unsubscribed.
func (r *Reactor) Bind(ctx context.Context, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked()

	filter := outbound.EventFilter{Events: entity.ConsumedEvents, Account: account}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		r.logger.Warn("subscribe failed, retrying", "account", account.Hex(), "attempt", attempt, "backoff", backoff, "error", err)
	}
	sub, err := retry.Do(ctx, r.config.Retry, entity.IsRetryable, onRetry, func() (outbound.EventSubscription, error) {
		return r.ledger.Subscribe(ctx, filter)
	})
	if err != nil {
		return fmt.Errorf("subscribing to ledger events for %s: %w", account.Hex(), err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &binding{account: account, cancel: cancel, done: make(chan struct{})}
	r.current = b
	r.state = StateSubscribed

	go r.loop(loopCtx, b, filter, sub)

	r.logger.Info("bound to account", "account", account.Hex())
	return nil
}

// Stop releases the current scope.
func (r *Reactor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Reactor) releaseLocked() {
	b := r.current
	if b == nil {
		return
	}
	b.cancel()
	<-b.done
	b.refreshes.Wait()
	r.current = nil
	r.state = StateUnsubscribed
	r.logger.Info("released account", "account", b.account.Hex())
}

// loop processes events in emission order until the scope is released.
func (r *Reactor) loop(ctx context.Context, b *binding, filter outbound.EventFilter, sub outbound.EventSubscription) {
	defer close(b.done)
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if fire == nil {
			timer = time.NewTimer(r.config.CoalesceWindow)
			fire = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	events, errs := sub.Events(), sub.Err()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if r.handle(ctx, b.account, ev) {
				schedule()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("event subscription broke, resubscribing", "account", b.account.Hex(), "error", err)
			sub.Unsubscribe()
			sub = nil
			next, rerr := r.resubscribe(ctx, filter)
			if rerr != nil {
				// Only a released scope stops resubscribing.
				return
			}
			sub = next
			events, errs = sub.Events(), sub.Err()
			// Events may have been missed while the stream was down.
			r.refresh(ctx, b)

		case <-fire:
			fire = nil
			timer = nil
			r.refresh(ctx, b)
		}
	}
}

// resubscribe retries with the configured policy until it succeeds or ctx ends.
func (r *Reactor) resubscribe(ctx context.Context, filter outbound.EventFilter) (outbound.EventSubscription, error) {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		r.logger.Debug("resubscribe failed", "attempt", attempt, "backoff", backoff, "error", err)
	}
	for {
		sub, err := retry.Do(ctx, r.config.Retry, entity.IsRetryable, onRetry, func() (outbound.EventSubscription, error) {
			return r.ledger.Subscribe(ctx, filter)
		})
		if err == nil {
			r.logger.Info("resubscribed to ledger events", "account", filter.Account.Hex())
			return sub, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Error("resubscribe attempts exhausted", "account", filter.Account.Hex(), "error", err)

		wait := time.NewTimer(r.config.Retry.Backoff(r.config.Retry.MaxRetries + 1))
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-wait.C:
		}
	}
}

// refresh triggers a synchronizer refresh without blocking the event loop.
// The synchronizer serializes runs per account.
func (r *Reactor) refresh(ctx context.Context, b *binding) {
	b.refreshes.Add(1)
	go func() {
		defer b.refreshes.Done()
		if _, err := r.synchronizer.Refresh(ctx, b.account); err != nil && ctx.Err() == nil {
			r.logger.Warn("event-triggered refresh failed", "account", b.account.Hex(), "error", err)
		}
	}()
}

// handle applies ev and reports whether it requires a refresh.
func (r *Reactor) handle(ctx context.Context, account common.Address, ev entity.LedgerEvent) bool {
	if !ev.Global() && !sameAccount(*ev.Subject, account) {
		r.record(ctx, ev.Name, handlingIgnored)
		return false
	}

	if ev.Removed {
		r.logger.Info("ledger event removed by reorg", "event", ev.Name, "block", ev.BlockNumber, "tx", ev.TxHash.Hex())
		r.record(ctx, ev.Name, handlingRefresh)
		return true
	}

	r.notify(account, ev)

	switch ev.Name {
	case entity.EventAccessDenied:
		if r.synchronizer.Patch(account, func(s *entity.AccountSnapshot) { s.IsVerified = false }) {
			r.record(ctx, ev.Name, handlingPatch)
			return false
		}
		r.record(ctx, ev.Name, handlingRefresh)
		return true

	case entity.EventCreditScoreUpdated:
		if ev.CreditScore != nil && r.synchronizer.Patch(account, func(s *entity.AccountSnapshot) {
			if s.DIDProfile != nil {
				s.DIDProfile.CreditScore = ev.CreditScore.Int64()
			}
		}) {
			r.record(ctx, ev.Name, handlingPatch)
			return false
		}
		r.record(ctx, ev.Name, handlingRefresh)
		return true

	case entity.EventAccessGranted,
		entity.EventDIDVerified,
		entity.EventLiquidationExecuted,
		entity.EventInterestRateUpdated,
		entity.EventAssetAdded,
		entity.EventPriceDataStaleThresholdUpdated:
		r.record(ctx, ev.Name, handlingRefresh)
		return true
	}

	r.record(ctx, ev.Name, handlingIgnored)
	return false
}

func (r *Reactor) notify(account common.Address, ev entity.LedgerEvent) {
	msg := noticeText(ev)
	if msg == "" {
		return
	}
	n := Notice{Event: ev.Name, Account: account, Message: msg, TxHash: ev.TxHash, At: r.config.Now()}
	select {
	case r.notices <- n:
		r.logger.Info(msg, "event", ev.Name, "account", account.Hex())
	default:
		r.logger.Warn("notice dropped, buffer full", "event", ev.Name)
	}
	if r.config.Metrics != nil {
		r.config.Metrics.RecordLedgerEvent(context.Background(), string(ev.Name), handlingNotice)
	}
}

func (r *Reactor) record(ctx context.Context, name entity.LedgerEventName, handling string) {
	if r.config.Metrics != nil {
		r.config.Metrics.RecordLedgerEvent(ctx, string(name), handling)
	}
}

// sameAccount compares addresses by value; hex case never matters.
func sameAccount(a, b common.Address) bool {
	return a == b
}
