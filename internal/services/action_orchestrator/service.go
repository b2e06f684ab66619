// Package action_orchestrator submits account actions to the ledger, waits
// for settlement and refreshes the position once an action is confirmed.
package action_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/inbound"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

const (
	tracerName = "github.com/archon-research/chainguard/internal/services/action_orchestrator"

	maxIdentifierLength = 256
)

// Synchronizer is the part of the position synchronizer the orchestrator needs.
type Synchronizer interface {
	Refresh(ctx context.Context, account common.Address) (*entity.AccountSnapshot, error)
	Snapshot(account common.Address) (*entity.AccountSnapshot, bool)
}

// Config holds configuration for the Service.
type Config struct {
	ChainID int64

	// Account is the signing account every action is submitted for.
	Account common.Address

	// SettlementTimeout bounds the wait for a submitted action to be mined.
	SettlementTimeout time.Duration

	// LateSettlementWindow is how long a timed-out action keeps being watched.
	LateSettlementWindow time.Duration

	Logger  *slog.Logger
	Metrics outbound.MetricsRecorder
	Now     func() time.Time
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		SettlementTimeout:    2 * time.Minute,
		LateSettlementWindow: 15 * time.Minute,
		Logger:               slog.Default(),
		Now:                  time.Now,
	}
}

// Result describes an action that reached the ledger.
type Result struct {
	Action  *entity.PendingAction
	Receipt *entity.Receipt
	Outcome entity.ActionOutcome
	// Snapshot is the position refreshed after confirmation. It is nil when
	// the action did not confirm or the refresh failed.
	Snapshot *entity.AccountSnapshot
}

// Service orchestrates account actions.
type Service struct {
	config       Config
	ledger       outbound.LedgerGateway
	synchronizer Synchronizer
	feeds        inbound.FeedReader
	sink         outbound.EventSink

	mu       sync.Mutex
	inFlight map[common.Address]entity.ActionKind

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchers    sync.WaitGroup

	tracer trace.Tracer
	logger *slog.Logger
}

// NewService creates an orchestrator. feeds and sink are optional.
func NewService(
	config Config,
	ledger outbound.LedgerGateway,
	synchronizer Synchronizer,
	feeds inbound.FeedReader,
	sink outbound.EventSink,
) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if synchronizer == nil {
		return nil, fmt.Errorf("synchronizer is required")
	}
	if config.Account == (common.Address{}) {
		return nil, fmt.Errorf("account is required")
	}

	defaults := ConfigDefaults()
	if config.SettlementTimeout == 0 {
		config.SettlementTimeout = defaults.SettlementTimeout
	}
	if config.LateSettlementWindow == 0 {
		config.LateSettlementWindow = defaults.LateSettlementWindow
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &Service{
		config:       config,
		ledger:       ledger,
		synchronizer: synchronizer,
		feeds:        feeds,
		sink:         sink,
		inFlight:     make(map[common.Address]entity.ActionKind),
		watchCtx:     watchCtx,
		watchCancel:  watchCancel,
		tracer:       otel.Tracer(tracerName),
		logger:       config.Logger.With("component", "action-orchestrator", "account", config.Account.Hex()),
	}, nil
}

// VerifyIdentity submits the decentralized identifier for verification.
// Whether the identifier is valid is decided by the ledger.
func (s *Service) VerifyIdentity(ctx context.Context, did string) (*Result, error) {
	did = strings.TrimSpace(did)
	if did == "" {
		return nil, &entity.ValidationError{Field: "identifier", Reason: "must not be empty"}
	}
	if len(did) > maxIdentifierLength {
		return nil, &entity.ValidationError{Field: "identifier", Reason: fmt.Sprintf("longer than %d characters", maxIdentifierLength)}
	}
	return s.execute(ctx, outbound.SubmitRequest{Kind: entity.ActionVerifyIdentity, Args: []any{did}})
}

// DepositCollateral deposits amount ether as collateral.
func (s *Service) DepositCollateral(ctx context.Context, amount string) (*Result, error) {
	value, err := parseEther(amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, outbound.SubmitRequest{Kind: entity.ActionDeposit, Value: value.Raw})
}

// Borrow borrows amount ether against the deposited collateral.
func (s *Service) Borrow(ctx context.Context, amount string) (*Result, error) {
	value, err := parseEther(amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, outbound.SubmitRequest{Kind: entity.ActionBorrow, Args: []any{value.Raw}})
}

// Liquidate liquidates target's position. The ledger restricts it to
// privileged callers.
func (s *Service) Liquidate(ctx context.Context, target common.Address) (*Result, error) {
	if target == (common.Address{}) {
		return nil, &entity.ValidationError{Field: "address", Reason: "must not be the zero address"}
	}
	return s.execute(ctx, outbound.SubmitRequest{Kind: entity.ActionLiquidate, Args: []any{target}})
}

func parseEther(s string) (entity.Amount, error) {
	a, err := entity.ParseAmount(s, entity.EtherDecimals)
	if err != nil {
		return entity.Amount{}, err
	}
	if a.Sign() <= 0 {
		return entity.Amount{}, &entity.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return a, nil
}

// Advisories returns warnings about conditions under which an action is
// likely to revert. They never block an action.
func (s *Service) Advisories(account common.Address) []string {
	var out []string
	if s.feeds != nil && s.feeds.EmergencyMode() {
		out = append(out, "Emergency mode is active, the ledger may reject actions")
		if unhealthy := s.feeds.Latest().Unhealthy(); len(unhealthy) > 0 {
			out = append(out, "Unhealthy price feeds: "+strings.Join(unhealthy, ", "))
		}
	}
	if snap, ok := s.synchronizer.Snapshot(account); ok && !snap.IsVerified {
		out = append(out, "Account is not verified")
	}
	return out
}

// acquire takes the per-account guard.
func (s *Service) acquire(kind entity.ActionKind) (func(), error) {
	account := s.config.Account
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending, ok := s.inFlight[account]; ok {
		return nil, &entity.ActionInProgressError{Account: account, Pending: pending}
	}
	s.inFlight[account] = kind
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inFlight, account)
			s.mu.Unlock()
		})
	}, nil
}

func (s *Service) execute(ctx context.Context, req outbound.SubmitRequest) (result *Result, err error) {
	kind := req.Kind
	account := s.config.Account

	release, err := s.acquire(kind)
	if err != nil {
		return nil, err
	}
	defer release()

	// Set when settlement was not observed; watched once the outcome is published.
	var unsettled *entity.PendingAction

	start := s.config.Now()
	ctx, span := s.tracer.Start(ctx, "action_orchestrator."+string(kind), trace.WithAttributes(
		attribute.String("account", account.Hex()),
		attribute.String("kind", string(kind)),
	))
	defer func() {
		outcome := entity.OutcomeConfirmed
		var actionErr *entity.ActionError
		if errors.As(err, &actionErr) {
			outcome = actionErr.Outcome
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		span.End()
		if s.config.Metrics != nil {
			s.config.Metrics.RecordAction(ctx, string(kind), string(outcome), s.config.Now().Sub(start))
		}
		var txHash common.Hash
		if result != nil && result.Action != nil {
			txHash = result.Action.TxHash
		}
		var cause entity.RevertCause
		if actionErr != nil {
			cause = actionErr.Cause
		}
		s.publish(ctx, kind, outcome, cause, txHash)
		if unsettled != nil {
			s.watch(unsettled)
		}
	}()

	for _, a := range s.Advisories(account) {
		s.logger.Warn("action advisory", "kind", kind, "advisory", a)
	}

	pending, err := s.ledger.Submit(ctx, req)
	if err != nil {
		s.logger.Warn("action submission failed", "kind", kind, "error", err)
		return nil, &entity.ActionError{Kind: kind, Outcome: entity.OutcomeFailed, Cause: revertCause(err), Err: err}
	}
	result = &Result{Action: pending, Outcome: entity.OutcomeUnknown}
	s.logger.Info("action submitted", "kind", kind, "tx", pending.TxHash.Hex())

	settleCtx, cancel := context.WithTimeout(ctx, s.config.SettlementTimeout)
	receipt, err := s.ledger.AwaitSettlement(settleCtx, pending)
	cancel()
	if err != nil {
		var reverted *entity.RevertedError
		if errors.As(err, &reverted) {
			result.Outcome = entity.OutcomeFailed
			s.logger.Warn("action reverted", "kind", kind, "tx", pending.TxHash.Hex(), "reason", reverted.Reason, "cause", reverted.Cause)
			return result, &entity.ActionError{Kind: kind, Outcome: entity.OutcomeFailed, Cause: reverted.Cause, TxHash: pending.TxHash, Err: err}
		}

		// The transaction may still be mined; keep watching without the guard.
		s.logger.Warn("action settlement not observed", "kind", kind, "tx", pending.TxHash.Hex(), "error", err)
		unsettled = pending
		return result, &entity.ActionError{Kind: kind, Outcome: entity.OutcomeUnknown, TxHash: pending.TxHash, Err: err}
	}

	result.Receipt = receipt
	result.Outcome = entity.OutcomeConfirmed
	s.logger.Info("action confirmed", "kind", kind, "tx", pending.TxHash.Hex(), "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)

	snap, rerr := s.synchronizer.Refresh(ctx, account)
	if rerr != nil {
		s.logger.Warn("post-settlement refresh failed", "kind", kind, "error", rerr)
		return result, nil
	}
	result.Snapshot = snap
	return result, nil
}

func revertCause(err error) entity.RevertCause {
	var reverted *entity.RevertedError
	if errors.As(err, &reverted) {
		return reverted.Cause
	}
	return ""
}

// watch waits for a timed-out action in the background and refreshes the
// position if it settles within LateSettlementWindow.
func (s *Service) watch(pending *entity.PendingAction) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()

		ctx, cancel := context.WithTimeout(s.watchCtx, s.config.LateSettlementWindow)
		defer cancel()

		receipt, err := s.ledger.AwaitSettlement(ctx, pending)
		if err != nil {
			var reverted *entity.RevertedError
			if errors.As(err, &reverted) {
				s.logger.Warn("late settlement reverted", "kind", pending.Kind, "tx", pending.TxHash.Hex(), "cause", reverted.Cause)
				s.publish(ctx, pending.Kind, entity.OutcomeFailed, reverted.Cause, pending.TxHash)
				return
			}
			s.logger.Warn("late settlement not observed", "kind", pending.Kind, "tx", pending.TxHash.Hex(), "error", err)
			return
		}

		s.logger.Info("action confirmed late", "kind", pending.Kind, "tx", pending.TxHash.Hex(), "block", receipt.BlockNumber)
		s.publish(ctx, pending.Kind, entity.OutcomeConfirmed, "", pending.TxHash)
		if _, err := s.synchronizer.Refresh(ctx, s.config.Account); err != nil {
			s.logger.Warn("late settlement refresh failed", "kind", pending.Kind, "error", err)
		}
	}()
}

func (s *Service) publish(ctx context.Context, kind entity.ActionKind, outcome entity.ActionOutcome, cause entity.RevertCause, txHash common.Hash) {
	if s.sink == nil {
		return
	}
	event := outbound.ActionEvent{
		ChainID: s.config.ChainID,
		Account: strings.ToLower(s.config.Account.Hex()),
		Kind:    kind,
		Outcome: outcome,
		Cause:   cause,
		At:      s.config.Now(),
	}
	if txHash != (common.Hash{}) {
		event.TxHash = txHash.Hex()
	}
	if err := s.sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish action event", "kind", kind, "error", err)
	}
}

// Stop cancels late-settlement watchers and waits for them to exit.
func (s *Service) Stop() {
	s.watchCancel()
	s.watchers.Wait()
}
