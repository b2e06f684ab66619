package entity

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyRevert(t *testing.T) {
	tests := []struct {
		reason string
		want   RevertCause
	}{
		{"Invalid DID", CauseInvalidIdentifier},
		{"DID already registered", CauseInvalidIdentifier},
		{"USDC price below minimum threshold", CauseMarketInstability},
		{"Price data is stale", CausePriceDataUnavailable},
		{"Insufficient collateral", CauseInsufficientCollateral},
		{"Borrow exceeds borrow limit", CauseInsufficientCollateral},
		{"Ownable: caller is not the owner", CauseUnrecognized},
		{"", CauseUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if got := ClassifyRevert(tt.reason); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"network", &NetworkError{Op: "call", Err: errors.New("dial tcp")}, ErrNetwork},
		{"reverted", NewRevertedError("Insufficient collateral"), ErrReverted},
		{"timeout", &TimeoutError{Op: "await"}, ErrTimeout},
		{"validation", &ValidationError{Field: "amount", Reason: "must be positive"}, ErrValidation},
		{"refresh", &RefreshError{Step: "balances", Err: errors.New("boom")}, ErrRefresh},
		{"in progress", &ActionInProgressError{Pending: ActionDeposit}, ErrActionInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("expected %v to match %v", wrapped, tt.sentinel)
			}
		})
	}
}

func TestRefreshError_KeepsCause(t *testing.T) {
	cause := &NetworkError{Op: "call", Err: errors.New("eof")}
	err := &RefreshError{Step: "verification", Err: cause}
	if !IsRetryable(err) {
		t.Error("expected refresh error wrapping a network error to be retryable")
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatal("expected errors.As to find the NetworkError")
	}
}

func TestUserMessage_NeverRawText(t *testing.T) {
	raw := errors.New("websocket: close 1006 (abnormal closure)")
	msg := UserMessage(&NetworkError{Op: "call", Err: raw})
	if msg == raw.Error() || msg == "" {
		t.Errorf("expected classified message, got %q", msg)
	}
	if got := UserMessage(NewRevertedError("Price data is stale")); got != "Unable to fetch price data" {
		t.Errorf("expected price data message, got %q", got)
	}
	if got := UserMessage(&ActionError{Kind: ActionBorrow, Outcome: OutcomeFailed, Cause: CauseInsufficientCollateral, Err: errors.New("x")}); got != "Insufficient collateral for this operation" {
		t.Errorf("expected collateral message, got %q", got)
	}
}

func TestActionKind(t *testing.T) {
	if ActionBorrow.Method() != "borrow" || ActionBorrow.GasLimit() != 300_000 {
		t.Errorf("unexpected borrow method or gas limit: %s %d", ActionBorrow.Method(), ActionBorrow.GasLimit())
	}
	if !ActionLiquidate.Privileged() || ActionDeposit.Privileged() {
		t.Error("expected only liquidate to be privileged among account flows")
	}
	if ActionKind("bogus").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}
