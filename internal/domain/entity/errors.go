package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinels for errors.Is. Every typed error below unwraps to one of them.
var (
	ErrNetwork          = errors.New("network error")
	ErrReverted         = errors.New("reverted")
	ErrTimeout          = errors.New("timed out")
	ErrValidation       = errors.New("invalid input")
	ErrRefresh          = errors.New("refresh failed")
	ErrActionInProgress = errors.New("action in progress")
)

// NetworkError is a transport or connectivity failure talking to the ledger.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// RevertCause is the closed set of causes a revert reason is mapped to.
type RevertCause string

const (
	CauseInvalidIdentifier      RevertCause = "invalid_identifier"
	CauseMarketInstability      RevertCause = "market_instability"
	CausePriceDataUnavailable   RevertCause = "price_data_unavailable"
	CauseInsufficientCollateral RevertCause = "insufficient_collateral"
	CauseUnrecognized           RevertCause = "unrecognized"
)

// Matched in order; the first hit wins.
var revertPatterns = []struct {
	cause    RevertCause
	keywords []string
}{
	{CauseInvalidIdentifier, []string{"invalid did", "did not valid", "not a valid did", "invalid identifier", "did already", "did not found", "empty did"}},
	{CauseMarketInstability, []string{"usdc price", "depeg", "unstable", "instability", "emergency", "paused"}},
	{CausePriceDataUnavailable, []string{"stale", "price data", "price feed", "invalid price", "oracle"}},
	{CauseInsufficientCollateral, []string{"insufficient collateral", "collateral ratio", "exceeds borrow", "undercollateral", "insufficient"}},
}

// ClassifyRevert maps a raw revert reason to its cause. Unmatched or empty
// reasons are CauseUnrecognized.
func ClassifyRevert(reason string) RevertCause {
	r := strings.ToLower(reason)
	for _, p := range revertPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(r, kw) {
				return p.cause
			}
		}
	}
	return CauseUnrecognized
}

// RevertedError means the ledger rejected the call.
type RevertedError struct {
	Reason string
	Cause  RevertCause
}

// NewRevertedError classifies reason and returns the error.
func NewRevertedError(reason string) *RevertedError {
	return &RevertedError{Reason: reason, Cause: ClassifyRevert(reason)}
}

func (e *RevertedError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertedError) Unwrap() error { return ErrReverted }

// TimeoutError means a bounded wait elapsed. For settlement it does not mean
// the transaction failed.
type TimeoutError struct {
	Op     string
	TxHash common.Hash
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("%s: %s not settled after %s", e.Op, e.TxHash.Hex(), e.After)
	}
	if e.After > 0 {
		return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
	}
	return e.Op + ": timed out"
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ValidationError rejects malformed local input before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RefreshError means a required read failed and no snapshot was published.
type RefreshError struct {
	Account common.Address
	Step    string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s: %s: %v", e.Account.Hex(), e.Step, e.Err)
}

func (e *RefreshError) Unwrap() []error { return []error{ErrRefresh, e.Err} }

// ActionInProgressError is returned when an account already has an action in flight.
type ActionInProgressError struct {
	Account common.Address
	Pending ActionKind
}

func (e *ActionInProgressError) Error() string {
	return fmt.Sprintf("account %s already has a %s action in flight", e.Account.Hex(), e.Pending)
}

func (e *ActionInProgressError) Unwrap() error { return ErrActionInProgress }

// ActionError is the classified result of a failed or ambiguous action.
type ActionError struct {
	Kind    ActionKind
	Outcome ActionOutcome
	Cause   RevertCause
	TxHash  common.Hash
	Err     error
}

func (e *ActionError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Kind, e.Outcome, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Outcome, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient ledger failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

var causeMessages = map[RevertCause]string{
	CauseInvalidIdentifier:      "The identifier was not accepted by the registry",
	CauseMarketInstability:      "The market is unstable, actions are temporarily restricted",
	CausePriceDataUnavailable:   "Unable to fetch price data",
	CauseInsufficientCollateral: "Insufficient collateral for this operation",
	CauseUnrecognized:           "Transaction failed",
}

// UserMessage returns a consumer-facing message for any error produced by the core.
// Raw transport text is never returned on its own.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		reverted   *RevertedError
		validation *ValidationError
		inProgress *ActionInProgressError
		timeout    *TimeoutError
		action     *ActionError
	)
	switch {
	case errors.As(err, &validation):
		return "Please enter a valid " + validation.Field
	case errors.As(err, &inProgress):
		return "Another transaction is still pending, please wait"
	case errors.As(err, &reverted):
		return causeMessages[reverted.Cause]
	case errors.As(err, &timeout):
		return "Transaction submitted but not yet confirmed, check back shortly"
	case errors.As(err, &action) && action.Cause != "":
		return causeMessages[action.Cause]
	case errors.Is(err, ErrRefresh):
		return "Error fetching contract data"
	case errors.Is(err, ErrNetwork):
		return "Unable to reach the network, please try again"
	default:
		return "Transaction failed"
	}
}
