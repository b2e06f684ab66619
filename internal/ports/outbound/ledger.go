// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// LedgerGateway is the boundary to the lending contract.
//
// Every method fails with *entity.NetworkError, *entity.RevertedError or
// *entity.TimeoutError. Implementations never retry; retry policy belongs to
// the caller.
type LedgerGateway interface {
	// Query calls a read-only contract method and returns its unpacked outputs.
	Query(ctx context.Context, method string, args ...any) ([]any, error)

	// Submit signs and broadcasts a state-changing call.
	Submit(ctx context.Context, req SubmitRequest) (*entity.PendingAction, error)

	// AwaitSettlement blocks until the action's transaction is mined, ctx ends
	// or the gateway's settlement bound elapses. A receipt with a failed status
	// is returned as *entity.RevertedError.
	AwaitSettlement(ctx context.Context, action *entity.PendingAction) (*entity.Receipt, error)

	// Subscribe opens a scoped event subscription. The caller owns the handle
	// and must release it with Unsubscribe.
	Subscribe(ctx context.Context, filter EventFilter) (EventSubscription, error)
}

// SubmitRequest describes a write. Method defaults to Kind.Method().
type SubmitRequest struct {
	Kind   entity.ActionKind
	Method string
	Args   []any
	// Value is the wei amount sent with payable calls.
	Value *big.Int
}

// MethodName resolves the contract method for the request.
func (r SubmitRequest) MethodName() string {
	if r.Method != "" {
		return r.Method
	}
	return r.Kind.Method()
}

// EventFilter selects events for a subscription.
type EventFilter struct {
	Events []entity.LedgerEventName
	// Account is advisory: implementations may narrow delivery to events about
	// it, but consumers still filter by subject.
	Account common.Address
}

// EventSubscription is a live, scoped event stream.
type EventSubscription interface {
	// Events delivers decoded events in emission order.
	Events() <-chan entity.LedgerEvent
	// Err delivers at most one error when the stream breaks, then is closed on Unsubscribe.
	Err() <-chan error
	// Unsubscribe releases the subscription. It is safe to call more than once.
	Unsubscribe()
}

// TxSigner signs transactions for the active account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
