package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

const revertMarker = "execution reverted"

// classifyError maps a client error onto the ledger error taxonomy.
// Cancellation is returned as-is so callers can tell it from a failure.
func classifyError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return &entity.TimeoutError{Op: op}
	}
	if reason, ok := revertReason(err); ok {
		return entity.NewRevertedError(reason)
	}
	return &entity.NetworkError{Op: op, Err: err}
}

// revertReason extracts the revert reason from a JSON-RPC error, preferring
// the encoded Error(string) payload over the message text.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(hexData); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	i := strings.Index(strings.ToLower(msg), revertMarker)
	if i < 0 {
		return "", false
	}
	reason := strings.TrimSpace(msg[i+len(revertMarker):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	return reason, true
}
