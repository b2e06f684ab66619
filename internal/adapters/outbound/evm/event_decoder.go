package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// EventDecoder turns lending pool logs into ledger events.
type EventDecoder struct {
	byID   map[common.Hash]*abi.Event
	byName map[entity.LedgerEventName]common.Hash
}

// NewEventDecoder registers every consumed event of the parsed ABI.
func NewEventDecoder(parsed *abi.ABI) (*EventDecoder, error) {
	d := &EventDecoder{
		byID:   make(map[common.Hash]*abi.Event),
		byName: make(map[entity.LedgerEventName]common.Hash),
	}
	for _, name := range entity.ConsumedEvents {
		event, ok := parsed.Events[string(name)]
		if !ok {
			return nil, fmt.Errorf("%s event not found in ABI", name)
		}
		d.byID[event.ID] = &event
		d.byName[name] = event.ID
	}
	return d, nil
}

// Topics returns the topic-0 hashes for names. Unknown names are skipped.
func (d *EventDecoder) Topics(names []entity.LedgerEventName) []common.Hash {
	out := make([]common.Hash, 0, len(names))
	for _, name := range names {
		if id, ok := d.byName[name]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Decode parses a log. It fails for logs that are not consumed events.
func (d *EventDecoder) Decode(log types.Log) (entity.LedgerEvent, error) {
	if len(log.Topics) == 0 {
		return entity.LedgerEvent{}, fmt.Errorf("no topics")
	}
	event, ok := d.byID[log.Topics[0]]
	if !ok {
		return entity.LedgerEvent{}, fmt.Errorf("not a consumed event: %s", log.Topics[0].Hex())
	}

	fields := make(map[string]any)

	var indexed, nonIndexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		} else {
			nonIndexed = append(nonIndexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
			return entity.LedgerEvent{}, fmt.Errorf("failed to parse indexed params of %s: %w", event.Name, err)
		}
	}
	if len(nonIndexed) > 0 && len(log.Data) > 0 {
		if err := nonIndexed.UnpackIntoMap(fields, log.Data); err != nil {
			return entity.LedgerEvent{}, fmt.Errorf("failed to parse non-indexed params of %s: %w", event.Name, err)
		}
	}

	out := entity.LedgerEvent{
		Name:        entity.LedgerEventName(event.Name),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Removed:     log.Removed,
	}
	if user, ok := fields["user"].(common.Address); ok {
		out.Subject = &user
	}

	switch out.Name {
	case entity.EventAccessDenied:
		out.Reason, _ = fields["reason"].(string)
	case entity.EventDIDVerified:
		out.DID, _ = fields["did"].(string)
		out.CreditScore = bigField(fields, "creditScore")
	case entity.EventCreditScoreUpdated:
		out.CreditScore = bigField(fields, "newScore")
	case entity.EventLiquidationExecuted:
		out.Collateral = bigField(fields, "collateralLiquidated")
		out.Debt = bigField(fields, "debtRepaid")
	case entity.EventInterestRateUpdated:
		out.Asset, _ = fields["asset"].(string)
		out.RateBps = bigField(fields, "newRate")
	case entity.EventAssetAdded:
		out.Asset, _ = fields["symbol"].(string)
		out.FeedIndex = bigField(fields, "priceIndex")
	case entity.EventPriceDataStaleThresholdUpdated:
		out.Threshold = bigField(fields, "newThreshold")
	}
	return out, nil
}

func bigField(fields map[string]any, name string) *big.Int {
	v, _ := fields[name].(*big.Int)
	return v
}
