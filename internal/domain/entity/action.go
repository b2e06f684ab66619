package entity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ActionKind identifies a state-changing call against the lending contract.
type ActionKind string

const (
	ActionVerifyIdentity ActionKind = "verify_identity"
	ActionDeposit        ActionKind = "deposit"
	ActionBorrow         ActionKind = "borrow"
	ActionLiquidate      ActionKind = "liquidate"

	// Owner administration. Not used by account flows.
	ActionAddAsset             ActionKind = "add_asset"
	ActionAddValidDID          ActionKind = "add_valid_did"
	ActionSetStaleThreshold    ActionKind = "set_stale_threshold"
	ActionUpdateUpkeepInterval ActionKind = "update_upkeep_interval"
	ActionPause                ActionKind = "pause"
	ActionEmergencyWithdraw    ActionKind = "emergency_withdraw"
	ActionPerformUpkeep        ActionKind = "perform_upkeep"
)

type actionSpec struct {
	method     string
	gasLimit   uint64
	privileged bool
}

var actionSpecs = map[ActionKind]actionSpec{
	ActionVerifyIdentity:       {method: "verifyDIDAndAccess", gasLimit: 250_000},
	ActionDeposit:              {method: "deposit", gasLimit: 200_000},
	ActionBorrow:               {method: "borrow", gasLimit: 300_000},
	ActionLiquidate:            {method: "liquidate", gasLimit: 400_000, privileged: true},
	ActionAddAsset:             {method: "addAsset", privileged: true},
	ActionAddValidDID:          {method: "addValidDID", privileged: true},
	ActionSetStaleThreshold:    {method: "setPriceDataStaleThreshold", privileged: true},
	ActionUpdateUpkeepInterval: {method: "updateUpkeepInterval", privileged: true},
	ActionPause:                {method: "pause", privileged: true},
	ActionEmergencyWithdraw:    {method: "emergencyWithdraw", privileged: true},
	ActionPerformUpkeep:        {method: "performUpkeep"},
}

// Method returns the contract method the action calls, or "" for an unknown kind.
func (k ActionKind) Method() string {
	return actionSpecs[k].method
}

// GasLimit returns the gas ceiling for the action; 0 means estimate only.
func (k ActionKind) GasLimit() uint64 {
	return actionSpecs[k].gasLimit
}

// Privileged reports whether the ledger restricts the action to the owner or a keeper.
func (k ActionKind) Privileged() bool {
	return actionSpecs[k].privileged
}

func (k ActionKind) Valid() bool {
	_, ok := actionSpecs[k]
	return ok
}

// PendingAction describes a submitted write that has not settled yet.
type PendingAction struct {
	ID          uuid.UUID      `json:"id"`
	Kind        ActionKind     `json:"kind"`
	Account     common.Address `json:"account"`
	SubmittedAt time.Time      `json:"submittedAt"`
	TxHash      common.Hash    `json:"txHash"`
}

// Receipt status values, matching the execution layer.
const (
	ReceiptStatusFailed  uint64 = 0
	ReceiptStatusSuccess uint64 = 1
)

// Receipt is the settled result of a PendingAction.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	Status      uint64      `json:"status"`
	GasUsed     uint64      `json:"gasUsed"`
}

func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccess
}

// ActionOutcome is what the caller knows about an action after it returns.
type ActionOutcome string

const (
	OutcomeConfirmed ActionOutcome = "confirmed"
	OutcomeFailed    ActionOutcome = "failed"
	// OutcomeUnknown means settlement was not observed in time; the action may still confirm.
	OutcomeUnknown ActionOutcome = "unknown"
)
