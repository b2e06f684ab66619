package outbound

import (
	"context"
	"strings"
	"time"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// EventType represents the type of a notification.
type EventType string

const (
	EventTypeSnapshot  EventType = "snapshot"
	EventTypeEmergency EventType = "emergency"
	EventTypeAction    EventType = "action"
)

// Event is the interface all notifications implement.
type Event interface {
	EventType() EventType
	GetChainID() int64
	// GetAccount returns the lowercase hex account, or "" for global events.
	GetAccount() string
}

// SnapshotEvent is published after a snapshot is replaced.
type SnapshotEvent struct {
	ChainID            int64            `json:"chainId"`
	Account            string           `json:"account"`
	Generation         uint64           `json:"generation"`
	RefreshedAt        time.Time        `json:"refreshedAt"`
	IsVerified         bool             `json:"isVerified"`
	CollateralRatioBps int64            `json:"collateralRatioBps"`
	RiskLevel          entity.RiskLevel `json:"riskLevel"`
	EmergencyMode      bool             `json:"emergencyMode"`
	DegradedAssets     []string         `json:"degradedAssets,omitempty"`
}

func (e SnapshotEvent) EventType() EventType { return EventTypeSnapshot }
func (e SnapshotEvent) GetChainID() int64    { return e.ChainID }
func (e SnapshotEvent) GetAccount() string   { return e.Account }

// NewSnapshotEvent summarizes a snapshot for downstream consumers.
func NewSnapshotEvent(s *entity.AccountSnapshot) SnapshotEvent {
	return SnapshotEvent{
		ChainID:            s.ChainID,
		Account:            strings.ToLower(s.Account.Hex()),
		Generation:         s.Generation,
		RefreshedAt:        s.RefreshedAt,
		IsVerified:         s.IsVerified,
		CollateralRatioBps: s.CollateralRatioBps,
		RiskLevel:          s.RiskLevel(),
		EmergencyMode:      s.EmergencyMode(),
		DegradedAssets:     s.DegradedAssets(),
	}
}

// EmergencyEvent is published when emergency mode turns on or off.
type EmergencyEvent struct {
	ChainID        int64     `json:"chainId"`
	Active         bool      `json:"active"`
	UnhealthyFeeds []string  `json:"unhealthyFeeds,omitempty"`
	ObservedAt     time.Time `json:"observedAt"`
}

func (e EmergencyEvent) EventType() EventType { return EventTypeEmergency }
func (e EmergencyEvent) GetChainID() int64    { return e.ChainID }
func (e EmergencyEvent) GetAccount() string   { return "" }

// ActionEvent is published when an action returns, whatever its outcome.
type ActionEvent struct {
	ChainID int64                `json:"chainId"`
	Account string               `json:"account"`
	Kind    entity.ActionKind    `json:"kind"`
	Outcome entity.ActionOutcome `json:"outcome"`
	Cause   entity.RevertCause   `json:"cause,omitempty"`
	TxHash  string               `json:"txHash,omitempty"`
	At      time.Time            `json:"at"`
}

func (e ActionEvent) EventType() EventType { return EventTypeAction }
func (e ActionEvent) GetChainID() int64    { return e.ChainID }
func (e ActionEvent) GetAccount() string   { return e.Account }

// EventSink publishes notifications to downstream consumers.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
