package evm

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds configuration for the ledger gateway.
type Config struct {
	// ContractAddress is the lending pool address.
	ContractAddress common.Address

	// ChainID is used to sign transactions.
	ChainID *big.Int

	// SettlementTimeout bounds AwaitSettlement when the caller's context has no deadline.
	SettlementTimeout time.Duration

	// ReceiptPollInterval is how often AwaitSettlement polls for a receipt.
	ReceiptPollInterval time.Duration

	// RequestsPerSecond limits Query calls. Zero disables limiting.
	RequestsPerSecond float64

	// GasHeadroomPercent is added on top of the gas estimate.
	GasHeadroomPercent uint64

	// EventBuffer is the buffer size of subscription channels.
	EventBuffer int

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		ChainID:             big.NewInt(11155111),
		SettlementTimeout:   2 * time.Minute,
		ReceiptPollInterval: 2 * time.Second,
		RequestsPerSecond:   10,
		GasHeadroomPercent:  20,
		EventBuffer:         64,
		Logger:              slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := ConfigDefaults()
	if c.ChainID == nil {
		c.ChainID = d.ChainID
	}
	if c.SettlementTimeout <= 0 {
		c.SettlementTimeout = d.SettlementTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = d.ReceiptPollInterval
	}
	if c.GasHeadroomPercent == 0 {
		c.GasHeadroomPercent = d.GasHeadroomPercent
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
