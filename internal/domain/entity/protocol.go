package entity

import "fmt"

// ProtocolConstants are the lending contract's numeric parameters. They are
// supplied by configuration and only ever read by the core.
type ProtocolConstants struct {
	// MinStablePrice is the lowest acceptable stablecoin price, in 1e8 USD units.
	MinStablePrice          int64 `yaml:"minStablePrice" json:"minStablePrice"`
	LiquidationThresholdBps int64 `yaml:"liquidationThresholdBps" json:"liquidationThresholdBps"`
	LiquidationBonusBps     int64 `yaml:"liquidationBonusBps" json:"liquidationBonusBps"`
	RatePrecision           int64 `yaml:"ratePrecision" json:"ratePrecision"`
	USDPrecision            int64 `yaml:"usdPrecision" json:"usdPrecision"`
}

// DefaultProtocolConstants returns the values the deployed contract uses.
func DefaultProtocolConstants() ProtocolConstants {
	return ProtocolConstants{
		MinStablePrice:          99_000_000,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		RatePrecision:           10_000,
		USDPrecision:            100_000_000,
	}
}

// Diff lists the fields where other disagrees with c.
func (c ProtocolConstants) Diff(other ProtocolConstants) []string {
	var out []string
	check := func(name string, a, b int64) {
		if a != b {
			out = append(out, fmt.Sprintf("%s: configured %d, ledger %d", name, a, b))
		}
	}
	check("minStablePrice", c.MinStablePrice, other.MinStablePrice)
	check("liquidationThresholdBps", c.LiquidationThresholdBps, other.LiquidationThresholdBps)
	check("liquidationBonusBps", c.LiquidationBonusBps, other.LiquidationBonusBps)
	check("ratePrecision", c.RatePrecision, other.RatePrecision)
	check("usdPrecision", c.USDPrecision, other.USDPrecision)
	return out
}
