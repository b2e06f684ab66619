package entity

import (
	"fmt"
	"math"
)

// RiskLevel is the presentation-level risk bucket of a position.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// ClassifyCollateralRatio buckets a collateral ratio given in basis points
// (15000 = 150%): 200% and above is safe, 150% and above moderate.
func ClassifyCollateralRatio(ratioBps int64) RiskLevel {
	switch {
	case ratioBps >= 20000:
		return RiskSafe
	case ratioBps >= 15000:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// HealthBand is the display band of a health factor.
type HealthBand string

const (
	HealthBandHealthy  HealthBand = "healthy"
	HealthBandWatch    HealthBand = "watch"
	HealthBandWarning  HealthBand = "warning"
	HealthBandCritical HealthBand = "critical"
)

// HealthFactor returns collateral * (thresholdBps / 10000) / borrowed, or +Inf
// when nothing is borrowed.
func HealthFactor(collateral, borrowed Amount, liquidationThresholdBps int64) float64 {
	if borrowed.Sign() <= 0 {
		return math.Inf(1)
	}
	c := collateral.Float64() * float64(liquidationThresholdBps) / 10000
	return c / borrowed.Float64()
}

// ClassifyHealthFactor buckets a health factor: above 2 healthy, above 1.5
// watch, above 1.2 warning, anything lower critical.
func ClassifyHealthFactor(hf float64) HealthBand {
	switch {
	case hf > 2:
		return HealthBandHealthy
	case hf > 1.5:
		return HealthBandWatch
	case hf > 1.2:
		return HealthBandWarning
	default:
		return HealthBandCritical
	}
}

// FormatHealthFactor renders a health factor with two decimals, capping the
// display at ">10.00". No debt renders as "∞".
func FormatHealthFactor(hf float64) string {
	if math.IsInf(hf, 1) {
		return "∞"
	}
	if hf > 10 {
		return ">10.00"
	}
	return fmt.Sprintf("%.2f", hf)
}
