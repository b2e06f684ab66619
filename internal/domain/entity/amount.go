package entity

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal places used by the lending contract.
const (
	EtherDecimals int32 = 18
	USDDecimals   int32 = 8
	PriceDecimals int32 = 8
)

// Amount is a fixed-point value: Raw scaled down by 10^Decimals.
type Amount struct {
	Raw      *big.Int
	Decimals int32
}

// NewAmount creates an Amount holding a copy of raw.
func NewAmount(raw *big.Int, decimals int32) Amount {
	if raw == nil {
		return Amount{Raw: new(big.Int), Decimals: decimals}
	}
	return Amount{Raw: new(big.Int).Set(raw), Decimals: decimals}
}

// ZeroAmount returns a zero value with the given precision.
func ZeroAmount(decimals int32) Amount {
	return Amount{Raw: new(big.Int), Decimals: decimals}
}

// Limits on human-entered amounts. Raw values are uint256 contract arguments,
// and 2^256 is below 10^78.
const (
	maxAmountInput    = 100
	maxAmountExponent = 78
	maxAmountBits     = 256
)

// ParseAmount parses a human-entered decimal string such as "1.25" into an Amount
// with the given precision. More fractional digits than decimals is an error, as is
// a value whose raw form does not fit in 256 bits. Errors are *ValidationError.
func ParseAmount(s string, decimals int32) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, invalidAmount("amount is empty")
	}
	if len(s) > maxAmountInput {
		return Amount{}, invalidAmount(fmt.Sprintf("longer than %d characters", maxAmountInput))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, invalidAmount(fmt.Sprintf("%q is not a number", s))
	}

	// Truncate and Shift materialize 10^|exponent|, so the exponent is bounded first.
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -(decimals+maxAmountInput) {
		return Amount{}, invalidAmount(fmt.Sprintf("%q is out of range", s))
	}
	if !d.Truncate(decimals).Equal(d) {
		return Amount{}, invalidAmount(fmt.Sprintf("%q has more than %d decimal places", s, decimals))
	}

	raw := d.Shift(decimals).BigInt()
	if raw.BitLen() > maxAmountBits {
		return Amount{}, invalidAmount(fmt.Sprintf("%q is out of range", s))
	}
	return Amount{Raw: raw, Decimals: decimals}, nil
}

func invalidAmount(reason string) *ValidationError {
	return &ValidationError{Field: "amount", Reason: reason}
}

// Decimal returns the value as a decimal.Decimal.
func (a Amount) Decimal() decimal.Decimal {
	if a.Raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.Raw, -a.Decimals)
}

// Float64 returns a lossy float representation, for display and ratios only.
func (a Amount) Float64() float64 {
	f, _ := a.Decimal().Float64()
	return f
}

func (a Amount) String() string {
	return a.Decimal().String()
}

// StringFixed renders the value rounded to places fractional digits.
func (a Amount) StringFixed(places int32) string {
	return a.Decimal().StringFixed(places)
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	if a.Raw == nil {
		return 0
	}
	return a.Raw.Sign()
}

func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Equal compares values, not representations: 1.0 with 18 decimals equals 1.0 with 8.
func (a Amount) Equal(b Amount) bool {
	return a.Decimal().Equal(b.Decimal())
}

type amountJSON struct {
	Value    string `json:"value"`
	Raw      string `json:"raw"`
	Decimals int32  `json:"decimals"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	raw := "0"
	if a.Raw != nil {
		raw = a.Raw.String()
	}
	return json.Marshal(amountJSON{Value: a.String(), Raw: raw, Decimals: a.Decimals})
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var v amountJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	raw, ok := new(big.Int).SetString(v.Raw, 10)
	if !ok {
		return fmt.Errorf("invalid raw amount %q", v.Raw)
	}
	a.Raw = raw
	a.Decimals = v.Decimals
	return nil
}
