package risk

import (
	"fmt"
	"time"

	"main/internal/schema"
)

// Limits defines the pre-trade risk limits. Values are scaled integers in
// the registry's notional scale unless noted. Zero disables a check.
type Limits struct {
	Version uint16 `json:"version"`

	MaxOrderQty      schema.Quantity `json:"maxOrderQty"`
	MaxPositionValue schema.Notional `json:"maxPositionValue"`
	MaxGrossExposure schema.Notional `json:"maxGrossExposure"`
	MaxNetExposure   schema.Notional `json:"maxNetExposure"`

	MaxDailyLoss schema.Notional `json:"maxDailyLoss"`
	MaxDrawdown  schema.Notional `json:"maxDrawdown"`

	// MaxSymbolWeightBps caps a single symbol's share of gross exposure,
	// in basis points (10000 = 100%).
	MaxSymbolWeightBps int64 `json:"maxSymbolWeightBps"`

	MaxOrdersPerSecond int `json:"maxOrdersPerSecond"`

	// VaRConfidenceBps is the VaR confidence level in basis points,
	// e.g. 9900 for 99%.
	VaRConfidenceBps   int64           `json:"varConfidenceBps"`
	VaRLimit           schema.Notional `json:"varLimit"`
	VaRBreachBudget    int             `json:"varBreachBudget"`
	VaRRefreshInterval time.Duration   `json:"varRefreshInterval"`

	// StressSampleEvery runs the stress catalogue once per N risk checks.
	StressSampleEvery int             `json:"stressSampleEvery"`
	MaxStressLoss     schema.Notional `json:"maxStressLoss"`

	// OverflowEscalateThreshold is the queue-drop count beyond which the
	// kill switch is escalated to ReduceOnly.
	OverflowEscalateThreshold uint64 `json:"overflowEscalateThreshold"`
}

// Validate checks the limits for internal consistency.
func (l Limits) Validate() error {
	if l.MaxOrderQty < 0 || l.MaxPositionValue < 0 || l.MaxGrossExposure < 0 || l.MaxNetExposure < 0 {
		return fmt.Errorf("exposure limits must be >= 0")
	}
	if l.MaxDailyLoss < 0 || l.MaxDrawdown < 0 {
		return fmt.Errorf("loss limits must be >= 0")
	}
	if l.MaxSymbolWeightBps < 0 || l.MaxSymbolWeightBps > 10000 {
		return fmt.Errorf("maxSymbolWeightBps out of range: %d", l.MaxSymbolWeightBps)
	}
	if l.MaxOrdersPerSecond < 0 {
		return fmt.Errorf("maxOrdersPerSecond must be >= 0")
	}
	if l.VaRConfidenceBps < 0 || l.VaRConfidenceBps >= 10000 {
		return fmt.Errorf("varConfidenceBps out of range: %d", l.VaRConfidenceBps)
	}
	if l.VaRBreachBudget < 0 || l.VaRLimit < 0 {
		return fmt.Errorf("VaR budget and limit must be >= 0")
	}
	if l.VaRRefreshInterval < 0 {
		return fmt.Errorf("varRefreshInterval must be >= 0")
	}
	if l.StressSampleEvery < 0 || l.MaxStressLoss < 0 {
		return fmt.Errorf("stress settings must be >= 0")
	}
	return nil
}

// DefaultLimits returns conservative limits for simulation runs.
func DefaultLimits() Limits {
	return Limits{
		MaxOrderQty:        1_000,
		MaxPositionValue:   10_000_000,
		MaxGrossExposure:   50_000_000,
		MaxNetExposure:     25_000_000,
		MaxDailyLoss:       500_000,
		MaxDrawdown:        1_000_000,
		MaxSymbolWeightBps: 2_500,
		MaxOrdersPerSecond: 100,
		VaRConfidenceBps:   9_900,
		VaRLimit:           750_000,
		VaRBreachBudget:    3,
		VaRRefreshInterval: time.Second,
		StressSampleEvery:  1_000,
		MaxStressLoss:      5_000_000,

		OverflowEscalateThreshold: 10_000,
	}
}
