package risk

import "math"

// Scenario is one named stress case: an instantaneous market shock, a
// volatility multiplier and a correlation shock applied to every position.
type Scenario struct {
	Name             string  `json:"name"`
	MarketShock      float64 `json:"marketShock"`
	VolMultiplier    float64 `json:"volMultiplier"`
	CorrelationShock float64 `json:"correlationShock"`
}

// DefaultScenarios is the fixed stress catalogue evaluated on the sampled
// cadence.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "flash-crash", MarketShock: -0.10, VolMultiplier: 3.0, CorrelationShock: 0.5},
		{Name: "vol-spike", MarketShock: -0.03, VolMultiplier: 5.0, CorrelationShock: 0.3},
		{Name: "melt-up", MarketShock: 0.05, VolMultiplier: 2.0, CorrelationShock: 0.2},
		{Name: "correlated-selloff", MarketShock: -0.07, VolMultiplier: 2.5, CorrelationShock: 0.9},
		{Name: "liquidity-drain", MarketShock: -0.02, VolMultiplier: 4.0, CorrelationShock: 0.6},
	}
}

// StressPosition is one position's inputs to scenario evaluation. Gamma is
// zero for linear instruments.
type StressPosition struct {
	Value float64
	Gamma float64
	VaR   float64
}

// ScenarioLoss evaluates one scenario against a set of positions. Each
// position contributes |v·s + 0.5·γ·v·s²·volMult + VaR·corrShock|.
func ScenarioLoss(positions []StressPosition, sc Scenario) float64 {
	var total float64
	for _, p := range positions {
		s := sc.MarketShock
		loss := p.Value*s + 0.5*p.Gamma*p.Value*s*s*sc.VolMultiplier + p.VaR*sc.CorrelationShock
		total += math.Abs(loss)
	}
	return total
}

// WorstCase evaluates the whole catalogue and returns the maximum loss and
// the scenario that produced it.
func WorstCase(positions []StressPosition, scenarios []Scenario) (float64, string) {
	var worst float64
	var name string
	for _, sc := range scenarios {
		if loss := ScenarioLoss(positions, sc); loss > worst {
			worst = loss
			name = sc.Name
		}
	}
	return worst, name
}
