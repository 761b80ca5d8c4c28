// Package risk implements the pre-trade gate: every order intent must pass
// the full check chain before it may reach an execution venue. Checks run
// cheapest-first so the expensive analytics short-circuit, and the gate
// issues at most one decision per order.
package risk

import (
	"sync"
	"time"

	"main/internal/obs"
	"main/internal/schema"
)

// MarketCondition is the external market-state gating hook (volatility and
// spread thresholds live outside the core).
type MarketCondition interface {
	Allow(symbolID uint32) bool
}

// Engine is the pre-trade risk gate. A single goroutine drives Check; the
// positions table and analytics are read concurrently by other components.
type Engine struct {
	cfg       Limits
	kill      *KillSwitch
	positions *Positions
	analytics *Analytics
	market    MarketCondition
	clock     obs.Clock
	metrics   *obs.Metrics
	alerts    obs.AlertSink

	mu      sync.Mutex
	decided map[uint64]schema.RiskDecision
	rate    rateWindow
	checks  uint64

	pnlHighWater schema.Notional

	varValue      schema.Notional
	varComputedAt int64
	varBreaches   int
	varDay        int64
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithMarketCondition installs the market-state gating hook.
func WithMarketCondition(mc MarketCondition) Option {
	return func(e *Engine) { e.market = mc }
}

// WithClock overrides the engine clock.
func WithClock(clock obs.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTelemetry installs metrics and the alert sink.
func WithTelemetry(metrics *obs.Metrics, alerts obs.AlertSink) Option {
	return func(e *Engine) {
		e.metrics = metrics
		e.alerts = alerts
	}
}

// NewEngine creates a risk engine with the given limits.
func NewEngine(cfg Limits, kill *KillSwitch, positions *Positions, analytics *Analytics, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		kill:      kill,
		positions: positions,
		analytics: analytics,
		clock:     obs.WallClock,
		alerts:    obs.LogSink{},
		decided:   make(map[uint64]schema.RiskDecision),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the engine's configured limits.
func (e *Engine) Limits() Limits {
	return e.cfg
}

// KillSwitch returns the engine's kill switch.
func (e *Engine) KillSwitch() *KillSwitch {
	return e.kill
}

// Positions returns the session position table.
func (e *Engine) Positions() *Positions {
	return e.positions
}

// Analytics returns the VaR/correlation engine.
func (e *Engine) Analytics() *Analytics {
	return e.analytics
}

// Check runs the pre-trade chain against an order intent and returns the
// decision. Repeated calls for an already-decided order return the original
// decision unchanged: a decision is final and never retried by the gate.
func (e *Engine) Check(intent schema.OrderIntent) schema.RiskDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.decided[intent.OrderID]; ok {
		return prev
	}

	start := e.clock()
	decision := e.evaluate(intent, start)
	e.decided[intent.OrderID] = decision

	e.metrics.ObserveRiskEval(time.Duration(e.clock() - start))
	e.metrics.ObserveDecision(decision)

	e.checks++
	if e.cfg.StressSampleEvery > 0 && e.checks%uint64(e.cfg.StressSampleEvery) == 0 {
		e.runStress()
	}
	return decision
}

func (e *Engine) evaluate(intent schema.OrderIntent, now int64) schema.RiskDecision {
	decision := schema.RiskDecision{
		OrderID:       intent.OrderID,
		StrategyID:    intent.StrategyID,
		SymbolID:      intent.SymbolID,
		Action:        schema.RiskActionAllow,
		Reason:        schema.RiskReasonNone,
		Reserved:      e.cfg.Version,
		ProposedQty:   intent.Qty,
		ProposedPrice: intent.Price,
		CurrentPos:    e.positions.Qty(intent.SymbolID),
		MaxPos:        e.cfg.MaxOrderQty,
		MaxNotional:   e.cfg.MaxPositionValue,
	}
	deny := func(reason schema.RiskReason) schema.RiskDecision {
		decision.Action = schema.RiskActionDeny
		decision.Reason = reason
		return decision
	}

	// 1. Kill switch gates everything else.
	oldAbs := abs64(int64(decision.CurrentPos))
	newAbs := abs64(int64(decision.CurrentPos) + signedQty(intent))
	switch e.kill.Level() {
	case KillEmergencyStop:
		return deny(schema.RiskReasonKillSwitch)
	case KillCloseOnly:
		if newAbs >= oldAbs || oldAbs == 0 {
			return deny(schema.RiskReasonKillSwitch)
		}
	case KillReduceOnly:
		if newAbs > oldAbs {
			return deny(schema.RiskReasonKillSwitch)
		}
	}

	// 2. Order velocity over a sliding one-second window.
	if e.cfg.MaxOrdersPerSecond > 0 {
		if e.rate.observe(now) > e.cfg.MaxOrdersPerSecond {
			return deny(schema.RiskReasonVelocity)
		}
	}

	// 3. Size, position value and exposure caps.
	if e.cfg.MaxOrderQty > 0 && intent.Qty > e.cfg.MaxOrderQty {
		return deny(schema.RiskReasonPositionLimit)
	}
	orderValue := int64(intent.Price) * signedQty(intent)
	symValue := int64(e.positions.SymbolValue(intent.SymbolID))
	newSymValue := symValue + orderValue
	if e.cfg.MaxPositionValue > 0 && abs64(newSymValue) > int64(e.cfg.MaxPositionValue) {
		return deny(schema.RiskReasonPositionLimit)
	}
	gross := int64(e.positions.GrossExposure())
	newGross := gross - abs64(symValue) + abs64(newSymValue)
	if e.cfg.MaxGrossExposure > 0 && newGross > int64(e.cfg.MaxGrossExposure) {
		return deny(schema.RiskReasonPositionLimit)
	}
	if e.cfg.MaxNetExposure > 0 {
		net := int64(e.positions.NetExposure()) + orderValue
		if abs64(net) > int64(e.cfg.MaxNetExposure) {
			return deny(schema.RiskReasonPositionLimit)
		}
	}

	// 4. Daily loss and drawdown from the session high-water mark.
	pnl := e.positions.TotalPnL()
	if pnl > e.pnlHighWater {
		e.pnlHighWater = pnl
	}
	if e.cfg.MaxDailyLoss > 0 && pnl <= -e.cfg.MaxDailyLoss {
		return deny(schema.RiskReasonLossLimit)
	}
	if e.cfg.MaxDrawdown > 0 && e.pnlHighWater-pnl >= e.cfg.MaxDrawdown {
		return deny(schema.RiskReasonLossLimit)
	}

	// 5. Single-symbol concentration. Only meaningful once the portfolio
	// holds exposure outside this symbol.
	if e.cfg.MaxSymbolWeightBps > 0 && newGross > abs64(newSymValue) {
		weight := abs64(newSymValue) * 10000 / newGross
		if weight > e.cfg.MaxSymbolWeightBps {
			return deny(schema.RiskReasonConcentration)
		}
	}

	// 6. External market-condition gate.
	if e.market != nil && !e.market.Allow(intent.SymbolID) {
		return deny(schema.RiskReasonMarketConditions)
	}

	// 7. Cached portfolio VaR against the breach budget.
	if e.cfg.VaRLimit > 0 {
		e.refreshVaR(now)
		if e.varBreaches > e.cfg.VaRBreachBudget {
			return deny(schema.RiskReasonVaRLimit)
		}
	}

	return decision
}

// refreshVaR recomputes portfolio VaR at most once per refresh interval. The
// breach counter resets on day rollover.
func (e *Engine) refreshVaR(now int64) {
	day := now / int64(24*time.Hour)
	if day != e.varDay {
		e.varDay = day
		e.varBreaches = 0
	}
	interval := int64(e.cfg.VaRRefreshInterval)
	if interval <= 0 {
		interval = int64(time.Second)
	}
	if e.varComputedAt != 0 && now-e.varComputedAt < interval {
		return
	}
	e.varComputedAt = now

	vars := make(map[uint32]schema.Notional)
	for _, view := range e.positions.Views() {
		if view.Qty == 0 {
			continue
		}
		vars[view.SymbolID] = e.analytics.SymbolVaR(view.SymbolID, e.cfg.VaRConfidenceBps, view.MarketValue)
	}
	e.varValue = e.analytics.PortfolioVaR(vars)
	if e.varValue > e.cfg.VaRLimit {
		e.varBreaches++
		e.alerts.Alert(obs.AlertWarn, "var-breach", "portfolio VaR over limit")
	}
}

// PortfolioVaR returns the last cached portfolio VaR.
func (e *Engine) PortfolioVaR() schema.Notional {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.varValue
}

func (e *Engine) runStress() {
	views := e.positions.Views()
	inputs := make([]StressPosition, 0, len(views))
	for _, v := range views {
		if v.Qty == 0 {
			continue
		}
		inputs = append(inputs, StressPosition{
			Value: float64(v.MarketValue),
			VaR:   float64(e.analytics.SymbolVaR(v.SymbolID, e.cfg.VaRConfidenceBps, v.MarketValue)),
		})
	}
	if len(inputs) == 0 {
		return
	}
	worst, name := WorstCase(inputs, DefaultScenarios())
	if e.cfg.MaxStressLoss > 0 && worst > float64(e.cfg.MaxStressLoss) {
		e.alerts.Alert(obs.AlertWarn, "stress-loss", "worst case scenario "+name+" over limit")
	}
}

// ApplyFill mutates the position table from a confirmed fill. This is the
// only position mutation path; it also retires the order's cached decision.
func (e *Engine) ApplyFill(fill schema.Fill) schema.Quantity {
	delta := int64(fill.Qty)
	if fill.Side == schema.OrderSideSell {
		delta = -delta
	}
	qty := e.positions.Apply(fill.SymbolID, schema.Quantity(delta), fill.Price, e.clock())

	e.mu.Lock()
	delete(e.decided, fill.OrderID)
	e.mu.Unlock()
	return qty
}

// Retire drops the cached decision for a terminal order.
func (e *Engine) Retire(orderID uint64) {
	e.mu.Lock()
	delete(e.decided, orderID)
	e.mu.Unlock()
}

// ObserveOverflow feeds the cumulative queue-drop count into the circuit
// breaker: past the configured threshold the kill switch escalates to
// reduce-only.
func (e *Engine) ObserveOverflow(totalDrops uint64) {
	if e.cfg.OverflowEscalateThreshold == 0 {
		return
	}
	if totalDrops >= e.cfg.OverflowEscalateThreshold {
		e.kill.Escalate(KillReduceOnly, "queue overflow above threshold")
	}
}

func signedQty(intent schema.OrderIntent) int64 {
	if intent.Side == schema.OrderSideSell {
		return -int64(intent.Qty)
	}
	return int64(intent.Qty)
}
