package risk

import (
	"sort"
	"sync"
	"sync/atomic"

	"main/internal/schema"
)

// Position tracks one symbol's holdings for the trading session. Scalar
// fields are individually atomic: the fill-callback path is the only writer,
// risk checks read concurrently without locks.
type Position struct {
	symbolID    uint32
	qty         atomic.Int64 // signed, quantity scale
	avgCost     atomic.Int64 // price scale
	markPrice   atomic.Int64
	marketValue atomic.Int64 // signed, qty * mark
	realized    atomic.Int64
	unrealized  atomic.Int64
	lastUpdate  atomic.Int64
}

// PositionView is a point-in-time copy of a position.
type PositionView struct {
	SymbolID    uint32          `json:"symbolId"`
	Qty         schema.Quantity `json:"qty"`
	AvgCost     schema.Price    `json:"avgCost"`
	MarketValue schema.Notional `json:"marketValue"`
	Realized    schema.Notional `json:"realized"`
	Unrealized  schema.Notional `json:"unrealized"`
	LastUpdate  int64           `json:"lastUpdate"`
}

// View returns a consistent-enough snapshot for telemetry and risk checks.
func (p *Position) View() PositionView {
	return PositionView{
		SymbolID:    p.symbolID,
		Qty:         schema.Quantity(p.qty.Load()),
		AvgCost:     schema.Price(p.avgCost.Load()),
		MarketValue: schema.Notional(p.marketValue.Load()),
		Realized:    schema.Notional(p.realized.Load()),
		Unrealized:  schema.Notional(p.unrealized.Load()),
		LastUpdate:  p.lastUpdate.Load(),
	}
}

// Qty returns the signed position quantity.
func (p *Position) Qty() schema.Quantity {
	return schema.Quantity(p.qty.Load())
}

// Positions is the session-wide position table. The map itself is guarded by
// a read-mostly lock; entries are mutated only through Apply, which must be
// called from the confirmed-fill path.
type Positions struct {
	mu      sync.RWMutex
	entries map[uint32]*Position
}

// NewPositions creates an empty table.
func NewPositions() *Positions {
	return &Positions{entries: make(map[uint32]*Position)}
}

func (t *Positions) get(symbolID uint32) *Position {
	t.mu.RLock()
	p, ok := t.entries[symbolID]
	t.mu.RUnlock()
	if ok {
		return p
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok = t.entries[symbolID]; ok {
		return p
	}
	p = &Position{symbolID: symbolID}
	t.entries[symbolID] = p
	return p
}

// Apply updates a position from a confirmed fill. It recomputes average cost
// and realized PnL and returns the new signed quantity. Speculative updates
// are forbidden; callers must hold a fill confirmation.
func (t *Positions) Apply(symbolID uint32, qtyDelta schema.Quantity, price schema.Price, now int64) schema.Quantity {
	p := t.get(symbolID)

	oldQty := p.qty.Load()
	delta := int64(qtyDelta)
	newQty := oldQty + delta

	avg := p.avgCost.Load()
	switch {
	case oldQty == 0 || (oldQty > 0) == (delta > 0):
		// Opening or adding: quantity-weighted average cost.
		totalQty := abs64(oldQty) + abs64(delta)
		if totalQty > 0 {
			avg = (abs64(oldQty)*avg + abs64(delta)*int64(price)) / totalQty
		}
	case abs64(delta) <= abs64(oldQty):
		// Partial or full close: realize PnL against average cost.
		closed := abs64(delta)
		p.realized.Add(closed * (int64(price) - avg) * sign64(oldQty))
		if newQty == 0 {
			avg = 0
		}
	default:
		// Close and flip: realize the closed leg, restart at fill price.
		closed := abs64(oldQty)
		p.realized.Add(closed * (int64(price) - avg) * sign64(oldQty))
		avg = int64(price)
	}

	p.qty.Store(newQty)
	p.avgCost.Store(avg)
	p.lastUpdate.Store(now)
	t.mark(p, int64(price))
	return schema.Quantity(newQty)
}

// Mark revalues a position at the given mark price.
func (t *Positions) Mark(symbolID uint32, mark schema.Price) {
	t.mu.RLock()
	p, ok := t.entries[symbolID]
	t.mu.RUnlock()
	if !ok {
		return
	}
	t.mark(p, int64(mark))
}

func (t *Positions) mark(p *Position, mark int64) {
	if mark > 0 {
		p.markPrice.Store(mark)
	} else {
		mark = p.markPrice.Load()
	}
	qty := p.qty.Load()
	p.marketValue.Store(qty * mark)
	p.unrealized.Store(qty * (mark - p.avgCost.Load()))
}

// Qty returns the signed quantity for a symbol, zero when absent.
func (t *Positions) Qty(symbolID uint32) schema.Quantity {
	t.mu.RLock()
	p, ok := t.entries[symbolID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return p.Qty()
}

// SymbolValue returns the signed market value for a symbol.
func (t *Positions) SymbolValue(symbolID uint32) schema.Notional {
	t.mu.RLock()
	p, ok := t.entries[symbolID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return schema.Notional(p.marketValue.Load())
}

// GrossExposure returns the sum of absolute position values.
func (t *Positions) GrossExposure() schema.Notional {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, p := range t.entries {
		total += abs64(p.marketValue.Load())
	}
	return schema.Notional(total)
}

// NetExposure returns the signed sum of position values.
func (t *Positions) NetExposure() schema.Notional {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, p := range t.entries {
		total += p.marketValue.Load()
	}
	return schema.Notional(total)
}

// TotalPnL returns realized plus unrealized PnL across all symbols.
func (t *Positions) TotalPnL() schema.Notional {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, p := range t.entries {
		total += p.realized.Load() + p.unrealized.Load()
	}
	return schema.Notional(total)
}

// Count returns the number of tracked symbols.
func (t *Positions) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Views returns position snapshots sorted by symbol id.
func (t *Positions) Views() []PositionView {
	t.mu.RLock()
	out := make([]PositionView, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p.View())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SymbolID < out[j].SymbolID })
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
