// Package book implements the per-symbol limit order book: sorted bid/ask
// price levels with aggregate depth, owned by a single writer goroutine.
// Readers never touch the ladders; they consume lock-free top-of-book
// snapshots published after every mutation.
package book

import (
	"sort"
	"sync/atomic"

	"main/internal/schema"
)

// Clock returns monotonic nanoseconds. Injected so tests and replay control
// level timestamps.
type Clock func() int64

// Level is one resident price level. It exists only while OrderCount > 0.
type Level struct {
	Price      schema.Price
	Qty        schema.Quantity
	OrderCount int
	UpdatedAt  int64
}

// TopOfBook is the atomic reader-facing snapshot. Version increases by one
// on every successful book mutation.
type TopOfBook struct {
	BidPrice schema.Price
	BidQty   schema.Quantity
	AskPrice schema.Price
	AskQty   schema.Quantity
	Version  uint64
}

// HasBid reports whether a bid level exists.
func (t TopOfBook) HasBid() bool { return t.BidQty > 0 }

// HasAsk reports whether an ask level exists.
func (t TopOfBook) HasAsk() bool { return t.AskQty > 0 }

// SpreadBps returns the bid/ask spread in basis points of the mid price, or
// 0 when either side is empty.
func (t TopOfBook) SpreadBps() int64 {
	if !t.HasBid() || !t.HasAsk() {
		return 0
	}
	bid := int64(t.BidPrice)
	ask := int64(t.AskPrice)
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0
	}
	return (ask - bid) * 10000 / mid
}

type orderRef struct {
	side  schema.OrderSide
	price schema.Price
	qty   schema.Quantity
}

// Book is a single-symbol order book. All mutating calls must come from the
// symbol's owner goroutine; concurrent readers use Top().
type Book struct {
	symbolID schema.SymbolID
	rules    schema.MarketRules
	clock    Clock

	bids []Level // strictly descending by price
	asks []Level // strictly ascending by price

	orders      map[uint64]orderRef
	totalBidQty schema.Quantity
	totalAskQty schema.Quantity

	top         atomic.Pointer[TopOfBook]
	version     atomic.Uint64
	quarantined atomic.Bool

	onQuarantine func(symbolID schema.SymbolID, reason string)
}

// New creates an empty book for one symbol.
func New(symbolID schema.SymbolID, rules schema.MarketRules, clock Clock) *Book {
	if clock == nil {
		clock = func() int64 { return 0 }
	}
	b := &Book{
		symbolID: symbolID,
		rules:    rules,
		clock:    clock,
		orders:   make(map[uint64]orderRef),
	}
	b.top.Store(&TopOfBook{})
	return b
}

// OnQuarantine registers a hook invoked once when the symbol is quarantined.
func (b *Book) OnQuarantine(fn func(symbolID schema.SymbolID, reason string)) {
	b.onQuarantine = fn
}

// SymbolID returns the symbol this book belongs to.
func (b *Book) SymbolID() schema.SymbolID {
	return b.symbolID
}

// Quarantined reports whether the symbol has been quarantined after a
// detected invariant violation. A quarantined book rejects all mutations.
func (b *Book) Quarantined() bool {
	return b.quarantined.Load()
}

// AddOrder inserts a resting order. It rejects off-tick or out-of-band
// prices, zero or over-cap quantities, market orders (which cannot rest) and
// updates that would cross the book. Crossing updates quarantine the symbol.
func (b *Book) AddOrder(id uint64, price schema.Price, qty schema.Quantity, side schema.OrderSide, typ schema.OrderType) bool {
	if b.quarantined.Load() {
		return false
	}
	if id == 0 || typ == schema.OrderTypeMarket {
		return false
	}
	if qty <= 0 || qty > b.rules.MaxOrderQty {
		return false
	}
	if price < b.rules.BandLow || price > b.rules.BandHigh {
		return false
	}
	if b.rules.TickSize > 0 && price%b.rules.TickSize != 0 {
		return false
	}
	if _, exists := b.orders[id]; exists {
		return false
	}

	top := b.top.Load()
	switch side {
	case schema.OrderSideBuy:
		if top.HasAsk() && price >= top.AskPrice {
			b.quarantine("bid would cross best ask")
			return false
		}
		if !b.insert(&b.bids, price, qty, true) {
			return false
		}
		b.totalBidQty += qty
	case schema.OrderSideSell:
		if top.HasBid() && price <= top.BidPrice {
			b.quarantine("ask would cross best bid")
			return false
		}
		if !b.insert(&b.asks, price, qty, false) {
			return false
		}
		b.totalAskQty += qty
	default:
		return false
	}

	b.orders[id] = orderRef{side: side, price: price, qty: qty}
	b.publishTop()
	return true
}

// RemoveOrder removes a resting order. Unknown or already-removed ids return
// false with no state change. The level is excised when its last order goes,
// and the snapshot is refreshed only when the top level was touched.
func (b *Book) RemoveOrder(id uint64) bool {
	if b.quarantined.Load() {
		return false
	}
	ref, ok := b.orders[id]
	if !ok {
		return false
	}

	var ladder *[]Level
	desc := false
	switch ref.side {
	case schema.OrderSideBuy:
		ladder = &b.bids
		desc = true
	case schema.OrderSideSell:
		ladder = &b.asks
	default:
		return false
	}

	idx, found := findLevel(*ladder, ref.price, desc)
	if !found {
		// The id map and the ladder disagree; treat as corruption.
		b.quarantine("order references missing level")
		return false
	}

	lv := &(*ladder)[idx]
	lv.Qty -= ref.qty
	lv.OrderCount--
	lv.UpdatedAt = b.clock()
	if lv.OrderCount <= 0 {
		*ladder = append((*ladder)[:idx], (*ladder)[idx+1:]...)
	}

	if ref.side == schema.OrderSideBuy {
		b.totalBidQty -= ref.qty
	} else {
		b.totalAskQty -= ref.qty
	}
	delete(b.orders, id)

	if idx == 0 {
		b.publishTop()
	} else {
		b.bumpVersion()
	}
	return true
}

// Top returns the current lock-free snapshot.
func (b *Book) Top() TopOfBook {
	return *b.top.Load()
}

// Version returns the monotonically increasing book version.
func (b *Book) Version() uint64 {
	return b.version.Load()
}

// BestBidOffer returns the best bid and ask levels, if present.
func (b *Book) BestBidOffer() (bid, ask Level, hasBid, hasAsk bool) {
	if len(b.bids) > 0 {
		bid, hasBid = b.bids[0], true
	}
	if len(b.asks) > 0 {
		ask, hasAsk = b.asks[0], true
	}
	return bid, ask, hasBid, hasAsk
}

// TotalBidQuantity returns the aggregate resting bid quantity.
func (b *Book) TotalBidQuantity() schema.Quantity {
	return b.totalBidQty
}

// TotalAskQuantity returns the aggregate resting ask quantity.
func (b *Book) TotalAskQuantity() schema.Quantity {
	return b.totalAskQty
}

// BidLevels returns the number of resident bid levels.
func (b *Book) BidLevels() int { return len(b.bids) }

// AskLevels returns the number of resident ask levels.
func (b *Book) AskLevels() int { return len(b.asks) }

// LevelAt returns the level at the given depth index for a side.
func (b *Book) LevelAt(side schema.OrderSide, index int) (Level, bool) {
	ladder := b.bids
	if side == schema.OrderSideSell {
		ladder = b.asks
	}
	if index < 0 || index >= len(ladder) {
		return Level{}, false
	}
	return ladder[index], true
}

// SpreadBps returns the bid/ask spread in basis points of the mid price. It
// reads the published snapshot, never the ladders, so concurrent readers may
// call it.
func (b *Book) SpreadBps() int64 {
	return b.Top().SpreadBps()
}

// VWAP returns the quantity-weighted average price over the top n levels of
// a side. With n=1 it equals the best level price. Returns 0 when the side
// is empty or n < 1.
func (b *Book) VWAP(side schema.OrderSide, n int) schema.Price {
	ladder := b.bids
	if side == schema.OrderSideSell {
		ladder = b.asks
	}
	if n < 1 || len(ladder) == 0 {
		return 0
	}
	if n > len(ladder) {
		n = len(ladder)
	}
	var notional, qty int64
	for i := 0; i < n; i++ {
		notional += int64(ladder[i].Price) * int64(ladder[i].Qty)
		qty += int64(ladder[i].Qty)
	}
	if qty == 0 {
		return 0
	}
	return schema.Price(notional / qty)
}

func (b *Book) insert(ladder *[]Level, price schema.Price, qty schema.Quantity, desc bool) bool {
	idx, found := findLevel(*ladder, price, desc)
	if found {
		lv := &(*ladder)[idx]
		lv.Qty += qty
		lv.OrderCount++
		lv.UpdatedAt = b.clock()
		return true
	}
	if len(*ladder) >= b.rules.MaxLevels {
		return false
	}
	*ladder = append(*ladder, Level{})
	copy((*ladder)[idx+1:], (*ladder)[idx:])
	(*ladder)[idx] = Level{
		Price:      price,
		Qty:        qty,
		OrderCount: 1,
		UpdatedAt:  b.clock(),
	}
	return true
}

// findLevel locates the level with the given price, or the sorted insertion
// point when absent. Bids are kept strictly descending, asks strictly
// ascending.
func findLevel(ladder []Level, price schema.Price, desc bool) (int, bool) {
	var idx int
	if desc {
		idx = sort.Search(len(ladder), func(i int) bool { return ladder[i].Price <= price })
	} else {
		idx = sort.Search(len(ladder), func(i int) bool { return ladder[i].Price >= price })
	}
	if idx < len(ladder) && ladder[idx].Price == price {
		return idx, true
	}
	return idx, false
}

func (b *Book) quarantine(reason string) {
	if !b.quarantined.CompareAndSwap(false, true) {
		return
	}
	if b.onQuarantine != nil {
		b.onQuarantine(b.symbolID, reason)
	}
}

func (b *Book) publishTop() {
	next := &TopOfBook{Version: b.version.Add(1)}
	if len(b.bids) > 0 {
		next.BidPrice = b.bids[0].Price
		next.BidQty = b.bids[0].Qty
	}
	if len(b.asks) > 0 {
		next.AskPrice = b.asks[0].Price
		next.AskQty = b.asks[0].Qty
	}
	b.top.Store(next)
}

func (b *Book) bumpVersion() {
	// Snapshot contents unchanged; only the version moves.
	top := *b.top.Load()
	top.Version = b.version.Add(1)
	b.top.Store(&top)
}
