package mdg

import (
	"fmt"
	"math/rand"
	"time"

	"main/internal/schema"
)

// liveOrder is a synthetic resting order the generator may later remove.
type liveOrder struct {
	refID uint64
	side  schema.OrderSide
}

// Generator produces synthetic market data as a bounded random walk per
// symbol. Prices stay inside each symbol's band and on its tick grid so the
// downstream book accepts every tick. Alongside trades and quotes it emits
// add/remove depth updates with stable reference IDs, which is what keeps a
// consuming book populated.
type Generator struct {
	symbols []schema.Symbol
	mids    []int64
	live    [][]liveOrder
	source  uint16
	baseQty int64
	rng     *rand.Rand
	index   int
	seq     uint64
	nextRef uint64
}

// NewGenerator creates a generator covering every symbol in the registry.
// A zero seed derives one from the wall clock.
func NewGenerator(reg *schema.Registry, source uint16, baseQty int64, seed int64) (*Generator, error) {
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if baseQty <= 0 {
		baseQty = 1
	}
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	symbols := make([]schema.Symbol, 0, reg.SymbolCount())
	mids := make([]int64, 0, reg.SymbolCount())
	for i := 0; i < reg.SymbolCount(); i++ {
		symbol, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		symbols = append(symbols, symbol)
		mids = append(mids, midpoint(symbol.Rules))
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	return &Generator{
		symbols: symbols,
		mids:    mids,
		live:    make([][]liveOrder, len(symbols)),
		source:  source,
		baseQty: baseQty,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// midpoint returns the band midpoint snapped to the tick grid.
func midpoint(rules schema.MarketRules) int64 {
	tick := int64(rules.TickSize)
	mid := (int64(rules.BandLow) + int64(rules.BandHigh)) / 2
	return mid - mid%tick
}

// Next produces the next raw tick, cycling through symbols round-robin. The
// mid moves by at most two ticks per step; depth updates rest one to three
// ticks away from it on the resting side.
func (g *Generator) Next(now time.Time) RawTick {
	i := g.index
	g.index = (g.index + 1) % len(g.symbols)
	g.seq++

	symbol := g.symbols[i]
	tick := int64(symbol.Rules.TickSize)
	mid := g.walk(i, tick, symbol.Rules)
	qty := g.baseQty + g.rng.Int63n(g.baseQty)

	raw := RawTick{
		Symbol:  symbol.Name,
		Size:    qty,
		Source:  g.source,
		TsEvent: now.UnixNano(),
		TsRecv:  now.UnixNano(),
	}

	switch {
	case len(g.live[i]) > 4 && g.rng.Intn(3) == 0:
		// Pop a random resting order.
		idx := g.rng.Intn(len(g.live[i]))
		order := g.live[i][idx]
		g.live[i] = append(g.live[i][:idx], g.live[i][idx+1:]...)
		raw.Kind = schema.MarketDataRemove
		raw.RefID = order.refID
		raw.Side = order.side
	case g.seq%5 == 0:
		raw.Kind = schema.MarketDataTrade
		raw.Price = mid
	case g.seq%7 == 0:
		raw.Kind = schema.MarketDataQuote
		raw.Price = mid
		raw.BidPrice = mid - tick
		raw.BidSize = qty
		raw.AskPrice = mid + tick
		raw.AskSize = qty
	default:
		// Rest a new order one to three ticks off the mid, away from the
		// touch so the book never crosses.
		g.nextRef++
		side := schema.OrderSideBuy
		offset := (1 + g.rng.Int63n(3)) * tick
		price := mid - offset
		if g.rng.Intn(2) == 1 {
			side = schema.OrderSideSell
			price = mid + offset
		}
		g.live[i] = append(g.live[i], liveOrder{refID: g.nextRef, side: side})
		raw.Kind = schema.MarketDataAdd
		raw.RefID = g.nextRef
		raw.Side = side
		raw.Price = price
	}
	return raw
}

// walk advances one symbol's mid and clamps it inside the band with enough
// headroom for resting orders three ticks out.
func (g *Generator) walk(i int, tick int64, rules schema.MarketRules) int64 {
	mid := g.mids[i] + (g.rng.Int63n(5)-2)*tick
	low := int64(rules.BandLow) + 4*tick
	high := int64(rules.BandHigh) - 4*tick
	low += (tick - low%tick) % tick
	high -= high % tick
	if mid < low {
		mid = low
	}
	if mid > high {
		mid = high
	}
	g.mids[i] = mid
	return mid
}

// Seq returns the number of ticks generated so far.
func (g *Generator) Seq() uint64 {
	return g.seq
}
