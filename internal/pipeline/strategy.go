package pipeline

import (
	"main/internal/book"
	"main/internal/schema"
)

// SignalSource turns market data into trading signals. Evaluate runs on the
// signal stage goroutine, so implementations need no locking of their own
// state.
type SignalSource interface {
	Evaluate(md schema.MarketData, b *book.Book) (schema.Signal, bool)
}

// ImbalanceConfig parameterizes the built-in top-of-book imbalance strategy.
type ImbalanceConfig struct {
	// MinStrength is the minimum absolute imbalance, in SignalScale units,
	// before a signal fires.
	MinStrength int32
	// MinConfidence filters out signals from wide markets.
	MinConfidence int32
	// MaxSpreadBps skips symbols whose spread is too wide to trade.
	MaxSpreadBps int64
	// OrderQty is the quantity attached to each signal.
	OrderQty schema.Quantity
}

// Imbalance is a top-of-book imbalance strategy: when resting bid quantity
// dominates ask quantity the mid is expected to drift up, and vice versa.
// Confidence falls with the quoted spread.
type Imbalance struct {
	cfg ImbalanceConfig
}

// NewImbalance creates the strategy with defaults filled in.
func NewImbalance(cfg ImbalanceConfig) *Imbalance {
	if cfg.MinStrength <= 0 {
		cfg.MinStrength = schema.SignalScale / 4
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = schema.SignalScale / 2
	}
	if cfg.MaxSpreadBps <= 0 {
		cfg.MaxSpreadBps = 100
	}
	if cfg.OrderQty <= 0 {
		cfg.OrderQty = 1
	}
	return &Imbalance{cfg: cfg}
}

// Evaluate implements SignalSource.
func (s *Imbalance) Evaluate(md schema.MarketData, b *book.Book) (schema.Signal, bool) {
	if b == nil || b.Quarantined() {
		return schema.Signal{}, false
	}
	top := b.Top()
	if !top.HasBid() || !top.HasAsk() {
		return schema.Signal{}, false
	}
	// The snapshot is the only book state read here; Evaluate runs on the
	// signal stage while the market data stage owns the ladders.
	spread := top.SpreadBps()
	if spread < 0 || spread > s.cfg.MaxSpreadBps {
		return schema.Signal{}, false
	}

	total := int64(top.BidQty) + int64(top.AskQty)
	if total == 0 {
		return schema.Signal{}, false
	}
	strength := int32((int64(top.BidQty) - int64(top.AskQty)) * schema.SignalScale / total)
	if strength > -s.cfg.MinStrength && strength < s.cfg.MinStrength {
		return schema.Signal{}, false
	}

	// Tighter markets carry more weight: full confidence at zero spread,
	// none at the cutoff.
	confidence := int32((s.cfg.MaxSpreadBps - spread) * schema.SignalScale / s.cfg.MaxSpreadBps)
	if confidence < s.cfg.MinConfidence {
		return schema.Signal{}, false
	}

	urgency := schema.SignalUrgencyNormal
	if strength > schema.SignalScale/2 || strength < -schema.SignalScale/2 {
		urgency = schema.SignalUrgencyHigh
	}
	price := top.AskPrice
	if strength < 0 {
		price = top.BidPrice
	}
	return schema.Signal{
		SymbolID:   md.SymbolID,
		Strength:   strength,
		Confidence: confidence,
		Urgency:    urgency,
		Price:      price,
		Qty:        s.cfg.OrderQty,
	}, true
}
