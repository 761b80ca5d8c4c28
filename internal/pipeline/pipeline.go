// Package pipeline wires the trading stages together: market data flows into
// per-symbol books, the signal stage turns book state into signals, the
// order stage runs every intent through the risk gate and the execution
// stage delivers approved intents to the venue. Stages are connected by
// bounded queues with exactly one consumer each, which preserves per-symbol
// causal order end to end.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/risk"
	"main/internal/schema"
)

const (
	defaultMarketDataCap = 8192
	defaultSignalCap     = 2048
	defaultOrderCap      = 1024
	defaultExecutionCap  = 1024

	defaultVenueTimeout     = 50 * time.Millisecond
	defaultOverflowInterval = 100 * time.Millisecond
	correlationRecalcEvery  = 256
)

// Config sizes the queues and bounds the venue interaction.
type Config struct {
	MarketDataCap int
	SignalCap     int
	OrderCap      int
	ExecutionCap  int

	// VenueTimeout bounds a single venue send.
	VenueTimeout time.Duration
	// VenueRatePerSec throttles sends to the venue. Zero disables the
	// throttle.
	VenueRatePerSec float64
	// OverflowInterval is the queue-drop sampling cadence for the circuit
	// breaker.
	OverflowInterval time.Duration
}

func (c *Config) fill() {
	if c.MarketDataCap <= 0 {
		c.MarketDataCap = defaultMarketDataCap
	}
	if c.SignalCap <= 0 {
		c.SignalCap = defaultSignalCap
	}
	if c.OrderCap <= 0 {
		c.OrderCap = defaultOrderCap
	}
	if c.ExecutionCap <= 0 {
		c.ExecutionCap = defaultExecutionCap
	}
	if c.VenueTimeout <= 0 {
		c.VenueTimeout = defaultVenueTimeout
	}
	if c.OverflowInterval <= 0 {
		c.OverflowInterval = defaultOverflowInterval
	}
}

// Pipeline owns the books, the stage queues and the stage goroutines.
type Pipeline struct {
	cfg     Config
	books   map[uint32]*book.Book
	engine  *risk.Engine
	gateway *og.Gateway
	source  SignalSource
	venue   VenueConnector
	metrics *obs.Metrics
	alerts  obs.AlertSink
	clock   obs.Clock

	mdQ   *bus.Queue
	sigQ  *bus.Queue
	ordQ  *bus.Queue
	execQ *bus.Queue

	limiter *rate.Limiter

	nextOrderID atomic.Uint64
	strategyID  uint32

	lastTrade  map[uint32]schema.Price
	tradeCount uint64

	gwMu sync.Mutex

	onDecision func(schema.RiskDecision)
	onFill     func(schema.Fill)

	wg sync.WaitGroup
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithTelemetry installs metrics and the alert sink.
func WithTelemetry(metrics *obs.Metrics, alerts obs.AlertSink) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
		p.alerts = alerts
	}
}

// WithClock overrides the pipeline clock.
func WithClock(clock obs.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithStrategyID stamps outgoing intents with a strategy id.
func WithStrategyID(id uint32) Option {
	return func(p *Pipeline) { p.strategyID = id }
}

// WithDecisionHandler observes every risk decision, for recording.
func WithDecisionHandler(fn func(schema.RiskDecision)) Option {
	return func(p *Pipeline) { p.onDecision = fn }
}

// WithFillHandler observes every confirmed fill, for recording.
func WithFillHandler(fn func(schema.Fill)) Option {
	return func(p *Pipeline) { p.onFill = fn }
}

// New builds a pipeline over the given registry. Every registry symbol gets
// its own book.
func New(reg *schema.Registry, engine *risk.Engine, gateway *og.Gateway, source SignalSource, venue VenueConnector, cfg Config, opts ...Option) *Pipeline {
	cfg.fill()
	p := &Pipeline{
		cfg:       cfg,
		books:     make(map[uint32]*book.Book, reg.SymbolCount()),
		engine:    engine,
		gateway:   gateway,
		source:    source,
		venue:     venue,
		alerts:    obs.LogSink{},
		clock:     obs.WallClock,
		mdQ:       bus.NewQueue("market-data", cfg.MarketDataCap),
		sigQ:      bus.NewQueue("signal", cfg.SignalCap),
		ordQ:      bus.NewQueue("order", cfg.OrderCap),
		execQ:     bus.NewQueue("execution", cfg.ExecutionCap),
		lastTrade: make(map[uint32]schema.Price),
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.VenueRatePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.VenueRatePerSec), 1)
	}

	for i := 0; i < reg.SymbolCount(); i++ {
		symbol, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		b := book.New(symbol.ID, symbol.Rules, book.Clock(p.clock))
		b.OnQuarantine(p.quarantined)
		p.books[uint32(symbol.ID)] = b
	}

	venue.OnAck(p.handleAck)
	venue.OnFill(p.handleFill)
	return p
}

// Book returns the book for a symbol.
func (p *Pipeline) Book(symbolID uint32) (*book.Book, bool) {
	b, ok := p.books[symbolID]
	return b, ok
}

// Gateway returns the order gateway.
func (p *Pipeline) Gateway() *og.Gateway {
	return p.gateway
}

// QueueDrops returns the total events dropped across all stage queues.
func (p *Pipeline) QueueDrops() uint64 {
	return p.mdQ.Drops() + p.sigQ.Drops() + p.ordQ.Drops() + p.execQ.Drops()
}

// Run starts the stage goroutines and blocks until the context is done.
func (p *Pipeline) Run(ctx context.Context) {
	stages := []struct {
		q       *bus.Queue
		handler func(bus.Event)
	}{
		{p.mdQ, p.runMarketData},
		{p.sigQ, p.runSignal},
		{p.ordQ, p.runOrder},
		{p.execQ, p.runExecution(ctx)},
	}
	for _, stage := range stages {
		p.wg.Add(1)
		go func(q *bus.Queue, handler func(bus.Event)) {
			defer p.wg.Done()
			q.Run(ctx, handler)
		}(stage.q, stage.handler)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchOverflow(ctx)
	}()

	<-ctx.Done()
	p.mdQ.Close()
	p.sigQ.Close()
	p.ordQ.Close()
	p.execQ.Close()
	p.wg.Wait()
}

// PublishMarketData feeds one market data event into the pipeline. It never
// blocks; on a full queue the event is dropped and counted.
func (p *Pipeline) PublishMarketData(header schema.EventHeader, md schema.MarketData) bool {
	payload := codec.EncodeMarketData(nil, md)
	if err := p.mdQ.TryPublish(bus.Event{Header: header, Payload: payload}); err != nil {
		p.metrics.IncQueueDrop()
		return false
	}
	p.metrics.ObserveEvent(header)
	return true
}

// runMarketData applies one event to its book and forwards it to the signal
// stage.
func (p *Pipeline) runMarketData(e bus.Event) {
	md, ok := codec.DecodeMarketData(e.Payload)
	if !ok {
		p.metrics.IncMalformed()
		logs.Warnf("malformed market data event, seq: %d", e.Header.Seq)
		return
	}
	b, ok := p.books[md.SymbolID]
	if !ok {
		p.metrics.IncMalformed()
		return
	}

	switch md.Kind {
	case schema.MarketDataAdd:
		b.AddOrder(md.RefID, md.Price, md.Size, md.Side, schema.OrderTypeLimit)
	case schema.MarketDataRemove:
		b.RemoveOrder(md.RefID)
	case schema.MarketDataTrade:
		p.observeTrade(md)
	}

	if b.Quarantined() {
		return
	}
	if err := p.sigQ.TryPublish(e); err != nil {
		p.metrics.IncQueueDrop()
	}
}

// observeTrade marks positions and feeds the return history used by VaR and
// correlations.
func (p *Pipeline) observeTrade(md schema.MarketData) {
	if md.Price <= 0 {
		return
	}
	p.engine.Positions().Mark(md.SymbolID, md.Price)
	if last, ok := p.lastTrade[md.SymbolID]; ok && last > 0 {
		r := float64(md.Price-last) / float64(last)
		p.engine.Analytics().AddReturn(md.SymbolID, r)
	}
	p.lastTrade[md.SymbolID] = md.Price

	p.tradeCount++
	if p.tradeCount%correlationRecalcEvery == 0 {
		p.engine.Analytics().RecalcCorrelations()
	}
}

// runSignal evaluates the strategy against the updated book.
func (p *Pipeline) runSignal(e bus.Event) {
	md, ok := codec.DecodeMarketData(e.Payload)
	if !ok {
		p.metrics.IncMalformed()
		return
	}
	sig, ok := p.source.Evaluate(md, p.books[md.SymbolID])
	if !ok {
		return
	}
	header := schema.NewHeader(schema.EventSignal, e.Header.Source, e.Header.Seq, e.Header.TsEvent, p.clock())
	header.TraceID = e.Header.TraceID
	if err := p.ordQ.TryPublish(bus.Event{Header: header, Payload: codec.EncodeSignal(nil, sig)}); err != nil {
		p.metrics.IncQueueDrop()
		return
	}
	p.metrics.ObserveEvent(header)
}

// runOrder turns a signal into an intent and runs it through the risk gate.
func (p *Pipeline) runOrder(e bus.Event) {
	sig, ok := codec.DecodeSignal(e.Payload)
	if !ok {
		p.metrics.IncMalformed()
		return
	}
	side := schema.OrderSideBuy
	if sig.Strength < 0 {
		side = schema.OrderSideSell
	}
	tif := schema.TimeInForceIOC
	if sig.Urgency == schema.SignalUrgencyLow {
		tif = schema.TimeInForceGTC
	}
	intent := schema.OrderIntent{
		OrderID:     p.nextOrderID.Add(1),
		StrategyID:  p.strategyID,
		SymbolID:    sig.SymbolID,
		Side:        side,
		Type:        schema.OrderTypeLimit,
		TimeInForce: tif,
		Price:       sig.Price,
		Qty:         sig.Qty,
	}

	decision := p.engine.Check(intent)
	if p.onDecision != nil {
		p.onDecision(decision)
	}
	if decision.Action != schema.RiskActionAllow {
		p.engine.Retire(intent.OrderID)
		return
	}

	p.gwMu.Lock()
	err := p.gateway.Send(intent)
	p.gwMu.Unlock()
	if err != nil {
		logs.Warnf("gateway refused order %d: %+v", intent.OrderID, err)
		p.engine.Retire(intent.OrderID)
		return
	}

	header := schema.NewHeader(schema.EventOrderIntent, e.Header.Source, e.Header.Seq, e.Header.TsEvent, p.clock())
	header.TraceID = e.Header.TraceID
	if err := p.execQ.TryPublish(bus.Event{Header: header, Payload: codec.EncodeOrderIntent(nil, intent)}); err != nil {
		p.metrics.IncQueueDrop()
		// The gateway already tracks the order; a synthetic reject retires
		// it there as well as in the risk cache.
		p.rejectLocally(intent, schema.OrderAckReasonRateLimit)
		return
	}
	p.metrics.ObserveEvent(header)
}

// runExecution sends an approved intent to the venue under the throttle and
// a bounded timeout.
func (p *Pipeline) runExecution(ctx context.Context) func(bus.Event) {
	return func(e bus.Event) {
		intent, ok := codec.DecodeOrderIntent(e.Payload)
		if !ok {
			p.metrics.IncMalformed()
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.VenueTimeout)
		defer cancel()

		if p.limiter != nil {
			if err := p.limiter.Wait(sendCtx); err != nil {
				p.rejectLocally(intent, schema.OrderAckReasonRateLimit)
				return
			}
		}
		start := p.clock()
		if err := p.venue.Send(sendCtx, intent); err != nil {
			logs.Errorf("venue send failed for order %d: %+v", intent.OrderID, err)
			p.rejectLocally(intent, schema.OrderAckReasonVenueReject)
			return
		}
		p.metrics.ObserveOrderFlow(time.Duration(p.clock() - start))
	}
}

// rejectLocally synthesizes a reject ack for an order the venue never saw.
func (p *Pipeline) rejectLocally(intent schema.OrderIntent, reason schema.OrderAckReason) {
	p.handleAck(schema.OrderAck{
		OrderID:  intent.OrderID,
		SymbolID: intent.SymbolID,
		Status:   schema.OrderAckStatusRejected,
		Reason:   reason,
		Price:    intent.Price,
		Qty:      intent.Qty,
	})
}

func (p *Pipeline) handleAck(ack schema.OrderAck) {
	p.gwMu.Lock()
	err := p.gateway.OnAck(ack)
	p.gwMu.Unlock()
	if err != nil {
		logs.Warnf("ack for order %d ignored: %+v", ack.OrderID, err)
		return
	}
	header := schema.NewHeader(schema.EventOrderAck, 0, ack.OrderID, p.clock(), p.clock())
	p.metrics.ObserveEvent(header)
	if ack.Status == schema.OrderAckStatusRejected {
		p.engine.Retire(ack.OrderID)
	}
}

func (p *Pipeline) handleFill(fill schema.Fill) {
	p.gwMu.Lock()
	err := p.gateway.OnFill(fill)
	p.gwMu.Unlock()
	if err != nil {
		logs.Warnf("fill for order %d ignored: %+v", fill.OrderID, err)
		return
	}
	p.engine.ApplyFill(fill)
	header := schema.NewHeader(schema.EventFill, 0, fill.OrderID, p.clock(), p.clock())
	p.metrics.ObserveEvent(header)
	if p.onFill != nil {
		p.onFill(fill)
	}
}

// quarantined is the book hook: a crossed book stops the symbol and raises a
// critical alert.
func (p *Pipeline) quarantined(symbolID schema.SymbolID, reason string) {
	p.metrics.IncQuarantine()
	logs.Errorf("symbol %d quarantined: %s", symbolID, reason)
	p.alerts.Alert(obs.AlertCritical, "quarantine", reason)
}

// watchOverflow samples cumulative queue drops and feeds the circuit
// breaker.
func (p *Pipeline) watchOverflow(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OverflowInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.engine.ObserveOverflow(p.QueueDrops())
		}
	}
}
