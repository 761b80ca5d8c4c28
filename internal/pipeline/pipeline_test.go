package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/risk"
	"main/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("sim")
	if err != nil {
		t.Fatalf("AddVenue: %v", err)
	}
	rules := schema.MarketRules{
		TickSize:    1,
		BandLow:     1,
		BandHigh:    1_000_000,
		MaxOrderQty: 100_000,
		MaxLevels:   1024,
	}
	if _, err := reg.AddSymbol("SIM-A", venueID, schema.ScaleSpec{}, rules); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	return reg
}

func testPipeline(t *testing.T, opts ...Option) (*Pipeline, *risk.Engine) {
	t.Helper()
	return testPipelineWith(t, Config{}, opts...)
}

func testPipelineWith(t *testing.T, cfg Config, opts ...Option) (*Pipeline, *risk.Engine) {
	t.Helper()
	metrics := obs.NewMetrics()
	kill := risk.NewKillSwitch(obs.NopSink{}, metrics)
	engine := risk.NewEngine(risk.DefaultLimits(), kill, risk.NewPositions(), risk.NewAnalytics(0),
		risk.WithTelemetry(metrics, obs.NopSink{}),
	)
	source := NewImbalance(ImbalanceConfig{
		MinStrength:   1_000,
		MinConfidence: 1,
		MaxSpreadBps:  10_000,
		OrderQty:      5,
	})
	opts = append([]Option{WithTelemetry(metrics, obs.NopSink{}), WithStrategyID(1)}, opts...)
	p := New(testRegistry(t), engine, og.NewGateway(og.GatewayConfig{}), source, NewSimVenue(), cfg, opts...)
	return p, engine
}

func mdEvent(seq uint64, md schema.MarketData) bus.Event {
	return bus.Event{
		Header:  schema.NewHeader(schema.EventMarketData, 1, seq, int64(seq), int64(seq)),
		Payload: codec.EncodeMarketData(nil, md),
	}
}

func addOrder(seq, refID uint64, side schema.OrderSide, price schema.Price, qty schema.Quantity) bus.Event {
	return mdEvent(seq, schema.MarketData{
		SymbolID: 1,
		Kind:     schema.MarketDataAdd,
		Side:     side,
		RefID:    refID,
		Price:    price,
		Size:     qty,
	})
}

func TestMarketDataBuildsBook(t *testing.T) {
	p, _ := testPipeline(t)

	p.runMarketData(addOrder(1, 10, schema.OrderSideBuy, 100, 50))
	p.runMarketData(addOrder(2, 11, schema.OrderSideSell, 102, 30))
	p.runMarketData(mdEvent(3, schema.MarketData{SymbolID: 1, Kind: schema.MarketDataRemove, RefID: 10}))

	b, ok := p.Book(1)
	if !ok {
		t.Fatal("book missing")
	}
	top := b.Top()
	if top.HasBid() {
		t.Fatalf("bid should be gone, top = %+v", top)
	}
	if !top.HasAsk() || top.AskPrice != 102 || top.AskQty != 30 {
		t.Fatalf("ask = %+v", top)
	}
}

func TestSignalToFillFlow(t *testing.T) {
	var decisions []schema.RiskDecision
	var fills []schema.Fill
	p, engine := testPipeline(t,
		WithDecisionHandler(func(d schema.RiskDecision) { decisions = append(decisions, d) }),
		WithFillHandler(func(f schema.Fill) { fills = append(fills, f) }),
	)

	// Heavy bid side produces a buy signal.
	p.runMarketData(addOrder(1, 10, schema.OrderSideBuy, 100, 90))
	p.runMarketData(addOrder(2, 11, schema.OrderSideSell, 101, 10))

	e, ok := p.sigQ.TryPop()
	if !ok {
		t.Fatal("no event forwarded to signal stage")
	}
	p.runSignal(e)

	e, ok = p.ordQ.TryPop()
	if !ok {
		t.Fatal("no signal emitted")
	}
	sig, _ := codec.DecodeSignal(e.Payload)
	if sig.Strength <= 0 {
		t.Fatalf("strength = %d, want positive for a bid-heavy book", sig.Strength)
	}
	p.runOrder(e)

	if len(decisions) != 1 || decisions[0].Action != schema.RiskActionAllow {
		t.Fatalf("decisions = %+v", decisions)
	}
	e, ok = p.execQ.TryPop()
	if !ok {
		t.Fatal("approved intent not forwarded to execution")
	}
	p.runExecution(t.Context())(e)

	if len(fills) != 1 {
		t.Fatalf("fills = %+v", fills)
	}
	if got := engine.Positions().Qty(1); got != 5 {
		t.Fatalf("position = %d, want 5", got)
	}
	lc := p.Gateway().Lifecycle()
	if lc.Active() != 0 || lc.Completed() != 1 {
		t.Fatalf("lifecycle active=%d completed=%d, want 0/1", lc.Active(), lc.Completed())
	}
	if _, ok := lc.Order(fills[0].OrderID); ok {
		t.Fatal("filled order should be retired from the lifecycle")
	}
}

func TestRiskRejectNeverReachesVenue(t *testing.T) {
	var decisions []schema.RiskDecision
	p, engine := testPipeline(t,
		WithDecisionHandler(func(d schema.RiskDecision) { decisions = append(decisions, d) }),
	)
	engine.KillSwitch().Escalate(risk.KillEmergencyStop, "test")

	p.runMarketData(addOrder(1, 10, schema.OrderSideBuy, 100, 90))
	p.runMarketData(addOrder(2, 11, schema.OrderSideSell, 101, 10))
	if e, ok := p.sigQ.TryPop(); ok {
		p.runSignal(e)
	}
	if e, ok := p.ordQ.TryPop(); ok {
		p.runOrder(e)
	}

	if len(decisions) != 1 || decisions[0].Reason != schema.RiskReasonKillSwitch {
		t.Fatalf("decisions = %+v", decisions)
	}
	if _, ok := p.execQ.TryPop(); ok {
		t.Fatal("rejected order reached the execution queue")
	}
}

func TestQuarantineStopsForwarding(t *testing.T) {
	p, _ := testPipeline(t)

	p.runMarketData(addOrder(1, 10, schema.OrderSideBuy, 100, 50))
	p.sigQ.TryPop()
	// Crossing sell quarantines the book.
	p.runMarketData(addOrder(2, 11, schema.OrderSideSell, 99, 10))

	b, _ := p.Book(1)
	if !b.Quarantined() {
		t.Fatal("book should be quarantined after a crossed add")
	}
	if _, ok := p.sigQ.TryPop(); ok {
		t.Fatal("quarantined symbol must not feed the signal stage")
	}

	// Later events for the symbol are applied but never forwarded.
	p.runMarketData(mdEvent(3, schema.MarketData{SymbolID: 1, Kind: schema.MarketDataTrade, Price: 100, Size: 1}))
	if _, ok := p.sigQ.TryPop(); ok {
		t.Fatal("quarantined symbol must stay silent")
	}
}

func TestTradeFeedsReturnsAndMarks(t *testing.T) {
	p, engine := testPipeline(t)

	engine.ApplyFill(schema.Fill{OrderID: 1, SymbolID: 1, Side: schema.OrderSideBuy, Price: 100, Qty: 10})
	p.runMarketData(mdEvent(1, schema.MarketData{SymbolID: 1, Kind: schema.MarketDataTrade, Price: 100, Size: 1}))
	p.runMarketData(mdEvent(2, schema.MarketData{SymbolID: 1, Kind: schema.MarketDataTrade, Price: 110, Size: 1}))

	if got := engine.Analytics().Observations(1); got != 1 {
		t.Fatalf("observations = %d, want 1", got)
	}
	if got := engine.Positions().SymbolValue(1); got != 10*110 {
		t.Fatalf("marked value = %d, want %d", got, 10*110)
	}
}

func TestMalformedEventsAreCounted(t *testing.T) {
	metrics := obs.NewMetrics()
	p, _ := testPipeline(t, WithTelemetry(metrics, obs.NopSink{}))

	p.runMarketData(bus.Event{Header: schema.NewHeader(schema.EventMarketData, 1, 1, 1, 1), Payload: []byte{1, 2, 3}})
	if got := metrics.Snapshot().MalformedEvents; got != 1 {
		t.Fatalf("malformed = %d, want 1", got)
	}
}

func TestBookPerSymbolIsolation(t *testing.T) {
	p, _ := testPipeline(t)
	if _, ok := p.Book(99); ok {
		t.Fatal("unknown symbol must have no book")
	}
	var found *book.Book
	b, _ := p.Book(1)
	found = b
	if found == nil || found.SymbolID() != 1 {
		t.Fatalf("book = %+v", found)
	}
}

func TestRunPreservesPerSymbolEventOrder(t *testing.T) {
	var mu sync.Mutex
	var fillIDs []uint64
	p, _ := testPipeline(t, WithFillHandler(func(f schema.Fill) {
		mu.Lock()
		fillIDs = append(fillIDs, f.OrderID)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	seq := uint64(0)
	publish := func(md schema.MarketData) {
		seq++
		header := schema.NewHeader(schema.EventMarketData, 1, seq, int64(seq), int64(seq))
		if !p.PublishMarketData(header, md) {
			t.Fatalf("publish seq %d dropped", seq)
		}
	}

	publish(schema.MarketData{SymbolID: 1, Kind: schema.MarketDataAdd, Side: schema.OrderSideSell, RefID: 999, Price: 102, Size: 10})
	for i := uint64(1); i <= 50; i++ {
		publish(schema.MarketData{SymbolID: 1, Kind: schema.MarketDataAdd, Side: schema.OrderSideBuy, RefID: i, Price: 100, Size: 90})
		publish(schema.MarketData{SymbolID: 1, Kind: schema.MarketDataRemove, RefID: i})
	}
	// The resting bid stays on the book, so its add event is guaranteed to
	// produce a signal and a fill.
	publish(schema.MarketData{SymbolID: 1, Kind: schema.MarketDataAdd, Side: schema.OrderSideBuy, RefID: 500, Price: 100, Size: 90})

	// Every remove follows its add, so FIFO consumption applies all 102
	// mutations and each bumps the version exactly once.
	b, _ := p.Book(1)
	deadline := time.Now().Add(5 * time.Second)
	for b.Version() < 102 {
		if time.Now().After(deadline) {
			t.Fatalf("book version = %d, want 102", b.Version())
		}
		time.Sleep(time.Millisecond)
	}
	for {
		mu.Lock()
		n := len(fillIDs)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no fill arrived")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if b.BidLevels() != 1 || b.AskLevels() != 1 {
		t.Fatalf("levels = %d/%d, want 1/1 after paired add/remove flow", b.BidLevels(), b.AskLevels())
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(fillIDs); i++ {
		if fillIDs[i] <= fillIDs[i-1] {
			t.Fatalf("fill order ids out of order: %v", fillIDs)
		}
	}
}

func TestExecQueueOverflowRetiresOrder(t *testing.T) {
	var decisions []schema.RiskDecision
	p, _ := testPipelineWith(t, Config{ExecutionCap: 1},
		WithDecisionHandler(func(d schema.RiskDecision) { decisions = append(decisions, d) }),
	)

	p.runMarketData(addOrder(1, 10, schema.OrderSideBuy, 100, 90))
	p.runMarketData(addOrder(2, 11, schema.OrderSideSell, 101, 10))
	p.runMarketData(addOrder(3, 12, schema.OrderSideBuy, 99, 90))
	// The one-sided book swallows the first evaluation; the next two emit
	// buy signals.
	for {
		e, ok := p.sigQ.TryPop()
		if !ok {
			break
		}
		p.runSignal(e)
	}
	// Two approved orders against a single execution slot: the second
	// publish overflows.
	for {
		e, ok := p.ordQ.TryPop()
		if !ok {
			break
		}
		p.runOrder(e)
	}

	if len(decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(decisions))
	}
	if got := p.QueueDrops(); got != 1 {
		t.Fatalf("queue drops = %d, want 1", got)
	}
	lc := p.Gateway().Lifecycle()
	if o, ok := lc.Order(1); !ok || o.State != og.OrderStateSent {
		t.Fatalf("order 1 = %+v, want tracked in sent state", o)
	}
	if _, ok := lc.Order(2); ok {
		t.Fatal("overflowed order should be retired from the gateway")
	}
	if lc.Active() != 1 || lc.Completed() != 1 {
		t.Fatalf("lifecycle active=%d completed=%d, want 1/1", lc.Active(), lc.Completed())
	}
}

func TestEvaluateDuringBookMutation(t *testing.T) {
	p, _ := testPipeline(t)
	b, _ := p.Book(1)
	b.AddOrder(1, 100, 90, schema.OrderSideBuy, schema.OrderTypeLimit)
	b.AddOrder(2, 102, 10, schema.OrderSideSell, schema.OrderTypeLimit)

	source := NewImbalance(ImbalanceConfig{MinStrength: 1, MinConfidence: 1, MaxSpreadBps: 10_000, OrderQty: 1})
	md := schema.MarketData{SymbolID: 1}

	done := make(chan struct{})
	go func() {
		defer close(done)
		id := uint64(100)
		for i := 0; i < 2000; i++ {
			b.AddOrder(id, 99, 5, schema.OrderSideBuy, schema.OrderTypeLimit)
			b.RemoveOrder(id)
			id++
		}
	}()
	for i := 0; i < 2000; i++ {
		source.Evaluate(md, b)
	}
	<-done
}
