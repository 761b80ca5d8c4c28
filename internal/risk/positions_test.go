package risk

import (
	"testing"
)

func TestApplyAveragesCost(t *testing.T) {
	table := NewPositions()
	table.Apply(1, 100, 100, 1)
	table.Apply(1, 100, 110, 2)

	view := table.Views()[0]
	if view.Qty != 200 {
		t.Fatalf("qty = %d, want 200", view.Qty)
	}
	if view.AvgCost != 105 {
		t.Fatalf("avgCost = %d, want 105", view.AvgCost)
	}
}

func TestApplyRealizesOnClose(t *testing.T) {
	table := NewPositions()
	table.Apply(1, 100, 100, 1)
	table.Apply(1, -40, 120, 2)

	view := table.Views()[0]
	if view.Qty != 60 {
		t.Fatalf("qty = %d, want 60", view.Qty)
	}
	if view.Realized != 40*(120-100) {
		t.Fatalf("realized = %d, want %d", view.Realized, 40*(120-100))
	}
	if view.AvgCost != 100 {
		t.Fatalf("avgCost = %d, want 100 after partial close", view.AvgCost)
	}
}

func TestApplyFlipRestartsAverage(t *testing.T) {
	table := NewPositions()
	table.Apply(1, 100, 100, 1)
	table.Apply(1, -150, 90, 2)

	view := table.Views()[0]
	if view.Qty != -50 {
		t.Fatalf("qty = %d, want -50", view.Qty)
	}
	// Closed 100 at a 10 loss each.
	if view.Realized != -1000 {
		t.Fatalf("realized = %d, want -1000", view.Realized)
	}
	if view.AvgCost != 90 {
		t.Fatalf("avgCost = %d, want 90 after flip", view.AvgCost)
	}
}

func TestMarkUpdatesUnrealized(t *testing.T) {
	table := NewPositions()
	table.Apply(1, 100, 100, 1)
	table.Mark(1, 95)

	view := table.Views()[0]
	if view.Unrealized != 100*(95-100) {
		t.Fatalf("unrealized = %d, want %d", view.Unrealized, 100*(95-100))
	}
	if view.MarketValue != 100*95 {
		t.Fatalf("marketValue = %d, want %d", view.MarketValue, 100*95)
	}
}

func TestExposuresAcrossSymbols(t *testing.T) {
	table := NewPositions()
	table.Apply(1, 100, 100, 1)  // +10000
	table.Apply(2, -50, 200, 2)  // -10000

	if got := table.GrossExposure(); got != 20000 {
		t.Fatalf("gross = %d, want 20000", got)
	}
	if got := table.NetExposure(); got != 0 {
		t.Fatalf("net = %d, want 0", got)
	}
	if got := table.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestMarkUnknownSymbolIsNoop(t *testing.T) {
	table := NewPositions()
	table.Mark(42, 100)
	if got := table.Count(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func TestRateWindowSlides(t *testing.T) {
	var w rateWindow
	base := int64(10_000_000_000)

	for i := 0; i < 5; i++ {
		w.observe(base + int64(i)*rateBucketNs)
	}
	if got := w.observe(base + 5*rateBucketNs); got != 6 {
		t.Fatalf("window total = %d, want 6", got)
	}

	// One full second later only the new observation remains.
	if got := w.observe(base + 20*rateBucketNs); got != 1 {
		t.Fatalf("after slide total = %d, want 1", got)
	}
}
