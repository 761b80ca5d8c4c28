package ops

import (
	"testing"

	"main/internal/schema"
)

const sampleConfig = `{
  "registry": {
    "venues": [{"name": "sim"}],
    "symbols": [
      {
        "name": "BTC-USD",
        "venue": "sim",
        "priceScale": 2,
        "quantityScale": 4,
        "tickSize": "0.01",
        "bandLow": "1000.00",
        "bandHigh": "100000.00",
        "maxOrderQty": "10",
        "maxLevels": 256
      }
    ]
  },
  "risk": {
    "maxOrderQty": 1000,
    "maxPositionValue": 1000000,
    "maxOrdersPerSecond": 50,
    "varConfidenceBps": 9900
  },
  "queues": {"marketData": 8192, "signal": 1024, "order": 512, "execution": 512},
  "generator": {"source": 1, "baseQty": 10, "seed": 7, "intervalUs": 250},
  "strategy": {"strategyId": 3, "minConfidence": 6000, "orderQty": 5, "maxSpreadBps": 50}
}`

func TestParseBuildsRegistryWithScaledRules(t *testing.T) {
	loaded, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	id, ok := loaded.Registry.SymbolIDByName("BTC-USD")
	if !ok {
		t.Fatal("symbol missing from registry")
	}
	sym, _ := loaded.Registry.Symbol(id)
	if sym.Rules.TickSize != 1 {
		t.Fatalf("tickSize = %d, want 1 (0.01 at scale 2)", sym.Rules.TickSize)
	}
	if sym.Rules.BandLow != 100_000 || sym.Rules.BandHigh != 10_000_000 {
		t.Fatalf("band = [%d, %d]", sym.Rules.BandLow, sym.Rules.BandHigh)
	}
	if sym.Rules.MaxOrderQty != 100_000 {
		t.Fatalf("maxOrderQty = %d, want 100000 (10 at scale 4)", sym.Rules.MaxOrderQty)
	}
	if sym.Rules.MaxLevels != 256 {
		t.Fatalf("maxLevels = %d", sym.Rules.MaxLevels)
	}

	if loaded.Risk.MaxOrdersPerSecond != 50 {
		t.Fatalf("risk limits not carried: %+v", loaded.Risk)
	}
	if loaded.Queues.MarketData != 8192 {
		t.Fatalf("queues not carried: %+v", loaded.Queues)
	}
	if loaded.Strategy.StrategyID != 3 {
		t.Fatalf("strategy not carried: %+v", loaded.Strategy)
	}
}

func TestParseRejectsUnknownVenue(t *testing.T) {
	cfg := `{"registry": {"symbols": [{"name": "X", "venue": "nope", "priceScale": 0, "tickSize": "1", "bandLow": "0", "bandHigh": "10", "maxOrderQty": "1"}]}}`
	if _, err := Parse([]byte(cfg)); err == nil {
		t.Fatal("expected error for unknown venue")
	}
}

func TestParseRejectsExcessPrecision(t *testing.T) {
	cfg := `{
      "registry": {
        "venues": [{"name": "sim"}],
        "symbols": [{"name": "X", "venue": "sim", "priceScale": 1, "tickSize": "0.01", "bandLow": "1", "bandHigh": "10", "maxOrderQty": "1"}]
      }
    }`
	if _, err := Parse([]byte(cfg)); err == nil {
		t.Fatal("expected error for tick finer than the price scale")
	}
}

func TestScaleDecimal(t *testing.T) {
	cases := []struct {
		in    string
		scale schema.Scale
		want  int64
		ok    bool
	}{
		{"0.01", 2, 1, true},
		{"1234.5", 2, 123450, true},
		{"-2.50", 2, -250, true},
		{"10", 4, 100000, true},
		{"0.001", 2, 0, false},
		{"abc", 2, 0, false},
	}
	for _, c := range cases {
		got, err := scaleDecimal(c.in, c.scale)
		if c.ok != (err == nil) {
			t.Fatalf("%s: err = %v, ok = %v", c.in, err, c.ok)
		}
		if c.ok && got != c.want {
			t.Fatalf("%s: got %d, want %d", c.in, got, c.want)
		}
	}
}
