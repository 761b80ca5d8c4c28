package codec

import (
	"testing"

	"main/internal/schema"
)

func TestMarketDataRoundTrip(t *testing.T) {
	in := schema.MarketData{
		SymbolID: 7,
		Kind:     schema.MarketDataAdd,
		Side:     schema.OrderSideSell,
		Flags:    3,
		RefID:    901,
		Price:    -5, // negative values survive the unsigned wire form
		Size:     42,
		BidPrice: 99,
		BidSize:  10,
		AskPrice: 101,
		AskSize:  11,
	}
	out, ok := DecodeMarketData(EncodeMarketData(nil, in))
	if !ok {
		t.Fatal("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestOrderIntentRoundTrip(t *testing.T) {
	in := schema.OrderIntent{
		OrderID:     12,
		StrategyID:  3,
		SymbolID:    7,
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceIOC,
		Flags:       1,
		Price:       10_050,
		Qty:         25,
	}
	out, ok := DecodeOrderIntent(EncodeOrderIntent(nil, in))
	if !ok {
		t.Fatal("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestRiskDecisionRoundTrip(t *testing.T) {
	in := schema.RiskDecision{
		OrderID:       12,
		StrategyID:    3,
		SymbolID:      7,
		Action:        schema.RiskActionDeny,
		Reason:        schema.RiskReasonVaRLimit,
		ProposedQty:   25,
		ProposedPrice: 10_050,
		CurrentPos:    -40,
		MaxPos:        1_000,
		MaxNotional:   5_000_000,
	}
	out, ok := DecodeRiskDecision(EncodeRiskDecision(nil, in))
	if !ok {
		t.Fatal("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestTruncatedPayloadsRejected(t *testing.T) {
	md := EncodeMarketData(nil, schema.MarketData{SymbolID: 1})
	if _, ok := DecodeMarketData(md[:len(md)-1]); ok {
		t.Fatal("truncated market data must not decode")
	}
	if _, ok := DecodeSignal(nil); ok {
		t.Fatal("nil signal must not decode")
	}
	if _, ok := DecodeFill([]byte{0}); ok {
		t.Fatal("short fill must not decode")
	}
}

func TestEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, MarketDataPayloadSize)
	out := EncodeMarketData(buf, schema.MarketData{SymbolID: 1})
	if cap(out) != cap(buf) {
		t.Fatal("encode must reuse a large-enough buffer")
	}
}
