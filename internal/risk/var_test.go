package risk

import (
	"math"
	"testing"

	"main/internal/schema"
)

func TestSymbolVaRNeedsMinimumObservations(t *testing.T) {
	a := NewAnalytics(0)
	for i := 0; i < MinVaRObservations-1; i++ {
		a.AddReturn(1, -0.5)
	}
	if got := a.SymbolVaR(1, 9900, 1_000_000); got != 0 {
		t.Fatalf("VaR with short history = %d, want 0", got)
	}

	a.AddReturn(1, -0.5)
	if got := a.SymbolVaR(1, 9900, 1_000_000); got == 0 {
		t.Fatal("VaR with full history must be non-zero")
	}
}

func TestSymbolVaRPercentile(t *testing.T) {
	a := NewAnalytics(0)
	// 100 returns: -1% .. -100%. The 95% VaR is the 5th percentile loss.
	for i := 1; i <= 100; i++ {
		a.AddReturn(1, -float64(i)/100)
	}
	// Sorted ascending the 5th index is the -95% return.
	got := a.SymbolVaR(1, 9500, 1000)
	if got < 949 || got > 951 {
		t.Fatalf("VaR = %d, want ~950", got)
	}
}

func TestSymbolVaRIgnoresGainOnlyHistory(t *testing.T) {
	a := NewAnalytics(0)
	for i := 0; i < 60; i++ {
		a.AddReturn(1, 0.01)
	}
	if got := a.SymbolVaR(1, 9900, 1_000_000); got != 0 {
		t.Fatalf("VaR over gains = %d, want 0", got)
	}
}

func TestPortfolioVaRZeroCorrelation(t *testing.T) {
	a := NewAnalytics(0)
	got := a.PortfolioVaR(map[uint32]schema.Notional{1: 300, 2: 400})
	if math.Abs(float64(got)-500) > 1 {
		t.Fatalf("portfolio VaR = %d, want 500", got)
	}
}

func TestPortfolioVaRPerfectCorrelation(t *testing.T) {
	a := NewAnalytics(0)
	a.corr.Set(1, 2, 1.0)
	got := a.PortfolioVaR(map[uint32]schema.Notional{1: 300, 2: 400})
	if math.Abs(float64(got)-700) > 1 {
		t.Fatalf("portfolio VaR = %d, want 700", got)
	}
}

func TestRecalcCorrelations(t *testing.T) {
	a := NewAnalytics(0)
	for i := 0; i < CorrelationWindow; i++ {
		r := 0.01
		if i%2 == 0 {
			r = -0.01
		}
		a.AddReturn(1, r)
		a.AddReturn(2, r)  // identical series
		a.AddReturn(3, -r) // mirror series
	}
	a.RecalcCorrelations()

	if rho := a.Correlation(1, 2); math.Abs(rho-1) > 1e-9 {
		t.Fatalf("rho(1,2) = %v, want 1", rho)
	}
	if rho := a.Correlation(1, 3); math.Abs(rho+1) > 1e-9 {
		t.Fatalf("rho(1,3) = %v, want -1", rho)
	}
	if rho := a.Correlation(1, 1); rho != 1 {
		t.Fatalf("diagonal = %v, want 1", rho)
	}
	if rho := a.Correlation(1, 99); rho != 0 {
		t.Fatalf("unknown pair = %v, want 0", rho)
	}
}

func TestPearsonDegenerateSeries(t *testing.T) {
	if rho := pearson([]float64{1, 1, 1}, []float64{1, 2, 3}); rho != 0 {
		t.Fatalf("constant series rho = %v, want 0", rho)
	}
	if rho := pearson([]float64{1}, []float64{2}); rho != 0 {
		t.Fatalf("single point rho = %v, want 0", rho)
	}
}

func TestReturnSeriesRing(t *testing.T) {
	s := newReturnSeries(4)
	for i := 1; i <= 6; i++ {
		s.push(float64(i))
	}
	tail := s.tail(3)
	want := []float64{4, 5, 6}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("tail = %v, want %v", tail, want)
		}
	}
}

func TestWorstCaseStress(t *testing.T) {
	positions := []StressPosition{
		{Value: 1_000_000, VaR: 50_000},
		{Value: -500_000, Gamma: 0.1, VaR: 20_000},
	}
	worst, name := WorstCase(positions, DefaultScenarios())
	if worst <= 0 || name == "" {
		t.Fatalf("worst = %v (%q), want a positive loss with a name", worst, name)
	}

	// Per-scenario loss is additive over positions.
	sc := DefaultScenarios()[0]
	sum := ScenarioLoss(positions[:1], sc) + ScenarioLoss(positions[1:], sc)
	if math.Abs(ScenarioLoss(positions, sc)-sum) > 1e-6 {
		t.Fatal("scenario loss must be additive over positions")
	}
}
