package risk

import (
	"math"
	"sort"
	"sync"

	"main/internal/schema"
)

// MinVaRObservations is the minimum rolling-window size before historical
// VaR is meaningful. Below it VaR is reported as zero and never blocks.
const MinVaRObservations = 30

// DefaultReturnWindow is the rolling return window capacity.
const DefaultReturnWindow = 256

// CorrelationWindow is the number of trailing periods used for pairwise
// correlation.
const CorrelationWindow = 60

// returnSeries is a fixed-capacity ring of period returns.
type returnSeries struct {
	buf  []float64
	head int
	n    int
}

func newReturnSeries(capacity int) *returnSeries {
	return &returnSeries{buf: make([]float64, capacity)}
}

func (s *returnSeries) push(v float64) {
	s.buf[s.head] = v
	s.head = (s.head + 1) % len(s.buf)
	if s.n < len(s.buf) {
		s.n++
	}
}

// tail copies the most recent n observations in chronological order.
func (s *returnSeries) tail(n int) []float64 {
	if n > s.n {
		n = s.n
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := (s.head - n + i + len(s.buf)) % len(s.buf)
		out[i] = s.buf[idx]
	}
	return out
}

// Analytics maintains rolling return histories, the correlation matrix and
// derived VaR figures. Return ingestion happens off the order hot path; risk
// checks only read cached results through the engine's VaR cache.
type Analytics struct {
	mu     sync.RWMutex
	window int
	series map[uint32]*returnSeries
	corr   *CorrMatrix
}

// NewAnalytics creates an analytics engine with the given return window.
func NewAnalytics(window int) *Analytics {
	if window <= 0 {
		window = DefaultReturnWindow
	}
	return &Analytics{
		window: window,
		series: make(map[uint32]*returnSeries),
		corr:   NewCorrMatrix(CorrelationWindow),
	}
}

// AddReturn appends one period return for a symbol.
func (a *Analytics) AddReturn(symbolID uint32, r float64) {
	a.mu.Lock()
	s, ok := a.series[symbolID]
	if !ok {
		s = newReturnSeries(a.window)
		a.series[symbolID] = s
	}
	s.push(r)
	a.mu.Unlock()
}

// Observations returns the current window size for a symbol.
func (a *Analytics) Observations(symbolID uint32) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.series[symbolID]; ok {
		return s.n
	}
	return 0
}

// SymbolVaR computes historical-simulation VaR for one symbol: the empirical
// (1-confidence) percentile loss of the rolling return window, scaled by the
// absolute position value. Fewer than MinVaRObservations observations yield
// zero.
func (a *Analytics) SymbolVaR(symbolID uint32, confidenceBps int64, positionValue schema.Notional) schema.Notional {
	a.mu.RLock()
	s, ok := a.series[symbolID]
	if !ok || s.n < MinVaRObservations {
		a.mu.RUnlock()
		return 0
	}
	returns := s.tail(s.n)
	a.mu.RUnlock()

	sort.Float64s(returns)
	q := float64(10000-confidenceBps) / 10000
	idx := int(q * float64(len(returns)))
	if idx >= len(returns) {
		idx = len(returns) - 1
	}
	loss := -returns[idx]
	if loss < 0 {
		loss = 0
	}
	return schema.Notional(loss * math.Abs(float64(positionValue)))
}

// RecalcCorrelations recomputes the pairwise correlation matrix from the
// trailing CorrelationWindow returns. This is the rare write; risk checks
// read the matrix concurrently.
func (a *Analytics) RecalcCorrelations() {
	a.mu.RLock()
	ids := make([]uint32, 0, len(a.series))
	tails := make(map[uint32][]float64, len(a.series))
	for id, s := range a.series {
		if s.n < 2 {
			continue
		}
		ids = append(ids, id)
		tails[id] = s.tail(CorrelationWindow)
	}
	a.mu.RUnlock()

	a.corr.Recalc(ids, tails)
}

// Correlation returns the cached pairwise correlation, clamped to [-1, 1].
func (a *Analytics) Correlation(x, y uint32) float64 {
	return a.corr.Get(x, y)
}

// PortfolioVaR combines per-symbol VaR figures through the correlation
// matrix using the parametric quadratic form sqrt(wᵀΣw). With zero
// correlation this reduces to the square root of the sum of squares.
func (a *Analytics) PortfolioVaR(vars map[uint32]schema.Notional) schema.Notional {
	if len(vars) == 0 {
		return 0
	}
	ids := make([]uint32, 0, len(vars))
	for id := range vars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sum float64
	for _, i := range ids {
		vi := float64(vars[i])
		for _, j := range ids {
			vj := float64(vars[j])
			sum += vi * vj * a.corr.Get(i, j)
		}
	}
	if sum < 0 {
		sum = 0
	}
	return schema.Notional(math.Sqrt(sum))
}
