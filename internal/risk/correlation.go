package risk

import (
	"math"
	"sync"
)

type corrKey struct {
	lo, hi uint32
}

func makeCorrKey(a, b uint32) corrKey {
	if a > b {
		a, b = b, a
	}
	return corrKey{lo: a, hi: b}
}

// CorrMatrix is a symmetric pairwise correlation matrix. It is updated far
// less often than it is read, so a reader-writer lock guards it: many
// concurrent risk checks, rare recalculation.
type CorrMatrix struct {
	mu     sync.RWMutex
	window int
	vals   map[corrKey]float64
}

// NewCorrMatrix creates an empty matrix using the given trailing window.
func NewCorrMatrix(window int) *CorrMatrix {
	if window <= 0 {
		window = CorrelationWindow
	}
	return &CorrMatrix{window: window, vals: make(map[corrKey]float64)}
}

// Get returns the correlation between two symbols. The diagonal is 1;
// unknown pairs are 0.
func (m *CorrMatrix) Get(a, b uint32) float64 {
	if a == b {
		return 1
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vals[makeCorrKey(a, b)]
}

// Set stores one pair, clamped to [-1, 1]. Intended for tests and scenario
// setup.
func (m *CorrMatrix) Set(a, b uint32, rho float64) {
	if a == b {
		return
	}
	m.mu.Lock()
	m.vals[makeCorrKey(a, b)] = clampRho(rho)
	m.mu.Unlock()
}

// Recalc rebuilds the matrix from per-symbol return tails.
func (m *CorrMatrix) Recalc(ids []uint32, tails map[uint32][]float64) {
	next := make(map[corrKey]float64, len(ids)*(len(ids)-1)/2)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			rho := pearson(tails[ids[i]], tails[ids[j]])
			next[makeCorrKey(ids[i], ids[j])] = clampRho(rho)
		}
	}
	m.mu.Lock()
	m.vals = next
	m.mu.Unlock()
}

// pearson computes the Pearson correlation of the overlapping tail of two
// series. Degenerate series (no variance, fewer than two points) yield 0.
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func clampRho(rho float64) float64 {
	switch {
	case math.IsNaN(rho):
		return 0
	case rho > 1:
		return 1
	case rho < -1:
		return -1
	default:
		return rho
	}
}
