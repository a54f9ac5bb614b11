// Package basis implements the Basis Engine: instantaneous spread, percentile,
// z-score, hedge ratio, and drift.
package basis

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aristath/basisagent/internal/domain"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultRingSize is the BasisSample ring buffer capacity.
	DefaultRingSize = 4096
	// DefaultWindow is the lookback used for percentile/z-score (H minutes).
	DefaultWindow = 60 * time.Minute
)

// Output is the Basis Engine's computed view for the current tick.
type Output struct {
	SpreadBps  float64
	Percentile float64 // None represented as NaN; callers must check IsFinite
	ZScore     float64
	HedgeRatio float64
	DriftPct   float64
}

// Engine maintains the BasisSample ring buffer.
type Engine struct {
	mu      sync.Mutex
	ring    []domain.BasisSample
	ringCap int
	head    int
	filled  bool
}

// New builds an Engine with the §4.4 default ring size.
func New() *Engine {
	return &Engine{ring: make([]domain.BasisSample, DefaultRingSize), ringCap: DefaultRingSize}
}

// SpreadBps computes instantaneous spread in basis points: (perp - spot)/spot * 10000.
func SpreadBps(spot, perpMark float64) float64 {
	if spot == 0 {
		return 0
	}
	v := (perpMark - spot) / spot * 10000
	if !domain.IsFinite(v) {
		return 0
	}
	return v
}

// Insert records a basis observation into the ring buffer.
func (e *Engine) Insert(s domain.BasisSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ring[e.head] = s
	e.head = (e.head + 1) % e.ringCap
	if e.head == 0 {
		e.filled = true
	}
}

func (e *Engine) windowLocked(now int64) []float64 {
	n := e.ringCap
	if !e.filled {
		n = e.head
	}
	cutoff := now - int64(DefaultWindow)
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		s := e.ring[i]
		if s.Timestamp >= cutoff && s.Timestamp <= now {
			out = append(out, s.SpreadBps)
		}
	}
	return out
}

// Evaluate computes the current Output given the live marks and position (if any).
// Percentile and ZScore are NaN ("unavailable") when the window holds fewer
// than two samples, and ZScore is NaN when it is not finite; DriftPct maps a
// non-finite value to 0. SpreadBps is not clamped.
func (e *Engine) Evaluate(spot, perpMark float64, now int64, hedgeRatio float64) Output {
	spread := SpreadBps(spot, perpMark)

	e.mu.Lock()
	window := e.windowLocked(now)
	e.mu.Unlock()

	out := Output{SpreadBps: spread, HedgeRatio: hedgeRatio}
	out.DriftPct = domain.ClampFinite(math.Abs(1-hedgeRatio)*100, 0, math.MaxFloat64, 0)

	if len(window) < 2 {
		out.Percentile = math.NaN()
		out.ZScore = math.NaN()
		return out
	}

	out.Percentile = percentile(window, spread)

	mean := stat.Mean(window, nil)
	sd := stat.StdDev(window, nil)
	if sd == 0 {
		out.ZScore = 0
	} else {
		out.ZScore = (spread - mean) / sd
	}
	if !domain.IsFinite(out.ZScore) {
		out.ZScore = math.NaN()
	}

	return out
}

// percentile returns the fraction of window values strictly below v, as a percentage.
func percentile(window []float64, v float64) float64 {
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	idx := sort.SearchFloat64s(sorted, v)
	return float64(idx) / float64(len(sorted)) * 100
}
