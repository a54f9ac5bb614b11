// Package funding implements the Funding Engine: rolling-window funding-rate
// statistics (annualized APR, velocity, acceleration).
package funding

import (
	"sync"
	"time"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

const (
	// WindowDuration is the Funding Engine's rolling window: last 8 hours.
	WindowDuration = 8 * time.Hour
	// DefaultMaxSamples caps the window at N samples.
	DefaultMaxSamples = 512
	// DefaultVelocitySamples (V) is the slope window for velocity, per §4.3.
	DefaultVelocitySamples = 8
	// DefaultMinSamples is the minimum population before the engine reports
	// anything other than Insufficient.
	DefaultMinSamples = 6
)

// ErrInsufficient is returned when fewer than min_samples are present.
type ErrInsufficient struct{ Have, Need int }

func (e *ErrInsufficient) Error() string { return "funding: insufficient samples" }

// Stats is the Funding Engine's computed output for the current window.
type Stats struct {
	APRPct               float64
	VelocityPerHour      float64
	Acceleration         float64
	NextPaymentPrediction float64
}

// Engine maintains the bounded sliding window of FundingSamples.
type Engine struct {
	mu              sync.Mutex
	samples         []domain.FundingSample
	maxSamples      int
	velocitySamples int
	minSamples      int
}

// New builds an Engine with the §4.3 defaults.
func New() *Engine {
	return &Engine{
		maxSamples:      DefaultMaxSamples,
		velocitySamples: DefaultVelocitySamples,
		minSamples:      DefaultMinSamples,
	}
}

// Insert adds a sample, discarding anything older than 8h and anything beyond
// maxSamples. Samples are strictly time-ordered; a duplicate timestamp
// overwrites the existing sample rather than appending a second one.
func (e *Engine) Insert(s domain.FundingSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := len(e.samples); n > 0 && e.samples[n-1].Timestamp == s.Timestamp {
		e.samples[n-1] = s
	} else {
		e.samples = append(e.samples, s)
	}

	cutoff := s.Timestamp - int64(WindowDuration)
	i := 0
	for i < len(e.samples) && e.samples[i].Timestamp < cutoff {
		i++
	}
	e.samples = e.samples[i:]

	if len(e.samples) > e.maxSamples {
		e.samples = e.samples[len(e.samples)-e.maxSamples:]
	}
}

// Compute returns the engine's current statistics, or ErrInsufficient.
func (e *Engine) Compute() (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.samples) < e.minSamples {
		return Stats{}, &ErrInsufficient{Have: len(e.samples), Need: e.minSamples}
	}

	rates := make([]float64, len(e.samples))
	for i, s := range e.samples {
		rates[i] = s.Rate
	}

	meanRate := stat.Mean(rates, nil)
	apr := meanRate * 24 * 365 * 100

	// Velocity is the least-squares slope of rate against sample time, in
	// hours, over the trailing V samples.
	velocity := 0.0
	n := e.velocitySamples
	if n > len(e.samples) {
		n = len(e.samples)
	}
	if n >= 2 {
		tail := e.samples[len(e.samples)-n:]
		hours, tailRates := make([]float64, n), make([]float64, n)
		for i, s := range tail {
			hours[i] = float64(s.Timestamp-tail[0].Timestamp) / float64(time.Hour)
			tailRates[i] = s.Rate
		}
		_, velocity = stat.LinearRegression(hours, tailRates, nil, false)
	}

	// Acceleration is the slope of velocity: compute velocity at each trailing
	// window end and take the robust least-squares slope of that series.
	velocitySeries := e.velocitySeries()
	acceleration := 0.0
	if len(velocitySeries) >= 2 {
		acceleration = e.slope(velocitySeries, len(velocitySeries))
	}

	last := e.samples[len(e.samples)-1]

	return Stats{
		APRPct:                apr,
		VelocityPerHour:       velocity,
		Acceleration:          acceleration,
		NextPaymentPrediction: last.Rate,
	}, nil
}

// slope computes a least-squares slope of the trailing n values against their
// sample index via talib's linear-regression slope indicator, not finite
// differences between endpoints.
func (e *Engine) slope(rates []float64, n int) float64 {
	if n > len(rates) {
		n = len(rates)
	}
	if n < 2 {
		return 0
	}
	tail := rates[len(rates)-n:]
	out := talib.LinearRegSlope(tail, len(tail))
	return out[len(out)-1]
}

// velocitySeries derives a trailing series of per-sample velocities (the
// talib linear-regression slope of rate over a short trailing window ending
// at each point) so acceleration can itself be expressed as a slope rather
// than a finite difference.
func (e *Engine) velocitySeries() []float64 {
	if len(e.samples) < e.velocitySamples+1 {
		return nil
	}
	rates := make([]float64, len(e.samples))
	for i, s := range e.samples {
		rates[i] = s.Rate
	}
	out := talib.LinearRegSlope(rates, e.velocitySamples)
	return out[e.velocitySamples-1:]
}
