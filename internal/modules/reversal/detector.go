// Package reversal implements the Reversal Detector: classifies funding-rate
// reversals into severity tiers from the Funding Engine's (velocity, acceleration, apr).
package reversal

import (
	"github.com/aristath/basisagent/internal/domain"
)

// Detector classifies severity based on trailing velocity samples, the current
// acceleration, and the current APR against a configured minimum.
type Detector struct {
	minAPRPct  float64
	velocities []float64 // trailing velocity observations, most recent last
	peakAPR1h  float64
	recentAPRs []float64 // the two most recent APR observations, most recent last
	priorSign  int       // sign of the most recent funding rate, for flip detection
}

func New(minAPRPct float64) *Detector {
	return &Detector{minAPRPct: minAPRPct}
}

// Observe feeds the latest Funding Engine stats and the raw funding rate into
// the detector's rolling state, then classifies severity.
func (d *Detector) Observe(velocity, acceleration, aprPct, fundingRate float64) domain.ReversalAlert {
	d.velocities = append(d.velocities, velocity)
	if len(d.velocities) > 8 {
		d.velocities = d.velocities[len(d.velocities)-8:]
	}
	if aprPct > d.peakAPR1h {
		d.peakAPR1h = aprPct
	}
	d.recentAPRs = append(d.recentAPRs, aprPct)
	if len(d.recentAPRs) > 2 {
		d.recentAPRs = d.recentAPRs[len(d.recentAPRs)-2:]
	}

	sign := signOf(fundingRate)
	flipped := d.priorSign != 0 && sign != 0 && sign != d.priorSign
	d.priorSign = sign

	severity, hint := d.classify(velocity, acceleration, aprPct, flipped)

	return domain.ReversalAlert{Severity: severity, APRPct: aprPct, Velocity: velocity, Hint: hint}
}

func (d *Detector) classify(velocity, acceleration, aprPct float64, flipped bool) (domain.ReversalSeverity, string) {
	if flipped || d.aprBelowWithinLastTwo(0.5*d.minAPRPct) {
		return domain.SeverityCritical, "funding sign flipped or APR collapsed below half the minimum"
	}

	if acceleration < 0 && velocity < -0.0002 {
		return domain.SeverityHigh, "accelerating negative velocity"
	}
	if d.peakAPR1h > 0 && aprPct < d.peakAPR1h*0.7 {
		return domain.SeverityHigh, "APR fell more than 30% from its 1h peak"
	}

	if d.sustainedBelow(3, -0.0001) {
		return domain.SeverityMedium, "velocity sustained below -0.0001/hr for 3+ samples"
	}

	if d.sustainedBelow(2, 0) && velocity < 0 && velocity >= -0.0001 {
		return domain.SeverityLow, "velocity negative for 2+ samples, small magnitude"
	}

	if velocity >= 0 && aprPct >= d.minAPRPct {
		return domain.SeverityNone, ""
	}

	return domain.SeverityNone, ""
}

func (d *Detector) aprBelowWithinLastTwo(limit float64) bool {
	for _, a := range d.recentAPRs {
		if a < limit {
			return true
		}
	}
	return false
}

func (d *Detector) sustainedBelow(n int, limit float64) bool {
	if len(d.velocities) < n {
		return false
	}
	for _, v := range d.velocities[len(d.velocities)-n:] {
		if v >= limit {
			return false
		}
	}
	return true
}

func signOf(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}
