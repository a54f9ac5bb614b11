// Package sizer implements the Adaptive Sizer: a Kelly-derived fraction
// modulated by streaks, drawdown, and signal strength.
package sizer

import (
	"math"

	"github.com/aristath/basisagent/internal/domain"
)

// Config names the Adaptive Sizer's tunables, per §6's "sizer" section.
type Config struct {
	EnableAdaptiveSizing    bool
	MinTradesForAdaptation int
	MaxKellyFraction        float64
	UseHalfKelly            bool
	InitialBaseFraction     float64
	MaxPositionSizeBase     float64
	MaxDrawdownPct          float64
	MinBasisBps             float64
	MinFundingAPRPct        float64
	SignalCap               float64 // default 6.0 per §4.6's guarantee
}

// DefaultSignalCap is the default signal_cap; the final fraction is capped at
// max_kelly_fraction * signal_cap.
const DefaultSignalCap = 6.0

// Sizer computes position size in base units from equity, the Performance DB
// summary, and current basis/funding/confidence.
type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer {
	if cfg.SignalCap == 0 {
		cfg.SignalCap = DefaultSignalCap
	}
	return &Sizer{cfg: cfg}
}

// Size runs the full §4.6 algorithm and returns the final size plus a full
// rationale trail for logging. Never returns NaN/Inf; returns 0 on degenerate
// inputs.
func (s *Sizer) Size(equity domain.QuoteQty, summary domain.PerformanceSummary, basisBps, fundingAPRPct, confidence, spotPrice float64) domain.SizingResult {
	var rationale []domain.RationaleEntry

	kelly := s.cfg.InitialBaseFraction
	if summary.TradesTotal >= s.cfg.MinTradesForAdaptation {
		p := summary.WinRate
		b := summary.WLRatio
		if b <= 0 {
			kelly = 0
		} else {
			kelly = math.Max(0, (p*b-(1-p))/b)
			if s.cfg.UseHalfKelly {
				kelly /= 2
			}
		}
		kelly = domain.ClampFinite(kelly, 0, s.cfg.MaxKellyFraction, 0)
	}
	rationale = append(rationale, domain.RationaleEntry{Name: "kelly_base", Factor: kelly})

	fraction := kelly

	// Streak adjustment: losing streaks shrink (floor 0.3x), winning streaks
	// add a bonus capped at 1.2x.
	streakFactor := 1.0
	if summary.CurrentStreak < 0 {
		streakFactor = math.Max(0.3, 1-0.1*float64(-summary.CurrentStreak))
	} else if summary.CurrentStreak > 0 {
		bonus := 0.05 * math.Min(float64(summary.CurrentStreak), 3)
		streakFactor = math.Min(1.2, 1+bonus)
	}
	fraction *= streakFactor
	rationale = append(rationale, domain.RationaleEntry{Name: "streak", Factor: streakFactor})

	// Drawdown adjustment.
	ddFactor := 1.0
	if s.cfg.MaxDrawdownPct > 0 && summary.MaxDrawdownQuote > 0 && equity.Float() > 0 {
		drawdownPct := summary.MaxDrawdownQuote / equity.Float() * 100
		ddFactor = math.Max(0.3, 1-drawdownPct/s.cfg.MaxDrawdownPct)
	}
	fraction *= ddFactor
	rationale = append(rationale, domain.RationaleEntry{Name: "drawdown", Factor: ddFactor})

	// Signal strength.
	spreadMultiple := 1.0
	if s.cfg.MinBasisBps > 0 {
		spreadMultiple = math.Min(basisBps/s.cfg.MinBasisBps, 3.0)
	}
	fundingMultiple := 1.0
	if s.cfg.MinFundingAPRPct > 0 && fundingAPRPct > 0 {
		fundingMultiple = math.Min(math.Sqrt(fundingAPRPct/s.cfg.MinFundingAPRPct), 2.0)
	}
	signalFactor := spreadMultiple * fundingMultiple * confidence
	fraction *= signalFactor
	rationale = append(rationale,
		domain.RationaleEntry{Name: "spread_multiple", Factor: spreadMultiple},
		domain.RationaleEntry{Name: "funding_multiple", Factor: fundingMultiple},
		domain.RationaleEntry{Name: "confidence", Factor: confidence},
	)

	maxFraction := s.cfg.MaxKellyFraction * s.cfg.SignalCap
	fraction = domain.ClampFinite(fraction, 0, maxFraction, 0)

	sizeBase := 0.0
	if domain.IsFinite(fraction) && spotPrice > 0 {
		sizeBase = equity.Float() * fraction / spotPrice
	}
	sizeBase = domain.ClampFinite(sizeBase, 0, s.cfg.MaxPositionSizeBase, 0)

	return domain.SizingResult{
		SizeBase:  domain.NewBaseQty(sizeBase),
		Fraction:  fraction,
		Rationale: rationale,
	}
}
