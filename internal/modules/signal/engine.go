// Package signal implements the Signal Engine: fuses the Funding Engine, Basis
// Engine, Reversal Detector, and current position into a single typed Intent.
package signal

import (
	"math"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/modules/basis"
	"github.com/aristath/basisagent/internal/modules/funding"
)

// Config names the Signal Engine's open/close/rebalance thresholds, drawn
// from the trading and rebalance sections of the configuration surface.
type Config struct {
	MinBasisBps        float64
	MinFundingAPRPct   float64
	CloseThresholdBps  float64
	MinTradeIntervalS  int
	DriftThresholdPct  float64
	MinRebalanceBase   float64
	OpenConfidenceFloor float64 // default 0.80
}

// DefaultOpenConfidenceFloor is the minimum fused confidence required to open.
const DefaultOpenConfidenceFloor = 0.80

// Engine evaluates one fused tick at a time; it holds no state of its own
// beyond the last-trade timestamp needed for the min_trade_interval gate.
type Engine struct {
	cfg           Config
	lastTradeUnix int64
}

func New(cfg Config) *Engine {
	if cfg.OpenConfidenceFloor == 0 {
		cfg.OpenConfidenceFloor = DefaultOpenConfidenceFloor
	}
	return &Engine{cfg: cfg}
}

// RecordTrade marks that a trade (open or close) happened at nowUnix, resetting
// the min_trade_interval cooldown.
func (e *Engine) RecordTrade(nowUnix int64) {
	e.lastTradeUnix = nowUnix
}

// Input is the fused view of all upstream engines for a single tick.
// RebalanceTokensAvail reports whether the Rebalancer's token bucket has
// capacity; the Signal Engine treats an exhausted bucket as "rebalance not
// evaluated" rather than failing the tick.
type Input struct {
	NowUnix              int64
	FundingStats         funding.Stats
	FundingOK            bool // false when funding.Compute returned Insufficient
	BasisOut             basis.Output
	HasPosition          bool
	ReversalSeverity     domain.ReversalSeverity
	RebalanceTokensAvail bool
	StopLossTripped      bool
}

// Evaluate runs the §4.8 fusion and returns exactly one Intent.
func (e *Engine) Evaluate(in Input) domain.Intent {
	closeIntent, closeFires := e.evaluateClose(in)
	rebalanceIntent, rebalanceFires := e.evaluateRebalance(in)

	// Ties between Close and Rebalance resolve to Close.
	if closeFires {
		return closeIntent
	}
	if rebalanceFires {
		return rebalanceIntent
	}

	if openIntent, ok := e.evaluateOpen(in); ok {
		return openIntent
	}

	return domain.Intent{Kind: domain.IntentNoop}
}

func (e *Engine) evaluateOpen(in Input) (domain.Intent, bool) {
	if in.HasPosition {
		return domain.Intent{}, false
	}
	if !in.FundingOK {
		return domain.Intent{}, false
	}
	if in.ReversalSeverity != domain.SeverityNone && in.ReversalSeverity != domain.SeverityLow {
		return domain.Intent{}, false
	}

	sinceLastTrade := in.NowUnix - e.lastTradeUnix
	if e.lastTradeUnix != 0 && sinceLastTrade < int64(e.cfg.MinTradeIntervalS) {
		return domain.Intent{}, false
	}

	checks := []struct {
		name   string
		pass   bool
		weight float64
	}{
		{"basis_above_min", in.BasisOut.SpreadBps >= e.cfg.MinBasisBps, 1.0},
		{"funding_apr_above_min", in.FundingStats.APRPct >= e.cfg.MinFundingAPRPct, 1.0},
		{"basis_funding_same_sign", sameSign(in.BasisOut.SpreadBps, in.FundingStats.VelocityPerHour) || sameSign(in.BasisOut.SpreadBps, in.FundingStats.APRPct), 1.0},
		{"interval_elapsed", e.lastTradeUnix == 0 || sinceLastTrade >= int64(e.cfg.MinTradeIntervalS), 0.5},
		{"reversal_benign", in.ReversalSeverity == domain.SeverityNone || in.ReversalSeverity == domain.SeverityLow, 0.5},
	}

	var weighted, totalWeight float64
	var rationale []string
	for _, c := range checks {
		totalWeight += c.weight
		if c.pass {
			weighted += c.weight
			rationale = append(rationale, c.name)
		}
	}

	// The three hard gates must all pass regardless of confidence arithmetic.
	if in.BasisOut.SpreadBps < e.cfg.MinBasisBps || in.FundingStats.APRPct < e.cfg.MinFundingAPRPct {
		return domain.Intent{}, false
	}
	if !(sameSign(in.BasisOut.SpreadBps, in.FundingStats.APRPct)) {
		return domain.Intent{}, false
	}

	confidence := 0.0
	if totalWeight > 0 {
		confidence = weighted / totalWeight
	}
	if confidence < e.cfg.OpenConfidenceFloor {
		return domain.Intent{}, false
	}

	return domain.Intent{
		Kind:       domain.IntentOpenBasis,
		Confidence: confidence,
		Rationale:  rationale,
	}, true
}

func (e *Engine) evaluateClose(in Input) (domain.Intent, bool) {
	if !in.HasPosition {
		return domain.Intent{}, false
	}

	if in.ReversalSeverity == domain.SeverityCritical {
		return domain.Intent{Kind: domain.IntentCloseBasis, CloseReason: domain.CloseReversal}, true
	}
	if in.StopLossTripped {
		return domain.Intent{Kind: domain.IntentCloseBasis, CloseReason: domain.CloseStopLoss}, true
	}
	if math.Abs(in.BasisOut.SpreadBps) <= e.cfg.CloseThresholdBps {
		return domain.Intent{Kind: domain.IntentCloseBasis, CloseReason: domain.CloseConvergence}, true
	}

	return domain.Intent{}, false
}

func (e *Engine) evaluateRebalance(in Input) (domain.Intent, bool) {
	if !in.HasPosition || !in.RebalanceTokensAvail {
		return domain.Intent{}, false
	}
	if in.BasisOut.DriftPct <= e.cfg.DriftThresholdPct {
		return domain.Intent{}, false
	}
	return domain.Intent{Kind: domain.IntentRebalance}, true
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	return (a > 0) == (b > 0)
}
