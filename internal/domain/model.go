package domain

// Leg identifies one side of the paired position.
type Leg string

const (
	LegSpot Leg = "spot"
	LegPerp Leg = "perp"
)

// Side is the directional exposure of a leg.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// CloseReason explains why a position was closed; persisted with every TradeOutcome.
type CloseReason string

const (
	CloseConvergence CloseReason = "convergence"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseDrawdown    CloseReason = "drawdown"
	CloseReversal    CloseReason = "reversal"
	CloseManual      CloseReason = "manual"
	CloseRebalance   CloseReason = "rebalance"
	CloseError       CloseReason = "error"
)

// AgentState is the single exclusive state of the Agent State Machine.
type AgentState string

const (
	StateIdle        AgentState = "idle"
	StateOpening     AgentState = "opening"
	StateMonitoring  AgentState = "monitoring"
	StateClosing     AgentState = "closing"
	StateRebalancing AgentState = "rebalancing"
	StatePaused      AgentState = "paused"
	StateError       AgentState = "error"
)

// Snapshot is the atomically-published view of market state consumed by every engine.
type Snapshot struct {
	SpotPrice         float64
	PerpMarkPrice     float64
	PerpIndexPrice    float64
	FundingRateHourly float64
	NextFundingTime   int64
	SpotConfidenceBps float64
	ObservedAt        int64
}

// FundingSample is one observation in the Funding Engine's rolling window.
type FundingSample struct {
	Timestamp int64
	Rate      float64
}

// BasisSample is one observation in the Basis Engine's ring buffer.
type BasisSample struct {
	Timestamp int64
	SpreadBps float64
}

// PositionLeg is one side of the dual-leg position.
type PositionLeg struct {
	Leg        Leg
	Side       Side
	SizeBase   BaseQty
	EntryPrice float64
	OpenedAt   int64
	FeesQuote  QuoteQty // fees paid opening this leg, carried into the close outcome
}

// Position is the live paired position. A valid trading position has exactly one
// Spot(Long) and one Perp(Short) leg with bounded drift between their sizes.
type Position struct {
	Spot           PositionLeg
	Perp           PositionLeg
	CumFundingQuote QuoteQty
	OpenedAt       int64
}

// HedgeRatio is perp size / spot size; drift is how far that ratio sits from 1.0.
func (p Position) HedgeRatio() float64 {
	spot := p.Spot.SizeBase.Float()
	if spot == 0 {
		return 0
	}
	return p.Perp.SizeBase.Float() / spot
}

func (p Position) DriftPct() float64 {
	return absF(1-p.HedgeRatio()) * 100
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// TradeOutcome is the persisted record of a closed trade.
type TradeOutcome struct {
	TradeID              int64
	OpenedAt             int64
	ClosedAt             int64
	SizeBase             BaseQty
	GrossQuotePnL        QuoteQty
	FeesQuote            QuoteQty
	FundingReceivedQuote QuoteQty
	NetQuotePnL          QuoteQty
	ROIPct               float64
	BasisAtOpenBps       float64
	BasisAtCloseBps      float64
	FundingAPRAtOpenPct  float64
	Win                  bool
	CloseReason          CloseReason
}

// ReversalSeverity classifies how dangerous a funding-rate reversal is.
type ReversalSeverity string

const (
	SeverityNone     ReversalSeverity = "none"
	SeverityLow      ReversalSeverity = "low"
	SeverityMedium   ReversalSeverity = "medium"
	SeverityHigh     ReversalSeverity = "high"
	SeverityCritical ReversalSeverity = "critical"
)

// ReversalAlert is emitted by the Reversal Detector.
type ReversalAlert struct {
	Severity ReversalSeverity
	APRPct   float64
	Velocity float64
	Hint     string
}

// IntentKind enumerates the typed trade intents the Signal Engine can emit.
type IntentKind string

const (
	IntentOpenBasis  IntentKind = "open_basis"
	IntentCloseBasis IntentKind = "close_basis"
	IntentRebalance  IntentKind = "rebalance"
	IntentNoop       IntentKind = "noop"
)

// Intent is the fused output of the Signal Engine for a single tick.
type Intent struct {
	Kind        IntentKind
	SizeBase    BaseQty
	Confidence  float64
	Rationale   []string
	CloseReason CloseReason
	DeltaBase   BaseQty
	Leg         Leg
}

// SizingResult is the Adaptive Sizer's output with its full rationale trail.
type SizingResult struct {
	SizeBase  BaseQty
	Fraction  float64
	Rationale []RationaleEntry
}

// RationaleEntry names one adjustment applied by the Adaptive Sizer and its factor.
type RationaleEntry struct {
	Name   string
	Factor float64
}

// PerformanceSummary is the Performance DB's on-demand aggregate view.
type PerformanceSummary struct {
	TradesTotal     int
	Wins            int
	WinRate         float64
	AvgWinQuote     float64
	AvgLossQuote    float64
	WLRatio         float64
	ProfitFactor    float64
	SharpeDaily     float64
	SharpeAnnualized float64
	CurrentStreak   int
	MaxDrawdownQuote float64
}
