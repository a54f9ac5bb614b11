// Package events implements the abstract Telemetry sink: structured events with
// a monotonic sequence number, fanned out to whatever subscribers are attached.
package events

// EventType enumerates the Telemetry sink's structured event types.
type EventType string

const (
	SnapshotUpdate EventType = "SNAPSHOT_UPDATE"
	SignalEmitted  EventType = "SIGNAL_EMITTED"
	StateTransition EventType = "STATE_TRANSITION"
	TradeOpened    EventType = "TRADE_OPENED"
	TradeClosed    EventType = "TRADE_CLOSED"
	Rebalanced     EventType = "REBALANCED"
	RiskTripped    EventType = "RISK_TRIPPED"
	ReversalAlert  EventType = "REVERSAL_ALERT"
	Paused         EventType = "PAUSED"
	Resumed        EventType = "RESUMED"
	ErrorOccurred  EventType = "ERROR_OCCURRED"
)
