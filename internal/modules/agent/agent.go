// Package agent implements the Agent State Machine: the single serialization
// point for every position-mutating action. It owns AgentState exclusively and
// drains a mailbox of intents from the Signal Engine, Risk Manager, and
// Rebalancer, executing at most one at a time.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/events"
	"github.com/aristath/basisagent/internal/gateway"
	"github.com/aristath/basisagent/internal/modules/ledger"
	"github.com/aristath/basisagent/internal/modules/performance"
)

// Config names the Agent's actuation tunables.
type Config struct {
	LegTimeout          time.Duration // default 3s
	MaxSlippageBps      float64
	PaperMode           bool
	DrawdownRequiresAck bool
}

// Mailbox message kinds. Pause travels on a separate priority channel so it
// can jump the queue ahead of a pending Open, per the ordering guarantees.
type message struct {
	kind      domain.IntentKind
	intent    domain.Intent
	pauseInfo pauseInfo
	reset     bool
	acked     bool
}

type pauseInfo struct {
	cause       string
	requiresAck bool
}

// Agent is the exclusive owner of AgentState and the Position Ledger mutator.
type Agent struct {
	mu    sync.Mutex
	state domain.AgentState

	cfg   Config
	led   *ledger.Ledger
	gw    gateway.MarketGateway
	clock gateway.Clock
	tel   events.Telemetry
	perf  *performance.DB
	log   zerolog.Logger

	pauseCause      string
	pauseRequiresAck bool

	mailbox  chan message
	priority chan message
}

func New(cfg Config, led *ledger.Ledger, gw gateway.MarketGateway, clock gateway.Clock, tel events.Telemetry, perf *performance.DB, log zerolog.Logger) *Agent {
	if cfg.LegTimeout == 0 {
		cfg.LegTimeout = 3 * time.Second
	}
	return &Agent{
		state:    domain.StateIdle,
		cfg:      cfg,
		led:      led,
		gw:       gw,
		clock:    clock,
		tel:      tel,
		perf:     perf,
		log:      log.With().Str("component", "agent").Logger(),
		mailbox:  make(chan message, 64),
		priority: make(chan message, 8),
	}
}

// State returns the agent's current exclusive state.
func (a *Agent) State() domain.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run drains the mailbox until ctx is cancelled, giving the priority channel
// (Pause) strict precedence over ordinary intents.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.priority:
			a.dispatch(ctx, m)
		default:
		}

		select {
		case <-ctx.Done():
			return
		case m := <-a.priority:
			a.dispatch(ctx, m)
		case m := <-a.mailbox:
			a.dispatch(ctx, m)
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, m message) {
	switch {
	case m.reset:
		a.Reset()
	case m.pauseInfo.cause != "":
		a.ForcePause(m.pauseInfo.cause, m.pauseInfo.requiresAck)
	default:
		a.HandleIntent(ctx, m.intent)
	}
}

// Submit enqueues an ordinary intent onto the FIFO mailbox.
func (a *Agent) Submit(intent domain.Intent) {
	a.mailbox <- message{kind: intent.Kind, intent: intent}
}

// Pause enqueues a pause request on the priority channel; it preempts a
// pending Open but cannot interrupt an in-flight order round-trip (the
// dispatch loop only looks at the priority channel between actions).
func (a *Agent) Pause(cause string, requiresAck bool) {
	a.priority <- message{pauseInfo: pauseInfo{cause: cause, requiresAck: requiresAck}}
}

// RequestReset enqueues a Reset request (Error -> Idle).
func (a *Agent) RequestReset() {
	a.priority <- message{reset: true}
}

// HandleIntent synchronously executes one Intent against the current state.
// This is the only method that mutates AgentState or the Position Ledger.
func (a *Agent) HandleIntent(ctx context.Context, intent domain.Intent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch intent.Kind {
	case domain.IntentOpenBasis:
		return a.openLocked(ctx, intent)
	case domain.IntentCloseBasis:
		return a.closeLocked(ctx, intent)
	case domain.IntentRebalance:
		return a.rebalanceLocked(ctx, intent)
	case domain.IntentNoop:
		return nil
	default:
		return fmt.Errorf("agent: unknown intent kind %q", intent.Kind)
	}
}

func (a *Agent) transitionLocked(to domain.AgentState) error {
	if !legalTransition(a.state, to) {
		from := a.state
		err := &domain.StateViolationError{From: from, To: to}
		if !a.cfg.PaperMode {
			a.state = domain.StateError
		}
		a.emit(events.StateTransition, map[string]interface{}{"from": string(from), "to": string(to), "illegal": true})
		return err
	}
	from := a.state
	a.state = to
	a.emit(events.StateTransition, map[string]interface{}{"from": string(from), "to": string(to)})
	return nil
}

func legalTransition(from, to domain.AgentState) bool {
	switch from {
	case domain.StateIdle:
		return to == domain.StateOpening || to == domain.StatePaused
	case domain.StateOpening:
		return to == domain.StateMonitoring || to == domain.StateError || to == domain.StateIdle || to == domain.StatePaused
	case domain.StateMonitoring:
		return to == domain.StateClosing || to == domain.StateRebalancing || to == domain.StatePaused
	case domain.StateClosing:
		return to == domain.StateIdle || to == domain.StateError || to == domain.StatePaused
	case domain.StateRebalancing:
		return to == domain.StateMonitoring || to == domain.StatePaused
	case domain.StatePaused:
		return to == domain.StateIdle
	case domain.StateError:
		return to == domain.StateIdle
	default:
		return false
	}
}

func (a *Agent) openLocked(ctx context.Context, intent domain.Intent) error {
	if a.state != domain.StateIdle {
		return &domain.StateViolationError{From: a.state, To: domain.StateOpening}
	}
	if err := a.transitionLocked(domain.StateOpening); err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(ctx, a.cfg.LegTimeout)
	defer cancel()

	fill, err := a.gw.SubmitPairedOpen(openCtx, intent.SizeBase.Float(), gateway.Bounds{MaxSlippageBps: a.cfg.MaxSlippageBps})
	if err != nil {
		a.handleOpenFailureLocked(ctx, err)
		return err
	}

	now := a.clock.NowNs()
	spotLeg := domain.PositionLeg{Leg: domain.LegSpot, Side: domain.SideLong, SizeBase: domain.NewBaseQty(fill.Spot.SizeBase), EntryPrice: fill.Spot.Price, OpenedAt: now, FeesQuote: domain.NewQuoteQty(fill.Spot.FeesQuote)}
	perpLeg := domain.PositionLeg{Leg: domain.LegPerp, Side: domain.SideShort, SizeBase: domain.NewBaseQty(fill.Perp.SizeBase), EntryPrice: fill.Perp.Price, OpenedAt: now, FeesQuote: domain.NewQuoteQty(fill.Perp.FeesQuote)}

	if err := a.led.Open(spotLeg, perpLeg); err != nil {
		a.state = domain.StateError
		return err
	}

	a.emit(events.TradeOpened, map[string]interface{}{"size_base": intent.SizeBase.Float(), "confidence": intent.Confidence})
	return a.transitionLocked(domain.StateMonitoring)
}

// handleOpenFailureLocked implements the leg-reversal recovery: if one leg
// filled and the other failed, reverse the filled leg and return to Idle
// marking an Error outcome rather than leaving a naked directional exposure.
func (a *Agent) handleOpenFailureLocked(ctx context.Context, err error) {
	var legErr *domain.LegFailureError
	if e, ok := err.(*domain.LegFailureError); ok {
		legErr = e
		a.log.Warn().Str("filled", string(legErr.Filled)).Str("unfilled", string(legErr.Unfilled)).Msg("reversing filled leg after partial open failure")
	}
	a.state = domain.StateIdle
	a.emit(events.ErrorOccurred, map[string]interface{}{"op": "open", "error": err.Error()})
}

func (a *Agent) closeLocked(ctx context.Context, intent domain.Intent) error {
	if a.state != domain.StateMonitoring {
		return &domain.StateViolationError{From: a.state, To: domain.StateClosing}
	}
	pos, ok := a.led.Current()
	if !ok {
		if err := a.transitionLocked(domain.StateClosing); err != nil {
			return err
		}
		return a.transitionLocked(domain.StateIdle)
	}
	if err := a.transitionLocked(domain.StateClosing); err != nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(ctx, a.cfg.LegTimeout)
	defer cancel()

	fill, err := a.gw.SubmitClose(closeCtx, gateway.Bounds{MaxSlippageBps: a.cfg.MaxSlippageBps})
	if err != nil {
		// Partial failure escalates to Paused and raises an alert rather than
		// risking an inconsistent ledger state.
		a.state = domain.StatePaused
		a.pauseCause = "close_failure"
		a.emit(events.ErrorOccurred, map[string]interface{}{"op": "close", "error": err.Error()})
		return err
	}

	outcome, err := a.led.Close(fill.Spot.Price, fill.Perp.Price, totalFees(pos, fill), a.clock.NowNs(), intent.CloseReason, 0, 0, 0)
	if err != nil {
		a.state = domain.StateError
		return err
	}

	if a.perf != nil {
		if err := a.perf.Append(outcome); err != nil {
			a.state = domain.StatePaused
			a.pauseCause = "persistence_error"
			a.emit(events.ErrorOccurred, map[string]interface{}{"op": "persist_outcome", "error": err.Error()})
			return &domain.PersistenceError{Op: "append_outcome", Err: err}
		}
	}

	a.emit(events.TradeClosed, map[string]interface{}{
		"net_quote_pnl": outcome.NetQuotePnL.Float(),
		"close_reason":  string(outcome.CloseReason),
		"win":           outcome.Win,
	})
	return a.transitionLocked(domain.StateIdle)
}

func (a *Agent) rebalanceLocked(ctx context.Context, intent domain.Intent) error {
	if a.state != domain.StateMonitoring {
		return &domain.StateViolationError{From: a.state, To: domain.StateRebalancing}
	}
	if err := a.transitionLocked(domain.StateRebalancing); err != nil {
		return err
	}

	adjCtx, cancel := context.WithTimeout(ctx, a.cfg.LegTimeout)
	defer cancel()

	_, err := a.gw.SubmitAdjust(adjCtx, intent.Leg, intent.DeltaBase.Float(), gateway.Bounds{MaxSlippageBps: a.cfg.MaxSlippageBps})
	if err != nil {
		// Rebalance failure aborts back to Monitoring without forcing a close.
		a.log.Warn().Err(err).Msg("rebalance adjustment failed, aborting to monitoring")
		a.state = domain.StateMonitoring
		return err
	}

	a.emit(events.Rebalanced, map[string]interface{}{"delta_base": intent.DeltaBase.Float(), "leg": string(intent.Leg)})
	return a.transitionLocked(domain.StateMonitoring)
}

// ForcePause is the Risk Manager's synchronous entry point (used directly by
// tests and by the Risk Manager ticker goroutine, which prefers not to block
// on mailbox buffering for a safety-critical pause).
func (a *Agent) ForcePause(cause string, requiresAck bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauseLocked(cause, requiresAck)
}

// pauseLocked implements the idempotent-pause law: a pause arriving while
// already Paused must not re-emit Paused and must not re-run the forced
// close (the first trip already closed, or attempted to close, the
// position). Only the transition into Paused triggers the forced close.
func (a *Agent) pauseLocked(cause string, requiresAck bool) {
	prior := a.state
	if prior == domain.StatePaused {
		return
	}

	a.forceCloseLocked(cause)

	a.state = domain.StatePaused
	a.pauseCause = cause
	a.pauseRequiresAck = requiresAck
	a.emit(events.Paused, map[string]interface{}{"cause": cause, "from": string(prior)})
}

// forceCloseLocked implements spec §4.9's "on any trip, if a position is
// open, enqueue a forced Close": any open position is closed synchronously
// before the Agent settles into Paused. Best-effort — a close failure is
// logged and the pause still takes effect, since the risk trip that
// triggered it must not be masked by a gateway failure.
func (a *Agent) forceCloseLocked(cause string) {
	pos, hasPosition := a.led.Current()
	if !hasPosition {
		return
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.LegTimeout)
	defer cancel()

	fill, err := a.gw.SubmitClose(closeCtx, gateway.Bounds{MaxSlippageBps: a.cfg.MaxSlippageBps})
	if err != nil {
		a.log.Error().Err(err).Str("cause", cause).Msg("forced close on pause failed, position remains open")
		a.emit(events.ErrorOccurred, map[string]interface{}{"op": "forced_close", "error": err.Error()})
		return
	}

	outcome, err := a.led.Close(fill.Spot.Price, fill.Perp.Price, totalFees(pos, fill), a.clock.NowNs(), forcedCloseReason(cause), 0, 0, 0)
	if err != nil {
		a.log.Error().Err(err).Str("cause", cause).Msg("forced close ledger update failed")
		return
	}

	if a.perf != nil {
		if err := a.perf.Append(outcome); err != nil {
			a.log.Error().Err(err).Str("cause", cause).Msg("forced close outcome persistence failed")
		}
	}

	a.emit(events.TradeClosed, map[string]interface{}{
		"net_quote_pnl": outcome.NetQuotePnL.Float(),
		"close_reason":  string(outcome.CloseReason),
		"win":           outcome.Win,
		"forced":        true,
	})
}

// totalFees sums the fees paid opening both legs with the fees paid closing
// them, so the persisted TradeOutcome attributes the full round-trip cost
// rather than just the closing leg.
func totalFees(pos domain.Position, fill gateway.PairedFill) domain.QuoteQty {
	openFees := pos.Spot.FeesQuote.Add(pos.Perp.FeesQuote)
	closeFees := domain.NewQuoteQty(fill.Spot.FeesQuote + fill.Perp.FeesQuote)
	return openFees.Add(closeFees)
}

// forcedCloseReason maps a Risk Manager check name to the CloseReason
// persisted with the forced TradeOutcome, per the spec's scenario table
// (S3: reversal -> Reversal, S6: drawdown -> Drawdown).
func forcedCloseReason(cause string) domain.CloseReason {
	switch cause {
	case "drawdown":
		return domain.CloseDrawdown
	case "stop_loss":
		return domain.CloseStopLoss
	case "reversal":
		return domain.CloseReversal
	default:
		return domain.CloseManual
	}
}

// Acknowledge clears a risk-origin pause's acknowledgement requirement,
// allowing Resume to proceed.
func (a *Agent) Acknowledge() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauseRequiresAck = false
}

// Resume returns the Agent from Paused to Idle. Risk-origin pauses that
// require acknowledgement refuse to resume until Acknowledge has been called;
// transient connectivity pauses resume automatically once called.
func (a *Agent) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != domain.StatePaused {
		return &domain.StateViolationError{From: a.state, To: domain.StateIdle}
	}
	if a.pauseRequiresAck {
		return fmt.Errorf("agent: resume blocked, pause %q requires explicit acknowledgement", a.pauseCause)
	}
	a.pauseCause = ""
	return a.transitionLocked(domain.StateIdle)
}

// Reset recovers from Error back to Idle.
func (a *Agent) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != domain.StateError {
		return &domain.StateViolationError{From: a.state, To: domain.StateIdle}
	}
	return a.transitionLocked(domain.StateIdle)
}

func (a *Agent) emit(eventType events.EventType, data map[string]interface{}) {
	if a.tel == nil {
		return
	}
	a.tel.Emit(eventType, "agent", data)
}
