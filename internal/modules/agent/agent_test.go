package agent

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/events"
	"github.com/aristath/basisagent/internal/gateway"
	"github.com/aristath/basisagent/internal/modules/ledger"
	"github.com/aristath/basisagent/internal/modules/performance"
)

func newTestAgent(t *testing.T) (*Agent, *gateway.Paper, *gateway.SimClock) {
	t.Helper()
	clock := gateway.NewSimClock(1_000_000_000)
	paper := gateway.NewPaper(gateway.PaperConfig{SlippageBps: 2, FeeBps: 5}, 0, 100000, zerolog.Nop())
	paper.SetMarks(148.52, 148.89)

	led := ledger.New(1)

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, performance.InitSchema(conn))
	perf, err := performance.Open(conn, filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { perf.Close() })

	a := New(Config{PaperMode: true}, led, paper, clock, noopTelemetry{}, perf, zerolog.Nop())
	return a, paper, clock
}

type noopTelemetry struct{}

func (noopTelemetry) Emit(eventType events.EventType, module string, data map[string]interface{}) {}

// S1: Idle -> Opening -> Monitoring on a successful paired open.
func TestHandleIntent_OpenTransitionsToMonitoring(t *testing.T) {
	a, _, _ := newTestAgent(t)

	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1), Confidence: 0.9})

	require.NoError(t, err)
	assert.Equal(t, domain.StateMonitoring, a.State())
}

// S1: Monitoring -> Closing -> Idle with the outcome persisted.
func TestHandleIntent_CloseTransitionsToIdleAndPersists(t *testing.T) {
	a, paper, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	paper.SetMarks(149.10, 149.17)
	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentCloseBasis, CloseReason: domain.CloseConvergence})

	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, a.State())
	_, hasPosition := a.led.Current()
	assert.False(t, hasPosition)
	summary, err := a.perf.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TradesTotal)
}

// Round-trip fee law: the persisted outcome's fees include both the open-leg
// and close-leg fees, not just the closing leg's.
func TestHandleIntent_CloseAttributesOpenAndCloseFees(t *testing.T) {
	a, paper, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	pos, ok := a.led.Current()
	require.True(t, ok)
	openFees := pos.Spot.FeesQuote.Add(pos.Perp.FeesQuote)
	require.False(t, openFees.IsZero(), "open legs must carry nonzero fees under the test FeeBps config")

	paper.SetMarks(149.10, 149.17)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentCloseBasis, CloseReason: domain.CloseConvergence}))

	var outcome domain.TradeOutcome
	require.NoError(t, a.perf.IterateForExport(func(o domain.TradeOutcome) error {
		outcome = o
		return nil
	}))
	assert.Greater(t, outcome.FeesQuote.Float(), openFees.Float(), "persisted fees must include the open legs' fees plus the close legs' fees")
}

func TestHandleIntent_OpenWhileNotIdleIsStateViolation(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)})

	var violation *domain.StateViolationError
	assert.ErrorAs(t, err, &violation)
}

func TestHandleIntent_CloseWithNoOpenPositionFallsBackToIdle(t *testing.T) {
	a, _, _ := newTestAgent(t)
	a.mu.Lock()
	a.state = domain.StateMonitoring // simulate a position having been closed out of band
	a.mu.Unlock()

	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentCloseBasis})

	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, a.State())
}

func TestHandleIntent_CloseWhileIdleIsStateViolation(t *testing.T) {
	a, _, _ := newTestAgent(t)

	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentCloseBasis})

	var violation *domain.StateViolationError
	assert.ErrorAs(t, err, &violation)
}

func TestForcePause_SetsPausedFromAnyState(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	a.ForcePause("drawdown", true)

	assert.Equal(t, domain.StatePaused, a.State())
}

// S6: a trip with an open position force-closes it before settling into
// Paused, so Resume never leaves an orphaned position behind.
func TestForcePause_ForceClosesOpenPosition(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))
	_, hasPosition := a.led.Current()
	require.True(t, hasPosition)

	a.ForcePause("drawdown", true)

	assert.Equal(t, domain.StatePaused, a.State())
	_, hasPosition = a.led.Current()
	assert.False(t, hasPosition, "forced close must clear the open position")

	summary, err := a.perf.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TradesTotal, "forced close must persist a TradeOutcome")
}

// S3: a reversal trip's forced close is persisted with close_reason=reversal.
func TestForcePause_ForcedCloseUsesCauseMappedReason(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	a.ForcePause("reversal", true)

	require.NoError(t, a.perf.IterateForExport(func(o domain.TradeOutcome) error {
		assert.Equal(t, domain.CloseReversal, o.CloseReason)
		return nil
	}))
}

// Idempotent pause: a second trip while already Paused must not re-run the
// forced close or re-emit Paused.
func TestForcePause_IdempotentWhilePaused(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	counter := &countingTelemetry{}
	a.tel = counter

	a.ForcePause("drawdown", true)
	a.ForcePause("drawdown", true)

	assert.Equal(t, 1, counter.count(events.Paused))

	summary, err := a.perf.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TradesTotal, "a repeat pause must not re-close or double-append")
}

type countingTelemetry struct {
	mu     sync.Mutex
	counts map[events.EventType]int
}

func (c *countingTelemetry) Emit(eventType events.EventType, module string, data map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[events.EventType]int)
	}
	c.counts[eventType]++
}

func (c *countingTelemetry) count(eventType events.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[eventType]
}

func TestResume_BlockedUntilAcknowledged(t *testing.T) {
	a, _, _ := newTestAgent(t)
	a.ForcePause("drawdown", true)

	err := a.Resume()
	assert.Error(t, err)
	assert.Equal(t, domain.StatePaused, a.State())

	a.Acknowledge()
	err = a.Resume()
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, a.State())
}

func TestResume_AutomaticWhenAckNotRequired(t *testing.T) {
	a, _, _ := newTestAgent(t)
	a.ForcePause("connection_blip", false)

	err := a.Resume()
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, a.State())
}

func TestReset_RecoversFromError(t *testing.T) {
	a, _, _ := newTestAgent(t)
	a.mu.Lock()
	a.state = domain.StateError
	a.mu.Unlock()

	err := a.Reset()
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, a.State())
}

func TestReset_IllegalFromNonErrorState(t *testing.T) {
	a, _, _ := newTestAgent(t)

	err := a.Reset()
	assert.Error(t, err)
}

// S4: a successful rebalance returns the Agent to Monitoring (Monitoring -> Rebalancing -> Monitoring).
func TestHandleIntent_RebalanceReturnsToMonitoring(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1)}))

	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentRebalance, Leg: domain.LegPerp, DeltaBase: domain.NewBaseQty(0.5)})

	require.NoError(t, err)
	assert.Equal(t, domain.StateMonitoring, a.State())
}

func TestHandleIntent_RebalanceWhileIdleIsStateViolation(t *testing.T) {
	a, _, _ := newTestAgent(t)

	err := a.HandleIntent(context.Background(), domain.Intent{Kind: domain.IntentRebalance})

	var violation *domain.StateViolationError
	assert.ErrorAs(t, err, &violation)
}
