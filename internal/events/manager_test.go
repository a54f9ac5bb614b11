package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Emit_IncrementsSequence(t *testing.T) {
	m := NewManager(zerolog.Nop())

	m.Emit(SignalEmitted, "signal", map[string]interface{}{"confidence": 0.9})
	m.Emit(TradeOpened, "agent", map[string]interface{}{"size_base": 10.0})

	assert.Equal(t, uint64(2), m.seq)
}

func TestManager_Subscribe_ReceivesEvents(t *testing.T) {
	m := NewManager(zerolog.Nop())
	sub := m.Subscribe(4)

	m.Emit(StateTransition, "agent", map[string]interface{}{"to": "monitoring"})

	select {
	case ev := <-sub:
		assert.Equal(t, StateTransition, ev.Type)
		assert.Equal(t, "agent", ev.Module)
		assert.Equal(t, uint64(1), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive event")
	}
}

func TestManager_Subscribe_DropsWhenFull(t *testing.T) {
	m := NewManager(zerolog.Nop())
	sub := m.Subscribe(1)

	m.Emit(RiskTripped, "risk", nil)
	m.Emit(RiskTripped, "risk", nil) // subscriber buffer full, dropped, must not block

	require.Len(t, sub, 1)
}

func TestManager_EmitError_IncludesMessage(t *testing.T) {
	m := NewManager(zerolog.Nop())
	sub := m.Subscribe(1)

	m.EmitError("gateway", assertErr("boom"), map[string]interface{}{"op": "quote_swap"})

	ev := <-sub
	assert.Equal(t, ErrorOccurred, ev.Type)
	assert.Equal(t, "boom", ev.Data["error"])
	assert.Equal(t, "quote_swap", ev.Data["op"])
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertErr(msg string) error { return testErr(msg) }
