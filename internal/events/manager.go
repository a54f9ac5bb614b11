package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one structured telemetry event carrying a monotonic sequence number,
// per §6's Telemetry sink contract.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Telemetry is the abstract sink the trading core emits structured events to.
type Telemetry interface {
	Emit(eventType EventType, module string, data map[string]interface{})
}

// Subscriber receives a copy of every event emitted through the Manager, used to
// back the control surface's /status endpoint without coupling it to logging.
type Subscriber chan Event

// Manager is the default Telemetry implementation: it logs every event through
// the structured logger and fans a copy out to any attached subscribers.
type Manager struct {
	mu   sync.Mutex
	log  zerolog.Logger
	seq  uint64
	subs []Subscriber
}

// NewManager creates a new event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "telemetry").Logger()}
}

// Subscribe attaches a buffered channel that receives every subsequent event.
func (m *Manager) Subscribe(buffer int) Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := make(Subscriber, buffer)
	m.subs = append(m.subs, sub)
	return sub
}

// Emit publishes an event: it logs it and fans it out to subscribers. Never blocks
// on a full subscriber channel — a slow subscriber drops events rather than
// stalling the emitting task.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.mu.Lock()
	m.seq++
	event := Event{
		Seq:       m.seq,
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.Unlock()

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")

	for _, sub := range subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// EmitError emits an ErrorOccurred event carrying the error's message and context.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{"error": err.Error()}
	for k, v := range context {
		data[k] = v
	}
	m.Emit(ErrorOccurred, module, data)
}
