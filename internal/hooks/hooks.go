// Package hooks dispatches gateway and conversation lifecycle events to
// registered handlers.
package hooks

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/flowbot/internal/logging"
)

// Event names for the hook system.
const (
	EventMessageReceived = "message_received"
	EventMessageSending  = "message_sending"
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
	EventConfigUpdated   = "config_updated"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventMessageReceived,
	EventMessageSending,
	EventSessionStart,
	EventSessionEnd,
	EventGatewayStart,
	EventGatewayStop,
	EventConfigUpdated,
}

// Payload describes one lifecycle event. It carries ids, positions and
// frame types only; user text never leaves the gateway through a hook.
type Payload struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`

	SessionID string `json:"sessionId,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	// BlockID is where the session rests: before the turn for
	// message_received, after it for message_sending.
	BlockID string `json:"blockId,omitempty"`
	// Type and Code describe the outgoing frame on message_sending.
	Type string `json:"type,omitempty"`
	Code string `json:"code,omitempty"`

	FlowID string `json:"flowId,omitempty"`
	Blocks int    `json:"blocks,omitempty"`
	Addr   string `json:"addr,omitempty"`
}

// Handler handles one event. A returned error is logged and the remaining
// handlers still run.
type Handler func(ctx context.Context, p Payload) error

// Manager holds handler registrations per event. A nil *Manager accepts
// every call and does nothing, so callers never need to check for hooks.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler under name. Events outside AllEvents are accepted
// but logged, since nothing emits them.
func (m *Manager) On(event, name string, handler Handler) {
	if !slices.Contains(AllEvents, event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("hook registered for unknown event")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler called name from event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
}

// Has reports whether anything listens for event. Callers use it to skip
// building payloads that need extra lookups.
func (m *Manager) Has(event string) bool {
	return m.Count(event) > 0
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := maps.Clone(m.handlers)
	maps.DeleteFunc(active, func(_ string, hs []namedHandler) bool { return len(hs) == 0 })
	return slices.Sorted(maps.Keys(active))
}

// Emit runs the handlers for p.Event in registration order and waits for
// them.
func (m *Manager) Emit(ctx context.Context, p Payload) {
	p, handlers := m.prepare(p)
	for _, h := range handlers {
		m.call(ctx, h, p)
	}
}

// EmitAsync starts every handler for p.Event in its own goroutine and
// returns at once. Handlers outlive ctx's cancellation.
func (m *Manager) EmitAsync(ctx context.Context, p Payload) {
	p, handlers := m.prepare(p)
	if len(handlers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, h := range handlers {
		go m.call(ctx, h, p)
	}
}

// prepare stamps the payload and snapshots the handler list so handlers may
// call On or Off.
func (m *Manager) prepare(p Payload) (Payload, []namedHandler) {
	if m == nil {
		return p, nil
	}
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return p, slices.Clone(m.handlers[p.Event])
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Str("session", p.SessionID).
			Msg("hook handler error")
	}
}
