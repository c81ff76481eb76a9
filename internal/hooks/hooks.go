// Package hooks fans relay and lifecycle events out to registered handlers.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/anonrelay/internal/logging"
)

// Event names.
const (
	EventUserRegistered     = "user_registered"
	EventMessageRelayed     = "message_relayed"
	EventDeliveryFailed     = "delivery_failed"
	EventDirectoryExhausted = "directory_exhausted"
	EventGatewayStart       = "gateway_start"
	EventGatewayStop        = "gateway_stop"
)

// AllEvents lists every event a handler can subscribe to.
var AllEvents = []string{
	EventUserRegistered,
	EventMessageRelayed,
	EventDeliveryFailed,
	EventDirectoryExhausted,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives. Data never carries message text.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. A returned error is logged and otherwise
// ignored.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name string
	fn   Handler
}

// Manager holds handler registrations. The zero value is not usable; call
// NewManager.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	inflight sync.WaitGroup
	log      *logging.Logger
	now      func() time.Time
}

// NewManager returns a manager with no handlers.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]registration),
		log:      log.Sub("hooks"),
		now:      time.Now,
	}
}

// On adds a handler for event. Handlers run in registration order.
func (m *Manager) On(event, name string, h Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], registration{name: name, fn: h})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler called name from event and reports how many
// were removed.
func (m *Manager) Off(event, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.handlers[event])
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(r registration) bool {
		return r.name == name
	})
	if len(m.handlers[event]) == 0 {
		delete(m.handlers, event)
	}
	return before - len(m.handlers[event])
}

func (m *Manager) snapshot(event string) []registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

// Emit runs the handlers for event one after another on the caller's
// goroutine.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	regs := m.snapshot(event)
	if len(regs) == 0 {
		return
	}
	p := Payload{Event: event, At: m.now().UTC(), Data: data}
	for _, r := range regs {
		m.run(ctx, r, p)
	}
}

// EmitAsync starts each handler for event on its own goroutine and returns
// at once. Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	regs := m.snapshot(event)
	if len(regs) == 0 {
		return
	}
	p := Payload{Event: event, At: m.now().UTC(), Data: data}
	m.inflight.Add(len(regs))
	for _, r := range regs {
		go func() {
			defer m.inflight.Done()
			m.run(ctx, r, p)
		}()
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// run invokes one handler, turning a panic into a logged error.
func (m *Manager) run(ctx context.Context, r registration, p Payload) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return r.fn(ctx, p)
	}()
	if err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", r.name).Msg("hook handler failed")
	}
}

// Count returns how many handlers are registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	events := make([]string, 0, len(m.handlers))
	for event, regs := range m.handlers {
		if len(regs) > 0 {
			events = append(events, event)
		}
	}
	m.mu.RUnlock()
	slices.Sort(events)
	return events
}
