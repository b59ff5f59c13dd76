// Package bus is the publish/subscribe contract the kiosk core talks to,
// with an in-process implementation used by fbsd and the tests.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Handler receives an event name and its payload.
type Handler func(event string, payload any)

// Bus is the event bus contract. Subscriptions return a function that
// removes them. A name ending in ".*" subscribes to every event with that
// prefix; "*" subscribes to everything.
type Bus interface {
	Publish(event string, payload any)
	On(event string, h Handler) (off func())
	Once(event string, h Handler) (off func())
	OnAny(h Handler) (off func())
}

type subscription struct {
	id      uint64
	pattern string
	once    bool
	handler Handler
}

func (s *subscription) matches(event string) bool {
	switch {
	case s.pattern == "*":
		return true
	case strings.HasSuffix(s.pattern, ".*"):
		return strings.HasPrefix(event, strings.TrimSuffix(s.pattern, "*"))
	default:
		return s.pattern == event
	}
}

// Memory delivers events synchronously on the publishing goroutine.
// Handlers that block (network calls) must start their own goroutine.
type Memory struct {
	mu     sync.Mutex
	nextID uint64
	subs   []*subscription
}

var _ Bus = (*Memory)(nil)

// New creates an empty in-process bus.
func New() *Memory {
	return &Memory{}
}

// Publish calls every matching handler in subscription order.
func (m *Memory) Publish(event string, payload any) {
	m.mu.Lock()
	var targets []*subscription
	kept := m.subs[:0]
	for _, s := range m.subs {
		if s.matches(event) {
			targets = append(targets, s)
			if s.once {
				continue
			}
		}
		kept = append(kept, s)
	}
	// zero the tail so dropped handlers can be collected
	for i := len(kept); i < len(m.subs); i++ {
		m.subs[i] = nil
	}
	m.subs = kept
	m.mu.Unlock()

	for _, s := range targets {
		s.handler(event, payload)
	}
}

func (m *Memory) On(event string, h Handler) func() {
	return m.add(event, false, h)
}

func (m *Memory) Once(event string, h Handler) func() {
	return m.add(event, true, h)
}

func (m *Memory) OnAny(h Handler) func() {
	return m.add("*", false, h)
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) add(pattern string, once bool, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, &subscription{id: id, pattern: pattern, once: once, handler: h})

	return func() { m.remove(id) }
}

func (m *Memory) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Decode converts a payload into v. Payloads arrive either as raw JSON
// from an external bus or as Go values from in-process publishers.
func Decode(payload any, v any) error {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("bus: encode payload: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("bus: decode payload: %w", err)
	}
	return nil
}
