// Package events carries orchestration lifecycle events from the scheduler
// and workflow layers to subscribers (SSE stream, tests, logs).
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is one orchestration lifecycle event.
// Minimal and stable: name plus optional fields.
type Event struct {
	Name   string
	Fields map[string]any
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// Noop drops events.
type Noop struct{}

func (Noop) Publish(Event) {}

// Memory stores events in-memory for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (p *Memory) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *Memory) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Bus fans events out to live subscribers. Slow subscribers drop events
// rather than blocking publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus { return &Bus{subs: make(map[chan Event]struct{})} }

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber channel. The returned cancel func must be
// called to release it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Tee publishes to multiple publishers.
type Tee []Publisher

func (t Tee) Publish(e Event) {
	for _, p := range t {
		p.Publish(e)
	}
}

// Log mirrors events into a structured logger, typically teed with the
// live bus when the daemon runs with JSON logging.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Publish(e Event) {
	l.Logger.Info().Str("event", e.Name).Fields(e.Fields).Msg("orchestration event")
}
