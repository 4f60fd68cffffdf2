package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/tathienbao/short-averager/internal/types"
)

// EventSink consumes domain events emitted by position engines.
// Publish is called from the engine loop and should return quickly.
type EventSink interface {
	Publish(ctx context.Context, ev types.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev types.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev types.Event) error {
	return f(ctx, ev)
}

// MultiSink fans an event out to several sinks.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a sink that publishes to all non-nil sinks.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink.
func (m *MultiSink) Add(s EventSink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Publish delivers ev to every sink and joins the errors.
func (m *MultiSink) Publish(ctx context.Context, ev types.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []types.Event
}

// Publish records ev.
func (m *MemorySink) Publish(_ context.Context, ev types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (m *MemorySink) Kinds() []types.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.EventKind, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Kind
	}
	return out
}

// Last returns the most recent event of kind k.
func (m *MemorySink) Last(k types.EventKind) (types.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Kind == k {
			return m.events[i], true
		}
	}
	return types.Event{}, false
}
