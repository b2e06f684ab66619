// eventsink.go provides an in-memory implementation of EventSink.
//
// It keeps every published notification for inspection by tests.
// All operations are thread-safe.
package memory

import (
	"context"
	"sync"

	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.EventSink = (*EventSink)(nil)

// EventSink stores published notifications in memory.
type EventSink struct {
	mu     sync.RWMutex
	events []outbound.Event
	closed bool

	onPublish func(outbound.Event)
}

func NewEventSink() *EventSink {
	return &EventSink{}
}

// Publish stores the event. Publishing to a closed sink is a no-op.
func (s *EventSink) Publish(_ context.Context, event outbound.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.events = append(s.events, event)
	if s.onPublish != nil {
		s.onPublish(event)
	}
	return nil
}

func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// GetEvents returns all published events.
func (s *EventSink) GetEvents() []outbound.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbound.Event(nil), s.events...)
}

// GetEventsByType returns events filtered by type.
func (s *EventSink) GetEventsByType(eventType outbound.EventType) []outbound.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []outbound.Event
	for _, e := range s.events {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

// GetEmergencyEvents returns emergency transitions in publish order.
func (s *EventSink) GetEmergencyEvents() []outbound.EmergencyEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []outbound.EmergencyEvent
	for _, e := range s.events {
		if ee, ok := e.(outbound.EmergencyEvent); ok {
			result = append(result, ee)
		}
	}
	return result
}

// GetActionEvents returns action outcomes in publish order.
func (s *EventSink) GetActionEvents() []outbound.ActionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []outbound.ActionEvent
	for _, e := range s.events {
		if ae, ok := e.(outbound.ActionEvent); ok {
			result = append(result, ae)
		}
	}
	return result
}

func (s *EventSink) GetEventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// OnPublish sets a callback run for every published event.
func (s *EventSink) OnPublish(fn func(outbound.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}
