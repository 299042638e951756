// Package memory holds an in-process publisher. It backs the default
// deployment, where run summaries only need to reach same-process consumers
// (and tests).
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher retains every published event for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// Event captures one publish call.
type Event struct {
	Topic   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event and returns a sequence-based ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
