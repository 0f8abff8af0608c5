// Package events carries ledger change notifications to interested sinks:
// the structured log, an AMQP exchange, or an in-memory recorder.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

type Type string

const (
	CategoryAdded   Type = "category.added"
	CategoryRenamed Type = "category.renamed"
	CategoryDeleted Type = "category.deleted"
	ExpenseAdded    Type = "expense.added"
	ExpenseUpdated  Type = "expense.updated"
	ExpenseDeleted  Type = "expense.deleted"
)

// Event describes one successful ledger mutation.
type Event struct {
	Type        Type      `json:"type"`
	CategoryID  int64     `json:"category_id"`
	ExpenseID   int64     `json:"expense_id,omitempty"`
	Name        string    `json:"name"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	DeltaCents  int64     `json:"delta_cents,omitempty"` // change applied to the category total
	Cascaded    int       `json:"cascaded,omitempty"`    // expenses removed along with a category
	Timestamp   time.Time `json:"timestamp"`
}

// New stamps an event of the given type with the current time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event and rejects payloads without a type.
func FromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, errors.New("event without type")
	}
	return e, nil
}

// Sink receives ledger events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Multi fans an event out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
