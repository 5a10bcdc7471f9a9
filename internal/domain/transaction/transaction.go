// Package transaction models the append-only per-event audit ledger.
package transaction

import (
	"encoding/json"
	"time"

	"github.com/integration-core/core/internal/domain/id"
)

// State is the terminal outcome of one recorded attempt.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StatePanicked  State = "panicked"
)

// Transaction is one append-only audit row for an attempt of one stage of
// one context (§3, glossary).
type Transaction struct {
	ID        id.Id           `json:"id" db:"id"`
	EventID   id.Id           `json:"eventId" db:"event_id"`
	Key       string          `json:"key" db:"key"` // "pipeline::stage[::attempt-N]"
	Input     json.RawMessage `json:"input,omitempty" db:"-"`
	Output    json.RawMessage `json:"output,omitempty" db:"-"`
	Err       *string         `json:"error,omitempty" db:"error"`
	State     State           `json:"state" db:"state"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

func newTransaction(eventID id.Id, key string, input json.RawMessage, state State) Transaction {
	return Transaction{
		ID:        id.New(id.PrefixTransaction),
		EventID:   eventID,
		Key:       key,
		Input:     input,
		State:     state,
		Timestamp: time.Now(),
	}
}

// Completed records a successful attempt with its output.
func Completed(eventID id.Id, key string, input, output json.RawMessage) Transaction {
	t := newTransaction(eventID, key, input, StateCompleted)
	t.Output = output
	return t
}

// Failed records a non-terminal failed attempt; another attempt will follow.
func Failed(eventID id.Id, key string, input json.RawMessage, err error) Transaction {
	t := newTransaction(eventID, key, input, StateFailed)
	msg := err.Error()
	t.Err = &msg
	return t
}

// Panicked records the terminal failed attempt of a retry loop that has
// exhausted its retry budget.
func Panicked(eventID id.Id, key string, input json.RawMessage, err error) Transaction {
	t := newTransaction(eventID, key, input, StatePanicked)
	msg := err.Error()
	t.Err = &msg
	return t
}
