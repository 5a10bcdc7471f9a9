// Package event models the immutable-after-creation Event record and its
// state machine.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/integration-core/core/internal/domain/id"
)

// State is the event's lifecycle marker.
type State string

const (
	StateReceived     State = "received"
	StateAcknowledged State = "acknowledged"
	StateExecuted      State = "executed"
	StateSucceeded     State = "succeeded"
	StateErrored       State = "errored"
)

// Hashes are SHA-256 digests over three increasingly specific projections
// of an event, used for client-side idempotency checks and auditing.
type Hashes struct {
	Body         string `json:"body"`
	BodyAndName  string `json:"bodyAndName"`
	ModelBody    string `json:"modelBody"`
}

// Event is an immutable-after-creation record of one emitted occurrence.
type Event struct {
	ID         id.Id                  `json:"id" db:"id"`
	AccessKey  string                 `json:"accessKey" db:"access_key"`
	Name       string                 `json:"name" db:"name"`
	Headers    map[string]string      `json:"headers" db:"-"`
	Body       map[string]interface{} `json:"body" db:"-"`
	Hashes     Hashes                 `json:"hashes" db:"-"`
	Ownership  string                 `json:"ownership" db:"ownership"`
	State      State                  `json:"state" db:"state"`
	Duplicates int                    `json:"duplicates" db:"duplicates"`
	CreatedAt  time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time              `json:"updatedAt" db:"updated_at"`
}

// New builds a fresh Event with its hashes computed and state Received.
func New(accessKey, name string, headers map[string]string, body map[string]interface{}, ownership string) (Event, error) {
	hashes, err := computeHashes(name, body)
	if err != nil {
		return Event{}, err
	}
	now := time.Now()
	return Event{
		ID:        id.New(id.PrefixEvent),
		AccessKey: accessKey,
		Name:      name,
		Headers:   headers,
		Body:      body,
		Hashes:    hashes,
		Ownership: ownership,
		State:     StateReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// computeHashes derives the three SHA-256 digests described in spec §3:
// over the body alone, over the body plus event name, and over the
// "model body" (here, the body canonicalized the same way — the spec
// leaves the exact function implementation-free as long as it is stable).
func computeHashes(name string, body map[string]interface{}) (Hashes, error) {
	bodyJSON, err := canonicalJSON(body)
	if err != nil {
		return Hashes{}, err
	}

	bodyHash := sha256Hex(bodyJSON)

	nameAndBody, err := canonicalJSON(map[string]interface{}{"name": name, "body": body})
	if err != nil {
		return Hashes{}, err
	}
	bodyAndNameHash := sha256Hex(nameAndBody)

	return Hashes{
		Body:        bodyHash,
		BodyAndName: bodyAndNameHash,
		ModelBody:   bodyHash,
	}, nil
}

func canonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
