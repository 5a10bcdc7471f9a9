package event

import "encoding/json"

// Outcome is the closed sum of side-effect results the stream processor
// attaches to an EventEntity after each processing attempt (§4.6).
type Outcome interface {
	isOutcome()
}

// OutcomeExecuted marks that the side effect ran, before success/failure is
// known (recorded unconditionally after the call per §4.6 step 3).
type OutcomeExecuted struct{}

func (OutcomeExecuted) isOutcome() {}

// OutcomeSucceeded records a successful side effect after the given number
// of attempts.
type OutcomeSucceeded struct {
	Retries int `json:"retries"`
}

func (OutcomeSucceeded) isOutcome() {}

// OutcomeErrored records a failed side effect; Error carries the formatted
// error string (with the exhaustion suffix appended on the terminal
// attempt, per §4.6 step 4 / §8 scenario 5).
type OutcomeErrored struct {
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

func (OutcomeErrored) isOutcome() {}

// EventEntity is the stream envelope carrying one event plus its current
// processing outcome (§6 "Stream topics").
type EventEntity struct {
	EntityID string                 `json:"entityId"`
	Entity   Event                  `json:"entity"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Outcome  Outcome                `json:"outcome,omitempty"`
}

// outcomeWire is the discriminated-union wire shape for Outcome, since a
// plain interface field can't round-trip through encoding/json on its own.
type outcomeWire struct {
	Kind    string `json:"kind"`
	Error   string `json:"error,omitempty"`
	Retries int    `json:"retries,omitempty"`
}

func (e EventEntity) MarshalJSON() ([]byte, error) {
	type alias EventEntity
	var wire *outcomeWire
	switch o := e.Outcome.(type) {
	case OutcomeExecuted:
		wire = &outcomeWire{Kind: "executed"}
	case OutcomeSucceeded:
		wire = &outcomeWire{Kind: "succeeded", Retries: o.Retries}
	case OutcomeErrored:
		wire = &outcomeWire{Kind: "errored", Error: o.Error, Retries: o.Retries}
	}
	return json.Marshal(struct {
		alias
		Outcome *outcomeWire `json:"outcome,omitempty"`
	}{alias(e), wire})
}

func (e *EventEntity) UnmarshalJSON(data []byte) error {
	type alias EventEntity
	aux := struct {
		*alias
		Outcome *outcomeWire `json:"outcome,omitempty"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Outcome == nil {
		return nil
	}
	switch aux.Outcome.Kind {
	case "executed":
		e.Outcome = OutcomeExecuted{}
	case "succeeded":
		e.Outcome = OutcomeSucceeded{Retries: aux.Outcome.Retries}
	case "errored":
		e.Outcome = OutcomeErrored{Error: aux.Outcome.Error, Retries: aux.Outcome.Retries}
	}
	return nil
}
