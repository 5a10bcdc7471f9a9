package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/metrics"
)

// ErrDuplicateEntity is returned by DedupStore.Create when a concurrent
// attempt already created the same entity_id's dedup record (§4.6
// "Processing" step 2: "If the store reports a unique-violation, treat as
// a concurrent duplicate").
var ErrDuplicateEntity = errors.New("stream: duplicate entity_id")

// DedupStore enforces at-most-one side effect per event.entity_id.
type DedupStore interface {
	// Exists reports whether a dedup record is already present.
	Exists(ctx context.Context, entityID string) (bool, error)
	// Create inserts a dedup record, returning ErrDuplicateEntity on a
	// concurrent unique-constraint violation.
	Create(ctx context.Context, entityID string, metadata map[string]interface{}) error
	// Delete removes the dedup record so a later retry can re-run.
	Delete(ctx context.Context, entityID string) error
}

// EventStore persists events and their terminal/intermediate outcomes.
type EventStore interface {
	Persist(ctx context.Context, ev event.Event) error
	SetState(ctx context.Context, id string, state event.State) error
	SetOutcome(ctx context.Context, id string, outcome event.Outcome) error
}

// SideEffect executes the actual work an event triggers (dispatch to a
// destination, run a pipeline, etc). Processor only cares about success
// or failure and timing it.
type SideEffect interface {
	Execute(ctx context.Context, ev event.Event) error
}

// Processor implements §4.6 "Processing (process)".
type Processor struct {
	Producer   Producer
	Events     EventStore
	Dedup      DedupStore
	Effect     SideEffect
	MaxRetries int
}

// Process handles one record read off topic, per §4.6 steps 1-4.
func (p *Processor) Process(ctx context.Context, topic string, rec Record) (err error) {
	start := time.Now()
	result := "ok"
	defer func() {
		if err != nil {
			result = "error"
		}
		metrics.RecordStreamProcess(topic, result, time.Since(start))
	}()

	var entity event.EventEntity
	if err = json.Unmarshal(rec.Value, &entity); err != nil {
		return fmt.Errorf("stream: decode record: %w", err)
	}

	exists, existsErr := p.Dedup.Exists(ctx, entity.EntityID)
	if existsErr != nil {
		err = fmt.Errorf("stream: dedup lookup: %w", existsErr)
		return err
	}
	if exists && topic == TopicTarget {
		result = "deduplicated"
		return nil
	}

	if topic == TopicTarget {
		if createErr := p.Dedup.Create(ctx, entity.EntityID, entity.Metadata); createErr != nil {
			if errors.Is(createErr, ErrDuplicateEntity) {
				result = "deduplicated"
				return nil
			}
			err = fmt.Errorf("stream: dedup create: %w", createErr)
			return err
		}
		err = p.processTarget(ctx, entity)
		return err
	}

	err = p.processDLQ(ctx, entity)
	return err
}

func (p *Processor) processTarget(ctx context.Context, entity event.EventEntity) error {
	if err := p.Events.Persist(ctx, entity.Entity); err != nil {
		return fmt.Errorf("stream: persist event: %w", err)
	}

	_ = time.Now()
	effectErr := p.Effect.Execute(ctx, entity.Entity)
	_ = p.Events.SetState(ctx, entity.Entity.ID.String(), event.StateExecuted)

	if effectErr != nil {
		return p.escalateToDLQ(ctx, entity, effectErr, 1)
	}

	outcome := event.OutcomeSucceeded{Retries: 0}
	_ = p.Events.SetState(ctx, entity.Entity.ID.String(), event.StateSucceeded)
	return p.Events.SetOutcome(ctx, entity.Entity.ID.String(), outcome)
}

func (p *Processor) processDLQ(ctx context.Context, entity event.EventEntity) error {
	retries := outcomeRetries(entity.Outcome)

	if retries > p.MaxRetries {
		msg := outcomeError(entity.Outcome) + ".\n Exhausted retries, cannot process event"
		outcome := event.OutcomeErrored{Error: msg, Retries: retries}
		_ = p.Events.SetState(ctx, entity.Entity.ID.String(), event.StateErrored)
		return p.Events.SetOutcome(ctx, entity.Entity.ID.String(), outcome)
	}

	effectErr := p.Effect.Execute(ctx, entity.Entity)
	if effectErr != nil {
		return p.escalateToDLQ(ctx, entity, effectErr, retries+1)
	}

	outcome := event.OutcomeSucceeded{Retries: retries}
	_ = p.Events.SetState(ctx, entity.Entity.ID.String(), event.StateSucceeded)
	return p.Events.SetOutcome(ctx, entity.Entity.ID.String(), outcome)
}

// escalateToDLQ deletes the dedup record, records the errored outcome, and
// republishes the event (with the updated outcome attached) to the DLQ
// topic (§4.6 step 3 "On error" / step 4 "On failure").
func (p *Processor) escalateToDLQ(ctx context.Context, entity event.EventEntity, cause error, retries int) error {
	if err := p.Dedup.Delete(ctx, entity.EntityID); err != nil {
		return fmt.Errorf("stream: delete dedup on escalation: %w", err)
	}

	outcome := event.OutcomeErrored{Error: cause.Error(), Retries: retries}
	_ = p.Events.SetState(ctx, entity.Entity.ID.String(), event.StateErrored)
	if err := p.Events.SetOutcome(ctx, entity.Entity.ID.String(), outcome); err != nil {
		return fmt.Errorf("stream: persist errored outcome: %w", err)
	}

	entity.Outcome = outcome
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("stream: encode dlq republish: %w", err)
	}

	if err := p.Producer.Publish(ctx, TopicDLQ, entity.EntityID, payload); err != nil {
		return fmt.Errorf("stream: publish to dlq: %w", err)
	}
	return nil
}

func outcomeRetries(o event.Outcome) int {
	switch v := o.(type) {
	case event.OutcomeErrored:
		return v.Retries
	case event.OutcomeSucceeded:
		return v.Retries
	default:
		return 1
	}
}

func outcomeError(o event.Outcome) string {
	if v, ok := o.(event.OutcomeErrored); ok {
		return v.Error
	}
	return ""
}
