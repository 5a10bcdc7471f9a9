package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/integration-core/core/internal/domain/event"
)

// RetryPolicy shapes a bounded attempt loop (§4.5.2 step 4, §4.5.3).
type RetryPolicy struct {
	MaximumAttempts int
	Interval        time.Duration
}

// ExtractorRunner executes one HTTP extractor attempt given a substituted
// context map, returning its {headers, data} result as raw JSON (§4.5.3).
type ExtractorRunner interface {
	Run(ctx context.Context, extractorKey string, contextMap map[string]interface{}) (json.RawMessage, error)
}

// DestinationCaller executes the final destination delivery for a pipeline
// (§4.5.2 step ExecutedTransformer -> FinishedPipeline).
type DestinationCaller interface {
	Call(ctx context.Context, ev event.Event, transformed json.RawMessage) (json.RawMessage, error)
}

// ExtractorDefinition names one HTTP extractor configured on a pipeline.
type ExtractorDefinition struct {
	Key        string
	Runner     ExtractorRunner
	Context    map[string]interface{}
	Retry      RetryPolicy
}

// PipelineDefinition is the resolved middleware configuration for one
// pipeline matched against an event (§4.5.1 "resolve pipelines matching").
type PipelineDefinition struct {
	Key             string
	Extractors      []ExtractorDefinition
	TransformSource string // JS source for transform(event, contextsMap); empty means pass-through.
	Destination     DestinationCaller
	Retry           RetryPolicy
}

// PipelineResolver resolves the pipelines that should run for ev
// (§4.5.1 "ProcessedDuplicates -> ProcessingPipelines").
type PipelineResolver interface {
	Resolve(ctx context.Context, ev event.Event) ([]PipelineDefinition, error)
}

// EventAccessVerifier checks that ev's access key still resolves to a live
// EventAccess record (§4.5.1 "New -> Verified").
type EventAccessVerifier interface {
	Verify(ctx context.Context, ev event.Event) (bool, error)
}

func defaultRetry(r RetryPolicy) RetryPolicy {
	if r.MaximumAttempts <= 0 {
		r.MaximumAttempts = 1
	}
	if r.Interval <= 0 {
		r.Interval = 100 * time.Millisecond
	}
	return r
}
