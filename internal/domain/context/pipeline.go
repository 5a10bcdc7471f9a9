package context

import (
	"encoding/json"
	"time"

	"github.com/integration-core/core/internal/domain/transaction"
)

// PipelineStage is the closed sum of states a PipelineContext may occupy
// (§3, §4.5.2).
type PipelineStage interface {
	isPipelineStage()
	Kind() string
}

type PipelineStageNew struct{}

func (PipelineStageNew) isPipelineStage() {}
func (PipelineStageNew) Kind() string     { return "new" }

// PipelineStageExecutingExtractors holds one ExtractorContext per extractor
// key while fan-out is in flight.
type PipelineStageExecutingExtractors struct {
	Extractors map[string]ExtractorContext `json:"extractors"`
}

func (PipelineStageExecutingExtractors) isPipelineStage() {}
func (PipelineStageExecutingExtractors) Kind() string     { return "executingExtractors" }

// PipelineStageExecutedExtractors holds each extractor's terminal output,
// keyed by extractor key.
type PipelineStageExecutedExtractors struct {
	Outputs map[string]json.RawMessage `json:"outputs"`
}

func (PipelineStageExecutedExtractors) isPipelineStage() {}
func (PipelineStageExecutedExtractors) Kind() string     { return "executedExtractors" }

// PipelineStageExecutedTransformer holds the transformer's result, or nil
// when there was no transformer middleware (pass-through, §4.5.2).
type PipelineStageExecutedTransformer struct {
	Value *json.RawMessage `json:"value,omitempty"`
}

func (PipelineStageExecutedTransformer) isPipelineStage() {}
func (PipelineStageExecutedTransformer) Kind() string     { return "executedTransformer" }

type PipelineStageFinishedPipeline struct{}

func (PipelineStageFinishedPipeline) isPipelineStage() {}
func (PipelineStageFinishedPipeline) Kind() string     { return "finishedPipeline" }

// PipelineContext is the per-pipeline child state machine of a RootContext.
type PipelineContext struct {
	EventKey    string                   `json:"eventKey" db:"event_key"`
	PipelineKey string                   `json:"pipelineKey" db:"pipeline_key"`
	Stage       PipelineStage            `json:"stage" db:"-"`
	Status      Status                   `json:"status" db:"-"`
	Transaction *transaction.Transaction `json:"transaction,omitempty" db:"-"`
	Timestamp   time.Time                `json:"timestamp" db:"timestamp"`
}

// IsComplete mirrors RootContext.IsComplete for the pipeline stage sum.
func (pc PipelineContext) IsComplete() bool {
	if _, dropped := pc.Status.(Dropped); dropped {
		return true
	}
	_, finished := pc.Stage.(PipelineStageFinishedPipeline)
	return finished
}

type pipelineStageWire struct {
	Kind       string                      `json:"kind"`
	Extractors map[string]ExtractorContext `json:"extractors,omitempty"`
	Outputs    map[string]json.RawMessage  `json:"outputs,omitempty"`
	Value      *json.RawMessage            `json:"value,omitempty"`
}

func (pc PipelineContext) MarshalJSON() ([]byte, error) {
	var stage pipelineStageWire
	switch s := pc.Stage.(type) {
	case PipelineStageNew:
		stage.Kind = "new"
	case PipelineStageExecutingExtractors:
		stage.Kind = "executingExtractors"
		stage.Extractors = s.Extractors
	case PipelineStageExecutedExtractors:
		stage.Kind = "executedExtractors"
		stage.Outputs = s.Outputs
	case PipelineStageExecutedTransformer:
		stage.Kind = "executedTransformer"
		stage.Value = s.Value
	case PipelineStageFinishedPipeline:
		stage.Kind = "finishedPipeline"
	}
	return json.Marshal(struct {
		EventKey    string            `json:"eventKey"`
		PipelineKey string            `json:"pipelineKey"`
		Stage       pipelineStageWire `json:"stage"`
		Status      statusWire        `json:"status"`
		Timestamp   time.Time         `json:"timestamp"`
	}{pc.EventKey, pc.PipelineKey, stage, marshalStatus(pc.Status), pc.Timestamp})
}

func (pc *PipelineContext) UnmarshalJSON(data []byte) error {
	var aux struct {
		EventKey    string            `json:"eventKey"`
		PipelineKey string            `json:"pipelineKey"`
		Stage       pipelineStageWire `json:"stage"`
		Status      statusWire        `json:"status"`
		Timestamp   time.Time         `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	pc.EventKey = aux.EventKey
	pc.PipelineKey = aux.PipelineKey
	pc.Timestamp = aux.Timestamp
	pc.Status = unmarshalStatus(aux.Status)

	switch aux.Stage.Kind {
	case "new":
		pc.Stage = PipelineStageNew{}
	case "executingExtractors":
		pc.Stage = PipelineStageExecutingExtractors{Extractors: aux.Stage.Extractors}
	case "executedExtractors":
		pc.Stage = PipelineStageExecutedExtractors{Outputs: aux.Stage.Outputs}
	case "executedTransformer":
		pc.Stage = PipelineStageExecutedTransformer{Value: aux.Stage.Value}
	case "finishedPipeline":
		pc.Stage = PipelineStageFinishedPipeline{}
	}
	return nil
}
