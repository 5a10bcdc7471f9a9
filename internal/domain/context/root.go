package context

import (
	"encoding/json"
	"time"
)

// RootStage is the closed sum of states a RootContext may occupy (§3).
type RootStage interface {
	isRootStage()
	Kind() string
}

type RootStageNew struct{}

func (RootStageNew) isRootStage() {}
func (RootStageNew) Kind() string { return "new" }

type RootStageVerified struct{}

func (RootStageVerified) isRootStage() {}
func (RootStageVerified) Kind() string { return "verified" }

type RootStageProcessedDuplicates struct{}

func (RootStageProcessedDuplicates) isRootStage() {}
func (RootStageProcessedDuplicates) Kind() string { return "processedDuplicates" }

// RootStageProcessingPipelines holds one PipelineContext per pipeline key
// while fan-out is in flight.
type RootStageProcessingPipelines struct {
	Pipelines map[string]PipelineContext `json:"pipelines"`
}

func (RootStageProcessingPipelines) isRootStage() {}
func (RootStageProcessingPipelines) Kind() string { return "processingPipelines" }

type RootStageFinished struct{}

func (RootStageFinished) isRootStage() {}
func (RootStageFinished) Kind() string { return "finished" }

// RootContext is the top-level per-event state machine (§3, §4.5.1).
type RootContext struct {
	EventKey  string    `json:"eventKey" db:"event_key"`
	Stage     RootStage `json:"stage" db:"-"`
	Status    Status    `json:"status" db:"-"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// IsComplete reports whether rc is in a terminal stage or has been dropped
// (§3 "A context is complete iff stage is a terminal variant or status is
// Dropped").
func (rc RootContext) IsComplete() bool {
	if _, dropped := rc.Status.(Dropped); dropped {
		return true
	}
	_, finished := rc.Stage.(RootStageFinished)
	return finished
}

type rootStageWire struct {
	Kind      string                      `json:"kind"`
	Pipelines map[string]PipelineContext `json:"pipelines,omitempty"`
}

func (rc RootContext) MarshalJSON() ([]byte, error) {
	var stage rootStageWire
	switch s := rc.Stage.(type) {
	case RootStageNew:
		stage.Kind = "new"
	case RootStageVerified:
		stage.Kind = "verified"
	case RootStageProcessedDuplicates:
		stage.Kind = "processedDuplicates"
	case RootStageProcessingPipelines:
		stage.Kind = "processingPipelines"
		stage.Pipelines = s.Pipelines
	case RootStageFinished:
		stage.Kind = "finished"
	}
	return json.Marshal(struct {
		EventKey  string        `json:"eventKey"`
		Stage     rootStageWire `json:"stage"`
		Status    statusWire    `json:"status"`
		Timestamp time.Time     `json:"timestamp"`
	}{rc.EventKey, stage, marshalStatus(rc.Status), rc.Timestamp})
}

func (rc *RootContext) UnmarshalJSON(data []byte) error {
	var aux struct {
		EventKey  string        `json:"eventKey"`
		Stage     rootStageWire `json:"stage"`
		Status    statusWire    `json:"status"`
		Timestamp time.Time     `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	rc.EventKey = aux.EventKey
	rc.Timestamp = aux.Timestamp
	rc.Status = unmarshalStatus(aux.Status)

	switch aux.Stage.Kind {
	case "new":
		rc.Stage = RootStageNew{}
	case "verified":
		rc.Stage = RootStageVerified{}
	case "processedDuplicates":
		rc.Stage = RootStageProcessedDuplicates{}
	case "processingPipelines":
		rc.Stage = RootStageProcessingPipelines{Pipelines: aux.Stage.Pipelines}
	case "finished":
		rc.Stage = RootStageFinished{}
	}
	return nil
}
