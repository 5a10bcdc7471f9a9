package context

import (
	"encoding/json"
	"time"

	"github.com/integration-core/core/internal/domain/transaction"
)

// ExtractorStage is the closed sum of states an ExtractorContext may
// occupy (§3, §4.5.3).
type ExtractorStage interface {
	isExtractorStage()
	Kind() string
}

type ExtractorStageNew struct{}

func (ExtractorStageNew) isExtractorStage() {}
func (ExtractorStageNew) Kind() string      { return "new" }

// ExtractorStageFinishedExtractor carries the extractor's produced value.
type ExtractorStageFinishedExtractor struct {
	Value json.RawMessage `json:"value"`
}

func (ExtractorStageFinishedExtractor) isExtractorStage() {}
func (ExtractorStageFinishedExtractor) Kind() string      { return "finishedExtractor" }

// ExtractorContext is the per-extractor leaf state machine of a
// PipelineContext.
type ExtractorContext struct {
	EventKey     string                   `json:"eventKey" db:"event_key"`
	PipelineKey  string                   `json:"pipelineKey" db:"pipeline_key"`
	ExtractorKey string                   `json:"extractorKey" db:"extractor_key"`
	Stage        ExtractorStage           `json:"stage" db:"-"`
	Status       Status                   `json:"status" db:"-"`
	Transaction  *transaction.Transaction `json:"transaction,omitempty" db:"-"`
	Timestamp    time.Time                `json:"timestamp" db:"timestamp"`
}

// IsComplete mirrors RootContext.IsComplete for the extractor stage sum.
func (ec ExtractorContext) IsComplete() bool {
	if _, dropped := ec.Status.(Dropped); dropped {
		return true
	}
	_, finished := ec.Stage.(ExtractorStageFinishedExtractor)
	return finished
}

type extractorStageWire struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (ec ExtractorContext) MarshalJSON() ([]byte, error) {
	var stage extractorStageWire
	switch s := ec.Stage.(type) {
	case ExtractorStageNew:
		stage.Kind = "new"
	case ExtractorStageFinishedExtractor:
		stage.Kind = "finishedExtractor"
		stage.Value = s.Value
	}
	return json.Marshal(struct {
		EventKey     string             `json:"eventKey"`
		PipelineKey  string             `json:"pipelineKey"`
		ExtractorKey string             `json:"extractorKey"`
		Stage        extractorStageWire `json:"stage"`
		Status       statusWire         `json:"status"`
		Timestamp    time.Time          `json:"timestamp"`
	}{ec.EventKey, ec.PipelineKey, ec.ExtractorKey, stage, marshalStatus(ec.Status), ec.Timestamp})
}

func (ec *ExtractorContext) UnmarshalJSON(data []byte) error {
	var aux struct {
		EventKey     string             `json:"eventKey"`
		PipelineKey  string             `json:"pipelineKey"`
		ExtractorKey string             `json:"extractorKey"`
		Stage        extractorStageWire `json:"stage"`
		Status       statusWire         `json:"status"`
		Timestamp    time.Time          `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ec.EventKey = aux.EventKey
	ec.PipelineKey = aux.PipelineKey
	ec.ExtractorKey = aux.ExtractorKey
	ec.Timestamp = aux.Timestamp
	ec.Status = unmarshalStatus(aux.Status)

	switch aux.Stage.Kind {
	case "new":
		ec.Stage = ExtractorStageNew{}
	case "finishedExtractor":
		ec.Stage = ExtractorStageFinishedExtractor{Value: aux.Stage.Value}
	}
	return nil
}
