package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/domain/id"
	"github.com/integration-core/core/internal/domain/transaction"
	"github.com/integration-core/core/internal/metrics"
	"github.com/integration-core/core/internal/scripthost"
)

// PipelineDriver drives one PipelineContext from New through its extractor
// fan-out, optional transform, and destination delivery (§4.5.2).
type PipelineDriver struct {
	Contexts     ContextStore
	Transactions TransactionStore
	Scripts      *scripthost.Host
	Extractor    *ExtractorDriver
}

const transformTimeout = 1000 * time.Millisecond

// Run drives def to a terminal PipelineContext for ev, heartbeating every
// second while extractor fan-out or a destination attempt is outstanding.
func (d *PipelineDriver) Run(ctx context.Context, ev event.Event, eventKey string, def PipelineDefinition) coreContext.PipelineContext {
	start := time.Now()
	pc := coreContext.PipelineContext{
		EventKey:    eventKey,
		PipelineKey: def.Key,
		Stage:       coreContext.PipelineStageNew{},
		Status:      coreContext.Succeeded{},
		Timestamp:   time.Now(),
	}

	pc = d.runExtractors(ctx, ev.ID, eventKey, def, pc)
	if pc.IsComplete() {
		recordPipelineRun(pc, start)
		return pc
	}

	pc = d.runTransform(ctx, ev, def, pc)
	if pc.IsComplete() {
		recordPipelineRun(pc, start)
		return pc
	}

	pc = d.runDestination(ctx, ev, def, pc)
	recordPipelineRun(pc, start)
	return pc
}

func recordPipelineRun(pc coreContext.PipelineContext, start time.Time) {
	status := "succeeded"
	if _, dropped := pc.Status.(coreContext.Dropped); dropped {
		status = "dropped"
	}
	metrics.RecordPipelineStage("pipeline", status, time.Since(start))
	metrics.RecordPipelineOutcome("pipeline", status)
}

func (d *PipelineDriver) runExtractors(ctx context.Context, eventID id.Id, eventKey string, def PipelineDefinition, pc coreContext.PipelineContext) coreContext.PipelineContext {
	if len(def.Extractors) == 0 {
		pc.Stage = coreContext.PipelineStageExecutedExtractors{Outputs: map[string]json.RawMessage{}}
		pc.Timestamp = time.Now()
		_ = d.Contexts.SavePipeline(ctx, pc)
		return pc
	}

	extractors := make(map[string]ExtractorDefinition, len(def.Extractors))
	for _, ed := range def.Extractors {
		extractors[ed.Key] = ed
	}

	executing := make(map[string]coreContext.ExtractorContext, len(extractors))
	for k := range extractors {
		executing[k] = coreContext.ExtractorContext{
			EventKey:     eventKey,
			PipelineKey:  def.Key,
			ExtractorKey: k,
			Stage:        coreContext.ExtractorStageNew{},
			Status:       coreContext.Succeeded{},
			Timestamp:    time.Now(),
		}
	}
	pc.Stage = coreContext.PipelineStageExecutingExtractors{Extractors: executing}
	pc.Timestamp = time.Now()
	_ = d.Contexts.SavePipeline(ctx, pc)

	results := selectAll(extractors, func(key string, ed ExtractorDefinition) coreContext.ExtractorContext {
		return d.Extractor.Run(ctx, eventID, eventKey, def.Key, ed)
	})

	outputs := make(map[string]json.RawMessage, len(results))
	for key, ec := range results {
		if dropped, ok := ec.Status.(coreContext.Dropped); ok {
			pc.Status = dropped
			pc.Timestamp = time.Now()
			_ = d.Contexts.SavePipeline(ctx, pc)
			return pc
		}
		if finished, ok := ec.Stage.(coreContext.ExtractorStageFinishedExtractor); ok {
			outputs[key] = finished.Value
		}
	}

	pc.Stage = coreContext.PipelineStageExecutedExtractors{Outputs: outputs}
	pc.Timestamp = time.Now()
	_ = d.Contexts.SavePipeline(ctx, pc)
	return pc
}

func (d *PipelineDriver) runTransform(ctx context.Context, ev event.Event, def PipelineDefinition, pc coreContext.PipelineContext) coreContext.PipelineContext {
	executed, ok := pc.Stage.(coreContext.PipelineStageExecutedExtractors)
	if !ok {
		return pc
	}

	if def.TransformSource == "" {
		stage := coreContext.PipelineStageExecutedTransformer{}
		if len(executed.Outputs) > 0 {
			if raw, err := json.Marshal(executed.Outputs); err == nil {
				value := json.RawMessage(raw)
				stage.Value = &value
			}
		}
		pc.Stage = stage
		pc.Timestamp = time.Now()
		_ = d.Contexts.SavePipeline(ctx, pc)
		return pc
	}

	namespace := fmt.Sprintf("pipeline:%s:transform", def.Key)
	if err := d.Scripts.Load(namespace, "transform", def.TransformSource); err != nil {
		key := fmt.Sprintf("%s::transform", def.Key)
		tx := transaction.Failed(ev.ID, key, nil, err)
		_ = d.Transactions.Append(ctx, tx)
		pc.Stage = coreContext.PipelineStageExecutedTransformer{}
		pc.Timestamp = time.Now()
		_ = d.Contexts.SavePipeline(ctx, pc)
		return pc
	}

	arg, err := json.Marshal(map[string]interface{}{
		"event":    ev,
		"contexts": executed.Outputs,
	})
	if err != nil {
		pc.Stage = coreContext.PipelineStageExecutedTransformer{}
		pc.Timestamp = time.Now()
		_ = d.Contexts.SavePipeline(ctx, pc)
		return pc
	}

	callCtx, cancel := context.WithTimeout(ctx, transformTimeout)
	defer cancel()

	out, err := d.Scripts.Call(callCtx, namespace, "transform", arg)
	key := fmt.Sprintf("%s::transform", def.Key)
	if err != nil {
		tx := transaction.Failed(ev.ID, key, arg, err)
		_ = d.Transactions.Append(ctx, tx)
		pc.Stage = coreContext.PipelineStageExecutedTransformer{}
		pc.Timestamp = time.Now()
		_ = d.Contexts.SavePipeline(ctx, pc)
		return pc
	}

	tx := transaction.Completed(ev.ID, key, arg, out)
	_ = d.Transactions.Append(ctx, tx)

	value := json.RawMessage(out)
	pc.Stage = coreContext.PipelineStageExecutedTransformer{Value: &value}
	pc.Timestamp = time.Now()
	_ = d.Contexts.SavePipeline(ctx, pc)
	return pc
}

func (d *PipelineDriver) runDestination(ctx context.Context, ev event.Event, def PipelineDefinition, pc coreContext.PipelineContext) coreContext.PipelineContext {
	transformed, ok := pc.Stage.(coreContext.PipelineStageExecutedTransformer)
	if !ok {
		return pc
	}

	var payload json.RawMessage
	if transformed.Value != nil {
		payload = *transformed.Value
	}

	retry := defaultRetry(def.Retry)
	baseKey := fmt.Sprintf("%s::destination", def.Key)

	for attempt := 1; attempt <= retry.MaximumAttempts; attempt++ {
		key := baseKey
		if attempt > 1 {
			key = fmt.Sprintf("%s::attempt-%d", baseKey, attempt-1)
		}

		resultCh := make(chan struct {
			out []byte
			err error
		}, 1)
		go func() {
			out, err := def.Destination.Call(ctx, ev, payload)
			resultCh <- struct {
				out []byte
				err error
			}{out, err}
		}()

		heartbeat := time.NewTicker(heartbeatInterval)
		heartbeatN := 0
	waitLoop:
		for {
			select {
			case r := <-resultCh:
				heartbeat.Stop()
				if r.err == nil {
					tx := transaction.Completed(ev.ID, key, payload, r.out)
					_ = d.Transactions.Append(ctx, tx)
					pc.Stage = coreContext.PipelineStageFinishedPipeline{}
					pc.Timestamp = time.Now()
					_ = d.Contexts.SavePipeline(ctx, pc)
					return pc
				}

				if attempt == retry.MaximumAttempts {
					tx := transaction.Panicked(ev.ID, key, payload, r.err)
					_ = d.Transactions.Append(ctx, tx)
					pc.Status = coreContext.Dropped{Reason: "Failed destination"}
					pc.Timestamp = time.Now()
					_ = d.Contexts.SavePipeline(ctx, pc)
					return pc
				}

				tx := transaction.Failed(ev.ID, key, payload, r.err)
				_ = d.Transactions.Append(ctx, tx)
				break waitLoop
			case <-heartbeat.C:
				heartbeatN++
				heartbeatKey := fmt.Sprintf("%s::heartbeat-%d", def.Key, heartbeatN)
				heartbeatTx := transaction.Completed(ev.ID, heartbeatKey, []byte(`["{{event}}","{{context}}"]`), []byte(`{}`))
				_ = d.Transactions.Append(ctx, heartbeatTx)
				pc.Timestamp = time.Now()
				_ = d.Contexts.SavePipeline(ctx, pc)
			case <-ctx.Done():
				heartbeat.Stop()
				pc.Status = coreContext.Dropped{Reason: "Failed destination"}
				pc.Timestamp = time.Now()
				_ = d.Contexts.SavePipeline(ctx, pc)
				return pc
			}
		}

		select {
		case <-time.After(retry.Interval):
		case <-ctx.Done():
			pc.Status = coreContext.Dropped{Reason: "Failed destination"}
			pc.Timestamp = time.Now()
			_ = d.Contexts.SavePipeline(ctx, pc)
			return pc
		}
	}

	pc.Status = coreContext.Dropped{Reason: "Failed destination"}
	pc.Timestamp = time.Now()
	_ = d.Contexts.SavePipeline(ctx, pc)
	return pc
}
