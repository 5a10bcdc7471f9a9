package pipeline

import (
	"context"
	"fmt"
	"time"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/id"
	"github.com/integration-core/core/internal/domain/transaction"
)

const heartbeatInterval = 1 * time.Second

// ExtractorDriver runs one extractor's retry-loop attempt sequence to a
// terminal state (§4.5.3): New -> FinishedExtractor(value) or
// Dropped{"Failed extractor"}.
type ExtractorDriver struct {
	Contexts     ContextStore
	Transactions TransactionStore
}

// Run drives the extractor identified by (eventKey, pipelineKey, def.Key)
// to completion, heartbeating every second while an attempt is in flight.
func (d *ExtractorDriver) Run(ctx context.Context, eventID id.Id, eventKey, pipelineKey string, def ExtractorDefinition) coreContext.ExtractorContext {
	retry := defaultRetry(def.Retry)
	now := time.Now()

	ec := coreContext.ExtractorContext{
		EventKey:     eventKey,
		PipelineKey:  pipelineKey,
		ExtractorKey: def.Key,
		Stage:        coreContext.ExtractorStageNew{},
		Status:       coreContext.Succeeded{},
		Timestamp:    now,
	}

	for attempt := 1; attempt <= retry.MaximumAttempts; attempt++ {
		key := fmt.Sprintf("%s::extractor:http", pipelineKey)
		if attempt > 1 {
			key = fmt.Sprintf("%s::attempt-%d", key, attempt-1)
		}

		resultCh := make(chan struct {
			value []byte
			err   error
		}, 1)
		done := make(chan struct{})

		go func() {
			out, err := def.Runner.Run(ctx, def.Key, def.Context)
			resultCh <- struct {
				value []byte
				err   error
			}{out, err}
			close(done)
		}()

		heartbeat := time.NewTicker(heartbeatInterval)
	waitLoop:
		for {
			select {
			case r := <-resultCh:
				heartbeat.Stop()
				if r.err == nil {
					tx := transaction.Completed(eventID, key, nil, r.value)
					_ = d.Transactions.Append(ctx, tx)
					ec.Stage = coreContext.ExtractorStageFinishedExtractor{Value: r.value}
					ec.Timestamp = time.Now()
					return ec
				}

				if attempt == retry.MaximumAttempts {
					tx := transaction.Panicked(eventID, key, nil, r.err)
					_ = d.Transactions.Append(ctx, tx)
					ec.Status = coreContext.Dropped{Reason: "Failed extractor"}
					ec.Timestamp = time.Now()
					return ec
				}

				tx := transaction.Failed(eventID, key, nil, r.err)
				_ = d.Transactions.Append(ctx, tx)
				break waitLoop
			case <-heartbeat.C:
				ec.Timestamp = time.Now()
				_ = d.Contexts.SaveExtractor(ctx, ec)
			case <-ctx.Done():
				heartbeat.Stop()
				ec.Status = coreContext.Dropped{Reason: "Failed extractor"}
				ec.Timestamp = time.Now()
				return ec
			}
		}

		select {
		case <-time.After(retry.Interval):
		case <-ctx.Done():
			ec.Status = coreContext.Dropped{Reason: "Failed extractor"}
			ec.Timestamp = time.Now()
			return ec
		}
	}

	ec.Status = coreContext.Dropped{Reason: "Failed extractor"}
	ec.Timestamp = time.Now()
	return ec
}
