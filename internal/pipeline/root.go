package pipeline

import (
	"context"
	"time"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
)

const (
	rootHeartbeatInterval = 10 * time.Second
	rootRetryBackoff      = 500 * time.Millisecond
)

// RootDriver drives one event's RootContext from New to Finished or
// Dropped (§4.5.1): New -> Verified -> ProcessedDuplicates ->
// ProcessingPipelines -> Finished.
type RootDriver struct {
	Contexts     ContextStore
	Transactions TransactionStore
	Access       EventAccessVerifier
	Resolver     PipelineResolver
	Pipeline     *PipelineDriver
	Logger       interface {
		Error(args ...interface{})
	}
}

// Run drives ev's RootContext to completion, starting fresh at
// RootStageNew. It retries unbounded on unexpected errors
// (resolver/verifier failures) with a fixed backoff, since an event must
// never be silently abandoned while still live.
func (d *RootDriver) Run(ctx context.Context, ev event.Event) coreContext.RootContext {
	return d.RunFrom(ctx, ev, coreContext.RootContext{
		EventKey:  ev.ID.String(),
		Stage:     coreContext.RootStageNew{},
		Status:    coreContext.Succeeded{},
		Timestamp: time.Now(),
	})
}

// RunFrom drives ev's RootContext to completion starting from seed,
// rather than always constructing a fresh RootStageNew context. The
// pipeline engine's consumer loop uses this to resume a context the
// watchdog requeued mid-flight (§4.7 step 4), instead of restarting the
// event from scratch.
func (d *RootDriver) RunFrom(ctx context.Context, ev event.Event, seed coreContext.RootContext) coreContext.RootContext {
	eventKey := ev.ID.String()
	rc := seed
	rc.EventKey = eventKey

	for {
		next, advanced, err := d.step(ctx, ev, eventKey, rc)
		if err != nil {
			if d.Logger != nil {
				d.Logger.Error("root driver step failed", "eventKey", eventKey, "error", err)
			}
			select {
			case <-time.After(rootRetryBackoff):
				continue
			case <-ctx.Done():
				rc.Status = coreContext.Dropped{Reason: err.Error()}
				rc.Timestamp = time.Now()
				return rc
			}
		}

		rc = next
		if advanced {
			rc.Timestamp = time.Now()
			_ = d.Contexts.SaveRoot(ctx, rc)
		}

		if rc.IsComplete() {
			return rc
		}
	}
}

// step performs exactly one stage transition, returning the new context,
// whether a save-worthy transition occurred, and any transient error.
func (d *RootDriver) step(ctx context.Context, ev event.Event, eventKey string, rc coreContext.RootContext) (coreContext.RootContext, bool, error) {
	switch stage := rc.Stage.(type) {
	case coreContext.RootStageNew:
		ok, err := d.Access.Verify(ctx, ev)
		if err != nil {
			return rc, false, err
		}
		if !ok {
			rc.Status = coreContext.Dropped{Reason: "Did not verify"}
			return rc, true, nil
		}
		rc.Stage = coreContext.RootStageVerified{}
		return rc, true, nil

	case coreContext.RootStageVerified:
		// fetch_duplicates is intentionally a no-op (see DESIGN.md Open
		// Question decisions): no detection algorithm is specified.
		rc.Stage = coreContext.RootStageProcessedDuplicates{}
		return rc, true, nil

	case coreContext.RootStageProcessedDuplicates:
		defs, err := d.Resolver.Resolve(ctx, ev)
		if err != nil {
			return rc, false, err
		}
		if len(defs) == 0 {
			rc.Stage = coreContext.RootStageFinished{}
			return rc, true, nil
		}

		pipelines := make(map[string]PipelineDefinition, len(defs))
		for _, def := range defs {
			pipelines[def.Key] = def
		}

		running := make(map[string]coreContext.PipelineContext, len(pipelines))
		for k := range pipelines {
			running[k] = coreContext.PipelineContext{
				EventKey:    eventKey,
				PipelineKey: k,
				Stage:       coreContext.PipelineStageNew{},
				Status:      coreContext.Succeeded{},
				Timestamp:   time.Now(),
			}
		}
		rc.Stage = coreContext.RootStageProcessingPipelines{Pipelines: running}
		_ = d.Contexts.SaveRoot(ctx, rc)

		done := make(chan map[string]coreContext.PipelineContext, 1)
		heartbeat := time.NewTicker(rootHeartbeatInterval)
		defer heartbeat.Stop()

		go func() {
			done <- selectAll(pipelines, func(key string, def PipelineDefinition) coreContext.PipelineContext {
				return d.Pipeline.Run(ctx, ev, eventKey, def)
			})
		}()

		for {
			select {
			case results := <-done:
				rc.Stage = coreContext.RootStageProcessingPipelines{Pipelines: results}
				return rc, true, nil
			case <-heartbeat.C:
				rc.Timestamp = time.Now()
				_ = d.Contexts.SaveRoot(ctx, rc)
			case <-ctx.Done():
				return rc, false, ctx.Err()
			}
		}

	case coreContext.RootStageProcessingPipelines:
		for _, pc := range stage.Pipelines {
			if !pc.IsComplete() {
				return rc, false, nil
			}
		}
		rc.Stage = coreContext.RootStageFinished{}
		return rc, true, nil

	default:
		return rc, false, nil
	}
}
