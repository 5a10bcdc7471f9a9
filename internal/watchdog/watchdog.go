// Package watchdog implements the long-running stuck-event detector and
// requeuer (§4.7): it never mutates contexts, only notices when one has
// gone quiet and pushes it back onto the work queue for the pipeline
// engine to pick up again.
package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/metrics"
	"github.com/integration-core/core/internal/pipeline"
	"github.com/integration-core/core/internal/queue"
)

// StuckEventFinder groups contexts by event_key and returns the keys whose
// latest stage is not Finished, whose status is Succeeded, and which have
// had no activity within the timeout window (§4.7 step 1-2). This is
// store-specific aggregation (SQL GROUP BY / DISTINCT ON), so it is a
// collaborator rather than something the watchdog computes itself.
type StuckEventFinder interface {
	FindStuck(ctx context.Context, timeout time.Duration) ([]string, error)
}

// EventLookup fetches the underlying Event a context belongs to.
type EventLookup interface {
	Get(ctx context.Context, eventKey string) (event.Event, bool, error)
}

// Config tunes poll cadence and the staleness window.
type Config struct {
	PollInterval time.Duration // §4.7 "poll_duration"
	EventTimeout time.Duration // §4.7 "event_timeout"
	QueueName    string
}

// Watchdog drives the periodic scan-and-requeue loop (§4.7). The two cache
// grooming loops run separately, in Groomer.
type Watchdog struct {
	Finder   StuckEventFinder
	Contexts pipeline.ContextStore
	Events   EventLookup
	Queue    queue.WorkQueue
	Config   Config
	Log      zerolog.Logger

	cron *cron.Cron
}

// Run starts the cron-scheduled poll loop and blocks until ctx is
// cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	w.cron = cron.New()
	spec := fmt.Sprintf("@every %s", w.pollOrDefault())
	if _, err := w.cron.AddFunc(spec, func() { w.pollOnce(ctx) }); err != nil {
		return fmt.Errorf("watchdog: schedule poll: %w", err)
	}
	w.cron.Start()
	defer w.cron.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (w *Watchdog) pollOrDefault() time.Duration {
	if w.Config.PollInterval <= 0 {
		return 30 * time.Second
	}
	return w.Config.PollInterval
}

func (w *Watchdog) timeoutOrDefault() time.Duration {
	if w.Config.EventTimeout <= 0 {
		return 5 * time.Minute
	}
	return w.Config.EventTimeout
}

// pollOnce performs one scan-select-stitch-requeue pass (§4.7 steps 1-4).
func (w *Watchdog) pollOnce(ctx context.Context) {
	start := time.Now()
	eventKeys, err := w.Finder.FindStuck(ctx, w.timeoutOrDefault())
	if err != nil {
		w.Log.Error().Err(err).Msg("watchdog: failed to find stuck event keys")
		return
	}

	requeued := 0
	for _, eventKey := range eventKeys {
		if w.requeueOne(ctx, eventKey) {
			requeued++
		}
	}
	if requeued > 0 {
		w.Log.Info().Int("count", requeued).Msg("watchdog requeued stuck events")
	}
	metrics.RecordWatchdogPoll(time.Since(start), len(eventKeys), requeued, len(eventKeys)-requeued)
}

func (w *Watchdog) requeueOne(ctx context.Context, eventKey string) bool {
	root, ok, err := w.Contexts.LatestRoot(ctx, eventKey)
	if err != nil || !ok {
		if err != nil {
			w.Log.Error().Err(err).Str("eventKey", eventKey).Msg("watchdog: failed to fetch root context")
		}
		return false
	}

	stitched, ok := w.stitch(ctx, eventKey, root)
	if !ok {
		return false
	}

	ev, ok, err := w.Events.Get(ctx, eventKey)
	if err != nil || !ok {
		if err != nil {
			w.Log.Error().Err(err).Str("eventKey", eventKey).Msg("watchdog: failed to fetch event")
		}
		return false
	}

	payload, err := json.Marshal(coreContext.EventWithContext{Event: ev, Context: stitched})
	if err != nil {
		w.Log.Error().Err(err).Str("eventKey", eventKey).Msg("watchdog: failed to marshal payload")
		return false
	}

	already, err := w.Queue.Has(ctx, payload)
	if err != nil {
		w.Log.Error().Err(err).Str("eventKey", eventKey).Msg("watchdog: failed to check queue")
		return false
	}
	if already {
		w.Log.Warn().Str("eventKey", eventKey).Msg("watchdog: unresponsive context already queued")
		return false
	}

	if err := w.Queue.Push(ctx, payload); err != nil {
		w.Log.Error().Err(err).Str("eventKey", eventKey).Msg("watchdog: failed to push payload")
		return false
	}
	return true
}

// stitch rebuilds the root context's nested pipeline/extractor maps from
// their latest-by-timestamp rows (§4.7 step 3).
func (w *Watchdog) stitch(ctx context.Context, eventKey string, root coreContext.RootContext) (coreContext.RootContext, bool) {
	processing, ok := root.Stage.(coreContext.RootStageProcessingPipelines)
	if !ok {
		return root, true
	}

	pipelines := make(map[string]coreContext.PipelineContext, len(processing.Pipelines))
	for pipelineKey := range processing.Pipelines {
		pc, ok, err := w.Contexts.LatestPipeline(ctx, eventKey, pipelineKey)
		if err != nil || !ok {
			if err != nil {
				w.Log.Error().Err(err).Str("eventKey", eventKey).Str("pipelineKey", pipelineKey).Msg("watchdog: failed to fetch pipeline context")
			}
			return root, false
		}

		if executing, ok := pc.Stage.(coreContext.PipelineStageExecutingExtractors); ok {
			extractors := make(map[string]coreContext.ExtractorContext, len(executing.Extractors))
			for extractorKey := range executing.Extractors {
				ec, ok, err := w.Contexts.LatestExtractor(ctx, eventKey, pipelineKey, extractorKey)
				if err != nil || !ok {
					if err != nil {
						w.Log.Error().Err(err).Str("eventKey", eventKey).Str("pipelineKey", pipelineKey).Str("extractorKey", extractorKey).Msg("watchdog: failed to fetch extractor context")
					}
					return root, false
				}
				extractors[extractorKey] = ec
			}
			pc.Stage = coreContext.PipelineStageExecutingExtractors{Extractors: extractors}
		}

		pipelines[pipelineKey] = pc
	}

	root.Stage = coreContext.RootStageProcessingPipelines{Pipelines: pipelines}
	return root, true
}
