package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/queue"
)

// ConsumerLoop drains the gateway's work queue and drives each popped
// EventWithContext through a RootDriver (§2 "the pipeline engine consumes
// it, advances a root context..."; §6). A payload resuming a
// watchdog-requeued or crash-interrupted event carries its prior
// RootContext, which RunFrom seeds the driver with instead of starting the
// event over from RootStageNew.
type ConsumerLoop struct {
	Queue  queue.WorkQueue
	Driver *RootDriver
	Log    zerolog.Logger
}

// Run pops payloads until ctx is cancelled, running each to completion
// before popping the next. BlockingPop returns promptly on ctx
// cancellation; the driver runs under the same ctx, so cancellation also
// cuts short the event being driven.
func (l *ConsumerLoop) Run(ctx context.Context) error {
	for {
		payload, err := l.Queue.BlockingPop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.Log.Error().Err(err).Msg("pipeline consumer: failed to pop work queue")
			continue
		}

		var ewc coreContext.EventWithContext
		if err := json.Unmarshal(payload, &ewc); err != nil {
			l.Log.Error().Err(err).Msg("pipeline consumer: failed to decode popped payload")
			continue
		}

		l.Driver.RunFrom(ctx, ewc.Event, ewc.Context)
	}
}
