package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LoopConfig tunes the batch/linger commit cadence (§4.6 "Consumer loop"
// step 3: "After consumer_batch_size messages or after
// consumer_linger_time elapses since last commit").
type LoopConfig struct {
	Topic        string
	BatchSize    int
	LingerTime   time.Duration
	PollInterval time.Duration
}

// ConsumerLoop drains a Consumer and feeds each record to a Processor,
// acking in batches on a size-or-linger trigger (§4.6 "Consumer loop").
type ConsumerLoop struct {
	Consumer  Consumer
	Processor *Processor
	Config    LoopConfig
	Log       zerolog.Logger
}

// Run drains the consumer until ctx is cancelled. On cancellation it
// finishes any in-flight record before returning — the loop never commits
// mid-message and never drops a partially processed record (§4.6 step 4,
// §5 "Cancellation & timeouts").
func (l *ConsumerLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.lingerOrDefault())
	defer ticker.Stop()

	pending := 0
	var lastRec Record
	haveLast := false

	commit := func() {
		if pending == 0 {
			return
		}
		if haveLast {
			if err := l.Consumer.Ack(ctx, lastRec); err != nil {
				l.Log.Error().Err(err).Str("topic", l.Config.Topic).Msg("stream consumer ack failed")
			}
		}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			commit()
			return ctx.Err()
		case <-ticker.C:
			commit()
		default:
		}

		rec, err := l.Consumer.Next(ctx)
		if err != nil {
			if err == ErrNoRecord {
				select {
				case <-ctx.Done():
					commit()
					return ctx.Err()
				case <-ticker.C:
					commit()
				case <-time.After(l.pollOrDefault()):
				}
				continue
			}
			l.Log.Error().Err(err).Str("topic", l.Config.Topic).Msg("stream consumer read failed")
			continue
		}

		if err := l.Processor.Process(ctx, l.Config.Topic, rec); err != nil {
			l.Log.Error().Err(err).Str("topic", l.Config.Topic).Str("key", rec.Key).Msg("stream record processing failed")
		}

		lastRec = rec
		haveLast = true
		pending++

		if pending >= l.batchOrDefault() {
			commit()
		}
	}
}

func (l *ConsumerLoop) batchOrDefault() int {
	if l.Config.BatchSize <= 0 {
		return 100
	}
	return l.Config.BatchSize
}

func (l *ConsumerLoop) lingerOrDefault() time.Duration {
	if l.Config.LingerTime <= 0 {
		return 1 * time.Second
	}
	return l.Config.LingerTime
}

func (l *ConsumerLoop) pollOrDefault() time.Duration {
	if l.Config.PollInterval <= 0 {
		return 50 * time.Millisecond
	}
	return l.Config.PollInterval
}
