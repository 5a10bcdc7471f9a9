package watchdog

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// ThroughputKeys names the two shared counters the grooming goroutines
// periodically reset (§4.7 last bullet).
type ThroughputKeys struct {
	EventThroughputKey string
	APIThroughputKey   string
}

// Groomer clears the throughput counters on independent 1s/60s cadences
// so they never accumulate unbounded counts (§4.7: "Separate grooming
// threads periodically clear cache keys event_throughput_key (every 1 s)
// and api_throughput_key (every 60 s)").
type Groomer struct {
	Client *redis.Client
	Keys   ThroughputKeys
	Log    zerolog.Logger
}

// Run starts both grooming loops and blocks until ctx is cancelled.
func (g *Groomer) Run(ctx context.Context) {
	go g.loop(ctx, g.Keys.EventThroughputKey, 1*time.Second)
	go g.loop(ctx, g.Keys.APIThroughputKey, 60*time.Second)
	<-ctx.Done()
}

func (g *Groomer) loop(ctx context.Context, key string, interval time.Duration) {
	if key == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Client.Del(ctx, key).Err(); err != nil {
				g.Log.Error().Err(err).Str("key", key).Msg("watchdog: failed to groom throughput key")
			}
		}
	}
}
