// Package ratelimit gates outbound dispatcher calls against a connection's
// configured Throughput (§4.3's "connection-level throughput cap"),
// enforcing it in-process with a token bucket per Throughput.Key and
// separately bumping the shared Redis counter watchdog.Groomer clears
// (§4.7's event_throughput_key / api_throughput_key).
package ratelimit

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/integration-core/core/internal/domain/connection"
)

// Limiter enforces per-connection throughput caps and records call volume
// in a counter the watchdog periodically resets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	client     *redis.Client
	counterKey string
}

// New builds a Limiter. counterKey is incremented on every Allow call and
// is expected to match one of watchdog.ThroughputKeys' fields so the
// grooming loop keeps it from growing unbounded. client may be nil, in
// which case only the in-process token bucket is enforced.
func New(client *redis.Client, counterKey string) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*rate.Limiter),
		client:     client,
		counterKey: counterKey,
	}
}

// Allow reports whether a call against conn may proceed. A connection with
// no Throughput.Key configured, or a non-positive Limit, is never capped.
// Every call that reaches Allow, capped or not, still increments the
// shared counter.
func (l *Limiter) Allow(ctx context.Context, conn connection.Connection) bool {
	defer l.bump(ctx)

	if conn.Throughput.Key == "" || conn.Throughput.Limit <= 0 {
		return true
	}
	return l.bucketFor(conn.Throughput).Allow()
}

func (l *Limiter) bucketFor(t connection.Throughput) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[t.Key]
	if !ok || b.Limit() != rate.Limit(t.Limit) {
		b = rate.NewLimiter(rate.Limit(t.Limit), t.Limit)
		l.buckets[t.Key] = b
	}
	return b
}

func (l *Limiter) bump(ctx context.Context) {
	if l.client == nil || l.counterKey == "" {
		return
	}
	l.client.Incr(ctx, l.counterKey)
}
