// Package memory provides in-process implementations of the store
// interfaces used by the pipeline engine, stream processor, and watchdog,
// for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/domain/transaction"
	"github.com/integration-core/core/internal/stream"
)

// ContextStore implements pipeline.ContextStore over in-memory maps,
// keeping every written row (not just the latest) so LatestX can apply
// the same "latest by timestamp" read rule the Postgres store uses.
type ContextStore struct {
	mu    sync.RWMutex
	roots map[string][]coreContext.RootContext
	pipes map[string][]coreContext.PipelineContext
	extrs map[string][]coreContext.ExtractorContext
}

func NewContextStore() *ContextStore {
	return &ContextStore{
		roots: map[string][]coreContext.RootContext{},
		pipes: map[string][]coreContext.PipelineContext{},
		extrs: map[string][]coreContext.ExtractorContext{},
	}
}

func (s *ContextStore) LatestRoot(_ context.Context, eventKey string) (coreContext.RootContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.roots[eventKey]
	if len(rows) == 0 {
		return coreContext.RootContext{}, false, nil
	}
	return latestByTimestamp(rows, func(rc coreContext.RootContext) time.Time { return rc.Timestamp }), true, nil
}

func (s *ContextStore) SaveRoot(_ context.Context, rc coreContext.RootContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[rc.EventKey] = append(s.roots[rc.EventKey], rc)
	return nil
}

func (s *ContextStore) LatestPipeline(_ context.Context, eventKey, pipelineKey string) (coreContext.PipelineContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.pipes[eventKey+"::"+pipelineKey]
	if len(rows) == 0 {
		return coreContext.PipelineContext{}, false, nil
	}
	return latestByTimestamp(rows, func(pc coreContext.PipelineContext) time.Time { return pc.Timestamp }), true, nil
}

func (s *ContextStore) SavePipeline(_ context.Context, pc coreContext.PipelineContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pc.EventKey + "::" + pc.PipelineKey
	s.pipes[key] = append(s.pipes[key], pc)
	return nil
}

func (s *ContextStore) LatestExtractor(_ context.Context, eventKey, pipelineKey, extractorKey string) (coreContext.ExtractorContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.extrs[eventKey+"::"+pipelineKey+"::"+extractorKey]
	if len(rows) == 0 {
		return coreContext.ExtractorContext{}, false, nil
	}
	return latestByTimestamp(rows, func(ec coreContext.ExtractorContext) time.Time { return ec.Timestamp }), true, nil
}

func (s *ContextStore) SaveExtractor(_ context.Context, ec coreContext.ExtractorContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ec.EventKey + "::" + ec.PipelineKey + "::" + ec.ExtractorKey
	s.extrs[key] = append(s.extrs[key], ec)
	return nil
}

func latestByTimestamp[T any](rows []T, ts func(T) time.Time) T {
	best := rows[0]
	for _, row := range rows[1:] {
		if ts(row).After(ts(best)) {
			best = row
		}
	}
	return best
}

// FindStuck implements watchdog.StuckEventFinder by replicating the
// group-by-event_key / latest-stage-status / recent-activity-count logic
// the Postgres store runs as a single aggregation query (§4.7 step 1-2).
func (s *ContextStore) FindStuck(_ context.Context, timeout time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	var stuck []string

	for eventKey, rows := range s.roots {
		sorted := append([]coreContext.RootContext(nil), rows...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

		latest := sorted[0]
		recent := 0
		for _, rc := range sorted {
			if rc.Timestamp.After(cutoff) {
				recent++
			}
		}

		_, finished := latest.Stage.(coreContext.RootStageFinished)
		_, succeeded := latest.Status.(coreContext.Succeeded)
		if !finished && succeeded && recent == 0 {
			stuck = append(stuck, eventKey)
		}
	}

	sort.Strings(stuck)
	return stuck, nil
}

// TransactionStore implements pipeline.TransactionStore as an append-only
// in-memory slice.
type TransactionStore struct {
	mu  sync.Mutex
	txs []transaction.Transaction
}

func NewTransactionStore() *TransactionStore { return &TransactionStore{} }

func (s *TransactionStore) Append(_ context.Context, tx transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *TransactionStore) All() []transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transaction.Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}

// DedupStore implements stream.DedupStore.
type DedupStore struct {
	mu      sync.Mutex
	present map[string]bool
}

func NewDedupStore() *DedupStore { return &DedupStore{present: map[string]bool{}} }

func (s *DedupStore) Exists(_ context.Context, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[entityID], nil
}

func (s *DedupStore) Create(_ context.Context, entityID string, _ map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present[entityID] {
		return stream.ErrDuplicateEntity
	}
	s.present[entityID] = true
	return nil
}

func (s *DedupStore) Delete(_ context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.present, entityID)
	return nil
}

// EventStore implements stream.EventStore and watchdog.EventLookup.
type EventStore struct {
	mu       sync.RWMutex
	events   map[string]event.Event
	states   map[string]event.State
	outcomes map[string]event.Outcome
}

func NewEventStore() *EventStore {
	return &EventStore{
		events:   map[string]event.Event{},
		states:   map[string]event.State{},
		outcomes: map[string]event.Outcome{},
	}
}

func (s *EventStore) Persist(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID.String()] = ev
	return nil
}

func (s *EventStore) Get(_ context.Context, eventKey string) (event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventKey]
	return ev, ok, nil
}

func (s *EventStore) SetState(_ context.Context, id string, state event.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
	return nil
}

func (s *EventStore) SetOutcome(_ context.Context, id string, outcome event.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[id] = outcome
	return nil
}
