package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
)

type fakeFinder struct {
	keys []string
	err  error
}

func (f *fakeFinder) FindStuck(_ context.Context, _ time.Duration) ([]string, error) {
	return f.keys, f.err
}

type fakeContextStore struct {
	roots map[string]coreContext.RootContext
	pipes map[string]coreContext.PipelineContext
	extrs map[string]coreContext.ExtractorContext
}

func (s *fakeContextStore) LatestRoot(_ context.Context, eventKey string) (coreContext.RootContext, bool, error) {
	rc, ok := s.roots[eventKey]
	return rc, ok, nil
}
func (s *fakeContextStore) SaveRoot(_ context.Context, _ coreContext.RootContext) error { return nil }
func (s *fakeContextStore) LatestPipeline(_ context.Context, eventKey, pipelineKey string) (coreContext.PipelineContext, bool, error) {
	pc, ok := s.pipes[eventKey+"::"+pipelineKey]
	return pc, ok, nil
}
func (s *fakeContextStore) SavePipeline(_ context.Context, _ coreContext.PipelineContext) error {
	return nil
}
func (s *fakeContextStore) LatestExtractor(_ context.Context, eventKey, pipelineKey, extractorKey string) (coreContext.ExtractorContext, bool, error) {
	ec, ok := s.extrs[eventKey+"::"+pipelineKey+"::"+extractorKey]
	return ec, ok, nil
}
func (s *fakeContextStore) SaveExtractor(_ context.Context, _ coreContext.ExtractorContext) error {
	return nil
}

type fakeEventLookup struct {
	events map[string]event.Event
}

func (l *fakeEventLookup) Get(_ context.Context, eventKey string) (event.Event, bool, error) {
	ev, ok := l.events[eventKey]
	return ev, ok, nil
}

type fakeWorkQueue struct {
	mu      sync.Mutex
	pushed  [][]byte
	existed bool
}

func (q *fakeWorkQueue) Push(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed = append(q.pushed, payload)
	return nil
}
func (q *fakeWorkQueue) BlockingPop(_ context.Context) ([]byte, error) { return nil, nil }
func (q *fakeWorkQueue) Has(_ context.Context, _ []byte) (bool, error) { return q.existed, nil }

func TestWatchdog_RequeuesStitchedEventOnce(t *testing.T) {
	ev, err := event.New("ak", "n", nil, nil, "t")
	require.NoError(t, err)
	eventKey := ev.ID.String()

	extractors := map[string]coreContext.ExtractorContext{
		"e1": {EventKey: eventKey, PipelineKey: "p1", ExtractorKey: "e1", Stage: coreContext.ExtractorStageNew{}},
	}
	pipelineCtx := coreContext.PipelineContext{
		EventKey:    eventKey,
		PipelineKey: "p1",
		Stage:       coreContext.PipelineStageExecutingExtractors{Extractors: extractors},
	}
	rootCtx := coreContext.RootContext{
		EventKey: eventKey,
		Stage: coreContext.RootStageProcessingPipelines{Pipelines: map[string]coreContext.PipelineContext{
			"p1": pipelineCtx,
		}},
		Status: coreContext.Succeeded{},
	}

	contexts := &fakeContextStore{
		roots: map[string]coreContext.RootContext{eventKey: rootCtx},
		pipes: map[string]coreContext.PipelineContext{eventKey + "::p1": pipelineCtx},
		extrs: map[string]coreContext.ExtractorContext{eventKey + "::p1::e1": extractors["e1"]},
	}
	events := &fakeEventLookup{events: map[string]event.Event{eventKey: ev}}
	wq := &fakeWorkQueue{}

	w := &Watchdog{
		Finder:   &fakeFinder{keys: []string{eventKey}},
		Contexts: contexts,
		Events:   events,
		Queue:    wq,
		Log:      zerolog.Nop(),
	}

	w.pollOnce(context.Background())

	require.Len(t, wq.pushed, 1)
}

func TestWatchdog_SkipsRequeueWhenPayloadAlreadyQueued(t *testing.T) {
	ev, err := event.New("ak", "n", nil, nil, "t")
	require.NoError(t, err)
	eventKey := ev.ID.String()

	rootCtx := coreContext.RootContext{
		EventKey: eventKey,
		Stage:    coreContext.RootStageProcessedDuplicates{},
		Status:   coreContext.Succeeded{},
	}

	contexts := &fakeContextStore{roots: map[string]coreContext.RootContext{eventKey: rootCtx}}
	events := &fakeEventLookup{events: map[string]event.Event{eventKey: ev}}
	wq := &fakeWorkQueue{existed: true}

	w := &Watchdog{
		Finder:   &fakeFinder{keys: []string{eventKey}},
		Contexts: contexts,
		Events:   events,
		Queue:    wq,
		Log:      zerolog.Nop(),
	}

	w.pollOnce(context.Background())

	assert.Empty(t, wq.pushed)
}

func TestWatchdog_MissingRootContextSkipsWithoutPanicking(t *testing.T) {
	contexts := &fakeContextStore{roots: map[string]coreContext.RootContext{}}
	events := &fakeEventLookup{events: map[string]event.Event{}}
	wq := &fakeWorkQueue{}

	w := &Watchdog{
		Finder:   &fakeFinder{keys: []string{"missing"}},
		Contexts: contexts,
		Events:   events,
		Queue:    wq,
		Log:      zerolog.Nop(),
	}

	w.pollOnce(context.Background())

	assert.Empty(t, wq.pushed)
}
