package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
)

type fakePoppedQueue struct {
	payloads [][]byte
	idx      int
}

func (q *fakePoppedQueue) Push(_ context.Context, payload []byte) error {
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *fakePoppedQueue) BlockingPop(ctx context.Context) ([]byte, error) {
	if q.idx < len(q.payloads) {
		p := q.payloads[q.idx]
		q.idx++
		return p, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakePoppedQueue) Has(_ context.Context, _ []byte) (bool, error) { return false, nil }

func TestConsumerLoop_ResumesFromPoppedContext(t *testing.T) {
	contexts := newMemContextStore()
	txs := &memTransactionStore{}

	ev, err := event.New("ak", "n", nil, nil, "t")
	require.NoError(t, err)

	seed := coreContext.RootContext{
		EventKey:  ev.ID.String(),
		Stage:     coreContext.RootStageProcessedDuplicates{},
		Status:    coreContext.Succeeded{},
		Timestamp: time.Now(),
	}
	ewc := coreContext.EventWithContext{Event: ev, Context: seed}
	payload, err := json.Marshal(ewc)
	require.NoError(t, err)

	q := &fakePoppedQueue{payloads: [][]byte{payload}}
	driver := &RootDriver{
		Contexts:     contexts,
		Transactions: txs,
		Access:       &fakeAccessVerifier{ok: true},
		Resolver:     &fakeResolver{defs: nil},
	}

	loop := &ConsumerLoop{Queue: q, Driver: driver, Log: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = loop.Run(ctx)

	saved, ok, err := contexts.LatestRoot(context.Background(), ev.ID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.IsType(t, coreContext.RootStageFinished{}, saved.Stage)
}
