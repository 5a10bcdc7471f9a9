package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreContext "github.com/integration-core/core/internal/domain/context"
)

func TestContextStore_LatestRootReturnsMostRecentWrite(t *testing.T) {
	s := NewContextStore()
	ctx := context.Background()

	older := coreContext.RootContext{EventKey: "e1", Stage: coreContext.RootStageNew{}, Status: coreContext.Succeeded{}, Timestamp: time.Now().Add(-time.Minute)}
	newer := coreContext.RootContext{EventKey: "e1", Stage: coreContext.RootStageVerified{}, Status: coreContext.Succeeded{}, Timestamp: time.Now()}

	require.NoError(t, s.SaveRoot(ctx, older))
	require.NoError(t, s.SaveRoot(ctx, newer))

	got, ok, err := s.LatestRoot(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.IsType(t, coreContext.RootStageVerified{}, got.Stage)
}

func TestContextStore_FindStuckSelectsNonFinishedSucceededWithNoRecentActivity(t *testing.T) {
	s := NewContextStore()
	ctx := context.Background()

	stale := coreContext.RootContext{
		EventKey:  "stale",
		Stage:     coreContext.RootStageProcessedDuplicates{},
		Status:    coreContext.Succeeded{},
		Timestamp: time.Now().Add(-time.Hour),
	}
	fresh := coreContext.RootContext{
		EventKey:  "fresh",
		Stage:     coreContext.RootStageProcessedDuplicates{},
		Status:    coreContext.Succeeded{},
		Timestamp: time.Now(),
	}
	dropped := coreContext.RootContext{
		EventKey:  "dropped",
		Stage:     coreContext.RootStageProcessedDuplicates{},
		Status:    coreContext.Dropped{Reason: "Did not verify"},
		Timestamp: time.Now().Add(-time.Hour),
	}

	require.NoError(t, s.SaveRoot(ctx, stale))
	require.NoError(t, s.SaveRoot(ctx, fresh))
	require.NoError(t, s.SaveRoot(ctx, dropped))

	stuck, err := s.FindStuck(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, stuck)
}

func TestDedupStore_CreateTwiceReportsDuplicate(t *testing.T) {
	s := NewDedupStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "evt-1", nil))
	err := s.Create(ctx, "evt-1", nil)
	require.Error(t, err)
}
