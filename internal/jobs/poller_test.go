// ABOUTME: Tests for the background job poller
// ABOUTME: Verifies sweeps drive active jobs to completion and Run honors cancellation

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tubeagent/internal/store"
)

func TestPoller_Sweep(t *testing.T) {
	tr, _, _ := newTestTracker(2, Limits{MaxPolls: 10})
	ctx := context.Background()

	a := createJob(t, tr)
	b := createJob(t, tr)

	p := NewPoller(tr, time.Hour, 2, time.Second, testLogger())

	require.NoError(t, p.Sweep(ctx))
	got, err := tr.GetStatus(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobRunning, got.State)

	require.NoError(t, p.Sweep(ctx))
	for _, id := range []string{a.ID, b.ID} {
		got, err := tr.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.JobCompleted, got.State)
	}

	active, err := tr.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// nothing left to do
	require.NoError(t, p.Sweep(ctx))
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	tr, _, _ := newTestTracker(1, Limits{MaxPolls: 10})
	job := createJob(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewPoller(tr, 10*time.Millisecond, 1, time.Second, testLogger()).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := tr.GetStatus(context.Background(), job.ID)
		return err == nil && got.State == store.JobCompleted
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
