package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/models"
)

type countingCycler struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (c *countingCycler) Cycle(context.Context) (models.SnapshotSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, time.Now())
	return models.SnapshotSummary{ID: "x"}, c.err
}

func (c *countingCycler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestSchedulerWarmupThenInterval(t *testing.T) {
	c := &countingCycler{}
	s := NewScheduler(c, 20*time.Millisecond, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	c.mu.Lock()
	first := c.calls[0]
	c.mu.Unlock()
	assert.GreaterOrEqual(t, first.Sub(start), 50*time.Millisecond)
}

func TestSchedulerCancelDuringWarmup(t *testing.T) {
	c := &countingCycler{}
	s := NewScheduler(c, time.Second, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 0, c.count())
}

func TestSchedulerKeepsRunningAfterFailedCycle(t *testing.T) {
	c := &countingCycler{err: errors.New("write failed")}
	s := NewScheduler(c, 10*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)
	require.Eventually(t, func() bool { return c.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
