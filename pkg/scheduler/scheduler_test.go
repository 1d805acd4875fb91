package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

func newStoreForTest(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newSchedulerForTest(t *testing.T, broker *events.Broker) *Scheduler {
	t.Helper()
	return New(newStoreForTest(t), broker, time.Second)
}

// waitIdle blocks until every fired job has finished and released its
// running flag.
func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.jobWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish in time")
	}
}

func TestMissedTicksCollapseToOneRun(t *testing.T) {
	ctx := context.Background()
	s := newSchedulerForTest(t, nil)

	var runs int32
	require.NoError(t, s.Register(ctx, "tick", "interval:2s", types.RetryPolicy{}, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	base := time.Now()

	// Two whole periods were missed; a single catch-up run fires.
	s.evaluate(ctx, base.Add(5*time.Second))
	waitIdle(t, s)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	// The cadence re-anchored to the fire time, not the missed schedule.
	s.evaluate(ctx, base.Add(6*time.Second))
	waitIdle(t, s)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	s.evaluate(ctx, base.Add(7*time.Second))
	waitIdle(t, s)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestJobNeverOverlapsItself(t *testing.T) {
	ctx := context.Background()
	s := newSchedulerForTest(t, nil)

	var started int32
	release := make(chan struct{})
	require.NoError(t, s.Register(ctx, "slow", "interval:1s", types.RetryPolicy{}, func(context.Context) error {
		atomic.AddInt32(&started, 1)
		<-release
		return nil
	}))
	base := time.Now()

	s.evaluate(ctx, base.Add(2*time.Second))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 1 },
		2*time.Second, 10*time.Millisecond)

	// Due again, but the previous run is still going.
	s.evaluate(ctx, base.Add(10*time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))

	close(release)
	waitIdle(t, s)

	s.evaluate(ctx, base.Add(20*time.Second))
	waitIdle(t, s)
	assert.Equal(t, int32(2), atomic.LoadInt32(&started))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	ctx := context.Background()
	s := newSchedulerForTest(t, nil)

	var attempts int32
	retry := types.RetryPolicy{MaxAttempts: 3}
	require.NoError(t, s.Register(ctx, "flaky", "interval:1h", retry, func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, s.RunNow("flaky"))
	waitIdle(t, s)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	// Every attempt left its own history row.
	execs, err := s.History(ctx, "flaky", 10)
	require.NoError(t, err)
	require.Len(t, execs, 3)

	byStatus := map[types.ExecutionStatus]int{}
	bySource := map[types.TriggerSource]int{}
	for _, e := range execs {
		byStatus[e.Status]++
		bySource[e.TriggeredBy]++
		require.NotNil(t, e.FinishedAt)
	}
	assert.Equal(t, 1, byStatus[types.ExecutionSuccess])
	assert.Equal(t, 2, byStatus[types.ExecutionFailure])
	assert.Equal(t, 1, bySource[types.TriggeredByManual])
	assert.Equal(t, 2, bySource[types.TriggeredByRetry])

	// A run that ends in success resets the failure streak.
	rec, err := s.Job(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionSuccess, rec.LastStatus)
	assert.Zero(t, rec.ConsecutiveFailures)
}

func TestExhaustedRetriesRaiseFailingNotice(t *testing.T) {
	ctx := context.Background()
	broker := events.NewBroker()
	t.Cleanup(broker.Close)
	s := newSchedulerForTest(t, broker)

	sub := broker.Subscribe(events.TopicSchedulerJob, 32)
	t.Cleanup(sub.Cancel)

	require.NoError(t, s.Register(ctx, "broken", "interval:1h", types.RetryPolicy{}, func(context.Context) error {
		return errors.New("boom")
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RunNow("broken"))
		waitIdle(t, s)
	}

	rec, err := s.Job(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.Equal(t, "boom", rec.LastErr)

	// Third consecutive failure crosses the first notice threshold.
	deadline := time.After(2 * time.Second)
	var failed, failing int
	for failing == 0 {
		select {
		case ev := <-sub.C:
			switch ev.Type {
			case events.EventJobFailed:
				failed++
			case events.EventJobFailing:
				failing++
				assert.Equal(t, "3", ev.Data["count"])
			}
		case <-deadline:
			t.Fatal("no failing notice on the bus")
		}
	}
	assert.Equal(t, 3, failed, "failing notice follows the third failure")
}

func TestRunNowRefusedWhileRunning(t *testing.T) {
	ctx := context.Background()
	s := newSchedulerForTest(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Register(ctx, "slow", "interval:1h", types.RetryPolicy{}, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	require.NoError(t, s.RunNow("slow"))
	<-started
	err := s.RunNow("slow")
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err))

	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(s.RunNow("ghost")))

	close(release)
	waitIdle(t, s)
	require.NoError(t, s.RunNow("slow"))
	waitIdle(t, s)
}

func TestSetEnabledSkipsFires(t *testing.T) {
	ctx := context.Background()
	s := newSchedulerForTest(t, nil)

	var runs int32
	require.NoError(t, s.Register(ctx, "toggle", "interval:1s", types.RetryPolicy{}, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))

	require.NoError(t, s.SetEnabled(ctx, "toggle", false))
	s.evaluate(ctx, time.Now().Add(time.Hour))
	waitIdle(t, s)
	assert.Zero(t, atomic.LoadInt32(&runs))

	rec, err := s.Job(ctx, "toggle")
	require.NoError(t, err)
	assert.False(t, rec.Enabled)

	// Re-enabling anchors the next fire in the future instead of
	// replaying the disabled stretch.
	require.NoError(t, s.SetEnabled(ctx, "toggle", true))
	s.evaluate(ctx, time.Now())
	waitIdle(t, s)
	assert.Zero(t, atomic.LoadInt32(&runs))

	s.evaluate(ctx, time.Now().Add(2*time.Second))
	waitIdle(t, s)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRegisterRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	st := newStoreForTest(t)
	noop := func(context.Context) error { return nil }

	s1 := New(st, nil, time.Second)
	require.NoError(t, s1.Register(ctx, "scrub", "interval:1h", types.RetryPolicy{}, noop))
	require.NoError(t, s1.SetEnabled(ctx, "scrub", false))

	// A restart re-registers the job; the operator's disable survives.
	s2 := New(st, nil, time.Second)
	require.NoError(t, s2.Register(ctx, "scrub", "interval:1h", types.RetryPolicy{}, noop))
	rec, err := s2.Job(ctx, "scrub")
	require.NoError(t, err)
	assert.False(t, rec.Enabled)

	err = s2.Register(ctx, "scrub", "interval:1h", types.RetryPolicy{}, noop)
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err))
}

func TestStopMarksInterruptedRunCancelled(t *testing.T) {
	ctx := context.Background()
	s := newSchedulerForTest(t, nil)

	started := make(chan struct{})
	require.NoError(t, s.Register(ctx, "long", "interval:1h", types.RetryPolicy{}, func(jctx context.Context) error {
		close(started)
		<-jctx.Done()
		return jctx.Err()
	}))

	s.Start(context.Background())
	require.NoError(t, s.RunNow("long"))
	<-started
	s.Stop()

	execs, err := s.History(ctx, "long", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.ExecutionCancelled, execs[0].Status)
	require.NotNil(t, execs[0].FinishedAt)
}

func TestHistoryUnknownJob(t *testing.T) {
	s := newSchedulerForTest(t, nil)
	_, err := s.History(context.Background(), "ghost", 10)
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}
