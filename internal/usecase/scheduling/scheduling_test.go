package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterJob(id string, sched cron.Schedule, n *atomic.Int32) Job {
	return Job{ID: id, Schedule: sched, Run: func(context.Context) error {
		n.Add(1)
		return nil
	}}
}

func startScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(newTestLogger())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	assert.NoError(t, s.Stop())
}

func TestSchedulerRepeatingJobFires(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	require.NoError(t, s.Add(counterJob("tick", Every(30*time.Millisecond), &count)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return count.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.True(t, s.Has("tick"), "repeating job stays scheduled")
}

func TestSchedulerOneShotRemovesItself(t *testing.T) {
	var count atomic.Int32
	s := startScheduler(t)

	job := counterJob("once", Every(20*time.Millisecond), &count)
	job.OneShot = true
	require.NoError(t, s.Add(job))

	assert.Eventually(t, func() bool { return !s.Has("once") }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestSchedulerAtFiresOnce(t *testing.T) {
	var count atomic.Int32
	s := startScheduler(t)

	require.NoError(t, s.Add(counterJob("alarm", At(time.Now().Add(50*time.Millisecond)), &count)))

	assert.Eventually(t, func() bool { return count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestSchedulerAtInPastNeverFires(t *testing.T) {
	var count atomic.Int32
	s := startScheduler(t)

	require.NoError(t, s.Add(counterJob("late", At(time.Now().Add(-time.Minute)), &count)))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, count.Load())
	_, ok := s.NextRun("late")
	assert.False(t, ok)
}

func TestSchedulerReplaceByID(t *testing.T) {
	var first, second atomic.Int32
	s := startScheduler(t)

	require.NoError(t, s.Add(counterJob("a", At(time.Now().Add(80*time.Millisecond)), &first)))
	require.NoError(t, s.Add(counterJob("a", At(time.Now().Add(40*time.Millisecond)), &second)))

	assert.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, first.Load(), "replaced job must not fire")
}

func TestSchedulerRemove(t *testing.T) {
	var count atomic.Int32
	s := startScheduler(t)

	require.NoError(t, s.Add(counterJob("gone", At(time.Now().Add(60*time.Millisecond)), &count)))
	assert.True(t, s.Remove("gone"))
	assert.False(t, s.Remove("gone"))

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, count.Load())
}

func TestSchedulerNextRun(t *testing.T) {
	s := startScheduler(t)
	at := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.Add(Job{ID: "later", Schedule: At(at), Run: func(context.Context) error { return nil }}))

	assert.Eventually(t, func() bool {
		next, ok := s.NextRun("later")
		return ok && next.Equal(at)
	}, time.Second, 10*time.Millisecond)

	_, ok := s.NextRun("missing")
	assert.False(t, ok)
}

func TestSchedulerJobErrorKeepsRunning(t *testing.T) {
	var count atomic.Int32
	s := startScheduler(t)

	require.NoError(t, s.Add(Job{ID: "flaky", Schedule: Every(20 * time.Millisecond), Run: func(context.Context) error {
		count.Add(1)
		return errors.New("boom")
	}}))
	assert.Eventually(t, func() bool { return count.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerJobContextCancelledOnStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	started := make(chan struct{})
	done := make(chan error, 1)
	require.NoError(t, s.Add(Job{ID: "long", Schedule: At(time.Now().Add(20 * time.Millisecond)), Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}}))
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSchedulerAddValidation(t *testing.T) {
	s := NewScheduler(newTestLogger())
	assert.Error(t, s.Add(Job{Schedule: Every(time.Second), Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Job{ID: "x", Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Job{ID: "x", Schedule: Every(time.Second)}))
}

func TestParse(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"*/5 * * * *", time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)},
		{"@hourly", time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"30m", base.Add(30 * time.Minute)},
		{"100ms", base.Add(100 * time.Millisecond)},
	}
	for _, tt := range tests {
		sched, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, sched.Next(base), tt.in)
	}

	for _, bad := range []string{"", "not-a-schedule", "-5m", "0s"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestAtSchedule(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sched := At(at)
	assert.Equal(t, at, sched.Next(at.Add(-time.Second)))
	assert.True(t, sched.Next(at).IsZero())
	assert.True(t, sched.Next(at.Add(time.Hour)).IsZero())
}
