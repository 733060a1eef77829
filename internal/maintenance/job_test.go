package maintenance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayedBackgroundJobCoalescesConcurrentTriggers(t *testing.T) {
	var runs int32
	job := NewDelayedBackgroundJob("test", 30*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
		time.Sleep(5 * time.Millisecond)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.TriggerExecution(-1)
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, 200*time.Millisecond, 5*time.Millisecond)

	// give the single coalesced run time to settle back to Idle, then
	// confirm no extra runs trickle in.
	time.Sleep(80 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func TestDelayedBackgroundJobRunningTriggerSchedulesOneFollowUp(t *testing.T) {
	var runs int32
	started := make(chan struct{}, 4)
	job := NewDelayedBackgroundJob("test", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		time.Sleep(30 * time.Millisecond)
	})

	job.TriggerExecution(0)
	<-started // first run now in flight

	assert.Equal(t, StateRunning, job.State())
	// multiple triggers while running must coalesce into a single follow-up.
	job.TriggerExecution(-1)
	job.TriggerExecution(-1)
	job.TriggerExecution(-1)

	<-started // the follow-up run
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, 200*time.Millisecond, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&runs))
}

func TestDelayedBackgroundJobTriggerZeroForcesImmediateScheduling(t *testing.T) {
	done := make(chan struct{})
	job := NewDelayedBackgroundJob("test", time.Hour, func(ctx context.Context) {
		close(done)
	})

	job.TriggerExecution(0)
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("job did not run promptly after TriggerExecution(0)")
	}
}

func TestDelayedBackgroundJobTerminateFromIdleIsImmediate(t *testing.T) {
	job := NewDelayedBackgroundJob("test", time.Hour, func(ctx context.Context) {})
	job.Terminate()
	assert.Equal(t, StateTerminated, job.State())
	assert.True(t, job.WaitForTermination(10*time.Millisecond))
}

func TestDelayedBackgroundJobTerminateIsIdempotent(t *testing.T) {
	job := NewDelayedBackgroundJob("test", time.Hour, func(ctx context.Context) {})
	job.Terminate()
	job.Terminate()
	assert.Equal(t, StateTerminated, job.State())
}

func TestDelayedBackgroundJobTerminateFromRunningInterruptsViaContext(t *testing.T) {
	started := make(chan struct{})
	interrupted := make(chan struct{})
	job := NewDelayedBackgroundJob("test", time.Millisecond, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(interrupted)
	})

	job.TriggerExecution(0)
	<-started
	assert.Equal(t, StateRunning, job.State())

	job.Terminate()
	assert.Equal(t, StateTerminating, job.State())

	select {
	case <-interrupted:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("terminate did not interrupt the running job")
	}
	require.True(t, job.WaitForTermination(200*time.Millisecond))
	assert.Equal(t, StateTerminated, job.State())
}

func TestDelayedBackgroundJobWaitForTerminationTimesOut(t *testing.T) {
	job := NewDelayedBackgroundJob("test", time.Hour, func(ctx context.Context) {})
	job.TriggerExecution(0)
	assert.False(t, job.WaitForTermination(5*time.Millisecond))
}
