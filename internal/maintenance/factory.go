package maintenance

import (
	"sync"
	"time"
)

// JobFactory tracks every live DelayedBackgroundJob so TerminateAll can
// shut the daemon down cleanly. Per the original spec's design notes
// (§9), the source's weak-reference registry is replaced with an
// explicit lifecycle API: jobs register on creation and are deregistered
// by TerminateAll once terminated, rather than being discovered (and potentially
// resurrected or leaked) via a weak map.
type JobFactory struct {
	mu   sync.Mutex
	jobs map[*DelayedBackgroundJob]struct{}
}

func NewJobFactory() *JobFactory {
	return &JobFactory{jobs: make(map[*DelayedBackgroundJob]struct{})}
}

func (f *JobFactory) New(name string, delay time.Duration, run RunFunc) *DelayedBackgroundJob {
	j := NewDelayedBackgroundJob(name, delay, run)
	f.mu.Lock()
	f.jobs[j] = struct{}{}
	f.mu.Unlock()
	return j
}

// Deregister removes j from the live set. TerminateAll calls it for each
// job that reached Terminated; a job stopped by its own Terminate stays
// in the set until TerminateAll or an explicit Deregister.
func (f *JobFactory) Deregister(j *DelayedBackgroundJob) {
	f.mu.Lock()
	delete(f.jobs, j)
	f.mu.Unlock()
}

// TerminateAll terminates every live job and waits up to timeout (total,
// not per-job) for all of them to reach Terminated.
func (f *JobFactory) TerminateAll(timeout time.Duration) bool {
	f.mu.Lock()
	jobs := make([]*DelayedBackgroundJob, 0, len(f.jobs))
	for j := range f.jobs {
		jobs = append(jobs, j)
	}
	f.mu.Unlock()

	deadline := time.Now().Add(timeout)
	allTerminated := true
	for _, j := range jobs {
		j.Terminate()
	}
	for _, j := range jobs {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if !j.WaitForTermination(remaining) {
			allTerminated = false
			continue
		}
		f.Deregister(j)
	}
	return allTerminated
}
