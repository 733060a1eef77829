package maintenance

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-wot/wotd/internal/graphstore"
)

type fakeVerifier struct {
	calls int32
}

func (f *fakeVerifier) VerifyAndCorrectStoredScores(ctx context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, nil
}

func TestSchedulerTriggerVerificationRunsJobAndRecordsState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	state, err := LoadStateFile(statePath)
	require.NoError(t, err)

	verifier := &fakeVerifier{}
	store := graphstore.NewMemStore()
	cfg := DefaultConfig()
	s := New(cfg, verifier, store, state, nil)
	defer s.Stop(time.Second)

	s.TriggerVerification()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&verifier.calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !state.LastVerification.IsZero() }, time.Second, 5*time.Millisecond)
}

func TestSchedulerOnOwnIdentityDeletedTriggersBothJobs(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	state, err := LoadStateFile(statePath)
	require.NoError(t, err)

	verifier := &fakeVerifier{}
	store := graphstore.NewMemStore()
	s := New(DefaultConfig(), verifier, store, state, nil)
	defer s.Stop(time.Second)

	s.OnOwnIdentityDeleted(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&verifier.calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !state.LastDefragmentation.IsZero() }, time.Second, 5*time.Millisecond)
}

func TestRemainingOrZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), remainingOrZero(time.Hour, time.Time{}))
	assert.Equal(t, time.Duration(0), remainingOrZero(time.Hour, time.Now().Add(-2*time.Hour)))
	remaining := remainingOrZero(time.Hour, time.Now())
	assert.Greater(t, remaining, 55*time.Minute)
	assert.LessOrEqual(t, remaining, time.Hour)
}
