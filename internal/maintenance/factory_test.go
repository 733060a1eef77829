package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobFactoryTerminateAllStopsEveryJob(t *testing.T) {
	f := NewJobFactory()
	a := f.New("a", time.Hour, func(ctx context.Context) {})
	b := f.New("b", time.Hour, func(ctx context.Context) {})

	require.True(t, f.TerminateAll(time.Second))
	assert.Equal(t, StateTerminated, a.State())
	assert.Equal(t, StateTerminated, b.State())
}

func TestJobFactoryDeregisterRemovesFromLiveSet(t *testing.T) {
	f := NewJobFactory()
	j := f.New("a", time.Hour, func(ctx context.Context) {})
	f.Deregister(j)

	assert.Len(t, f.jobs, 0)
}
