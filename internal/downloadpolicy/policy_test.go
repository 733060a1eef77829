package downloadpolicy

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-wot/wotd/internal/graphstore"
)

func randomID(t *testing.T) graphstore.IdentityID {
	t.Helper()
	var id graphstore.IdentityID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

type recordingDownloader struct {
	started []graphstore.IdentityID
	aborted []graphstore.IdentityID
}

func (d *recordingDownloader) StartFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	d.started = append(d.started, id)
	return nil
}

func (d *recordingDownloader) AbortFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	d.aborted = append(d.aborted, id)
	return nil
}

func TestShouldFetchIdentityOwnAlwaysTrue(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	owner := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return tx.PutIdentity(&graphstore.Identity{ID: owner, Own: &graphstore.OwnData{}})
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		ok, err := ShouldFetchIdentity(tx, owner)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestShouldFetchIdentityByCapacityOrNonNegativeValue(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	owner := randomID(t)
	subject := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: graphstore.ScoreRankInfinite, Capacity: 0, Value: -5}); err != nil {
			return err
		}
		ok, err := ShouldFetchIdentity(tx, subject)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: 3, Capacity: 0, Value: 0}); err != nil {
			return err
		}
		ok, err := ShouldFetchIdentity(tx, subject)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestIsFastPartitionRankZeroOrOne(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	owner := randomID(t)
	direct := randomID(t)
	indirect := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: direct, Rank: 1, Capacity: 40, Value: 100}); err != nil {
			return err
		}
		return tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: indirect, Rank: 2, Capacity: 16, Value: 40})
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		fast, err := IsFastPartition(tx, direct)
		require.NoError(t, err)
		assert.True(t, fast)

		fast, err = IsFastPartition(tx, indirect)
		require.NoError(t, err)
		assert.False(t, fast)
		return nil
	}))
}

func TestOnScoreChangedStartsAndAbortsCorrectPartition(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	owner := randomID(t)
	subject := randomID(t)
	fast := &recordingDownloader{}
	slow := &recordingDownloader{}
	p := New(store, fast, slow, nil)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		newScore := &graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: 2, Capacity: 16, Value: 40}
		require.NoError(t, tx.PutScore(newScore))
		return p.OnScoreChanged(ctx, tx, owner, subject, nil, newScore)
	}))
	assert.Len(t, slow.started, 1)
	assert.Len(t, fast.started, 0)

	// Rank improves to 1 (direct trust appears): crosses to the fast
	// partition, aborting the slow side and starting the fast side.
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		old := &graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: 2, Capacity: 16, Value: 40}
		newScore := &graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: 1, Capacity: 40, Value: 100}
		require.NoError(t, tx.PutScore(newScore))
		return p.OnScoreChanged(ctx, tx, owner, subject, old, newScore)
	}))
	assert.Len(t, slow.aborted, 1)
	assert.Len(t, fast.started, 1)

	// Score drops to unreachable: abort on the fast side, no new start.
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		old := &graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: 1, Capacity: 40, Value: 100}
		require.NoError(t, tx.DeleteScore(owner, subject))
		return p.OnScoreChanged(ctx, tx, owner, subject, old, nil)
	}))
	assert.Len(t, fast.aborted, 1)
}

func TestOnScoreChangedSkipsOwnIdentitySubject(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	owner := randomID(t)
	fast := &recordingDownloader{}
	slow := &recordingDownloader{}
	p := New(store, fast, slow, nil)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		require.NoError(t, tx.PutIdentity(&graphstore.Identity{ID: owner, Own: &graphstore.OwnData{}}))
		newScore := &graphstore.Score{OwnerID: owner, SubjectID: owner, Rank: 0, Capacity: 100, Value: 1}
		return p.OnScoreChanged(ctx, tx, owner, owner, nil, newScore)
	}))
	assert.Empty(t, fast.started)
	assert.Empty(t, slow.started)
}
