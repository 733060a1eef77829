package slowdownload

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-wot/wotd/internal/crypto"
	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/transport"
	"github.com/go-wot/wotd/internal/trustgraph"
)

type noopNotifier struct{}

func (noopNotifier) OnTrustChanged(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue, newValue int8) error {
	return nil
}
func (noopNotifier) OnTrustRemoved(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue int8) error {
	return nil
}
func (noopNotifier) OnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return nil
}
func (noopNotifier) OnOwnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return nil
}
func (noopNotifier) OnOwnIdentityCreatedOrRestored(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return nil
}

func randomID(t *testing.T) graphstore.IdentityID {
	t.Helper()
	var id graphstore.IdentityID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func newTestDownloader(t *testing.T, store graphstore.Store) *Downloader {
	t.Helper()
	graph := trustgraph.New(store, noopNotifier{}, nil)
	pad, err := graphstore.NewPriorityPad(crypto.NewSecureRandomnessProvider())
	require.NoError(t, err)
	return New(store, graph, transport.NewStub(), pad, DefaultConfig(), nil)
}

func TestStoreNewEditionHintRejectsObsoleteEdition(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	d := newTestDownloader(t, store)
	source := randomID(t)
	subject := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return tx.PutIdentity(&graphstore.Identity{ID: subject, CurrentEdition: 10})
	}))

	require.NoError(t, d.StoreNewEditionHint(ctx, source, subject, 5, 40, 1, time.Now()))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		assert.Nil(t, h)
		return nil
	}))
}

func TestStoreNewEditionHintRejectsUnfetchableSubject(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	d := newTestDownloader(t, store)
	source := randomID(t)
	subject := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return tx.PutIdentity(&graphstore.Identity{ID: subject, CurrentEdition: 0})
	}))

	// subject has no Score at all, so ShouldFetchIdentity is false.
	require.NoError(t, d.StoreNewEditionHint(ctx, source, subject, 5, 40, 1, time.Now()))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		assert.Nil(t, h)
		return nil
	}))
}

func TestStoreNewEditionHintRejectsBelowMinCapacity(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	d := newTestDownloader(t, store)
	owner := randomID(t)
	source := randomID(t)
	subject := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutIdentity(&graphstore.Identity{ID: subject, CurrentEdition: 0}); err != nil {
			return err
		}
		if err := tx.PutIdentity(&graphstore.Identity{ID: source, CurrentEdition: 0}); err != nil {
			return err
		}
		if err := tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: 3, Capacity: 0, Value: 0}); err != nil {
			return err
		}
		return tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: source, Rank: 3, Capacity: 0, Value: 0})
	}))

	require.NoError(t, d.StoreNewEditionHint(ctx, source, subject, 5, 0, 1, time.Now()))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		assert.Nil(t, h)
		return nil
	}))
}

func putFetchableScore(t *testing.T, store graphstore.Store, owner, subject graphstore.IdentityID, rank, capacity int) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(tx graphstore.Tx) error {
		return tx.PutScore(&graphstore.Score{OwnerID: owner, SubjectID: subject, Rank: rank, Capacity: capacity, Value: 1})
	}))
}

func TestStoreNewEditionHintAcceptsAndReplacesWithNewerEdition(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	d := newTestDownloader(t, store)
	owner := randomID(t)
	source := randomID(t)
	subject := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutIdentity(&graphstore.Identity{ID: subject, CurrentEdition: 0}); err != nil {
			return err
		}
		return tx.PutIdentity(&graphstore.Identity{ID: source, CurrentEdition: 0})
	}))
	putFetchableScore(t, store, owner, subject, 2, 16)
	putFetchableScore(t, store, owner, source, 1, 40)

	require.NoError(t, d.StoreNewEditionHint(ctx, source, subject, 5, 40, 1, time.Now()))
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.EqualValues(t, 5, h.Edition)
		return nil
	}))

	// a lower or equal edition does not replace the stored hint.
	require.NoError(t, d.StoreNewEditionHint(ctx, source, subject, 5, 40, 1, time.Now()))
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.EqualValues(t, 5, h.Edition)
		return nil
	}))

	// a strictly newer edition replaces it.
	require.NoError(t, d.StoreNewEditionHint(ctx, source, subject, 9, 40, 1, time.Now()))
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.EqualValues(t, 9, h.Edition)
		return nil
	}))
}

func TestAbortFetchDeletesHintsForSubject(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	d := newTestDownloader(t, store)
	source := randomID(t)
	subject := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return tx.PutEditionHint(&graphstore.EditionHint{SourceID: source, SubjectID: subject, Edition: 3, Priority: "p"})
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return d.AbortFetch(ctx, tx, subject)
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(source, subject)
		require.NoError(t, err)
		assert.Nil(t, h)
		return nil
	}))
}

func TestClaimNextRemovesHighestPriorityHint(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	d := newTestDownloader(t, store)
	subject := randomID(t)
	srcA := randomID(t)
	srcB := randomID(t)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutIdentity(&graphstore.Identity{ID: subject, RequestKey: "req-subject"}); err != nil {
			return err
		}
		date := graphstore.TruncateToDay(time.Now())
		if err := tx.PutEditionHint(&graphstore.EditionHint{
			SourceID: srcA, SubjectID: subject, Edition: 5, Date: date, SourceCapacity: 40, SourceScoreSign: 1,
			Priority: graphstore.BuildPriority(d.pad, date, 40, 1, subject, 5),
		}); err != nil {
			return err
		}
		return tx.PutEditionHint(&graphstore.EditionHint{
			SourceID: srcB, SubjectID: subject, Edition: 99, Date: date, SourceCapacity: 16, SourceScoreSign: 1,
			Priority: graphstore.BuildPriority(d.pad, date, 16, 1, subject, 99),
		})
	}))

	work, err := d.claimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.Equal(t, srcA, work.hint.SourceID)
	assert.Equal(t, "req-subject", work.requestKey)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		h, err := tx.GetEditionHint(srcA, subject)
		require.NoError(t, err)
		assert.Nil(t, h)
		return nil
	}))
}
