package fastdownload

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestStartFetchIsIdempotent(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	graph := trustgraph.New(store, noopNotifier{}, nil)
	stub := transport.NewStub()
	d := New(store, graph, stub, nil)

	id := randomID(t)
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return tx.PutIdentity(&graphstore.Identity{ID: id, RequestKey: "req"})
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		require.NoError(t, d.StartFetch(ctx, tx, id))
		return d.StartFetch(ctx, tx, id)
	}))

	d.mu.Lock()
	n := len(d.subs)
	d.mu.Unlock()
	assert.Equal(t, 1, n)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return d.AbortFetch(ctx, tx, id)
	}))
}

func TestFastDownloaderAppliesPublishedUpdate(t *testing.T) {
	store := graphstore.NewMemStore()
	ctx := context.Background()
	graph := trustgraph.New(store, noopNotifier{}, nil)
	stub := transport.NewStub()
	d := New(store, graph, stub, nil)

	truster := randomID(t)
	trustee := randomID(t)
	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		if err := tx.PutIdentity(&graphstore.Identity{ID: truster, RequestKey: "req-truster"}); err != nil {
			return err
		}
		return tx.PutIdentity(&graphstore.Identity{ID: trustee, RequestKey: "req-trustee"})
	}))

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		return d.StartFetch(ctx, tx, truster)
	}))
	defer store.WithTx(ctx, func(tx graphstore.Tx) error { return d.AbortFetch(ctx, tx, truster) })

	stub.Publish(truster.String(), "req-truster", 1, &transport.ParsedTrustList{
		Edition: 1,
		TrustList: []transport.TrustAssertion{
			{TrusteeID: trustee.String(), Value: 80, Comment: "friend"},
		},
	})

	require.Eventually(t, func() bool {
		var edition int64
		_ = store.WithTx(ctx, func(tx graphstore.Tx) error {
			ident, err := tx.GetIdentity(truster)
			if err != nil || ident == nil {
				return err
			}
			edition = ident.CurrentEdition
			return nil
		})
		return edition == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.WithTx(ctx, func(tx graphstore.Tx) error {
		tr, err := tx.GetTrust(truster, trustee)
		require.NoError(t, err)
		require.NotNil(t, tr)
		assert.EqualValues(t, 80, tr.Value)
		return nil
	}))
}
