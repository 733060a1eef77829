package trustgraph

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-wot/wotd/internal/graphstore"
)

func randomIdentityID(t *testing.T) graphstore.IdentityID {
	t.Helper()
	var id graphstore.IdentityID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

type recordingNotifier struct {
	trustChanges []int8
	removed      []int8
	deletedIDs   []graphstore.IdentityID
	ownDeleted   []graphstore.IdentityID
	ownRestored  []graphstore.IdentityID
}

func (n *recordingNotifier) OnTrustChanged(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue, newValue int8) error {
	n.trustChanges = append(n.trustChanges, newValue)
	return nil
}

func (n *recordingNotifier) OnTrustRemoved(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue int8) error {
	n.removed = append(n.removed, oldValue)
	return nil
}

func (n *recordingNotifier) OnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	n.deletedIDs = append(n.deletedIDs, id)
	return nil
}

func (n *recordingNotifier) OnOwnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	n.ownDeleted = append(n.ownDeleted, id)
	return nil
}

func (n *recordingNotifier) OnOwnIdentityCreatedOrRestored(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	n.ownRestored = append(n.ownRestored, id)
	return nil
}

func newGraph(t *testing.T) (*Graph, *recordingNotifier) {
	t.Helper()
	store := graphstore.NewMemStore()
	notifier := &recordingNotifier{}
	return New(store, notifier, nil), notifier
}

func TestCreateOwnIdentityRejectsDuplicate(t *testing.T) {
	g, notifier := newGraph(t)
	ctx := context.Background()
	id := randomIdentityID(t)

	_, err := g.CreateOwnIdentity(ctx, id, "req", "ins", "alice", true)
	require.NoError(t, err)
	assert.Len(t, notifier.ownRestored, 1)

	_, err = g.CreateOwnIdentity(ctx, id, "req", "ins", "alice", true)
	assert.Error(t, err)
}

func TestSetTrustRejectsOutOfRangeValue(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	a := randomIdentityID(t)
	b := randomIdentityID(t)
	_, err := g.CreateOwnIdentity(ctx, a, "req-a", "ins-a", "alice", true)
	require.NoError(t, err)
	_, err = g.AddIdentityFromURI(ctx, b, "req-b", 0, "bob")
	require.NoError(t, err)

	err = g.SetTrust(ctx, a, b, 101, "")
	assert.Error(t, err)
}

func TestSetTrustNotifiesOnChange(t *testing.T) {
	g, notifier := newGraph(t)
	ctx := context.Background()
	a := randomIdentityID(t)
	b := randomIdentityID(t)
	_, err := g.CreateOwnIdentity(ctx, a, "req-a", "ins-a", "alice", true)
	require.NoError(t, err)
	_, err = g.AddIdentityFromURI(ctx, b, "req-b", 0, "bob")
	require.NoError(t, err)

	require.NoError(t, g.SetTrust(ctx, a, b, 50, "friend"))
	require.Len(t, notifier.trustChanges, 1)
	assert.EqualValues(t, 50, notifier.trustChanges[0])

	// setting the same value again must not re-notify.
	require.NoError(t, g.SetTrust(ctx, a, b, 50, "friend"))
	assert.Len(t, notifier.trustChanges, 1)
}

func TestRemoveTrustNotifiesAndDeletes(t *testing.T) {
	g, notifier := newGraph(t)
	ctx := context.Background()
	a := randomIdentityID(t)
	b := randomIdentityID(t)
	_, err := g.CreateOwnIdentity(ctx, a, "req-a", "ins-a", "alice", true)
	require.NoError(t, err)
	_, err = g.AddIdentityFromURI(ctx, b, "req-b", 0, "bob")
	require.NoError(t, err)
	require.NoError(t, g.SetTrust(ctx, a, b, 50, ""))

	require.NoError(t, g.RemoveTrust(ctx, a, b))
	require.Len(t, notifier.removed, 1)
	assert.EqualValues(t, 50, notifier.removed[0])

	err = g.RemoveTrust(ctx, a, b)
	assert.Error(t, err)
}

func TestOnFetchedAndParsedSuccessfullyRejectsStaleEdition(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	id := randomIdentityID(t)
	_, err := g.AddIdentityFromURI(ctx, id, "req", 0, "carol")
	require.NoError(t, err)

	require.NoError(t, g.OnFetchedAndParsedSuccessfully(ctx, id, 5))
	err = g.OnFetchedAndParsedSuccessfully(ctx, id, 5)
	assert.Error(t, err)
	err = g.OnFetchedAndParsedSuccessfully(ctx, id, 3)
	assert.Error(t, err)
}

func TestDeleteAndRestoreOwnIdentityPreservesIncomingTrust(t *testing.T) {
	g, notifier := newGraph(t)
	ctx := context.Background()
	a := randomIdentityID(t)
	b := randomIdentityID(t)
	_, err := g.AddIdentityFromURI(ctx, a, "req-a", 0, "alice")
	require.NoError(t, err)
	_, err = g.CreateOwnIdentity(ctx, b, "req-b", "ins-b", "bob", true)
	require.NoError(t, err)
	require.NoError(t, g.SetTrust(ctx, a, b, 80, ""))

	require.NoError(t, g.DeleteOwnIdentity(ctx, b))
	require.Len(t, notifier.ownDeleted, 1)

	require.NoError(t, g.RestoreOwnIdentity(ctx, b, "ins-b-2"))
	require.Len(t, notifier.ownRestored, 2)

	require.NoError(t, g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		incoming, err := tx.GetTrust(a, b)
		require.NoError(t, err)
		require.NotNil(t, incoming)
		assert.EqualValues(t, 80, incoming.Value)
		return nil
	}))
}

func TestDeleteIdentityRemovesAllEdges(t *testing.T) {
	g, notifier := newGraph(t)
	ctx := context.Background()
	a := randomIdentityID(t)
	b := randomIdentityID(t)
	_, err := g.CreateOwnIdentity(ctx, a, "req-a", "ins-a", "alice", true)
	require.NoError(t, err)
	_, err = g.AddIdentityFromURI(ctx, b, "req-b", 0, "bob")
	require.NoError(t, err)
	require.NoError(t, g.SetTrust(ctx, a, b, 50, ""))

	require.NoError(t, g.DeleteIdentity(ctx, b))
	assert.Len(t, notifier.deletedIDs, 1)

	err = g.SetTrust(ctx, a, b, 10, "")
	assert.Error(t, err)
}
