// Package fastdownload implements the Fast Downloader (C5): a continuous
// subscription per directly-trusted identity, applying every update
// through the Trust Graph API as it arrives.
package fastdownload

import (
	"context"
	"sync"
	"time"

	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/transport"
	"github.com/go-wot/wotd/internal/trustgraph"
	"github.com/go-wot/wotd/internal/wotlog"
)

// Downloader implements downloadpolicy.Downloader via structural typing:
// StartFetch/AbortFetch match that interface without this package
// importing downloadpolicy; cmd/wotd passes a *Downloader to
// downloadpolicy.New.
type Downloader struct {
	store  graphstore.Store
	graph  *trustgraph.Graph
	client transport.NetworkClient
	log    *wotlog.Logger

	mu   sync.Mutex
	subs map[graphstore.IdentityID]context.CancelFunc
}

func New(store graphstore.Store, graph *trustgraph.Graph, client transport.NetworkClient, log *wotlog.Logger) *Downloader {
	if log == nil {
		log = wotlog.New("fastdownload", wotlog.LevelNormal)
	}
	return &Downloader{
		store:  store,
		graph:  graph,
		client: client,
		log:    log,
		subs:   make(map[graphstore.IdentityID]context.CancelFunc),
	}
}

// SetGraph wires the Trust Graph API after construction, breaking the
// construction cycle between C2 (which needs the fully wired C3->C4
// notifier chain) and C5/C6 (which the policy needs as plain
// interfaces). Callers must set this before StartFetch is ever called.
func (d *Downloader) SetGraph(graph *trustgraph.Graph) {
	d.graph = graph
}

// StartFetch implements §4.5: subscribes to the transport for id and
// spawns the per-subscription consumer loop. Idempotent: starting an
// already-subscribed identity is a no-op.
func (d *Downloader) StartFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, already := d.subs[id]; already {
		return nil
	}

	ident, err := tx.GetIdentity(id)
	if err != nil {
		return err
	}
	if ident == nil {
		return nil
	}
	requestKey := ident.RequestKey

	runCtx, cancel := context.WithCancel(context.Background())
	d.subs[id] = cancel

	// §5.3: the subscription and its consumer loop run outside the
	// GraphEngine monitor; only this map mutation happens under it.
	go d.run(runCtx, id, requestKey)
	return nil
}

// AbortFetch implements §4.5's counterpart: cancels the subscription.
// The transport contract guarantees no further callbacks after a
// successful cancel.
func (d *Downloader) AbortFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	d.mu.Lock()
	cancel, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// run is the per-identity consumer loop: subscribe, then apply every
// delivered update through the Trust Graph API in a fresh transaction.
// On transport failure it resubscribes with indefinite retry per §4.5.
func (d *Downloader) run(ctx context.Context, id graphstore.IdentityID, requestKey string) {
	backoffIdx := 0
	for {
		if ctx.Err() != nil {
			return
		}
		handle, err := d.client.Subscribe(ctx, id.String(), requestKey)
		if err != nil {
			d.log.WithIdentity(id.String()).Warning("subscribe failed, retrying", map[string]interface{}{"err": err.Error()})
			if !sleepCtx(ctx, backoffDelay(&backoffIdx)) {
				return
			}
			continue
		}
		backoffIdx = 0

		if d.consume(ctx, id, handle) {
			return
		}
		// consume returned because the transport failed; loop back and
		// resubscribe, per §4.5 "on transport failure it retries
		// indefinitely".
	}
}

// consume drains handle's update channel until it closes or ctx is
// cancelled. It returns true if the caller should stop entirely
// (context cancelled), false if it should resubscribe.
func (d *Downloader) consume(ctx context.Context, id graphstore.IdentityID, handle transport.Handle) bool {
	for {
		select {
		case <-ctx.Done():
			_ = d.client.Unsubscribe(handle)
			return true
		case update, ok := <-handle.Updates():
			if !ok {
				return false
			}
			if update.Err != nil {
				d.log.WithIdentity(id.String()).Minor("transport delivered an error, resubscribing", map[string]interface{}{"err": update.Err.Error()})
				return false
			}
			if err := d.apply(ctx, id, update.List); err != nil {
				d.log.WithIdentity(id.String()).Warning("failed to apply fetched trust list", map[string]interface{}{"err": err.Error()})
			}
		}
	}
}

// apply hands a freshly fetched trust list to the Trust Graph API, §4.5's
// "inside a fresh transaction" (each SetTrust/OnFetchedAndParsedSuccessfully
// call made by ApplyParsedTrustList opens its own).
func (d *Downloader) apply(ctx context.Context, truster graphstore.IdentityID, list *transport.ParsedTrustList) error {
	assertions := make([]trustgraph.TrustAssertion, 0, len(list.TrustList))
	for _, t := range list.TrustList {
		trustee, err := graphstore.ParseIdentityID(t.TrusteeID)
		if err != nil {
			continue
		}
		assertions = append(assertions, trustgraph.TrustAssertion{TrusteeID: trustee, Value: t.Value, Comment: t.Comment})
	}
	return d.graph.ApplyParsedTrustList(ctx, truster, list.Edition, assertions)
}

func backoffDelay(idx *int) time.Duration {
	schedule := transport.RetryBackoff
	d := schedule[*idx]
	if *idx < len(schedule)-1 {
		*idx++
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
