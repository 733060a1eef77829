// Package slowdownload implements the Slow Downloader + Hint Queue (C6):
// priority-ordered, one-shot fetches of indirectly trusted identities
// driven by received EditionHints.
package slowdownload

import (
	"context"
	"sync"
	"time"

	"github.com/go-wot/wotd/internal/downloadpolicy"
	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/transport"
	"github.com/go-wot/wotd/internal/trustgraph"
	"github.com/go-wot/wotd/internal/wotlog"
)

// Downloader implements downloadpolicy.Downloader via structural typing.
type Downloader struct {
	store  graphstore.Store
	graph  *trustgraph.Graph
	client transport.NetworkClient
	pad    *graphstore.PriorityPad
	cfg    *Config
	log    *wotlog.Logger
	now    func() time.Time

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store graphstore.Store, graph *trustgraph.Graph, client transport.NetworkClient, pad *graphstore.PriorityPad, cfg *Config, log *wotlog.Logger) *Downloader {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = wotlog.New("slowdownload", wotlog.LevelNormal)
	}
	return &Downloader{
		store:  store,
		graph:  graph,
		client: client,
		pad:    pad,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// SetGraph wires the Trust Graph API after construction; see
// fastdownload.Downloader.SetGraph for why this two-phase wiring exists.
func (d *Downloader) SetGraph(graph *trustgraph.Graph) {
	d.graph = graph
}

// Start launches cfg.MaxConcurrentFetches worker goroutines that each
// pull the highest-priority hint and fetch it. Stop via the returned
// context's cancellation or by calling Downloader.Stop.
func (d *Downloader) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.cfg.MaxConcurrentFetches; i++ {
		d.wg.Add(1)
		go d.worker(workerCtx)
	}
}

// Stop cancels every worker and waits for them to return.
func (d *Downloader) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Downloader) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// StoreNewEditionHint implements storeNewEditionHint per §4.6's
// five-step ingestion contract.
func (d *Downloader) StoreNewEditionHint(ctx context.Context, sourceID, subjectID graphstore.IdentityID, edition int64, sourceCapacity int, sourceScoreSign int8, observedAt time.Time) error {
	stored := false
	err := d.store.WithTx(ctx, func(tx graphstore.Tx) error {
		subject, err := tx.GetIdentity(subjectID)
		if err != nil {
			return err
		}
		if subject == nil || edition <= subject.CurrentEdition {
			return nil // step 1: obsolete
		}

		fetchableSubject, err := downloadpolicy.ShouldFetchIdentity(tx, subjectID)
		if err != nil {
			return err
		}
		if !fetchableSubject {
			return nil // step 2
		}
		fetchableSource, err := downloadpolicy.ShouldFetchIdentity(tx, sourceID)
		if err != nil {
			return err
		}
		if !fetchableSource {
			return nil // §3 invariant 7: source must also be fetchable
		}

		if sourceCapacity < d.cfg.MinCapacity {
			return nil // step 3
		}

		existing, err := tx.GetEditionHint(sourceID, subjectID)
		if err != nil {
			return err
		}
		if existing != nil {
			if edition <= existing.Edition {
				return nil // step 4: not an improvement, discard
			}
			if err := tx.DeleteEditionHint(sourceID, subjectID); err != nil {
				return err
			}
		}

		date := graphstore.TruncateToDay(observedAt)
		hint := &graphstore.EditionHint{
			SourceID:        sourceID,
			SubjectID:       subjectID,
			Edition:         edition,
			Date:            date,
			SourceCapacity:  sourceCapacity,
			SourceScoreSign: sourceScoreSign,
			Priority:        graphstore.BuildPriority(d.pad, date, sourceCapacity, sourceScoreSign, subjectID, edition),
		}
		stored = true
		return tx.PutEditionHint(hint)
	})
	if err != nil {
		return err
	}
	if stored {
		d.signalWake() // step 5: wake the network request thread
	}
	return nil
}

// StartFetch implements downloadpolicy.Downloader: the Slow Downloader
// has nothing to start eagerly, it only reacts to hints that arrive via
// StoreNewEditionHint.
func (d *Downloader) StartFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return nil
}

// AbortFetch implements downloadpolicy.Downloader per §4.6: delete every
// hint whose subject is id. Already-running requests for id are left to
// complete; the parser will drop unwanted data.
func (d *Downloader) AbortFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return tx.DeleteEditionHintsBySubject(id)
}

type claimedWork struct {
	hint       *graphstore.EditionHint
	requestKey string
}

// claimNext atomically removes the single highest-priority hint from
// the queue (so no other worker can claim it) and returns it along with
// the subject's current request key.
func (d *Downloader) claimNext(ctx context.Context) (*claimedWork, error) {
	var work *claimedWork
	err := d.store.WithTx(ctx, func(tx graphstore.Tx) error {
		hint, err := tx.NextEditionHint()
		if err != nil {
			return err
		}
		if hint == nil {
			return nil
		}
		subject, err := tx.GetIdentity(hint.SubjectID)
		if err != nil {
			return err
		}
		if subject == nil {
			return tx.DeleteEditionHint(hint.SourceID, hint.SubjectID)
		}
		if err := tx.DeleteEditionHint(hint.SourceID, hint.SubjectID); err != nil {
			return err
		}
		work = &claimedWork{hint: hint, requestKey: subject.RequestKey}
		return nil
	})
	return work, err
}

func (d *Downloader) worker(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		work, err := d.claimNext(ctx)
		if err != nil {
			d.log.Warning("claim next hint failed", map[string]interface{}{"err": err.Error()})
		}
		if work == nil {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			case <-ticker.C:
			}
			continue
		}
		d.fetchOne(ctx, work)
	}
}

// fetchOne executes a single one-shot fetch outside any store
// transaction (§5.3), then routes the terminal outcome back through the
// Trust Graph API. It never retries the same hint per §4.6: "another
// peer will supply a better one."
func (d *Downloader) fetchOne(ctx context.Context, work *claimedWork) {
	log := d.log.WithIdentity(work.hint.SubjectID.String())
	list, err := d.client.Fetch(ctx, work.requestKey, work.hint.Edition)
	switch {
	case err == nil:
		assertions := make([]trustgraph.TrustAssertion, 0, len(list.TrustList))
		for _, t := range list.TrustList {
			trustee, perr := graphstore.ParseIdentityID(t.TrusteeID)
			if perr != nil {
				continue
			}
			assertions = append(assertions, trustgraph.TrustAssertion{TrusteeID: trustee, Value: t.Value, Comment: t.Comment})
		}
		if applyErr := d.graph.ApplyParsedTrustList(ctx, work.hint.SubjectID, list.Edition, assertions); applyErr != nil {
			log.Warning("failed to apply fetched trust list", map[string]interface{}{"err": applyErr.Error()})
		}
	case err == transport.ErrNotFound || err == transport.ErrParseFailed:
		if failErr := d.graph.OnFetchedAndParsingFailed(ctx, work.hint.SubjectID, work.hint.Edition); failErr != nil {
			log.Warning("failed to record parsing failure", map[string]interface{}{"err": failErr.Error()})
		}
	default:
		// transient TransportFailure: drop silently, next hint wins.
		log.Minor("transient transport failure fetching hint, moving on", map[string]interface{}{"err": err.Error()})
	}
}
