// Package downloadpolicy implements the Download Policy (C4):
// shouldFetchIdentity and the Fast/Slow partitioning of §4.4. It
// implements scoreengine.ScoreChangeNotifier so the Score Engine can hand
// it every score delta without importing it.
package downloadpolicy

import (
	"context"

	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/wotlog"
)

// Downloader is the startFetch/abortFetch surface C5 and C6 each
// implement.
type Downloader interface {
	StartFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error
	AbortFetch(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error
}

// Policy evaluates shouldFetchIdentity and partitions identities
// between the Fast Downloader (direct trust, rank <= 1 from some owner)
// and the Slow Downloader (everyone else fetchable).
type Policy struct {
	store graphstore.Store
	fast  Downloader
	slow  Downloader
	log   *wotlog.Logger
}

func New(store graphstore.Store, fast, slow Downloader, log *wotlog.Logger) *Policy {
	if log == nil {
		log = wotlog.New("downloadpolicy", wotlog.LevelNormal)
	}
	return &Policy{store: store, fast: fast, slow: slow, log: log}
}

// ShouldFetchIdentity implements §4.4's predicate against a single
// transaction's view: true iff some OwnIdentity has capacity>0 for x, or
// a finite rank with value>=0, or x is itself an OwnIdentity.
func ShouldFetchIdentity(tx graphstore.Tx, id graphstore.IdentityID) (bool, error) {
	ident, err := tx.GetIdentity(id)
	if err != nil {
		return false, err
	}
	if ident != nil && ident.IsOwn() {
		return true, nil
	}
	scores, err := tx.ScoresBySubject(id)
	if err != nil {
		return false, err
	}
	for _, s := range scores {
		if s.Capacity > 0 {
			return true, nil
		}
		if s.Rank != graphstore.ScoreRankInfinite && s.Value >= 0 {
			return true, nil
		}
	}
	return false, nil
}

// IsFastPartition reports whether id is directly trusted by some
// OwnIdentity (rank <= 1), which routes it to the Fast Downloader;
// otherwise it belongs to the Slow Downloader.
func IsFastPartition(tx graphstore.Tx, id graphstore.IdentityID) (fast bool, err error) {
	scores, err := tx.ScoresBySubject(id)
	if err != nil {
		return false, err
	}
	for _, s := range scores {
		if isFastRank(s.Rank) {
			return true, nil
		}
	}
	return false, nil
}

// OnScoreChanged implements scoreengine.ScoreChangeNotifier: it
// re-evaluates shouldFetchIdentity(subject) and the fast/slow partition,
// and signals the affected downloader(s) within the same transaction, per
// §4.4's "single transaction" requirement for boundary crossings.
//
// By the time this is called, tx already reflects newScore for (owner,
// subject); every other owner's contribution to the predicate is
// unchanged. So the "before" state is reconstructed by substituting old
// back in for owner's contribution alongside every other owner's
// (unchanged) current score.
func (p *Policy) OnScoreChanged(ctx context.Context, tx graphstore.Tx, owner, subject graphstore.IdentityID, old, newScore *graphstore.Score) error {
	ident, err := tx.GetIdentity(subject)
	if err != nil {
		return err
	}
	if ident != nil && ident.IsOwn() {
		// an OwnIdentity is always fetchable by itself and never
		// crosses the fast/slow boundary on a score change.
		return nil
	}

	others, err := tx.ScoresBySubject(subject)
	if err != nil {
		return err
	}

	othersFetch, othersFast := false, false
	for _, s := range others {
		if s.OwnerID == owner {
			continue
		}
		if fetches(s) {
			othersFetch = true
		}
		if isFastRank(s.Rank) {
			othersFast = true
		}
	}

	wasFetch := othersFetch || fetches(old)
	isFetch := othersFetch || fetches(newScore)
	wasFast := othersFast || isFastRank(rankOf(old))
	isFast := othersFast || isFastRank(rankOf(newScore))

	switch {
	case !wasFetch && isFetch:
		return p.startOn(ctx, tx, subject, isFast)
	case wasFetch && !isFetch:
		return p.abortOn(ctx, tx, subject, wasFast)
	case wasFetch && isFetch && wasFast != isFast:
		// crossed the Fast/Slow boundary: abort on one side, start on
		// the other, within this same transaction.
		if err := p.abortOn(ctx, tx, subject, wasFast); err != nil {
			return err
		}
		return p.startOn(ctx, tx, subject, isFast)
	}
	return nil
}

func fetches(s *graphstore.Score) bool {
	if s == nil {
		return false
	}
	return s.Capacity > 0 || (s.Rank != graphstore.ScoreRankInfinite && s.Value >= 0)
}

func rankOf(s *graphstore.Score) int {
	if s == nil {
		return graphstore.ScoreRankInfinite
	}
	return s.Rank
}

func isFastRank(rank int) bool {
	return rank == 0 || rank == 1
}

func (p *Policy) startOn(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID, fast bool) error {
	if fast {
		if p.fast != nil {
			return p.fast.StartFetch(ctx, tx, id)
		}
		return nil
	}
	if p.slow != nil {
		return p.slow.StartFetch(ctx, tx, id)
	}
	return nil
}

func (p *Policy) abortOn(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID, fast bool) error {
	if fast {
		if p.fast != nil {
			return p.fast.AbortFetch(ctx, tx, id)
		}
		return nil
	}
	if p.slow != nil {
		return p.slow.AbortFetch(ctx, tx, id)
	}
	return nil
}
