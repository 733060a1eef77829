// Package scoreengine implements the Score Engine (C3): it keeps every
// OwnIdentity's derived (rank, capacity, value) scores in sync with the
// trust graph, incrementally where possible and by full recomputation
// otherwise.
package scoreengine

import (
	"context"

	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/trustgraph"
	"github.com/go-wot/wotd/internal/wotlog"
)

// ScoreChangeNotifier is the callback surface the Download Policy (C4)
// implements so C3 can hand off every score delta without C3 importing
// C4 directly.
type ScoreChangeNotifier interface {
	OnScoreChanged(ctx context.Context, tx graphstore.Tx, owner, subject graphstore.IdentityID, old, new *graphstore.Score) error
}

// UseLegacyReferenceImplementation forces every mutation, regardless of
// how cheap an incremental update would be, through recomputeAllScores.
// It exists for parity testing against the ground-truth algorithm and is
// wired to the daemon's -legacy-score-engine flag.
var UseLegacyReferenceImplementation = false

// Engine is the Score Engine. It implements trustgraph.ScoreNotifier so
// the Trust Graph API can hand it every accepted mutation.
type Engine struct {
	store    graphstore.Store
	notifier ScoreChangeNotifier
	log      *wotlog.Logger
}

var _ trustgraph.ScoreNotifier = (*Engine)(nil)

func New(store graphstore.Store, notifier ScoreChangeNotifier, log *wotlog.Logger) *Engine {
	if log == nil {
		log = wotlog.New("scoreengine", wotlog.LevelNormal)
	}
	return &Engine{store: store, notifier: notifier, log: log}
}

func sameSide(a, b int8) bool {
	return (a > 0) == (b > 0)
}

// OnTrustChanged implements trustgraph.ScoreNotifier. A same-sign value
// change never moves a rank (§4.3 case 3) and is handled in place; a
// sign flip is either an activation (old<=0, new>0) or a deactivation
// (old>0, new<=0) per §4.3 steps 1/2, both of which recomputeRankAffected
// handles via ComputeRankFromScratch over trustee's forward closure.
// UseLegacyReferenceImplementation keeps the full per-owner recompute as
// the ground-truth path for A/B comparison.
func (e *Engine) OnTrustChanged(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue, newValue int8) error {
	if oldValue == 0 && newValue == 0 {
		return nil
	}
	if !UseLegacyReferenceImplementation {
		if oldValue != 0 && sameSide(oldValue, newValue) {
			return e.applyPureValueChange(ctx, tx, truster, trustee)
		}
		return e.recomputeRankAffected(ctx, tx, trustee)
	}
	return e.recomputeAffectedOwners(ctx, tx)
}

// OnTrustRemoved implements trustgraph.ScoreNotifier: removing a trust
// edge is equivalent to driving its value to zero, i.e. §4.3 step 2
// (deactivation) whenever it used to be positive; a non-positive edge
// being removed can't have contributed capacity or value to begin with.
func (e *Engine) OnTrustRemoved(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue int8) error {
	if !UseLegacyReferenceImplementation {
		if oldValue <= 0 {
			return nil
		}
		return e.recomputeRankAffected(ctx, tx, trustee)
	}
	return e.recomputeAffectedOwners(ctx, tx)
}

// OnIdentityDeleted implements trustgraph.ScoreNotifier. Deleting an
// identity drops every one of its outgoing trust edges at once, not the
// single edge §4.3's incremental steps are defined over, so this stays on
// the full per-owner path regardless of UseLegacyReferenceImplementation.
func (e *Engine) OnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return e.recomputeAffectedOwners(ctx, tx)
}

// OnOwnIdentityDeleted implements trustgraph.ScoreNotifier.
func (e *Engine) OnOwnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	// the trust graph drops the own identity's own scores after this
	// returns; other owners are unaffected since id's outgoing trusts are
	// untouched by losing own-identity status.
	return nil
}

// OnOwnIdentityCreatedOrRestored implements trustgraph.ScoreNotifier.
func (e *Engine) OnOwnIdentityCreatedOrRestored(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error {
	return e.recomputeAffectedOwners(ctx, tx)
}

// recomputeAffectedOwners recomputes every OwnIdentity's scores in full.
// It backs UseLegacyReferenceImplementation and the bulk-change paths
// (identity deletion, own-identity bootstrap) that touch more than the
// single edge §4.3's incremental steps are defined over.
//
// Per §4.4, the Download Policy must see every inserted, updated or
// deleted Score so it can flip shouldFetchIdentity/partition decisions
// within the same transaction, so this diffs the pre- and post-recompute
// score sets per owner and notifies on every change, exactly like
// VerifyAndCorrectStoredScores does for its own (scheduled) full pass.
func (e *Engine) recomputeAffectedOwners(ctx context.Context, tx graphstore.Tx) error {
	owners, err := tx.ListOwnIdentities()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		before, err := tx.ScoresByOwner(owner.ID)
		if err != nil {
			return err
		}
		beforeBySubject := make(map[graphstore.IdentityID]*graphstore.Score, len(before))
		for _, s := range before {
			beforeBySubject[s.SubjectID] = s
		}

		after, err := e.RecomputeAllScores(ctx, tx, owner.ID)
		if err != nil {
			return err
		}

		if e.notifier == nil {
			continue
		}
		for subject, newScore := range after {
			old := beforeBySubject[subject]
			if old == nil || old.Value != newScore.Value || old.Rank != newScore.Rank || old.Capacity != newScore.Capacity {
				if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, subject, old, newScore); err != nil {
					return err
				}
			}
		}
		for subject, old := range beforeBySubject {
			if _, stillPresent := after[subject]; !stillPresent {
				// scenario 2: a subject that lost its only positive-trust
				// path is unreachable, not capacity-0, so its Score is
				// dropped rather than kept with a forced value.
				if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, subject, old, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// recomputeRankAffected implements §4.3 steps 1 and 2 (activation and
// distrust/edge-removal) for every owner: it recomputes only trustee's
// forward closure via RecomputeLocalizedScores instead of every Score the
// owner holds, then diffs and notifies exactly like recomputeAffectedOwners
// does for its own full pass.
func (e *Engine) recomputeRankAffected(ctx context.Context, tx graphstore.Tx, trustee graphstore.IdentityID) error {
	owners, err := tx.ListOwnIdentities()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if owner.ID == trustee {
			continue
		}
		before, err := tx.ScoresByOwner(owner.ID)
		if err != nil {
			return err
		}
		beforeBySubject := make(map[graphstore.IdentityID]*graphstore.Score, len(before))
		for _, s := range before {
			beforeBySubject[s.SubjectID] = s
		}

		after, err := e.RecomputeLocalizedScores(ctx, tx, owner.ID, trustee)
		if err != nil {
			return err
		}

		if e.notifier == nil {
			continue
		}
		for subject, newScore := range after {
			old := beforeBySubject[subject]
			if newScore == nil {
				if old != nil {
					// dropped: scenario 2's direct-trust-non-positive
					// reading (§8) removes the Score entirely rather than
					// keeping a negative-value record.
					if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, subject, old, nil); err != nil {
						return err
					}
				}
				continue
			}
			if old == nil || old.Value != newScore.Value || old.Rank != newScore.Rank || old.Capacity != newScore.Capacity {
				if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, subject, old, newScore); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyPureValueChange implements §4.3 case 3: a trust edge whose sign
// did not change only affects Score(O,trustee).Value for owners that
// already see truster with positive capacity, and never touches rank.
func (e *Engine) applyPureValueChange(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID) error {
	owners, err := tx.ListOwnIdentities()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		trusterScore, err := tx.GetScore(owner.ID, truster)
		if err != nil {
			return err
		}
		if owner.ID == truster {
			trusterScore = &graphstore.Score{OwnerID: owner.ID, SubjectID: truster, Rank: 0, Capacity: 100, Value: 1}
		}
		if trusterScore == nil || trusterScore.Capacity <= 0 {
			continue
		}
		if trusterScore.Rank > 1 && trusterScore.Value < 0 {
			continue
		}

		old, err := tx.GetScore(owner.ID, trustee)
		if err != nil {
			return err
		}
		if old == nil {
			// trustee isn't scored by this owner yet; rank is
			// unaffected by a same-side value change so it stays
			// unreachable.
			continue
		}

		newValue, err := recomputeValueFromTrusters(tx, owner.ID, trustee, old.Rank)
		if err != nil {
			return err
		}
		updated := &graphstore.Score{OwnerID: owner.ID, SubjectID: trustee, Rank: old.Rank, Capacity: old.Capacity, Value: newValue}
		if err := tx.PutScore(updated); err != nil {
			return err
		}
		if e.notifier != nil && newValue != old.Value {
			if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, trustee, old, updated); err != nil {
				return err
			}
		}
	}
	return nil
}

// recomputeValueFromTrusters sums Trust(T,subject).Value*capacity(O,T)/100
// over subject's in-trusters, per §4.3's value formula, given subject's
// already-known rank (used only to decide whether the rank>1 distrust
// cutoff applies to each truster).
func recomputeValueFromTrusters(tx graphstore.Tx, owner, subject graphstore.IdentityID, subjectRank int) (int32, error) {
	trusts, err := tx.TrustsByTrustee(subject)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, tr := range trusts {
		var tScore *graphstore.Score
		if tr.TrusterID == owner {
			tScore = &graphstore.Score{Rank: 0, Capacity: 100, Value: 1}
		} else {
			tScore, err = tx.GetScore(owner, tr.TrusterID)
			if err != nil {
				return 0, err
			}
		}
		if tScore == nil || tScore.Capacity <= 0 {
			continue
		}
		if tScore.Rank > 1 && tScore.Value < 0 {
			continue
		}
		total += saturatingDivideByHundred(int64(tr.Value) * int64(tScore.Capacity))
	}
	return saturateInt32(total), nil
}

func saturatingDivideByHundred(v int64) int64 {
	// truncation toward zero, as / already does for int64 in Go.
	return v / 100
}

func saturateInt32(v int64) int32 {
	const maxInt32 = int64(1<<31 - 1)
	const minInt32 = -maxInt32 - 1
	if v > maxInt32 {
		return int32(maxInt32)
	}
	if v < minInt32 {
		return int32(minInt32)
	}
	return int32(v)
}
