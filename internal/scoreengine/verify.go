package scoreengine

import (
	"context"
	"fmt"

	"github.com/go-wot/wotd/internal/graphstore"
)

// VerifyAndCorrectStoredScores recomputes every OwnIdentity's scores from
// scratch, diffs the result against what is currently stored, corrects
// any discrepancy, and returns the number of (owner, subject) pairs that
// were wrong. It is the full-verification maintenance task C7 schedules
// at a configurable interval (default 28 days).
func (e *Engine) VerifyAndCorrectStoredScores(ctx context.Context) (int, error) {
	corrections := 0
	err := e.store.WithTx(ctx, func(tx graphstore.Tx) error {
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

			for subject, newScore := range after {
				old := beforeBySubject[subject]
				if old == nil || old.Value != newScore.Value || old.Rank != newScore.Rank || old.Capacity != newScore.Capacity {
					corrections++
					e.log.Warning(fmt.Sprintf("corrected stored score for owner=%s subject=%s", owner.ID, subject))
					if e.notifier != nil {
						if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, subject, old, newScore); err != nil {
							return err
						}
					}
				}
			}
			for subject, old := range beforeBySubject {
				if _, stillPresent := after[subject]; !stillPresent {
					corrections++
					e.log.Warning(fmt.Sprintf("dropped stale stored score for owner=%s subject=%s", owner.ID, subject))
					if e.notifier != nil {
						if err := e.notifier.OnScoreChanged(ctx, tx, owner.ID, subject, old, nil); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	})
	return corrections, err
}

// RankOf answers an authoritative, on-demand rank query for a single
// (owner, subject) pair without touching stored scores, using the same
// bounded search §4.3's distrust case relies on.
func (e *Engine) RankOf(tx graphstore.Tx, owner, subject graphstore.IdentityID) (int, error) {
	cache := newRankCache()
	return ComputeRankFromScratch(tx, owner, subject, cache)
}
