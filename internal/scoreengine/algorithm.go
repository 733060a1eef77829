package scoreengine

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-wot/wotd/internal/graphstore"
)

// rankCacheSize bounds the per-transaction LRU cache computeRankFromScratch
// shares across successive calls.
const rankCacheSize = 4096

type rankCacheKey struct {
	owner   graphstore.IdentityID
	subject graphstore.IdentityID
}

// newRankCache constructs the opportunistic cache §4.3 describes:
// ranks discovered while answering one computeRankFromScratch call are
// reused by the next one in the same transaction.
func newRankCache() *lru.Cache[rankCacheKey, int] {
	c, err := lru.New[rankCacheKey, int](rankCacheSize)
	if err != nil {
		// rankCacheSize is a positive compile-time constant; New only
		// fails for size <= 0.
		panic(err)
	}
	return c
}

// RecomputeAllScores is the ground-truth algorithm of §4.3: a
// relaxation over the positive trust subgraph rooted at owner,
// converging ranks then values, with the §4.3 distrust cutoff (a
// truster beyond rank 1 with a negative score does not propagate
// capacity). It overwrites every stored Score for owner.
func (e *Engine) RecomputeAllScores(ctx context.Context, tx graphstore.Tx, owner graphstore.IdentityID) (map[graphstore.IdentityID]*graphstore.Score, error) {
	identities, err := tx.ListIdentities()
	if err != nil {
		return nil, err
	}

	ranks := make(map[graphstore.IdentityID]int, len(identities))
	for _, ident := range identities {
		ranks[ident.ID] = graphstore.ScoreRankInfinite
	}
	ranks[owner] = 0

	values := make(map[graphstore.IdentityID]int32, len(identities))

	// Phase 1: relax ranks to a fixed point. Bounded by len(identities)
	// iterations, the standard Bellman-Ford bound for shortest paths in
	// a graph with no negative cycles (rank only ever decreases here).
	for pass := 0; pass < len(identities)+1; pass++ {
		changed := false
		for _, ident := range identities {
			truster := ident.ID
			tRank := ranks[truster]
			if truster != owner && tRank == graphstore.ScoreRankInfinite {
				continue
			}
			tCapacity := graphstore.CapacityForRank(tRank)
			if truster == owner {
				tCapacity = 100
			}
			if tCapacity <= 0 {
				continue
			}
			tValue := values[truster]
			if truster == owner {
				tValue = 1
			}
			if tRank > 1 && tValue < 0 {
				continue
			}

			outgoing, err := tx.TrustsByTruster(truster)
			if err != nil {
				return nil, err
			}
			for _, tr := range outgoing {
				if tr.Value <= 0 {
					continue
				}
				candidate := tRank + 1
				if ranks[tr.TrusteeID] == graphstore.ScoreRankInfinite || candidate < ranks[tr.TrusteeID] {
					ranks[tr.TrusteeID] = candidate
					changed = true
				}
			}
		}

		// recompute values for the just-updated rank assignment so the
		// next rank pass sees up to date distrust-cutoff decisions.
		for _, ident := range identities {
			if ident.ID == owner || ranks[ident.ID] == graphstore.ScoreRankInfinite {
				continue
			}
			v, err := recomputeValueFromTrustersWithRanks(tx, owner, ident.ID, ranks, values)
			if err != nil {
				return nil, err
			}
			values[ident.ID] = v
		}

		if !changed {
			break
		}
	}

	// result only ever holds the subjects that actually end up with a
	// persisted Score (finite rank): callers (VerifyAndCorrectStoredScores,
	// Engine.recomputeAffectedOwners) diff this map against what was
	// stored before to decide which (owner,subject) pairs to notify, and
	// an unreachable identity that was never scored before and still
	// isn't now must not look like a "new" or "changed" score.
	result := make(map[graphstore.IdentityID]*graphstore.Score, len(identities))
	for _, ident := range identities {
		if ident.ID == owner {
			continue
		}
		rank := ranks[ident.ID]
		if rank == graphstore.ScoreRankInfinite {
			continue
		}
		capacity := graphstore.CapacityForRank(rank)
		score := &graphstore.Score{
			OwnerID:   owner,
			SubjectID: ident.ID,
			Rank:      rank,
			Capacity:  capacity,
			Value:     values[ident.ID],
		}
		result[ident.ID] = score
	}

	existing, err := tx.ScoresByOwner(owner)
	if err != nil {
		return nil, err
	}
	for _, old := range existing {
		if err := tx.DeleteScore(owner, old.SubjectID); err != nil {
			return nil, err
		}
	}
	for _, score := range result {
		if err := tx.PutScore(score); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// recomputeValueFromTrustersWithRanks is the in-memory twin of
// recomputeValueFromTrusters used while a full recompute's rank/value
// maps are still being relaxed, rather than reading persisted scores.
func recomputeValueFromTrustersWithRanks(tx graphstore.Tx, owner, subject graphstore.IdentityID, ranks map[graphstore.IdentityID]int, values map[graphstore.IdentityID]int32) (int32, error) {
	trusts, err := tx.TrustsByTrustee(subject)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, tr := range trusts {
		truster := tr.TrusterID
		tRank, ok := ranks[truster]
		if !ok || (truster != owner && tRank == graphstore.ScoreRankInfinite) {
			continue
		}
		tCapacity := graphstore.CapacityForRank(tRank)
		if truster == owner {
			tCapacity = 100
		}
		if tCapacity <= 0 {
			continue
		}
		tValue := values[truster]
		if truster == owner {
			tValue = 1
		}
		if tRank > 1 && tValue < 0 {
			continue
		}
		total += int64(tr.Value) * int64(tCapacity) / 100
	}
	return saturateInt32(total), nil
}

// ComputeRankFromScratch answers "what is subject's rank from owner's
// point of view, ignoring whatever is currently stored?" via a bounded
// search over the positive trust subgraph. It is the primitive §4.3's
// distrust (edge-deactivation) case uses to re-derive ranks for the
// subtree that lost its shortest path, and opportunistically populates
// cache with every intermediate rank it discovers so a second call in
// the same transaction can short-circuit.
func ComputeRankFromScratch(tx graphstore.Tx, owner, subject graphstore.IdentityID, cache *lru.Cache[rankCacheKey, int]) (int, error) {
	if owner == subject {
		return 0, nil
	}
	if cache != nil {
		if rank, ok := cache.Get(rankCacheKey{owner, subject}); ok {
			return rank, nil
		}
	}

	type frontierNode struct {
		id    graphstore.IdentityID
		rank  int
		value int32
	}

	visited := map[graphstore.IdentityID]int{owner: 0}
	queue := []frontierNode{{id: owner, rank: 0, value: 1}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cache != nil {
			cache.Add(rankCacheKey{owner, cur.id}, cur.rank)
		}
		if cur.id == subject {
			return cur.rank, nil
		}

		capacity := 100
		if cur.id != owner {
			capacity = graphstore.CapacityForRank(cur.rank)
		}
		if capacity <= 0 {
			continue
		}
		if cur.rank > 1 && cur.value < 0 {
			continue
		}

		outgoing, err := tx.TrustsByTruster(cur.id)
		if err != nil {
			return graphstore.ScoreRankInfinite, err
		}
		for _, tr := range outgoing {
			if tr.Value <= 0 {
				continue
			}
			candidateRank := cur.rank + 1
			if existingRank, ok := visited[tr.TrusteeID]; ok && existingRank <= candidateRank {
				continue
			}
			visited[tr.TrusteeID] = candidateRank
			v, err := recomputeValueFromTrusters(tx, owner, tr.TrusteeID, candidateRank)
			if err != nil {
				return graphstore.ScoreRankInfinite, err
			}
			queue = append(queue, frontierNode{id: tr.TrusteeID, rank: candidateRank, value: v})
		}
	}

	if cache != nil {
		cache.Add(rankCacheKey{owner, subject}, graphstore.ScoreRankInfinite)
	}
	return graphstore.ScoreRankInfinite, nil
}

// forwardClosureOrder returns subject followed by every identity reachable
// from it via positive-trust edges, in BFS order. A single Trust edit only
// ever touches one identity's set of in-trusters, so this closure — the
// full set of identities that could possibly sit downstream of subject —
// bounds exactly which Scores a localized recompute needs to touch: an
// identity outside it cannot have had its shortest positive-trust path run
// through subject's changed edge.
func forwardClosureOrder(tx graphstore.Tx, subject graphstore.IdentityID) ([]graphstore.IdentityID, error) {
	visited := map[graphstore.IdentityID]struct{}{subject: {}}
	order := []graphstore.IdentityID{subject}
	queue := []graphstore.IdentityID{subject}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		outgoing, err := tx.TrustsByTruster(cur)
		if err != nil {
			return nil, err
		}
		for _, tr := range outgoing {
			if tr.Value <= 0 {
				continue
			}
			if _, ok := visited[tr.TrusteeID]; ok {
				continue
			}
			visited[tr.TrusteeID] = struct{}{}
			order = append(order, tr.TrusteeID)
			queue = append(queue, tr.TrusteeID)
		}
	}
	return order, nil
}

// RecomputeLocalizedScores implements §4.3 steps 1 and 2 — edge activation
// and distrust/edge-removal — for a single owner: it recomputes rank,
// capacity and value for subject's forward closure only, via repeated
// ComputeRankFromScratch calls, and leaves every Score outside that
// closure untouched.
//
// Each round recomputes every closure member against the scores left by
// the previous round (nothing is written to tx until the round finishes),
// exactly like recomputeAllScores's own pass structure, so a round's
// ComputeRankFromScratch calls never see a half-updated closure; ranks
// only settle once a round makes no change, which — since the positive
// subgraph is finite and ranks monotonically converge — happens within
// len(closure)+1 rounds. Within a round the closure's members share one
// LRU cache, the opportunistic reuse §4.3 step 2b describes; the cache is
// discarded between rounds since it was only ever valid against that
// round's (now-stale) snapshot.
//
// The returned map has one entry per closure member, nil for one that
// ends up unreachable, so callers can tell "still nonexistent" apart from
// "just dropped" when diffing against what was stored before.
func (e *Engine) RecomputeLocalizedScores(ctx context.Context, tx graphstore.Tx, owner, subject graphstore.IdentityID) (map[graphstore.IdentityID]*graphstore.Score, error) {
	order, err := forwardClosureOrder(tx, subject)
	if err != nil {
		return nil, err
	}

	type pendingScore struct {
		rank  int
		value int32
	}

	for round := 0; round < len(order)+1; round++ {
		cache := newRankCache()
		pending := make(map[graphstore.IdentityID]pendingScore, len(order))
		changed := false

		for _, id := range order {
			if id == owner {
				continue
			}
			rank, err := ComputeRankFromScratch(tx, owner, id, cache)
			if err != nil {
				return nil, err
			}
			old, err := tx.GetScore(owner, id)
			if err != nil {
				return nil, err
			}
			if rank == graphstore.ScoreRankInfinite {
				if old != nil {
					changed = true
				}
				continue
			}
			value, err := recomputeValueFromTrusters(tx, owner, id, rank)
			if err != nil {
				return nil, err
			}
			if old == nil || old.Rank != rank || old.Value != value {
				changed = true
			}
			pending[id] = pendingScore{rank: rank, value: value}
		}

		for _, id := range order {
			if id == owner {
				continue
			}
			upd, ok := pending[id]
			if !ok {
				if err := tx.DeleteScore(owner, id); err != nil {
					return nil, err
				}
				continue
			}
			score := &graphstore.Score{
				OwnerID:   owner,
				SubjectID: id,
				Rank:      upd.rank,
				Capacity:  graphstore.CapacityForRank(upd.rank),
				Value:     upd.value,
			}
			if err := tx.PutScore(score); err != nil {
				return nil, err
			}
		}

		if !changed {
			break
		}
	}

	result := make(map[graphstore.IdentityID]*graphstore.Score, len(order))
	for _, id := range order {
		if id == owner {
			continue
		}
		score, err := tx.GetScore(owner, id)
		if err != nil {
			return nil, err
		}
		result[id] = score
	}
	return result, nil
}
