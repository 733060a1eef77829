package graphstore

import (
	"context"
	"sync"

	"github.com/go-wot/wotd/internal/wotlog"
)

// MemStore is an in-memory reference implementation of Store. It backs
// every engine test and is also usable as a throwaway node (no
// persistence across restarts).
type MemStore struct {
	mu  sync.Mutex
	log *wotlog.Logger

	identities   map[IdentityID]*Identity
	trusts       map[trustKey]*Trust
	scores       map[scoreKey]*Score
	editionHints map[hintKey]*EditionHint
}

type trustKey struct{ truster, trustee IdentityID }
type scoreKey struct{ owner, subject IdentityID }
type hintKey struct{ source, subject IdentityID }

func NewMemStore(opts ...Option) *MemStore {
	o := newOptions(opts)
	return &MemStore{
		log:          o.logger,
		identities:   make(map[IdentityID]*Identity),
		trusts:       make(map[trustKey]*Trust),
		scores:       make(map[scoreKey]*Score),
		editionHints: make(map[hintKey]*EditionHint),
	}
}

func (s *MemStore) Close() error { return nil }

// Defragment implements the optional Defragmenter interface; an
// in-memory store has nothing to compact.
func (s *MemStore) Defragment(ctx context.Context) error { return nil }

// WithTx takes the single store-wide write lock for the duration of fn.
// On fn's error the store restores its pre-call snapshot, giving the
// same all-or-nothing guarantee a real transactional backend provides.
func (s *MemStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memSnapshot struct {
	identities   map[IdentityID]*Identity
	trusts       map[trustKey]*Trust
	scores       map[scoreKey]*Score
	editionHints map[hintKey]*EditionHint
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		identities:   make(map[IdentityID]*Identity, len(s.identities)),
		trusts:       make(map[trustKey]*Trust, len(s.trusts)),
		scores:       make(map[scoreKey]*Score, len(s.scores)),
		editionHints: make(map[hintKey]*EditionHint, len(s.editionHints)),
	}
	for k, v := range s.identities {
		snap.identities[k] = v.Clone()
	}
	for k, v := range s.trusts {
		cp := *v
		snap.trusts[k] = &cp
	}
	for k, v := range s.scores {
		cp := *v
		snap.scores[k] = &cp
	}
	for k, v := range s.editionHints {
		cp := *v
		snap.editionHints[k] = &cp
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.identities = snap.identities
	s.trusts = snap.trusts
	s.scores = snap.scores
	s.editionHints = snap.editionHints
}

// memTx is the Tx view over a MemStore under its write lock.
type memTx struct {
	store *MemStore
}

func (t *memTx) GetIdentity(id IdentityID) (*Identity, error) {
	ident, ok := t.store.identities[id]
	if !ok {
		return nil, nil
	}
	return ident.Clone(), nil
}

func (t *memTx) PutIdentity(identity *Identity) error {
	t.store.identities[identity.ID] = identity.Clone()
	return nil
}

func (t *memTx) DeleteIdentity(id IdentityID) error {
	delete(t.store.identities, id)
	return nil
}

func (t *memTx) ListOwnIdentities() ([]*Identity, error) {
	var out []*Identity
	for _, ident := range t.store.identities {
		if ident.IsOwn() {
			out = append(out, ident.Clone())
		}
	}
	return out, nil
}

func (t *memTx) ListIdentities() ([]*Identity, error) {
	out := make([]*Identity, 0, len(t.store.identities))
	for _, ident := range t.store.identities {
		out = append(out, ident.Clone())
	}
	return out, nil
}

func (t *memTx) GetTrust(truster, trustee IdentityID) (*Trust, error) {
	tr, ok := t.store.trusts[trustKey{truster, trustee}]
	if !ok {
		return nil, nil
	}
	cp := *tr
	return &cp, nil
}

func (t *memTx) PutTrust(trust *Trust) error {
	cp := *trust
	t.store.trusts[trustKey{trust.TrusterID, trust.TrusteeID}] = &cp
	return nil
}

func (t *memTx) DeleteTrust(truster, trustee IdentityID) error {
	delete(t.store.trusts, trustKey{truster, trustee})
	return nil
}

func (t *memTx) TrustsByTruster(truster IdentityID) ([]*Trust, error) {
	var out []*Trust
	for k, v := range t.store.trusts {
		if k.truster == truster {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) TrustsByTrustee(trustee IdentityID) ([]*Trust, error) {
	var out []*Trust
	for k, v := range t.store.trusts {
		if k.trustee == trustee {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) GetScore(owner, subject IdentityID) (*Score, error) {
	sc, ok := t.store.scores[scoreKey{owner, subject}]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (t *memTx) PutScore(score *Score) error {
	cp := *score
	t.store.scores[scoreKey{score.OwnerID, score.SubjectID}] = &cp
	return nil
}

func (t *memTx) DeleteScore(owner, subject IdentityID) error {
	delete(t.store.scores, scoreKey{owner, subject})
	return nil
}

func (t *memTx) ScoresByOwner(owner IdentityID) ([]*Score, error) {
	var out []*Score
	for k, v := range t.store.scores {
		if k.owner == owner {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) ScoresBySubject(subject IdentityID) ([]*Score, error) {
	var out []*Score
	for k, v := range t.store.scores {
		if k.subject == subject {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) GetEditionHint(source, subject IdentityID) (*EditionHint, error) {
	h, ok := t.store.editionHints[hintKey{source, subject}]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (t *memTx) PutEditionHint(hint *EditionHint) error {
	cp := *hint
	t.store.editionHints[hintKey{hint.SourceID, hint.SubjectID}] = &cp
	return nil
}

func (t *memTx) DeleteEditionHint(source, subject IdentityID) error {
	delete(t.store.editionHints, hintKey{source, subject})
	return nil
}

func (t *memTx) EditionHintsBySubject(subject IdentityID) ([]*EditionHint, error) {
	var out []*EditionHint
	for k, v := range t.store.editionHints {
		if k.subject == subject {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) DeleteEditionHintsBySubject(subject IdentityID) error {
	for k := range t.store.editionHints {
		if k.subject == subject {
			delete(t.store.editionHints, k)
		}
	}
	return nil
}

func (t *memTx) NextEditionHint() (*EditionHint, error) {
	var best *EditionHint
	for _, v := range t.store.editionHints {
		if best == nil || v.Priority < best.Priority {
			best = v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}
