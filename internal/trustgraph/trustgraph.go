// Package trustgraph implements the Trust Graph API (C2): creating and
// mutating identities and trusts, enforcing the boundary validation of
// §4.2/§7, and notifying the score engine of every accepted change.
package trustgraph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/wotlog"
)

// ScoreNotifier is the callback surface the Score Engine (C3) implements
// so C2 can hand off every accepted mutation without importing it
// directly (scoreengine already imports trustgraph's sibling
// graphstore, so the dependency only runs this one way).
type ScoreNotifier interface {
	OnTrustChanged(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue, newValue int8) error
	OnTrustRemoved(ctx context.Context, tx graphstore.Tx, truster, trustee graphstore.IdentityID, oldValue int8) error
	OnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error
	OnOwnIdentityDeleted(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error
	OnOwnIdentityCreatedOrRestored(ctx context.Context, tx graphstore.Tx, id graphstore.IdentityID) error
}

var nicknameRegex = regexp.MustCompile(`^[\p{L}\p{N}]{0,50}$`)

// Graph is the Trust Graph API implementation.

type Graph struct {
	store    graphstore.Store
	notifier ScoreNotifier
	log      *wotlog.Logger
	now      func() time.Time
}

func New(store graphstore.Store, notifier ScoreNotifier, log *wotlog.Logger) *Graph {
	if log == nil {
		log = wotlog.New("trustgraph", wotlog.LevelNormal)
	}
	return &Graph{store: store, notifier: notifier, log: log, now: time.Now}
}

func (g *Graph) checkNickname(nickname string) error {
	if strings.ContainsRune(nickname, '@') {
		return wotlog.NewError(wotlog.KindInvalidParameter, "validateNickname", fmt.Errorf("nickname must not contain '@'"))
	}
	if !nicknameRegex.MatchString(nickname) {
		return wotlog.NewError(wotlog.KindInvalidParameter, "validateNickname", fmt.Errorf("nickname must be <=50 letters/digits"))
	}
	return nil
}

// CreateOwnIdentity implements createOwnIdentity per §4.2. Whether
// requestKey and insertKey actually form a valid keypair is a
// cryptographic fact this layer has no way to check — it never holds
// the private material behind insertKey, only its opaque string form —
// so that half of the "mismatched keys" failure mode is left to
// NetworkClient.insert, which will fail the first publish against a
// requestKey insertKey doesn't own; this layer only rejects the
// boundary case both callers agree is never valid.
func (g *Graph) CreateOwnIdentity(ctx context.Context, id graphstore.IdentityID, requestKey, insertKey, nickname string, publishesTrustList bool) (*graphstore.Identity, error) {
	if err := g.checkNickname(nickname); err != nil {
		return nil, err
	}
	if requestKey == "" || insertKey == "" {
		return nil, wotlog.NewIdentity(wotlog.KindInvalidParameter, "createOwnIdentity", fmt.Errorf("request and insert keys are mismatched"), id.String())
	}

	var created *graphstore.Identity
	err := g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		existing, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return wotlog.NewIdentity(wotlog.KindDuplicateObject, "createOwnIdentity", fmt.Errorf("identity already exists"), id.String())
		}

		now := g.now().UTC()
		created = &graphstore.Identity{
			ID:                 id,
			RequestKey:         requestKey,
			FetchState:         graphstore.FetchStateNotFetched,
			LatestEditionHint:  0,
			Nickname:           nickname,
			PublishesTrustList: publishesTrustList,
			Contexts:           []string{},
			Properties:         map[string]string{},
			CreatedAt:          now,
			LastChangedAt:      now,
			LastFetchedAt:      now,
			Own: &graphstore.OwnData{
				InsertKey: insertKey,
			},
		}
		if err := tx.PutIdentity(created); err != nil {
			return err
		}
		if g.notifier != nil {
			return g.notifier.OnOwnIdentityCreatedOrRestored(ctx, tx, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddIdentityFromURI implements addIdentityFromURI per §4.2: the
// caller-supplied edition is stored only as an advisory hint, never as
// currentEdition.
func (g *Graph) AddIdentityFromURI(ctx context.Context, id graphstore.IdentityID, requestKey string, adviseEdition int64, nickname string) (*graphstore.Identity, error) {
	if nickname != "" {
		if err := g.checkNickname(nickname); err != nil {
			return nil, err
		}
	}

	var out *graphstore.Identity
	err := g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		existing, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			if adviseEdition > existing.LatestEditionHint {
				existing.LatestEditionHint = adviseEdition
				existing.LastChangedAt = g.now().UTC()
				out = existing
				return tx.PutIdentity(existing)
			}
			return nil
		}

		now := g.now().UTC()
		out = &graphstore.Identity{
			ID:                id,
			RequestKey:        requestKey,
			FetchState:        graphstore.FetchStateNotFetched,
			LatestEditionHint: adviseEdition,
			Nickname:          nickname,
			Contexts:          []string{},
			Properties:        map[string]string{},
			CreatedAt:         now,
			LastChangedAt:     now,
			LastFetchedAt:     now,
		}
		return tx.PutIdentity(out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetTrust implements setTrust per §4.2: validates the value range and
// self-trust rule, upserts the Trust record, then runs the §4.3 update.
func (g *Graph) SetTrust(ctx context.Context, truster, trustee graphstore.IdentityID, value int8, comment string) error {
	if value < -100 || value > 100 {
		return wotlog.NewError(wotlog.KindInvalidParameter, "setTrust", fmt.Errorf("trust value %d out of range [-100,100]", value))
	}
	if len(comment) > 256 {
		return wotlog.NewError(wotlog.KindInvalidParameter, "setTrust", fmt.Errorf("comment exceeds 256 characters"))
	}

	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		trusterIdent, err := tx.GetIdentity(truster)
		if err != nil {
			return err
		}
		if trusterIdent == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "setTrust", fmt.Errorf("unknown truster"), truster.String())
		}
		trusteeIdent, err := tx.GetIdentity(trustee)
		if err != nil {
			return err
		}
		if trusteeIdent == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "setTrust", fmt.Errorf("unknown trustee"), trustee.String())
		}

		if truster == trustee && !trusterIdent.IsOwn() {
			return wotlog.NewTrust(wotlog.KindInvalidParameter, "setTrust", fmt.Errorf("self-trust only allowed for own identities"), truster.String(), trustee.String())
		}

		existing, err := tx.GetTrust(truster, trustee)
		if err != nil {
			return err
		}
		var oldValue int8
		if existing != nil {
			oldValue = existing.Value
		}

		if err := tx.PutTrust(&graphstore.Trust{
			TrusterID:               truster,
			TrusteeID:               trustee,
			Value:                   value,
			Comment:                 comment,
			TrusterTrustListEdition: trusterIdent.CurrentEdition,
		}); err != nil {
			return err
		}

		if g.notifier == nil || oldValue == value {
			return nil
		}
		return g.notifier.OnTrustChanged(ctx, tx, truster, trustee, oldValue, value)
	})
}

// RemoveTrust implements removeTrust per §4.2.
func (g *Graph) RemoveTrust(ctx context.Context, truster, trustee graphstore.IdentityID) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		existing, err := tx.GetTrust(truster, trustee)
		if err != nil {
			return err
		}
		if existing == nil {
			return wotlog.NewTrust(wotlog.KindUnknownTrust, "removeTrust", fmt.Errorf("no such trust"), truster.String(), trustee.String())
		}
		if err := tx.DeleteTrust(truster, trustee); err != nil {
			return err
		}
		if g.notifier == nil {
			return nil
		}
		return g.notifier.OnTrustRemoved(ctx, tx, truster, trustee, existing.Value)
	})
}

// OnFetchedAndParsedSuccessfully implements §4.2's contract of the same
// name: it fails if edition <= currentEdition, then advances the
// identity's fetch bookkeeping.
func (g *Graph) OnFetchedAndParsedSuccessfully(ctx context.Context, id graphstore.IdentityID, edition int64) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		ident, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if ident == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "onFetchedAndParsedSuccessfully", fmt.Errorf("unknown identity"), id.String())
		}
		if edition <= ident.CurrentEdition {
			return wotlog.NewIdentity(wotlog.KindInvalidParameter, "onFetchedAndParsedSuccessfully", fmt.Errorf("edition %d <= current %d", edition, ident.CurrentEdition), id.String())
		}

		ident.CurrentEdition = edition
		ident.FetchState = graphstore.FetchStateFetched
		ident.LastFetchedMaybeValidEdition = edition
		if edition > ident.LatestEditionHint {
			ident.LatestEditionHint = edition
		}
		now := g.now().UTC()
		ident.LastChangedAt = now
		ident.LastFetchedAt = now

		if err := tx.PutIdentity(ident); err != nil {
			return err
		}

		// garbage-collect hints for this subject that the new edition
		// has made obsolete (scenario 4 of §8).
		hints, err := tx.EditionHintsBySubject(id)
		if err != nil {
			return err
		}
		for _, h := range hints {
			if h.Edition <= edition {
				if err := tx.DeleteEditionHint(h.SourceID, h.SubjectID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// OnFetchedAndParsingFailed implements §4.2's contract of the same name.
func (g *Graph) OnFetchedAndParsingFailed(ctx context.Context, id graphstore.IdentityID, edition int64) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		ident, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if ident == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "onFetchedAndParsingFailed", fmt.Errorf("unknown identity"), id.String())
		}
		if edition <= ident.CurrentEdition {
			return wotlog.NewIdentity(wotlog.KindInvalidParameter, "onFetchedAndParsingFailed", fmt.Errorf("edition %d <= current %d", edition, ident.CurrentEdition), id.String())
		}
		ident.FetchState = graphstore.FetchStateParsingFailed
		ident.CurrentEdition = edition
		ident.LastChangedAt = g.now().UTC()
		return tx.PutIdentity(ident)
	})
}

// MarkForRefetch implements markForRefetch per §4.2.
func (g *Graph) MarkForRefetch(ctx context.Context, id graphstore.IdentityID) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		ident, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if ident == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "markForRefetch", fmt.Errorf("unknown identity"), id.String())
		}
		ident.CurrentEdition--
		ident.LastFetchedMaybeValidEdition = ident.CurrentEdition
		ident.FetchState = graphstore.FetchStateNotFetched
		return tx.PutIdentity(ident)
	})
}

// DeleteOwnIdentity implements deleteOwnIdentity per §4.2: the identity
// is replaced in place by a plain Identity, preserving id and incoming
// trusts, dropping all outgoing scores.
func (g *Graph) DeleteOwnIdentity(ctx context.Context, id graphstore.IdentityID) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		ident, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if ident == nil || !ident.IsOwn() {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "deleteOwnIdentity", fmt.Errorf("not an own identity"), id.String())
		}

		if g.notifier != nil {
			if err := g.notifier.OnOwnIdentityDeleted(ctx, tx, id); err != nil {
				return err
			}
		}

		ident.Own = nil
		ident.LastChangedAt = g.now().UTC()
		if err := tx.PutIdentity(ident); err != nil {
			return err
		}

		scores, err := tx.ScoresByOwner(id)
		if err != nil {
			return err
		}
		for _, s := range scores {
			if err := tx.DeleteScore(s.OwnerID, s.SubjectID); err != nil {
				return err
			}
		}
		return nil
	})
}

// RestoreOwnIdentity implements restoreOwnIdentity per §4.2: the inverse
// of DeleteOwnIdentity, preserving id and all incoming trusts.
func (g *Graph) RestoreOwnIdentity(ctx context.Context, id graphstore.IdentityID, insertKey string) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		ident, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if ident == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "restoreOwnIdentity", fmt.Errorf("unknown identity"), id.String())
		}
		if ident.IsOwn() {
			return nil
		}
		ident.Own = &graphstore.OwnData{InsertKey: insertKey}
		ident.LastChangedAt = g.now().UTC()
		if err := tx.PutIdentity(ident); err != nil {
			return err
		}

		// A self-trust (I,I,100) appears per scenario 5 of §8.
		if err := tx.PutTrust(&graphstore.Trust{TrusterID: id, TrusteeID: id, Value: 100, TrusterTrustListEdition: ident.CurrentEdition}); err != nil {
			return err
		}

		if g.notifier != nil {
			return g.notifier.OnOwnIdentityCreatedOrRestored(ctx, tx, id)
		}
		return nil
	})
}

// TrustAssertion is one outgoing trust edge from a freshly parsed
// identity document, mirroring transport.TrustAssertion without this
// package depending on the transport package.
type TrustAssertion struct {
	TrusteeID graphstore.IdentityID
	Value     int8
	Comment   string
}

// ApplyParsedTrustList is the shared ingestion path both downloaders
// (C5, C6) use once a document has been fetched and parsed: upsert every
// outgoing trust assertion (adding previously unknown trustees as plain
// Identity records first), then run OnFetchedAndParsedSuccessfully.
func (g *Graph) ApplyParsedTrustList(ctx context.Context, truster graphstore.IdentityID, edition int64, assertions []TrustAssertion) error {
	for _, a := range assertions {
		if err := g.SetTrust(ctx, truster, a.TrusteeID, a.Value, a.Comment); err != nil {
			if !wotlog.IsKind(err, wotlog.KindUnknownIdentity) {
				return err
			}
			if _, addErr := g.AddIdentityFromURI(ctx, a.TrusteeID, "", 0, ""); addErr != nil {
				return addErr
			}
			if err := g.SetTrust(ctx, truster, a.TrusteeID, a.Value, a.Comment); err != nil {
				return err
			}
		}
	}
	return g.OnFetchedAndParsedSuccessfully(ctx, truster, edition)
}

// DeleteIdentity implements deleteIdentity per §4.2.
func (g *Graph) DeleteIdentity(ctx context.Context, id graphstore.IdentityID) error {
	return g.store.WithTx(ctx, func(tx graphstore.Tx) error {
		ident, err := tx.GetIdentity(id)
		if err != nil {
			return err
		}
		if ident == nil {
			return wotlog.NewIdentity(wotlog.KindUnknownIdentity, "deleteIdentity", fmt.Errorf("unknown identity"), id.String())
		}

		if g.notifier != nil {
			if err := g.notifier.OnIdentityDeleted(ctx, tx, id); err != nil {
				return err
			}
		}

		trustsOut, err := tx.TrustsByTruster(id)
		if err != nil {
			return err
		}
		for _, tr := range trustsOut {
			if err := tx.DeleteTrust(tr.TrusterID, tr.TrusteeID); err != nil {
				return err
			}
		}
		trustsIn, err := tx.TrustsByTrustee(id)
		if err != nil {
			return err
		}
		for _, tr := range trustsIn {
			if err := tx.DeleteTrust(tr.TrusterID, tr.TrusteeID); err != nil {
				return err
			}
		}

		scoresOwner, err := tx.ScoresByOwner(id)
		if err != nil {
			return err
		}
		for _, s := range scoresOwner {
			if err := tx.DeleteScore(s.OwnerID, s.SubjectID); err != nil {
				return err
			}
		}
		scoresSubject, err := tx.ScoresBySubject(id)
		if err != nil {
			return err
		}
		for _, s := range scoresSubject {
			if err := tx.DeleteScore(s.OwnerID, s.SubjectID); err != nil {
				return err
			}
		}

		return tx.DeleteIdentity(id)
	})
}
