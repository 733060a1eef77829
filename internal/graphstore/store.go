package graphstore

import (
	"context"

	"github.com/go-wot/wotd/internal/wotlog"
)

// Tx is the set of operations available inside a single logical-event
// transaction. All Trust/Score/EditionHint mutations belonging to one
// event (a setTrust call, a fetch callback, ...) must go through the same
// Tx; aborting it leaves the store in its pre-event state.
type Tx interface {
	GetIdentity(id IdentityID) (*Identity, error)
	PutIdentity(identity *Identity) error
	DeleteIdentity(id IdentityID) error
	ListOwnIdentities() ([]*Identity, error)
	ListIdentities() ([]*Identity, error)

	GetTrust(truster, trustee IdentityID) (*Trust, error)
	PutTrust(trust *Trust) error
	DeleteTrust(truster, trustee IdentityID) error
	TrustsByTruster(truster IdentityID) ([]*Trust, error)
	TrustsByTrustee(trustee IdentityID) ([]*Trust, error)

	GetScore(owner, subject IdentityID) (*Score, error)
	PutScore(score *Score) error
	DeleteScore(owner, subject IdentityID) error
	ScoresByOwner(owner IdentityID) ([]*Score, error)
	ScoresBySubject(subject IdentityID) ([]*Score, error)

	GetEditionHint(source, subject IdentityID) (*EditionHint, error)
	PutEditionHint(hint *EditionHint) error
	DeleteEditionHint(source, subject IdentityID) error
	EditionHintsBySubject(subject IdentityID) ([]*EditionHint, error)
	// NextEditionHint returns the single highest-priority hint in the
	// queue, or nil if empty — served by the priority index with no
	// in-memory sort.
	NextEditionHint() (*EditionHint, error)
	DeleteEditionHintsBySubject(subject IdentityID) error
}

// Store is the Graph Store (C1): an indexed, transactional object store
// with single-writer, multi-reader semantics.
type Store interface {
	// WithTx runs fn inside a single write transaction. fn's error aborts
	// and rolls back the transaction; a nil return commits.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Defragmenter is implemented by Store backends that support
// compaction/vacuum. The Maintenance Scheduler (C7) type-asserts for it
// before running its periodic defragmentation job (§4.7); backends that
// don't implement it (none currently) are simply skipped.
type Defragmenter interface {
	Defragment(ctx context.Context) error
}

// Option configures a Store constructor.
type Option func(*options)

type options struct {
	logger *wotlog.Logger
}

func WithLogger(l *wotlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) *options {
	o := &options{logger: wotlog.New("graphstore", wotlog.LevelNormal)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
