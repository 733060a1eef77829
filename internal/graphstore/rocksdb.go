//go:build rocksdb

package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linxGnu/grocksdb"

	"github.com/go-wot/wotd/internal/wotlog"
)

// Column families, one per §4.1 index plus the primary tables.
const (
	cfIdentities       = "identities"
	cfTrusts           = "trusts"
	cfTrustsByTruster  = "trusts_by_truster"
	cfTrustsByTrustee  = "trusts_by_trustee"
	cfScores           = "scores"
	cfScoresByOwner    = "scores_by_owner"
	cfScoresBySubject  = "scores_by_subject"
	cfEditionHints     = "edition_hints"
	cfHintsBySubject   = "edition_hints_by_subject"
	cfHintsByPriority  = "edition_hints_by_priority"
)

var rocksdbColumnFamilies = []string{
	cfIdentities, cfTrusts, cfTrustsByTruster, cfTrustsByTrustee,
	cfScores, cfScoresByOwner, cfScoresBySubject,
	cfEditionHints, cfHintsBySubject, cfHintsByPriority,
}

// RocksDBStore is the build-tag-gated alternate Graph Store backend, one
// column family per index named in §4.1.
type RocksDBStore struct {
	db   *grocksdb.DB
	opts *grocksdb.Options
	cfs  map[string]*grocksdb.ColumnFamilyHandle

	readOpts  *grocksdb.ReadOptions
	writeOpts *grocksdb.WriteOptions

	mu  sync.Mutex // single-writer discipline: one WithTx at a time
	log *wotlog.Logger
}

func NewRocksDBStore(cfg *RocksDBConfig, opts ...Option) (*RocksDBStore, error) {
	o := newOptions(opts)

	dbOpts := grocksdb.NewDefaultOptions()
	dbOpts.SetCreateIfMissing(true)
	dbOpts.SetCreateIfMissingColumnFamilies(true)

	blockCache := grocksdb.NewLRUCache(uint64(cfg.BlockCacheSizeMB) * 1024 * 1024)
	blockOpts := grocksdb.NewDefaultBlockBasedTableOptions()
	blockOpts.SetBlockCache(blockCache)
	if cfg.BloomFilterBitsPerKey > 0 {
		blockOpts.SetFilterPolicy(grocksdb.NewBloomFilter(cfg.BloomFilterBitsPerKey))
	}
	dbOpts.SetBlockBasedTableFactory(blockOpts)

	cfOpts := make([]*grocksdb.Options, len(rocksdbColumnFamilies))
	for i := range cfOpts {
		cfOpts[i] = grocksdb.NewDefaultOptions()
	}

	db, handles, err := grocksdb.OpenDbColumnFamilies(dbOpts, cfg.Path, rocksdbColumnFamilies, cfOpts)
	if err != nil {
		return nil, fmt.Errorf("open rocksdb %q: %w", cfg.Path, err)
	}

	cfs := make(map[string]*grocksdb.ColumnFamilyHandle, len(rocksdbColumnFamilies))
	for i, name := range rocksdbColumnFamilies {
		cfs[name] = handles[i]
	}

	return &RocksDBStore{
		db:        db,
		opts:      dbOpts,
		cfs:       cfs,
		readOpts:  grocksdb.NewDefaultReadOptions(),
		writeOpts: grocksdb.NewDefaultWriteOptions(),
		log:       o.logger,
	}, nil
}

func (s *RocksDBStore) Close() error {
	s.db.Close()
	return nil
}

// Defragment implements the optional Defragmenter interface the
// Maintenance Scheduler (C7) drives every 7 days per §4.7, compacting
// every column family.
func (s *RocksDBStore) Defragment(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cf := range s.cfs {
		s.db.CompactRangeCF(cf, grocksdb.Range{})
	}
	return nil
}

// WithTx serialises all writers behind a single mutex and buffers the
// logical event's mutations in one grocksdb.WriteBatch, applied
// atomically on commit. This gives the same "all mutations for one
// logical event share one transaction" guarantee §4.1 requires, without
// requiring grocksdb's pessimistic TransactionDB.
func (s *RocksDBStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()

	tx := &rocksdbTx{store: s, batch: batch, ctx: ctx}
	if err := fn(tx); err != nil {
		return err
	}
	return s.db.Write(s.writeOpts, batch)
}

type rocksdbTx struct {
	store *RocksDBStore
	batch *grocksdb.WriteBatch
	ctx   context.Context
}

func (t *rocksdbTx) cf(name string) *grocksdb.ColumnFamilyHandle {
	return t.store.cfs[name]
}

func (t *rocksdbTx) getCF(cfName, key string) ([]byte, error) {
	slice, err := t.store.db.GetCF(t.store.readOpts, t.cf(cfName), []byte(key))
	if err != nil {
		return nil, err
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, nil
	}
	out := make([]byte, len(slice.Data()))
	copy(out, slice.Data())
	return out, nil
}

func (t *rocksdbTx) GetIdentity(id IdentityID) (*Identity, error) {
	raw, err := t.getCF(cfIdentities, id.String())
	if err != nil || raw == nil {
		return nil, err
	}
	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", id, err)
	}
	return &ident, nil
}

func (t *rocksdbTx) PutIdentity(identity *Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	t.batch.PutCF(t.cf(cfIdentities), []byte(identity.ID.String()), raw)
	return nil
}

func (t *rocksdbTx) DeleteIdentity(id IdentityID) error {
	t.batch.DeleteCF(t.cf(cfIdentities), []byte(id.String()))
	return nil
}

func (t *rocksdbTx) scanCF(cfName string) ([][]byte, error) {
	it := t.store.db.NewIteratorCF(t.store.readOpts, t.cf(cfName))
	defer it.Close()
	var out [][]byte
	for it.SeekToFirst(); it.Valid(); it.Next() {
		v := it.Value()
		cp := make([]byte, len(v.Data()))
		copy(cp, v.Data())
		out = append(out, cp)
		v.Free()
	}
	return out, it.Err()
}

func (t *rocksdbTx) ListIdentities() ([]*Identity, error) {
	raws, err := t.scanCF(cfIdentities)
	if err != nil {
		return nil, err
	}
	out := make([]*Identity, 0, len(raws))
	for _, raw := range raws {
		var ident Identity
		if err := json.Unmarshal(raw, &ident); err != nil {
			return nil, err
		}
		out = append(out, &ident)
	}
	return out, nil
}

func (t *rocksdbTx) ListOwnIdentities() ([]*Identity, error) {
	all, err := t.ListIdentities()
	if err != nil {
		return nil, err
	}
	var out []*Identity
	for _, ident := range all {
		if ident.IsOwn() {
			out = append(out, ident)
		}
	}
	return out, nil
}

func trustPrimaryKey(truster, trustee IdentityID) string {
	return truster.String() + "\x00" + trustee.String()
}

func (t *rocksdbTx) GetTrust(truster, trustee IdentityID) (*Trust, error) {
	raw, err := t.getCF(cfTrusts, trustPrimaryKey(truster, trustee))
	if err != nil || raw == nil {
		return nil, err
	}
	var tr Trust
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *rocksdbTx) PutTrust(trust *Trust) error {
	raw, err := json.Marshal(trust)
	if err != nil {
		return err
	}
	key := trustPrimaryKey(trust.TrusterID, trust.TrusteeID)
	t.batch.PutCF(t.cf(cfTrusts), []byte(key), raw)
	t.batch.PutCF(t.cf(cfTrustsByTruster), []byte(trust.TrusterID.String()+"\x00"+trust.TrusteeID.String()), []byte(key))
	t.batch.PutCF(t.cf(cfTrustsByTrustee), []byte(trust.TrusteeID.String()+"\x00"+trust.TrusterID.String()), []byte(key))
	return nil
}

func (t *rocksdbTx) DeleteTrust(truster, trustee IdentityID) error {
	key := trustPrimaryKey(truster, trustee)
	t.batch.DeleteCF(t.cf(cfTrusts), []byte(key))
	t.batch.DeleteCF(t.cf(cfTrustsByTruster), []byte(truster.String()+"\x00"+trustee.String()))
	t.batch.DeleteCF(t.cf(cfTrustsByTrustee), []byte(trustee.String()+"\x00"+truster.String()))
	return nil
}

func (t *rocksdbTx) trustsByIndexPrefix(cfName string, prefix string) ([]*Trust, error) {
	it := t.store.db.NewIteratorCF(t.store.readOpts, t.cf(cfName))
	defer it.Close()
	var out []*Trust
	pb := []byte(prefix)
	for it.Seek(pb); it.Valid(); it.Next() {
		k := it.Key()
		if len(k.Data()) < len(pb) || string(k.Data()[:len(pb)]) != prefix {
			k.Free()
			break
		}
		k.Free()
		v := it.Value()
		primaryKey := make([]byte, len(v.Data()))
		copy(primaryKey, v.Data())
		v.Free()

		raw, err := t.getCF(cfTrusts, string(primaryKey))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var tr Trust
		if err := json.Unmarshal(raw, &tr); err != nil {
			return nil, err
		}
		out = append(out, &tr)
	}
	return out, it.Err()
}

func (t *rocksdbTx) TrustsByTruster(truster IdentityID) ([]*Trust, error) {
	return t.trustsByIndexPrefix(cfTrustsByTruster, truster.String()+"\x00")
}

func (t *rocksdbTx) TrustsByTrustee(trustee IdentityID) ([]*Trust, error) {
	return t.trustsByIndexPrefix(cfTrustsByTrustee, trustee.String()+"\x00")
}

func scoreKeyStr(owner, subject IdentityID) string {
	return owner.String() + "\x00" + subject.String()
}

func (t *rocksdbTx) GetScore(owner, subject IdentityID) (*Score, error) {
	raw, err := t.getCF(cfScores, scoreKeyStr(owner, subject))
	if err != nil || raw == nil {
		return nil, err
	}
	var sc Score
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (t *rocksdbTx) PutScore(score *Score) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return err
	}
	key := scoreKeyStr(score.OwnerID, score.SubjectID)
	t.batch.PutCF(t.cf(cfScores), []byte(key), raw)
	t.batch.PutCF(t.cf(cfScoresByOwner), []byte(score.OwnerID.String()+"\x00"+score.SubjectID.String()), []byte(key))
	t.batch.PutCF(t.cf(cfScoresBySubject), []byte(score.SubjectID.String()+"\x00"+score.OwnerID.String()), []byte(key))
	return nil
}

func (t *rocksdbTx) DeleteScore(owner, subject IdentityID) error {
	key := scoreKeyStr(owner, subject)
	t.batch.DeleteCF(t.cf(cfScores), []byte(key))
	t.batch.DeleteCF(t.cf(cfScoresByOwner), []byte(owner.String()+"\x00"+subject.String()))
	t.batch.DeleteCF(t.cf(cfScoresBySubject), []byte(subject.String()+"\x00"+owner.String()))
	return nil
}

func (t *rocksdbTx) scoresByIndexPrefix(cfName, prefix string) ([]*Score, error) {
	it := t.store.db.NewIteratorCF(t.store.readOpts, t.cf(cfName))
	defer it.Close()
	var out []*Score
	pb := []byte(prefix)
	for it.Seek(pb); it.Valid(); it.Next() {
		k := it.Key()
		if len(k.Data()) < len(pb) || string(k.Data()[:len(pb)]) != prefix {
			k.Free()
			break
		}
		k.Free()
		v := it.Value()
		primaryKey := make([]byte, len(v.Data()))
		copy(primaryKey, v.Data())
		v.Free()

		raw, err := t.getCF(cfScores, string(primaryKey))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var sc Score
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, it.Err()
}

func (t *rocksdbTx) ScoresByOwner(owner IdentityID) ([]*Score, error) {
	return t.scoresByIndexPrefix(cfScoresByOwner, owner.String()+"\x00")
}

func (t *rocksdbTx) ScoresBySubject(subject IdentityID) ([]*Score, error) {
	return t.scoresByIndexPrefix(cfScoresBySubject, subject.String()+"\x00")
}

func hintKeyStr(source, subject IdentityID) string {
	return source.String() + "\x00" + subject.String()
}

func (t *rocksdbTx) GetEditionHint(source, subject IdentityID) (*EditionHint, error) {
	raw, err := t.getCF(cfEditionHints, hintKeyStr(source, subject))
	if err != nil || raw == nil {
		return nil, err
	}
	var h EditionHint
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *rocksdbTx) PutEditionHint(hint *EditionHint) error {
	raw, err := json.Marshal(hint)
	if err != nil {
		return err
	}
	key := hintKeyStr(hint.SourceID, hint.SubjectID)
	t.batch.PutCF(t.cf(cfEditionHints), []byte(key), raw)
	t.batch.PutCF(t.cf(cfHintsBySubject), []byte(hint.SubjectID.String()+"\x00"+hint.SourceID.String()), []byte(key))
	t.batch.PutCF(t.cf(cfHintsByPriority), []byte(hint.Priority+"\x00"+key), []byte(key))
	return nil
}

func (t *rocksdbTx) DeleteEditionHint(source, subject IdentityID) error {
	existing, err := t.GetEditionHint(source, subject)
	if err != nil {
		return err
	}
	key := hintKeyStr(source, subject)
	t.batch.DeleteCF(t.cf(cfEditionHints), []byte(key))
	t.batch.DeleteCF(t.cf(cfHintsBySubject), []byte(subject.String()+"\x00"+source.String()))
	if existing != nil {
		t.batch.DeleteCF(t.cf(cfHintsByPriority), []byte(existing.Priority+"\x00"+key))
	}
	return nil
}

func (t *rocksdbTx) EditionHintsBySubject(subject IdentityID) ([]*EditionHint, error) {
	it := t.store.db.NewIteratorCF(t.store.readOpts, t.cf(cfHintsBySubject))
	defer it.Close()
	prefix := []byte(subject.String() + "\x00")
	var out []*EditionHint
	for it.Seek(prefix); it.Valid(); it.Next() {
		k := it.Key()
		if len(k.Data()) < len(prefix) || string(k.Data()[:len(prefix)]) != string(prefix) {
			k.Free()
			break
		}
		k.Free()
		v := it.Value()
		primaryKey := make([]byte, len(v.Data()))
		copy(primaryKey, v.Data())
		v.Free()

		raw, err := t.getCF(cfEditionHints, string(primaryKey))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var h EditionHint
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, it.Err()
}

func (t *rocksdbTx) DeleteEditionHintsBySubject(subject IdentityID) error {
	hints, err := t.EditionHintsBySubject(subject)
	if err != nil {
		return err
	}
	for _, h := range hints {
		if err := t.DeleteEditionHint(h.SourceID, h.SubjectID); err != nil {
			return err
		}
	}
	return nil
}

// NextEditionHint relies on the priority CF's natural byte-order
// iteration: the fixed-width key of §4.6 makes the first key the
// highest-priority hint.
func (t *rocksdbTx) NextEditionHint() (*EditionHint, error) {
	it := t.store.db.NewIteratorCF(t.store.readOpts, t.cf(cfHintsByPriority))
	defer it.Close()
	it.SeekToFirst()
	if !it.Valid() {
		return nil, it.Err()
	}
	v := it.Value()
	primaryKey := make([]byte, len(v.Data()))
	copy(primaryKey, v.Data())
	v.Free()

	raw, err := t.getCF(cfEditionHints, string(primaryKey))
	if err != nil || raw == nil {
		return nil, err
	}
	var h EditionHint
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
