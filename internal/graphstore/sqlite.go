package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/go-wot/wotd/internal/wotlog"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	request_key TEXT NOT NULL,
	current_edition INTEGER NOT NULL,
	last_fetched_maybe_valid_edition INTEGER NOT NULL,
	fetch_state INTEGER NOT NULL,
	latest_edition_hint INTEGER NOT NULL,
	nickname TEXT NOT NULL,
	publishes_trust_list INTEGER NOT NULL,
	contexts TEXT NOT NULL,
	properties TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_changed_at TEXT NOT NULL,
	last_fetched_at TEXT NOT NULL,
	own_insert_key TEXT,
	own_last_inserted_edition INTEGER
);

CREATE TABLE IF NOT EXISTS trusts (
	truster_id TEXT NOT NULL,
	trustee_id TEXT NOT NULL,
	value INTEGER NOT NULL,
	comment TEXT NOT NULL,
	truster_trust_list_edition INTEGER NOT NULL,
	PRIMARY KEY (truster_id, trustee_id)
);
CREATE INDEX IF NOT EXISTS idx_trusts_truster ON trusts(truster_id);
CREATE INDEX IF NOT EXISTS idx_trusts_trustee ON trusts(trustee_id);

CREATE TABLE IF NOT EXISTS scores (
	owner_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	value INTEGER NOT NULL,
	rank INTEGER NOT NULL,
	capacity INTEGER NOT NULL,
	PRIMARY KEY (owner_id, subject_id)
);
CREATE INDEX IF NOT EXISTS idx_scores_owner ON scores(owner_id);
CREATE INDEX IF NOT EXISTS idx_scores_subject ON scores(subject_id);

CREATE TABLE IF NOT EXISTS edition_hints (
	source_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	edition INTEGER NOT NULL,
	date TEXT NOT NULL,
	source_capacity INTEGER NOT NULL,
	source_score_sign INTEGER NOT NULL,
	priority TEXT NOT NULL,
	PRIMARY KEY (source_id, subject_id)
);
CREATE INDEX IF NOT EXISTS idx_hints_subject ON edition_hints(subject_id);
CREATE INDEX IF NOT EXISTS idx_hints_priority ON edition_hints(priority);
`

// SQLiteStore is the default Graph Store backend: modernc.org/sqlite, no
// build tag required.
type SQLiteStore struct {
	db  *sql.DB
	log *wotlog.Logger
}

func NewSQLiteStore(cfg *SQLiteConfig, opts ...Option) (*SQLiteStore, error) {
	o := newOptions(opts)

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline enforced at the connection level

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, log: o.logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Defragment implements the optional Defragmenter interface the
// Maintenance Scheduler (C7) drives every 7 days per §4.7.
func (s *SQLiteStore) Defragment(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// WithTx retries on SQLITE_BUSY (transaction conflict) using the bounded
// backoff schedule of §7.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= len(TransactionConflictBackoff); attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return err
		}
		lastErr = err
		if attempt < len(TransactionConflictBackoff) {
			select {
			case <-time.After(TransactionConflictBackoff[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("transaction conflict exhausted retries: %w", lastErr)
}

func isBusyErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "busy")
}

func (s *SQLiteStore) runTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := &sqliteTx{tx: sqlTx, ctx: ctx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type sqliteTx struct {
	tx  *sql.Tx
	ctx context.Context
}

func (t *sqliteTx) GetIdentity(id IdentityID) (*Identity, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT id, request_key, current_edition, last_fetched_maybe_valid_edition,
		fetch_state, latest_edition_hint, nickname, publishes_trust_list, contexts, properties,
		created_at, last_changed_at, last_fetched_at, own_insert_key, own_last_inserted_edition
		FROM identities WHERE id = ?`, id.String())
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		idStr                       string
		requestKey, nickname        string
		currentEdition              int64
		lastFetchedMaybeValid       int64
		fetchState                  int
		latestEditionHint           int64
		publishesTrustList          int
		contextsJSON, propertiesJSON string
		createdAt, lastChangedAt, lastFetchedAt string
		ownInsertKey                sql.NullString
		ownLastInsertedEdition       sql.NullInt64
	)
	err := row.Scan(&idStr, &requestKey, &currentEdition, &lastFetchedMaybeValid, &fetchState,
		&latestEditionHint, &nickname, &publishesTrustList, &contextsJSON, &propertiesJSON,
		&createdAt, &lastChangedAt, &lastFetchedAt, &ownInsertKey, &ownLastInsertedEdition)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id, err := ParseIdentityID(idStr)
	if err != nil {
		return nil, err
	}
	var contexts []string
	if err := json.Unmarshal([]byte(contextsJSON), &contexts); err != nil {
		return nil, fmt.Errorf("decode contexts: %w", err)
	}
	properties := make(map[string]string)
	if err := json.Unmarshal([]byte(propertiesJSON), &properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}

	ident := &Identity{
		ID:                            id,
		RequestKey:                    requestKey,
		CurrentEdition:                currentEdition,
		LastFetchedMaybeValidEdition:  lastFetchedMaybeValid,
		FetchState:                    FetchState(fetchState),
		LatestEditionHint:             latestEditionHint,
		Nickname:                      nickname,
		PublishesTrustList:            publishesTrustList != 0,
		Contexts:                      contexts,
		Properties:                    properties,
		CreatedAt:                     parseRFC3339(createdAt),
		LastChangedAt:                 parseRFC3339(lastChangedAt),
		LastFetchedAt:                 parseRFC3339(lastFetchedAt),
	}
	if ownInsertKey.Valid {
		ident.Own = &OwnData{
			InsertKey:           ownInsertKey.String,
			LastInsertedEdition: ownLastInsertedEdition.Int64,
		}
	}
	return ident, nil
}

func parseRFC3339(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (t *sqliteTx) PutIdentity(identity *Identity) error {
	contextsJSON, err := json.Marshal(identity.Contexts)
	if err != nil {
		return err
	}
	propertiesJSON, err := json.Marshal(identity.Properties)
	if err != nil {
		return err
	}
	var ownInsertKey sql.NullString
	var ownLastInsertedEdition sql.NullInt64
	if identity.Own != nil {
		ownInsertKey = sql.NullString{String: identity.Own.InsertKey, Valid: true}
		ownLastInsertedEdition = sql.NullInt64{Int64: identity.Own.LastInsertedEdition, Valid: true}
	}

	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO identities
		(id, request_key, current_edition, last_fetched_maybe_valid_edition, fetch_state,
		 latest_edition_hint, nickname, publishes_trust_list, contexts, properties,
		 created_at, last_changed_at, last_fetched_at, own_insert_key, own_last_inserted_edition)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			request_key=excluded.request_key,
			current_edition=excluded.current_edition,
			last_fetched_maybe_valid_edition=excluded.last_fetched_maybe_valid_edition,
			fetch_state=excluded.fetch_state,
			latest_edition_hint=excluded.latest_edition_hint,
			nickname=excluded.nickname,
			publishes_trust_list=excluded.publishes_trust_list,
			contexts=excluded.contexts,
			properties=excluded.properties,
			created_at=excluded.created_at,
			last_changed_at=excluded.last_changed_at,
			last_fetched_at=excluded.last_fetched_at,
			own_insert_key=excluded.own_insert_key,
			own_last_inserted_edition=excluded.own_last_inserted_edition`,
		identity.ID.String(), identity.RequestKey, identity.CurrentEdition, identity.LastFetchedMaybeValidEdition,
		int(identity.FetchState), identity.LatestEditionHint, identity.Nickname, boolToInt(identity.PublishesTrustList),
		string(contextsJSON), string(propertiesJSON),
		identity.CreatedAt.Format(time.RFC3339Nano), identity.LastChangedAt.Format(time.RFC3339Nano),
		identity.LastFetchedAt.Format(time.RFC3339Nano), ownInsertKey, ownLastInsertedEdition)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (t *sqliteTx) DeleteIdentity(id IdentityID) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM identities WHERE id = ?`, id.String())
	return err
}

func (t *sqliteTx) ListOwnIdentities() ([]*Identity, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT id FROM identities WHERE own_insert_key IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return t.loadIdentitiesByIDRows(rows)
}

func (t *sqliteTx) ListIdentities() ([]*Identity, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT id FROM identities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return t.loadIdentitiesByIDRows(rows)
}

func (t *sqliteTx) loadIdentitiesByIDRows(rows *sql.Rows) ([]*Identity, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Identity, 0, len(ids))
	for _, idStr := range ids {
		id, err := ParseIdentityID(idStr)
		if err != nil {
			return nil, err
		}
		ident, err := t.GetIdentity(id)
		if err != nil {
			return nil, err
		}
		if ident != nil {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (t *sqliteTx) GetTrust(truster, trustee IdentityID) (*Trust, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT truster_id, trustee_id, value, comment, truster_trust_list_edition
		FROM trusts WHERE truster_id = ? AND trustee_id = ?`, truster.String(), trustee.String())
	return scanTrust(row)
}

func scanTrust(row *sql.Row) (*Trust, error) {
	var trusterStr, trusteeStr, comment string
	var value int
	var edition int64
	err := row.Scan(&trusterStr, &trusteeStr, &value, &comment, &edition)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	truster, err := ParseIdentityID(trusterStr)
	if err != nil {
		return nil, err
	}
	trustee, err := ParseIdentityID(trusteeStr)
	if err != nil {
		return nil, err
	}
	return &Trust{TrusterID: truster, TrusteeID: trustee, Value: int8(value), Comment: comment, TrusterTrustListEdition: edition}, nil
}

func (t *sqliteTx) PutTrust(trust *Trust) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO trusts (truster_id, trustee_id, value, comment, truster_trust_list_edition)
		VALUES (?,?,?,?,?)
		ON CONFLICT(truster_id, trustee_id) DO UPDATE SET
			value=excluded.value, comment=excluded.comment,
			truster_trust_list_edition=excluded.truster_trust_list_edition`,
		trust.TrusterID.String(), trust.TrusteeID.String(), int(trust.Value), trust.Comment, trust.TrusterTrustListEdition)
	return err
}

func (t *sqliteTx) DeleteTrust(truster, trustee IdentityID) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM trusts WHERE truster_id = ? AND trustee_id = ?`, truster.String(), trustee.String())
	return err
}

func (t *sqliteTx) TrustsByTruster(truster IdentityID) ([]*Trust, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT truster_id, trustee_id, value, comment, truster_trust_list_edition
		FROM trusts WHERE truster_id = ?`, truster.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrusts(rows)
}

func (t *sqliteTx) TrustsByTrustee(trustee IdentityID) ([]*Trust, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT truster_id, trustee_id, value, comment, truster_trust_list_edition
		FROM trusts WHERE trustee_id = ?`, trustee.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrusts(rows)
}

func scanTrusts(rows *sql.Rows) ([]*Trust, error) {
	var out []*Trust
	for rows.Next() {
		var trusterStr, trusteeStr, comment string
		var value int
		var edition int64
		if err := rows.Scan(&trusterStr, &trusteeStr, &value, &comment, &edition); err != nil {
			return nil, err
		}
		truster, err := ParseIdentityID(trusterStr)
		if err != nil {
			return nil, err
		}
		trustee, err := ParseIdentityID(trusteeStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &Trust{TrusterID: truster, TrusteeID: trustee, Value: int8(value), Comment: comment, TrusterTrustListEdition: edition})
	}
	return out, rows.Err()
}

func (t *sqliteTx) GetScore(owner, subject IdentityID) (*Score, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT owner_id, subject_id, value, rank, capacity
		FROM scores WHERE owner_id = ? AND subject_id = ?`, owner.String(), subject.String())
	return scanScore(row)
}

func scanScore(row *sql.Row) (*Score, error) {
	var ownerStr, subjectStr string
	var value int32
	var rank, capacity int
	err := row.Scan(&ownerStr, &subjectStr, &value, &rank, &capacity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	owner, err := ParseIdentityID(ownerStr)
	if err != nil {
		return nil, err
	}
	subject, err := ParseIdentityID(subjectStr)
	if err != nil {
		return nil, err
	}
	return &Score{OwnerID: owner, SubjectID: subject, Value: value, Rank: rank, Capacity: capacity}, nil
}

func (t *sqliteTx) PutScore(score *Score) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO scores (owner_id, subject_id, value, rank, capacity)
		VALUES (?,?,?,?,?)
		ON CONFLICT(owner_id, subject_id) DO UPDATE SET
			value=excluded.value, rank=excluded.rank, capacity=excluded.capacity`,
		score.OwnerID.String(), score.SubjectID.String(), score.Value, score.Rank, score.Capacity)
	return err
}

func (t *sqliteTx) DeleteScore(owner, subject IdentityID) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM scores WHERE owner_id = ? AND subject_id = ?`, owner.String(), subject.String())
	return err
}

func (t *sqliteTx) ScoresByOwner(owner IdentityID) ([]*Score, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT owner_id, subject_id, value, rank, capacity FROM scores WHERE owner_id = ?`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScores(rows)
}

func (t *sqliteTx) ScoresBySubject(subject IdentityID) ([]*Score, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT owner_id, subject_id, value, rank, capacity FROM scores WHERE subject_id = ?`, subject.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScores(rows)
}

func scanScores(rows *sql.Rows) ([]*Score, error) {
	var out []*Score
	for rows.Next() {
		var ownerStr, subjectStr string
		var value int32
		var rank, capacity int
		if err := rows.Scan(&ownerStr, &subjectStr, &value, &rank, &capacity); err != nil {
			return nil, err
		}
		owner, err := ParseIdentityID(ownerStr)
		if err != nil {
			return nil, err
		}
		subject, err := ParseIdentityID(subjectStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &Score{OwnerID: owner, SubjectID: subject, Value: value, Rank: rank, Capacity: capacity})
	}
	return out, rows.Err()
}

func (t *sqliteTx) GetEditionHint(source, subject IdentityID) (*EditionHint, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT source_id, subject_id, edition, date, source_capacity, source_score_sign, priority
		FROM edition_hints WHERE source_id = ? AND subject_id = ?`, source.String(), subject.String())
	return scanHint(row)
}

func scanHint(row *sql.Row) (*EditionHint, error) {
	var sourceStr, subjectStr, dateStr, priority string
	var edition int64
	var capacity int
	var sign int
	err := row.Scan(&sourceStr, &subjectStr, &edition, &dateStr, &capacity, &sign, &priority)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	source, err := ParseIdentityID(sourceStr)
	if err != nil {
		return nil, err
	}
	subject, err := ParseIdentityID(subjectStr)
	if err != nil {
		return nil, err
	}
	return &EditionHint{
		SourceID: source, SubjectID: subject, Edition: edition,
		Date: parseRFC3339(dateStr), SourceCapacity: capacity, SourceScoreSign: int8(sign), Priority: priority,
	}, nil
}

func (t *sqliteTx) PutEditionHint(hint *EditionHint) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO edition_hints
		(source_id, subject_id, edition, date, source_capacity, source_score_sign, priority)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(source_id, subject_id) DO UPDATE SET
			edition=excluded.edition, date=excluded.date,
			source_capacity=excluded.source_capacity, source_score_sign=excluded.source_score_sign,
			priority=excluded.priority`,
		hint.SourceID.String(), hint.SubjectID.String(), hint.Edition, hint.Date.Format(time.RFC3339Nano),
		hint.SourceCapacity, hint.SourceScoreSign, hint.Priority)
	return err
}

func (t *sqliteTx) DeleteEditionHint(source, subject IdentityID) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM edition_hints WHERE source_id = ? AND subject_id = ?`, source.String(), subject.String())
	return err
}

func (t *sqliteTx) EditionHintsBySubject(subject IdentityID) ([]*EditionHint, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT source_id, subject_id, edition, date, source_capacity, source_score_sign, priority
		FROM edition_hints WHERE subject_id = ?`, subject.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHints(rows)
}

func scanHints(rows *sql.Rows) ([]*EditionHint, error) {
	var out []*EditionHint
	for rows.Next() {
		var sourceStr, subjectStr, dateStr, priority string
		var edition int64
		var capacity, sign int
		if err := rows.Scan(&sourceStr, &subjectStr, &edition, &dateStr, &capacity, &sign, &priority); err != nil {
			return nil, err
		}
		source, err := ParseIdentityID(sourceStr)
		if err != nil {
			return nil, err
		}
		subject, err := ParseIdentityID(subjectStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &EditionHint{
			SourceID: source, SubjectID: subject, Edition: edition,
			Date: parseRFC3339(dateStr), SourceCapacity: capacity, SourceScoreSign: int8(sign), Priority: priority,
		})
	}
	return out, rows.Err()
}

func (t *sqliteTx) DeleteEditionHintsBySubject(subject IdentityID) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM edition_hints WHERE subject_id = ?`, subject.String())
	return err
}

func (t *sqliteTx) NextEditionHint() (*EditionHint, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT source_id, subject_id, edition, date, source_capacity, source_score_sign, priority
		FROM edition_hints ORDER BY priority ASC LIMIT 1`)
	return scanHint(row)
}
