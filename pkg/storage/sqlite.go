// ABOUTME: Version store backed by SQLite
// ABOUTME: Append-only versions table plus change-set tables keyed by versionAfter

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/revertstore/pkg/version"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS versions (
    record_type     TEXT NOT NULL,
    record_id       TEXT NOT NULL,
    version         INTEGER NOT NULL,
    created_ns      INTEGER NOT NULL,
    author_id       TEXT NOT NULL,
    was_published   INTEGER NOT NULL,
    was_deleted     INTEGER NOT NULL,
    fields          TEXT NOT NULL,
    PRIMARY KEY (record_type, record_id, version)
);

CREATE TABLE IF NOT EXISTS change_sets (
    id              TEXT PRIMARY KEY,
    created_ns      INTEGER NOT NULL,
    author_id       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS change_set_items (
    change_set_id   TEXT NOT NULL REFERENCES change_sets(id),
    ordinal         INTEGER NOT NULL,
    object_type     TEXT NOT NULL,
    object_id       TEXT NOT NULL,
    version_before  INTEGER NOT NULL,
    version_after   INTEGER NOT NULL,
    PRIMARY KEY (change_set_id, ordinal)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_after ON change_set_items(object_type, object_id, version_after);
`

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements version.Store on a single SQLite file
type SQLiteStore struct {
	db     *sql.DB
	locks  *RecordLocks
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) the database at path and applies the schema
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection, so transactions queue in the pool
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		locks:  NewRecordLocks(),
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}, nil
}

func (s *SQLiteStore) view(ctx context.Context, q querier) sqlView {
	return sqlView{ctx: ctx, q: q}
}

func (s *SQLiteStore) GetLatest(ctx context.Context, key version.Key) (*version.VersionRecord, error) {
	return s.view(ctx, s.db).Latest(key)
}

func (s *SQLiteStore) GetVersion(ctx context.Context, key version.Key, number int) (*version.VersionRecord, error) {
	return s.view(ctx, s.db).Version(key, number)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, key version.Key, opts version.ListOptions) ([]*version.VersionRecord, error) {
	query := `SELECT version, created_ns, author_id, was_published, was_deleted, fields
		FROM versions WHERE record_type = ? AND record_id = ?`
	args := []any{key.Type, key.ID}
	if opts.ExcludeDeleted {
		query += ` AND was_deleted = 0`
	}
	if opts.ExcludeVersion > 0 {
		query += ` AND version != ?`
		args = append(args, opts.ExcludeVersion)
	}
	query += ` ORDER BY version DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := []*version.VersionRecord{}
	for rows.Next() {
		rec, err := scanVersion(key, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindChangeSet(ctx context.Context, key version.Key, versionAfter int) (*version.ChangeSet, error) {
	return s.view(ctx, s.db).ChangeSetAfter(key, versionAfter)
}

func (s *SQLiteStore) GetChangeSet(ctx context.Context, id string) (*version.ChangeSet, error) {
	return s.view(ctx, s.db).changeSet(id)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, recordType string) ([]version.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT record_id FROM versions WHERE record_type = ? ORDER BY record_id`, recordType)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var keys []version.Key
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		keys = append(keys, version.Key{Type: recordType, ID: id})
	}
	return keys, rows.Err()
}

// withTx runs fn in one immediate transaction
func (s *SQLiteStore) withTx(ctx context.Context, fn func(v sqlView) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.view(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Commit(ctx context.Context, req version.CommitRequest) (*version.ChangeSet, []*version.VersionRecord, error) {
	if err := version.ValidateCommit(req); err != nil {
		return nil, nil, err
	}

	var (
		cs      *version.ChangeSet
		records []*version.VersionRecord
	)
	err := s.withTx(ctx, func(v sqlView) error {
		now := time.Now().UTC()
		cs = &version.ChangeSet{ID: version.NewChangeSetID(), CreatedAt: now, AuthorID: req.AuthorID}
		if err := v.insertChangeSet(cs); err != nil {
			return err
		}
		for _, w := range req.Writes {
			fields, err := version.NormalizeFields(w.Fields)
			if err != nil {
				return err
			}
			head, err := v.head(w.Key)
			if err != nil {
				return err
			}
			rec := &version.VersionRecord{
				RecordType:    w.Key.Type,
				RecordID:      w.Key.ID,
				VersionNumber: head + 1,
				CreatedAt:     now,
				AuthorID:      req.AuthorID,
				WasPublished:  w.Published,
				WasDeleted:    w.Deleted,
				FieldValues:   fields,
			}
			if err := v.insertVersion(rec, cs, head); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int("writes", len(req.Writes)).Msg("commit failed")
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return cs, records, nil
}

func (s *SQLiteStore) RollbackRecursive(ctx context.Context, req version.RollbackRequest) (*version.VersionRecord, error) {
	unlock := s.locks.Lock(req.Key)
	defer unlock()

	var root *version.VersionRecord
	err := s.withTx(ctx, func(v sqlView) error {
		plan, err := version.PlanRollback(v, req)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		cs := &version.ChangeSet{ID: version.NewChangeSetID(), CreatedAt: now, AuthorID: req.AuthorID}
		if err := v.insertChangeSet(cs); err != nil {
			return err
		}
		for i, step := range plan.Steps {
			head, err := v.head(step.Key)
			if err != nil {
				return err
			}
			rec := step.NewVersion(head+1, req.AuthorID, now)
			if err := v.insertVersion(rec, cs, head); err != nil {
				return err
			}
			if i == 0 {
				root = rec
			}
		}
		return nil
	})
	if err != nil {
		err = classifySQLiteError(req.Key, err)
		s.logger.Warn().Err(err).Str("record", req.Key.String()).Int("target", req.TargetVersion).Msg("rollback failed")
		return nil, err
	}

	s.logger.Info().
		Str("record", req.Key.String()).
		Int("target", req.TargetVersion).
		Int("new_version", root.VersionNumber).
		Msg("rollback committed")
	return root, nil
}

func classifySQLiteError(key version.Key, err error) error {
	var (
		failure *version.RollbackFailure
		sqlErr  sqlite3.Error
	)
	switch {
	case errors.As(err, &failure):
		return err
	case errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked):
		return version.NewRollbackFailure(version.ConcurrentModification, key, err)
	case errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return version.NewRollbackFailure(version.ConcurrentModification, key, err)
	default:
		return version.NewRollbackFailure(version.StorageError, key, err)
	}
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// sqlView reads and writes history through one querier
type sqlView struct {
	ctx context.Context
	q   querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(key version.Key, row rowScanner) (*version.VersionRecord, error) {
	var (
		number, createdNs        int64
		author, fields           string
		wasPublished, wasDeleted bool
	)
	if err := row.Scan(&number, &createdNs, &author, &wasPublished, &wasDeleted, &fields); err != nil {
		return nil, err
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal([]byte(fields), st); err != nil {
		return nil, fmt.Errorf("decode %s v%d fields: %w", key, number, err)
	}
	return &version.VersionRecord{
		RecordType:    key.Type,
		RecordID:      key.ID,
		VersionNumber: int(number),
		CreatedAt:     time.Unix(0, createdNs).UTC(),
		AuthorID:      author,
		WasPublished:  wasPublished,
		WasDeleted:    wasDeleted,
		FieldValues:   st.AsMap(),
	}, nil
}

func (v sqlView) queryVersion(key version.Key, query string, args ...any) (*version.VersionRecord, error) {
	rec, err := scanVersion(key, v.q.QueryRowContext(v.ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, version.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return rec, nil
}

func (v sqlView) Latest(key version.Key) (*version.VersionRecord, error) {
	rec, err := v.queryVersion(key, `
		SELECT version, created_ns, author_id, was_published, was_deleted, fields
		FROM versions WHERE record_type = ? AND record_id = ? AND was_deleted = 0
		ORDER BY version DESC LIMIT 1`, key.Type, key.ID)
	if errors.Is(err, version.ErrNotFound) {
		return nil, fmt.Errorf("%w: latest version of %s", version.ErrNotFound, key)
	}
	return rec, err
}

func (v sqlView) Version(key version.Key, number int) (*version.VersionRecord, error) {
	rec, err := v.queryVersion(key, `
		SELECT version, created_ns, author_id, was_published, was_deleted, fields
		FROM versions WHERE record_type = ? AND record_id = ? AND version = ?`, key.Type, key.ID, number)
	if errors.Is(err, version.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %d of %s", version.ErrNotFound, number, key)
	}
	return rec, err
}

func (v sqlView) ChangeSetAfter(key version.Key, versionAfter int) (*version.ChangeSet, error) {
	var id string
	err := v.q.QueryRowContext(v.ctx, `
		SELECT change_set_id FROM change_set_items
		WHERE object_type = ? AND object_id = ? AND version_after = ?`,
		key.Type, key.ID, versionAfter).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: change-set for %s version %d", version.ErrNotFound, key, versionAfter)
	}
	if err != nil {
		return nil, fmt.Errorf("find change-set: %w", err)
	}
	return v.changeSet(id)
}

func (v sqlView) changeSet(id string) (*version.ChangeSet, error) {
	var (
		createdNs int64
		author    string
	)
	err := v.q.QueryRowContext(v.ctx,
		`SELECT created_ns, author_id FROM change_sets WHERE id = ?`, id).Scan(&createdNs, &author)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: change-set %s", version.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get change-set: %w", err)
	}

	rows, err := v.q.QueryContext(v.ctx, `
		SELECT object_type, object_id, version_before, version_after
		FROM change_set_items WHERE change_set_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("get change-set items: %w", err)
	}
	defer rows.Close()

	cs := &version.ChangeSet{ID: id, CreatedAt: time.Unix(0, createdNs).UTC(), AuthorID: author}
	for rows.Next() {
		var it version.ChangeSetItem
		if err := rows.Scan(&it.ObjectType, &it.ObjectID, &it.VersionBefore, &it.VersionAfter); err != nil {
			return nil, fmt.Errorf("scan change-set item: %w", err)
		}
		cs.Items = append(cs.Items, it)
	}
	return cs, rows.Err()
}

func (v sqlView) head(key version.Key) (int, error) {
	var n int
	err := v.q.QueryRowContext(v.ctx,
		`SELECT COALESCE(MAX(version), 0) FROM versions WHERE record_type = ? AND record_id = ?`,
		key.Type, key.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("head version: %w", err)
	}
	return n, nil
}

func (v sqlView) insertChangeSet(cs *version.ChangeSet) error {
	_, err := v.q.ExecContext(v.ctx,
		`INSERT INTO change_sets (id, created_ns, author_id) VALUES (?, ?, ?)`,
		cs.ID, cs.CreatedAt.UnixNano(), cs.AuthorID)
	if err != nil {
		return fmt.Errorf("insert change-set: %w", err)
	}
	return nil
}

// insertVersion writes rec and its change-set item
func (v sqlView) insertVersion(rec *version.VersionRecord, cs *version.ChangeSet, before int) error {
	st, err := structpb.NewStruct(rec.FieldValues)
	if err != nil {
		return err
	}
	fields, err := protojson.Marshal(st)
	if err != nil {
		return err
	}

	if _, err := v.q.ExecContext(v.ctx, `
		INSERT INTO versions (record_type, record_id, version, created_ns, author_id, was_published, was_deleted, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordType, rec.RecordID, rec.VersionNumber, rec.CreatedAt.UnixNano(), rec.AuthorID,
		rec.WasPublished, rec.WasDeleted, string(fields),
	); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	item := version.ChangeSetItem{
		ObjectType:    rec.RecordType,
		ObjectID:      rec.RecordID,
		VersionBefore: before,
		VersionAfter:  rec.VersionNumber,
	}
	if _, err := v.q.ExecContext(v.ctx, `
		INSERT INTO change_set_items (change_set_id, ordinal, object_type, object_id, version_before, version_after)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cs.ID, len(cs.Items), item.ObjectType, item.ObjectID, item.VersionBefore, item.VersionAfter,
	); err != nil {
		return fmt.Errorf("insert change-set item: %w", err)
	}
	cs.Items = append(cs.Items, item)
	return nil
}

var _ version.Store = (*SQLiteStore)(nil)
