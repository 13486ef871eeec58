// ABOUTME: Version store backed by BadgerDB
// ABOUTME: Tuple-encoded keys, protobuf field payloads, optimistic transactions

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/revertstore/pkg/version"
)

// Key prefixes
const (
	PREFIX_VERSION         = uint32(7000) // (type, id, number) -> version tuple
	PREFIX_HEAD            = uint32(7100) // (type, id) -> highest number written
	PREFIX_LATEST          = uint32(7200) // (type, id) -> highest non-deleted number
	PREFIX_CHANGESET       = uint32(7300) // (csID) -> change-set tuple
	PREFIX_CHANGESET_AFTER = uint32(7400) // (type, id, after) -> csID
)

const (
	flagPublished = 1 << iota
	flagDeleted
)

// BadgerStore implements version.Store on BadgerDB
type BadgerStore struct {
	db     *DB
	locks  *RecordLocks
	logger zerolog.Logger
}

// NewBadgerStore wraps an open database. The store owns db and closes it.
func NewBadgerStore(db *DB, logger zerolog.Logger) *BadgerStore {
	return &BadgerStore{
		db:     db,
		locks:  NewRecordLocks(),
		logger: logger.With().Str("component", "badger_store").Logger(),
	}
}

func recordKey(prefix uint32, key version.Key, extra ...Value) []byte {
	vals := append([]Value{NewStringValue(key.Type), NewStringValue(key.ID)}, extra...)
	return EncodeKey(prefix, vals)
}

func (s *BadgerStore) GetLatest(ctx context.Context, key version.Key) (*version.VersionRecord, error) {
	var out *version.VersionRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := badgerView{txn}.Latest(key)
		out = v
		return err
	})
	return out, err
}

func (s *BadgerStore) GetVersion(ctx context.Context, key version.Key, number int) (*version.VersionRecord, error) {
	var out *version.VersionRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := badgerView{txn}.Version(key, number)
		out = v
		return err
	})
	return out, err
}

func (s *BadgerStore) ListVersions(ctx context.Context, key version.Key, opts version.ListOptions) ([]*version.VersionRecord, error) {
	var all []*version.VersionRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := recordKey(PREFIX_VERSION, key)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			vals, err := ExtractValues(item.Key())
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeVersion(key, int(vals[2].I64), raw)
			if err != nil {
				return err
			}
			all = append(all, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version.FilterVersions(all, opts), nil
}

func (s *BadgerStore) FindChangeSet(ctx context.Context, key version.Key, versionAfter int) (*version.ChangeSet, error) {
	var out *version.ChangeSet
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		cs, err := badgerView{txn}.ChangeSetAfter(key, versionAfter)
		out = cs
		return err
	})
	return out, err
}

func (s *BadgerStore) GetChangeSet(ctx context.Context, id string) (*version.ChangeSet, error) {
	var out *version.ChangeSet
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		cs, err := badgerView{txn}.changeSet(id)
		out = cs
		return err
	})
	return out, err
}

func (s *BadgerStore) ListRecords(ctx context.Context, recordType string) ([]version.Key, error) {
	var keys []version.Key
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := EncodeKey(PREFIX_HEAD, []Value{NewStringValue(recordType)})
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			vals, err := ExtractValues(it.Item().Key())
			if err != nil {
				return err
			}
			keys = append(keys, version.Key{Type: recordType, ID: vals[1].String()})
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) Commit(ctx context.Context, req version.CommitRequest) (*version.ChangeSet, []*version.VersionRecord, error) {
	if err := version.ValidateCommit(req); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	var (
		cs      *version.ChangeSet
		records []*version.VersionRecord
	)
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		view := badgerView{txn}
		now := time.Now().UTC()
		cs = &version.ChangeSet{ID: version.NewChangeSetID(), CreatedAt: now, AuthorID: req.AuthorID}
		records = records[:0]

		for _, w := range req.Writes {
			fields, err := version.NormalizeFields(w.Fields)
			if err != nil {
				return err
			}
			head, err := view.head(w.Key)
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
			if err := view.putVersion(rec, cs, head); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return view.putChangeSet(cs)
	})
	if err != nil {
		s.logger.Error().Err(err).Int("writes", len(req.Writes)).Msg("commit failed")
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug().
		Str("change_set", cs.ID).
		Int("writes", len(records)).
		Dur("duration", time.Since(start)).
		Msg("commit")
	return cs, records, nil
}

func (s *BadgerStore) RollbackRecursive(ctx context.Context, req version.RollbackRequest) (*version.VersionRecord, error) {
	unlock := s.locks.Lock(req.Key)
	defer unlock()

	var (
		root  *version.VersionRecord
		steps int
	)
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		view := badgerView{txn}
		plan, err := version.PlanRollback(view, req)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		cs := &version.ChangeSet{ID: version.NewChangeSetID(), CreatedAt: now, AuthorID: req.AuthorID}
		for i, step := range plan.Steps {
			head, err := view.head(step.Key)
			if err != nil {
				return version.NewRollbackFailure(version.StorageError, step.Key, err)
			}
			rec := step.NewVersion(head+1, req.AuthorID, now)
			if err := view.putVersion(rec, cs, head); err != nil {
				return version.NewRollbackFailure(version.StorageError, step.Key, err)
			}
			if i == 0 {
				root = rec
			}
		}
		steps = len(plan.Steps)
		if err := view.putChangeSet(cs); err != nil {
			return version.NewRollbackFailure(version.StorageError, req.Key, err)
		}
		return nil
	})
	if err != nil {
		err = classifyBadgerError(req.Key, err)
		s.logger.Warn().Err(err).Str("record", req.Key.String()).Int("target", req.TargetVersion).Msg("rollback failed")
		return nil, err
	}

	s.logger.Info().
		Str("record", req.Key.String()).
		Int("target", req.TargetVersion).
		Int("new_version", root.VersionNumber).
		Int("records", steps).
		Msg("rollback committed")
	return root, nil
}

func classifyBadgerError(key version.Key, err error) error {
	var failure *version.RollbackFailure
	switch {
	case errors.As(err, &failure):
		return err
	case errors.Is(err, badger.ErrConflict):
		return version.NewRollbackFailure(version.ConcurrentModification, key, err)
	default:
		return version.NewRollbackFailure(version.StorageError, key, err)
	}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerView reads and writes history inside one transaction
type badgerView struct {
	txn *badger.Txn
}

func (v badgerView) getInt(key []byte) (int, bool, error) {
	item, err := v.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	vals, err := DecodeValues(raw)
	if err != nil || len(vals) != 1 {
		return 0, false, fmt.Errorf("corrupt counter at %x", key)
	}
	return int(vals[0].I64), true, nil
}

func (v badgerView) setInt(key []byte, n int) error {
	return v.txn.Set(key, EncodeValues([]Value{NewInt64Value(int64(n))}))
}

func (v badgerView) head(key version.Key) (int, error) {
	n, _, err := v.getInt(recordKey(PREFIX_HEAD, key))
	return n, err
}

func (v badgerView) Latest(key version.Key) (*version.VersionRecord, error) {
	n, ok, err := v.getInt(recordKey(PREFIX_LATEST, key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: latest version of %s", version.ErrNotFound, key)
	}
	return v.Version(key, n)
}

func (v badgerView) Version(key version.Key, number int) (*version.VersionRecord, error) {
	item, err := v.txn.Get(recordKey(PREFIX_VERSION, key, NewInt64Value(int64(number))))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: version %d of %s", version.ErrNotFound, number, key)
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeVersion(key, number, raw)
}

func (v badgerView) ChangeSetAfter(key version.Key, versionAfter int) (*version.ChangeSet, error) {
	item, err := v.txn.Get(recordKey(PREFIX_CHANGESET_AFTER, key, NewInt64Value(int64(versionAfter))))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: change-set for %s version %d", version.ErrNotFound, key, versionAfter)
	}
	if err != nil {
		return nil, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return v.changeSet(string(id))
}

func (v badgerView) changeSet(id string) (*version.ChangeSet, error) {
	item, err := v.txn.Get(EncodeKey(PREFIX_CHANGESET, []Value{NewStringValue(id)}))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: change-set %s", version.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeChangeSet(id, raw)
}

// putVersion writes rec, advances the head and latest pointers and appends
// the transition to cs
func (v badgerView) putVersion(rec *version.VersionRecord, cs *version.ChangeSet, before int) error {
	key := rec.Key()
	raw, err := encodeVersion(rec)
	if err != nil {
		return err
	}
	if err := v.txn.Set(recordKey(PREFIX_VERSION, key, NewInt64Value(int64(rec.VersionNumber))), raw); err != nil {
		return err
	}
	if err := v.setInt(recordKey(PREFIX_HEAD, key), rec.VersionNumber); err != nil {
		return err
	}
	if !rec.WasDeleted {
		if err := v.setInt(recordKey(PREFIX_LATEST, key), rec.VersionNumber); err != nil {
			return err
		}
	}
	if err := v.txn.Set(recordKey(PREFIX_CHANGESET_AFTER, key, NewInt64Value(int64(rec.VersionNumber))), []byte(cs.ID)); err != nil {
		return err
	}
	cs.Items = append(cs.Items, version.ChangeSetItem{
		ObjectType:    key.Type,
		ObjectID:      key.ID,
		VersionBefore: before,
		VersionAfter:  rec.VersionNumber,
	})
	return nil
}

func (v badgerView) putChangeSet(cs *version.ChangeSet) error {
	vals := []Value{
		NewTimeValue(cs.CreatedAt),
		NewStringValue(cs.AuthorID),
	}
	for _, it := range cs.Items {
		vals = append(vals,
			NewStringValue(it.ObjectType),
			NewStringValue(it.ObjectID),
			NewInt64Value(int64(it.VersionBefore)),
			NewInt64Value(int64(it.VersionAfter)),
		)
	}
	return v.txn.Set(EncodeKey(PREFIX_CHANGESET, []Value{NewStringValue(cs.ID)}), EncodeValues(vals))
}

func decodeChangeSet(id string, raw []byte) (*version.ChangeSet, error) {
	vals, err := DecodeValues(raw)
	if err != nil {
		return nil, fmt.Errorf("decode change-set %s: %w", id, err)
	}
	if len(vals) < 2 || (len(vals)-2)%4 != 0 {
		return nil, fmt.Errorf("decode change-set %s: %d columns", id, len(vals))
	}
	cs := &version.ChangeSet{ID: id, CreatedAt: vals[0].Time, AuthorID: vals[1].String()}
	for i := 2; i < len(vals); i += 4 {
		cs.Items = append(cs.Items, version.ChangeSetItem{
			ObjectType:    vals[i].String(),
			ObjectID:      vals[i+1].String(),
			VersionBefore: int(vals[i+2].I64),
			VersionAfter:  int(vals[i+3].I64),
		})
	}
	return cs, nil
}

// encodeVersion stores (createdAt, author, flags, fields) with fields as a
// serialized google.protobuf.Struct
func encodeVersion(rec *version.VersionRecord) ([]byte, error) {
	st, err := structpb.NewStruct(rec.FieldValues)
	if err != nil {
		return nil, err
	}
	payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, err
	}
	var flags int64
	if rec.WasPublished {
		flags |= flagPublished
	}
	if rec.WasDeleted {
		flags |= flagDeleted
	}
	return EncodeValues([]Value{
		NewTimeValue(rec.CreatedAt),
		NewStringValue(rec.AuthorID),
		NewInt64Value(flags),
		NewBytesValue(payload),
	}), nil
}

func decodeVersion(key version.Key, number int, raw []byte) (*version.VersionRecord, error) {
	vals, err := DecodeValues(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s v%d: %w", key, number, err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("decode %s v%d: %d columns", key, number, len(vals))
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(vals[3].Str, st); err != nil {
		return nil, fmt.Errorf("decode %s v%d fields: %w", key, number, err)
	}
	return &version.VersionRecord{
		RecordType:    key.Type,
		RecordID:      key.ID,
		VersionNumber: number,
		CreatedAt:     vals[0].Time,
		AuthorID:      vals[1].String(),
		WasPublished:  vals[2].I64&flagPublished != 0,
		WasDeleted:    vals[2].I64&flagDeleted != 0,
		FieldValues:   st.AsMap(),
	}, nil
}

var _ version.Store = (*BadgerStore)(nil)
