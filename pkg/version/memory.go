// ABOUTME: In-memory version store
// ABOUTME: Reference backend used by tests, examples and the memory daemon mode

package version

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type afterKey struct {
	key   Key
	after int
}

// MemoryStore keeps history in maps guarded by one RWMutex. Rollbacks hold the
// write lock for the whole cascade, which serializes them store-wide.
type MemoryStore struct {
	mu         sync.RWMutex
	versions   map[Key][]*VersionRecord // ascending by version number
	changeSets map[string]*ChangeSet
	byAfter    map[afterKey]string
	now        func() time.Time
	closed     bool
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for new versions
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		versions:   make(map[Key][]*VersionRecord),
		changeSets: make(map[string]*ChangeSet),
		byAfter:    make(map[afterKey]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errClosed = errors.New("version: store closed")

func (s *MemoryStore) GetLatest(ctx context.Context, key Key) (*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	v, err := s.latest(key)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, key Key, number int) (*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	v, err := s.version(key, number)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, key Key, opts ListOptions) ([]*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := FilterVersions(s.versions[key], opts)
	for i, v := range out {
		out[i] = v.Clone()
	}
	return out, nil
}

func (s *MemoryStore) FindChangeSet(ctx context.Context, key Key, versionAfter int) (*ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	cs, err := s.changeSetAfter(key, versionAfter)
	if err != nil {
		return nil, err
	}
	return cs.Clone(), nil
}

func (s *MemoryStore) GetChangeSet(ctx context.Context, id string) (*ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	cs, ok := s.changeSets[id]
	if !ok {
		return nil, notFoundf("change-set %s", id)
	}
	return cs.Clone(), nil
}

func (s *MemoryStore) ListRecords(ctx context.Context, recordType string) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	var keys []Key
	for k := range s.versions {
		if k.Type == recordType {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

func (s *MemoryStore) Commit(ctx context.Context, req CommitRequest) (*ChangeSet, []*VersionRecord, error) {
	if err := ValidateCommit(req); err != nil {
		return nil, nil, err
	}
	normalized := make([]map[string]any, len(req.Writes))
	for i, w := range req.Writes {
		fields, err := NormalizeFields(w.Fields)
		if err != nil {
			return nil, nil, err
		}
		normalized[i] = fields
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, errClosed
	}

	now := s.now()
	cs := &ChangeSet{ID: NewChangeSetID(), CreatedAt: now, AuthorID: req.AuthorID}
	records := make([]*VersionRecord, 0, len(req.Writes))
	for i, w := range req.Writes {
		before := s.head(w.Key)
		rec := &VersionRecord{
			RecordType:    w.Key.Type,
			RecordID:      w.Key.ID,
			VersionNumber: before + 1,
			CreatedAt:     now,
			AuthorID:      req.AuthorID,
			WasPublished:  w.Published,
			WasDeleted:    w.Deleted,
			FieldValues:   normalized[i],
		}
		s.append(rec, cs, before)
		records = append(records, rec.Clone())
	}
	s.changeSets[cs.ID] = cs
	return cs.Clone(), records, nil
}

func (s *MemoryStore) RollbackRecursive(ctx context.Context, req RollbackRequest) (*VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewRollbackFailure(StorageError, req.Key, errClosed)
	}

	plan, err := PlanRollback(memoryView{s}, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cs := &ChangeSet{ID: NewChangeSetID(), CreatedAt: now, AuthorID: req.AuthorID}
	var root *VersionRecord
	for _, step := range plan.Steps {
		head := s.head(step.Key)
		rec := step.NewVersion(head+1, req.AuthorID, now)
		s.append(rec, cs, head)
		if root == nil {
			root = rec
		}
	}
	s.changeSets[cs.ID] = cs
	return root.Clone(), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// append stores rec and records its transition in cs. Caller holds the write lock.
func (s *MemoryStore) append(rec *VersionRecord, cs *ChangeSet, before int) {
	key := rec.Key()
	s.versions[key] = append(s.versions[key], rec)
	cs.Items = append(cs.Items, ChangeSetItem{
		ObjectType:    key.Type,
		ObjectID:      key.ID,
		VersionBefore: before,
		VersionAfter:  rec.VersionNumber,
	})
	s.byAfter[afterKey{key, rec.VersionNumber}] = cs.ID
}

// head is the highest version number ever written, deleted or not
func (s *MemoryStore) head(key Key) int {
	all := s.versions[key]
	if len(all) == 0 {
		return 0
	}
	return all[len(all)-1].VersionNumber
}

func (s *MemoryStore) latest(key Key) (*VersionRecord, error) {
	v := LatestOf(s.versions[key])
	if v == nil {
		return nil, notFoundf("latest version of %s", key)
	}
	return v, nil
}

func (s *MemoryStore) version(key Key, number int) (*VersionRecord, error) {
	all := s.versions[key]
	i := sort.Search(len(all), func(i int) bool { return all[i].VersionNumber >= number })
	if i == len(all) || all[i].VersionNumber != number {
		return nil, notFoundf("version %d of %s", number, key)
	}
	return all[i], nil
}

func (s *MemoryStore) changeSetAfter(key Key, versionAfter int) (*ChangeSet, error) {
	id, ok := s.byAfter[afterKey{key, versionAfter}]
	if !ok {
		return nil, notFoundf("change-set for %s version %d", key, versionAfter)
	}
	return s.changeSets[id], nil
}

// memoryView reads through the store while its write lock is held
type memoryView struct {
	s *MemoryStore
}

func (v memoryView) Latest(key Key) (*VersionRecord, error) {
	return v.s.latest(key)
}

func (v memoryView) Version(key Key, number int) (*VersionRecord, error) {
	return v.s.version(key, number)
}

func (v memoryView) ChangeSetAfter(key Key, versionAfter int) (*ChangeSet, error) {
	return v.s.changeSetAfter(key, versionAfter)
}
