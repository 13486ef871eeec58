// ABOUTME: Tests for the durable version stores
// ABOUTME: Runs the shared store suite on Badger and SQLite plus persistence checks

package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/revertstore/pkg/version"
	"github.com/nainya/revertstore/pkg/version/storetest"
)

func setupTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	return NewBadgerStore(db, zerolog.Nop())
}

func setupTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestBadgerStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) version.Store {
		return setupTestBadgerStore(t)
	})
}

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) version.Store {
		return setupTestSQLiteStore(t, filepath.Join(t.TempDir(), "revert.db"))
	})
}

func TestBadgerStorePersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	db, err := OpenBadger(cfg)
	require.NoError(t, err)
	s := NewBadgerStore(db, zerolog.Nop())

	ctx := context.Background()
	key := version.Key{Type: "Page", ID: "42"}
	for _, title := range []string{"one", "two", "three"} {
		_, _, err := s.Commit(ctx, version.CommitRequest{AuthorID: "alice", Writes: []version.Write{
			{Key: key, Fields: map[string]any{"Title": title}},
		}})
		require.NoError(t, err)
	}
	_, err = s.RollbackRecursive(ctx, version.RollbackRequest{Key: key, TargetVersion: 1, AuthorID: "bob"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err = OpenBadger(cfg)
	require.NoError(t, err)
	s = NewBadgerStore(db, zerolog.Nop())
	defer s.Close()

	latest, err := s.GetLatest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, latest.VersionNumber)
	assert.Equal(t, "one", latest.Field("Title"))
	assert.Equal(t, "bob", latest.AuthorID)

	cs, err := s.FindChangeSet(ctx, key, 4)
	require.NoError(t, err)
	assert.Equal(t, []version.ChangeSetItem{{ObjectType: "Page", ObjectID: "42", VersionBefore: 3, VersionAfter: 4}}, cs.Items)
}

func TestSQLiteStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "revert.db")
	s := setupTestSQLiteStore(t, path)

	ctx := context.Background()
	key := version.Key{Type: "Page", ID: "42"}
	_, _, err := s.Commit(ctx, version.CommitRequest{AuthorID: "alice", Writes: []version.Write{
		{Key: key, Fields: map[string]any{"Title": "draft", "Sort": 1}, Published: true},
	}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = setupTestSQLiteStore(t, path)
	defer s.Close()

	v, err := s.GetVersion(ctx, key, 1)
	require.NoError(t, err)
	assert.True(t, v.WasPublished)
	assert.Equal(t, float64(1), v.Field("Sort"))
	assert.WithinDuration(t, time.Now(), v.CreatedAt, time.Minute)
}

func TestBadgerOpenRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestRecordLocks(t *testing.T) {
	locks := NewRecordLocks()
	key := version.Key{Type: "Page", ID: "1"}

	var (
		wg      sync.WaitGroup
		inside  int32
		overlap int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Zero(t, locks.Held())

	// different keys do not block each other
	unlockA := locks.Lock(key)
	unlockB := locks.Lock(version.Key{Type: "Page", ID: "2"})
	assert.Equal(t, 2, locks.Held())
	unlockA()
	unlockB()
}
