package version_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/revertstore/pkg/version"
	"github.com/nainya/revertstore/pkg/version/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) version.Store {
		return version.NewMemoryStore()
	})
}

func TestMemoryStoreClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	s := version.NewMemoryStore(version.WithClock(func() time.Time { return at }))

	_, recs, err := s.Commit(context.Background(), version.CommitRequest{
		Writes: []version.Write{{Key: version.Key{Type: "Page", ID: "1"}, Fields: map[string]any{"Title": "x"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, at, recs[0].CreatedAt)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := version.NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.GetLatest(context.Background(), version.Key{Type: "Page", ID: "1"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, version.ErrNotFound)

	_, err = s.RollbackRecursive(context.Background(), version.RollbackRequest{Key: version.Key{Type: "Page", ID: "1"}, TargetVersion: 1})
	assert.Equal(t, version.StorageError, version.FailureKindOf(err))
}
