// ABOUTME: Behavioural test suite every version.Store backend must pass
// ABOUTME: Backends call Run from their own tests with a factory for fresh stores

package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/revertstore/pkg/version"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) version.Store

var (
	page  = version.Key{Type: "Page", ID: "42"}
	block = version.Key{Type: "ContentBlock", ID: "7"}
	image = version.Key{Type: "Image", ID: "3"}
)

// Run executes the whole suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s version.Store)
	}{
		{"CommitAndRead", testCommitAndRead},
		{"ListVersions", testListVersions},
		{"LatestSkipsDeleted", testLatestSkipsDeleted},
		{"UnknownRecord", testUnknownRecord},
		{"ChangeSetLookup", testChangeSetLookup},
		{"ListRecords", testListRecords},
		{"RollbackSingleRecord", testRollbackSingleRecord},
		{"RollbackCascade", testRollbackCascade},
		{"RollbackTransitiveCascade", testRollbackTransitiveCascade},
		{"RollbackSkipsCreatedPeers", testRollbackSkipsCreatedPeers},
		{"RollbackEarliestTargetWins", testRollbackEarliestTargetWins},
		{"RollbackSkipsDeletedPeers", testRollbackSkipsDeletedPeers},
		{"RollbackRecordsHeadAsBefore", testRollbackRecordsHeadAsBefore},
		{"FailedCascadeChangesNothing", testFailedCascadeChangesNothing},
		{"RollbackInvalidTarget", testRollbackInvalidTarget},
		{"RollbackExpectedLatest", testRollbackExpectedLatest},
		{"ConcurrentRollbacks", testConcurrentRollbacks},
		{"ValueNormalization", testValueNormalization},
		{"RejectsInexactIntegers", testRejectsInexactIntegers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func commit(t *testing.T, s version.Store, writes ...version.Write) *version.ChangeSet {
	t.Helper()
	cs, _, err := s.Commit(context.Background(), version.CommitRequest{AuthorID: "editor", Writes: writes})
	require.NoError(t, err)
	return cs
}

func write(key version.Key, title string) version.Write {
	return version.Write{Key: key, Fields: map[string]any{"Title": title}}
}

// seedPage writes Page#42 versions 1..5 with version 3 titled "Old" and 5 titled "New"
func seedPage(t *testing.T, s version.Store) {
	t.Helper()
	for _, title := range []string{"First", "Second", "Old", "Fourth", "New"} {
		commit(t, s, write(page, title))
	}
}

func testCommitAndRead(t *testing.T, s version.Store) {
	ctx := context.Background()
	cs, recs, err := s.Commit(ctx, version.CommitRequest{
		AuthorID: "alice",
		Writes: []version.Write{
			{Key: page, Fields: map[string]any{"Title": "Home", "Content": "<p>hi</p>"}, Published: true},
			{Key: block, Fields: map[string]any{"Title": "Hero"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Len(t, cs.Items, 2)
	assert.NotEmpty(t, cs.ID)
	assert.Equal(t, "alice", cs.AuthorID)
	assert.Equal(t, version.ChangeSetItem{ObjectType: "Page", ObjectID: "42", VersionBefore: 0, VersionAfter: 1}, cs.Items[0])
	assert.Equal(t, version.ChangeSetItem{ObjectType: "ContentBlock", ObjectID: "7", VersionBefore: 0, VersionAfter: 1}, cs.Items[1])

	latest, err := s.GetLatest(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.VersionNumber)
	assert.Equal(t, "alice", latest.AuthorID)
	assert.True(t, latest.WasPublished)
	assert.False(t, latest.WasDeleted)
	assert.Equal(t, "Home", latest.Field("Title"))
	assert.False(t, latest.CreatedAt.IsZero())

	commit(t, s, write(page, "Home v2"))
	v1, err := s.GetVersion(ctx, page, 1)
	require.NoError(t, err)
	assert.Equal(t, "Home", v1.Field("Title"))

	v2, err := s.GetVersion(ctx, page, 2)
	require.NoError(t, err)
	assert.Equal(t, "Home v2", v2.Field("Title"))

	_, err = s.GetVersion(ctx, page, 3)
	assert.ErrorIs(t, err, version.ErrNotFound)

	_, _, err = s.Commit(ctx, version.CommitRequest{})
	assert.Error(t, err)
	_, _, err = s.Commit(ctx, version.CommitRequest{Writes: []version.Write{write(page, "a"), write(page, "b")}})
	assert.Error(t, err)
}

func testListVersions(t *testing.T, s version.Store) {
	ctx := context.Background()
	seedPage(t, s)
	commit(t, s, version.Write{Key: page, Fields: map[string]any{"Title": "New"}, Deleted: true})

	all, err := s.ListVersions(ctx, page, version.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].VersionNumber, all[i].VersionNumber)
	}

	live, err := s.ListVersions(ctx, page, version.ListOptions{ExcludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, live, 5)

	withoutViewed, err := s.ListVersions(ctx, page, version.ListOptions{ExcludeDeleted: true, ExcludeVersion: 3})
	require.NoError(t, err)
	require.Len(t, withoutViewed, 4)
	for _, v := range withoutViewed {
		assert.NotEqual(t, 3, v.VersionNumber)
	}

	none, err := s.ListVersions(ctx, version.Key{Type: "Page", ID: "missing"}, version.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLatestSkipsDeleted(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "one"))
	commit(t, s, write(page, "two"))
	commit(t, s, version.Write{Key: page, Fields: map[string]any{"Title": "two"}, Deleted: true})

	latest, err := s.GetLatest(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.VersionNumber)

	marker, err := s.GetVersion(ctx, page, 3)
	require.NoError(t, err)
	assert.True(t, marker.WasDeleted)
}

func testUnknownRecord(t *testing.T, s version.Store) {
	ctx := context.Background()
	_, err := s.GetLatest(ctx, page)
	assert.ErrorIs(t, err, version.ErrNotFound)

	_, err = s.GetVersion(ctx, page, 1)
	assert.ErrorIs(t, err, version.ErrNotFound)

	_, err = s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.Error(t, err)
	assert.Equal(t, version.InvalidTarget, version.FailureKindOf(err))
	assert.ErrorIs(t, err, version.ErrNotFound)
}

func testChangeSetLookup(t *testing.T, s version.Store) {
	ctx := context.Background()
	cs := commit(t, s, write(page, "a"), write(block, "b"))

	found, err := s.FindChangeSet(ctx, block, 1)
	require.NoError(t, err)
	assert.Equal(t, cs.ID, found.ID)
	assert.Equal(t, cs.Items, found.Items)

	byID, err := s.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, cs.Items, byID.Items)
	assert.Equal(t, "editor", byID.AuthorID)

	_, err = s.FindChangeSet(ctx, block, 2)
	assert.ErrorIs(t, err, version.ErrNotFound)

	_, err = s.GetChangeSet(ctx, "cs-missing")
	assert.ErrorIs(t, err, version.ErrNotFound)
}

func testListRecords(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(version.Key{Type: "Page", ID: "b"}, "b"))
	commit(t, s, write(version.Key{Type: "Page", ID: "a"}, "a"))
	commit(t, s, write(block, "block"))

	keys, err := s.ListRecords(ctx, "Page")
	require.NoError(t, err)
	assert.Equal(t, []version.Key{{Type: "Page", ID: "a"}, {Type: "Page", ID: "b"}}, keys)

	keys, err = s.ListRecords(ctx, "Nothing")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testRollbackSingleRecord(t *testing.T, s version.Store) {
	ctx := context.Background()
	seedPage(t, s)

	rec, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 3, AuthorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 6, rec.VersionNumber)
	assert.Equal(t, "Old", rec.Field("Title"))
	assert.Equal(t, "bob", rec.AuthorID)
	assert.False(t, rec.WasPublished)
	assert.False(t, rec.WasDeleted)

	latest, err := s.GetLatest(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 6, latest.VersionNumber)

	v3, err := s.GetVersion(ctx, page, 3)
	require.NoError(t, err)
	assert.Equal(t, v3.FieldValues, latest.FieldValues)

	cs, err := s.FindChangeSet(ctx, page, 6)
	require.NoError(t, err)
	require.Len(t, cs.Items, 1)
	assert.Equal(t, 5, cs.Items[0].VersionBefore)
	assert.Equal(t, "bob", cs.AuthorID)
}

func testRollbackCascade(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"), write(block, "b1"))
	commit(t, s, write(page, "p2"), write(block, "b2"))
	commit(t, s, write(page, "p3"))

	rec, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.VersionNumber)
	assert.Equal(t, "p1", rec.Field("Title"))

	b, err := s.GetLatest(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, 3, b.VersionNumber)
	assert.Equal(t, "b1", b.Field("Title"))

	cs, err := s.FindChangeSet(ctx, block, 3)
	require.NoError(t, err)
	assert.Len(t, cs.Items, 2)
	assert.Equal(t, version.ChangeSetItem{ObjectType: "Page", ObjectID: "42", VersionBefore: 3, VersionAfter: 4}, cs.Items[0])
}

func testRollbackTransitiveCascade(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"), write(block, "b1"))
	commit(t, s, write(image, "i1"))
	commit(t, s, write(page, "p2"), write(block, "b2"))
	commit(t, s, write(block, "b3"), write(image, "i2"))

	_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.NoError(t, err)

	b, err := s.GetLatest(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, 4, b.VersionNumber)
	assert.Equal(t, "b1", b.Field("Title"))

	i, err := s.GetLatest(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, 3, i.VersionNumber)
	assert.Equal(t, "i1", i.Field("Title"))
}

func testRollbackSkipsCreatedPeers(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"))
	commit(t, s, write(page, "p2"), write(block, "created with p2"))

	_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.NoError(t, err)

	b, err := s.GetLatest(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, 1, b.VersionNumber)
}

func testRollbackEarliestTargetWins(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"), write(block, "b1"))
	commit(t, s, write(page, "p2"), write(block, "b2"))
	commit(t, s, write(page, "p3"), write(block, "b3"))

	_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.NoError(t, err)

	b, err := s.GetLatest(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, 4, b.VersionNumber)
	assert.Equal(t, "b1", b.Field("Title"))

	p, err := s.GetLatest(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 4, p.VersionNumber)
	assert.Equal(t, "p1", p.Field("Title"))
}

func deleted(key version.Key, title string) version.Write {
	return version.Write{Key: key, Fields: map[string]any{"Title": title}, Deleted: true}
}

func versionCount(t *testing.T, s version.Store, key version.Key) int {
	t.Helper()
	all, err := s.ListVersions(context.Background(), key, version.ListOptions{})
	require.NoError(t, err)
	return len(all)
}

func testRollbackSkipsDeletedPeers(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"), write(block, "b1"))
	commit(t, s, deleted(block, "b1"))
	commit(t, s, write(page, "p2"), write(block, "b3"))
	commit(t, s, write(page, "p3"))

	rec, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.VersionNumber)
	assert.Equal(t, "p1", rec.Field("Title"))

	b, err := s.GetLatest(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, 3, b.VersionNumber)
	assert.Equal(t, "b3", b.Field("Title"))

	cs, err := s.FindChangeSet(ctx, page, 4)
	require.NoError(t, err)
	assert.Len(t, cs.Items, 1)
}

func testRollbackRecordsHeadAsBefore(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"))
	commit(t, s, write(page, "p2"))
	commit(t, s, deleted(page, "p2"))

	rec, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.VersionNumber)

	cs, err := s.FindChangeSet(ctx, page, 4)
	require.NoError(t, err)
	require.Len(t, cs.Items, 1)
	assert.Equal(t, 3, cs.Items[0].VersionBefore)
}

func testFailedCascadeChangesNothing(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "p1"), write(block, "b1"))
	commit(t, s, deleted(page, "p1"), write(block, "b2"))
	commit(t, s, write(page, "p3"), write(block, "b3"), write(image, "i1"))

	// the plan reaches the block and fails on the page's deletion marker
	_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 2})
	require.Error(t, err)
	assert.Equal(t, version.InvalidTarget, version.FailureKindOf(err))

	for key, want := range map[version.Key]int{page: 3, block: 3, image: 1} {
		assert.Equal(t, want, versionCount(t, s, key), key.String())
		latest, err := s.GetLatest(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, latest.VersionNumber, key.String())
	}

	_, err = s.FindChangeSet(ctx, page, 4)
	assert.ErrorIs(t, err, version.ErrNotFound)
}

func testRollbackInvalidTarget(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, write(page, "one"))
	commit(t, s, version.Write{Key: page, Fields: map[string]any{"Title": "gone"}, Deleted: true})
	commit(t, s, write(page, "three"))

	for _, target := range []int{0, -1, 4, 99} {
		_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: target})
		require.Error(t, err, "target %d", target)
		assert.Equal(t, version.InvalidTarget, version.FailureKindOf(err), "target %d", target)
		assert.ErrorIs(t, err, version.ErrNotFound, "target %d", target)
	}

	_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 2})
	require.Error(t, err)
	assert.Equal(t, version.InvalidTarget, version.FailureKindOf(err))

	latest, err := s.GetLatest(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)
}

func testRollbackExpectedLatest(t *testing.T, s version.Store) {
	ctx := context.Background()
	seedPage(t, s)

	_, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 3, ExpectedLatest: 4})
	require.Error(t, err)
	assert.Equal(t, version.ConcurrentModification, version.FailureKindOf(err))

	rec, err := s.RollbackRecursive(ctx, version.RollbackRequest{Key: page, TargetVersion: 3, ExpectedLatest: 5})
	require.NoError(t, err)
	assert.Equal(t, 6, rec.VersionNumber)
}

func testConcurrentRollbacks(t *testing.T, s version.Store) {
	ctx := context.Background()
	seedPage(t, s)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			_, err := s.RollbackRecursive(ctx, version.RollbackRequest{
				Key:            page,
				TargetVersion:  target,
				ExpectedLatest: 5,
				AuthorID:       fmt.Sprintf("worker-%d", target),
			})
			mu.Lock()
			defer mu.Unlock()
			var failure *version.RollbackFailure
			switch {
			case err == nil:
				successes++
			case errors.As(err, &failure) && failure.Kind == version.ConcurrentModification:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i%4 + 1)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	all, err := s.ListVersions(ctx, page, version.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func testValueNormalization(t *testing.T, s version.Store) {
	ctx := context.Background()
	commit(t, s, version.Write{Key: page, Fields: map[string]any{
		"Title":   "Typed",
		"Sort":    3,
		"Visible": true,
		"Tags":    []any{"a", "b"},
		"Meta":    map[string]any{"depth": int64(2)},
		"Parent":  nil,
	}})

	v, err := s.GetVersion(ctx, page, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(3), v.Field("Sort"))
	assert.Equal(t, true, v.Field("Visible"))
	assert.Equal(t, []any{"a", "b"}, v.Field("Tags"))
	assert.Equal(t, map[string]any{"depth": float64(2)}, v.Field("Meta"))
	assert.Contains(t, v.FieldValues, "Parent")
	assert.Nil(t, v.Field("Parent"))
	assert.True(t, version.ValuesEqual(3, v.Field("Sort")))

	// callers cannot mutate stored history through returned snapshots
	v.FieldValues["Title"] = "mutated"
	again, err := s.GetVersion(ctx, page, 1)
	require.NoError(t, err)
	assert.Equal(t, "Typed", again.Field("Title"))
}

func testRejectsInexactIntegers(t *testing.T, s version.Store) {
	ctx := context.Background()
	_, _, err := s.Commit(ctx, version.CommitRequest{AuthorID: "editor", Writes: []version.Write{
		write(block, "ok"),
		{Key: page, Fields: map[string]any{"Ext": int64(9007199254740993)}},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, version.ErrInvalidCommit)
	assert.Equal(t, 0, versionCount(t, s, block))

	commit(t, s, version.Write{Key: page, Fields: map[string]any{"Ext": int64(version.MaxExactInt)}})
	v, err := s.GetVersion(ctx, page, 1)
	require.NoError(t, err)
	assert.True(t, version.ValuesEqual(int64(version.MaxExactInt), v.Field("Ext")))
	assert.False(t, version.ValuesEqual(int64(version.MaxExactInt)+1, v.Field("Ext")))
}
