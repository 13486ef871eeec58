package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/schema"
	"github.com/nainya/revertstore/pkg/version"
)

var (
	page  = version.Key{Type: "Page", ID: "42"}
	block = version.Key{Type: "ContentBlock", ID: "7"}
	base  = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

type testEnv struct {
	svc       *Service
	store     *version.MemoryStore
	workflows *revert.WorkflowRegistry
}

// tickingClock advances one minute per call
func tickingClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
}

func setupTestService(t *testing.T, schemas *schema.Registry) *testEnv {
	t.Helper()
	store := version.NewMemoryStore(version.WithClock(tickingClock()))
	workflows := revert.NewWorkflowRegistry()
	svc := NewService(store, schemas,
		WithAuthorizer(revert.NewStaticAuthorizer([]string{"viewer"}, []string{"editor"})),
		WithWorkflow(workflows),
	)
	return &testEnv{svc: svc, store: store, workflows: workflows}
}

func pageSchemas() *schema.Registry {
	return schema.NewRegistry(
		&schema.Descriptor{Type: "Page", Singular: "Page", TitleField: "Title", Fields: []schema.Field{{Name: "Title"}, {Name: "Content"}}},
		&schema.Descriptor{Type: "ContentBlock", Singular: "Content block", TitleField: "Title", Fields: []schema.Field{{Name: "Title"}}},
	)
}

func commit(t *testing.T, store *version.MemoryStore, writes ...version.Write) {
	t.Helper()
	_, _, err := store.Commit(context.Background(), version.CommitRequest{AuthorID: "alice", Writes: writes})
	require.NoError(t, err)
}

func titled(key version.Key, title string) version.Write {
	return version.Write{Key: key, Fields: map[string]any{"Title": title}}
}

func TestHistory(t *testing.T) {
	env := setupTestService(t, pageSchemas())
	ctx := context.Background()
	for _, title := range []string{"First", "Second", "Old"} {
		commit(t, env.store, titled(page, title))
	}
	commit(t, env.store, version.Write{Key: page, Fields: map[string]any{"Title": "Old"}, Deleted: true})
	commit(t, env.store, titled(page, "New"))

	rows, err := env.svc.History(ctx, page, 0, "viewer")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []int{5, 3, 2, 1}, []int{rows[0].Version, rows[1].Version, rows[2].Version, rows[3].Version})

	assert.Equal(t, StateLatest, rows[0].State)
	assert.Empty(t, rows[0].Link)
	assert.Equal(t, "New", rows[0].Title)
	assert.Equal(t, StateReview, rows[1].State)
	assert.Equal(t, "rv=3", rows[1].Link)
	assert.Equal(t, "alice", rows[1].AuthorID)
	assert.Equal(t, base.Add(3*time.Minute), rows[1].EditedAt)

	rows, err = env.svc.History(ctx, page, 3, "viewer")
	require.NoError(t, err)
	for _, r := range rows {
		assert.NotEqual(t, 3, r.Version)
	}
	assert.Len(t, rows, 3)
}

func TestHistoryWorkflowAndAccess(t *testing.T) {
	env := setupTestService(t, pageSchemas())
	ctx := context.Background()
	commit(t, env.store, titled(page, "First"))
	commit(t, env.store, titled(page, "Second"))

	env.workflows.Set(page, true)
	rows, err := env.svc.History(ctx, page, 0, "editor")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, StateLatest, rows[0].State)
	assert.Equal(t, StateWorkflowed, rows[1].State)
	assert.Empty(t, rows[1].Link)

	rows, err = env.svc.History(ctx, page, 0, "stranger")
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = NewService(env.store, nil).History(ctx, page, 0, "editor")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestView(t *testing.T) {
	env := setupTestService(t, pageSchemas())
	ctx := context.Background()
	commit(t, env.store, titled(page, "First"), titled(block, "Hero"))
	commit(t, env.store, version.Write{Key: page, Fields: map[string]any{"Title": "Second", "Content": "body"}})

	view, err := env.svc.View(ctx, page, "", "viewer")
	require.NoError(t, err)
	assert.True(t, view.IsLatest)
	assert.Equal(t, 2, view.Record.VersionNumber)
	assert.Equal(t, "You are currently viewing the latest version, created 2024-03-01 09:02:00", view.Message)
	assert.Empty(t, view.Diffs)
	assert.Empty(t, view.Related)

	view, err = env.svc.View(ctx, page, "1", "viewer")
	require.NoError(t, err)
	assert.False(t, view.IsLatest)
	assert.Equal(t, "You are currently viewing version 1, created 2024-03-01 09:01:00", view.Message)
	require.Len(t, view.Diffs, 2)
	assert.Equal(t, "Title", view.Diffs[0].Name)
	assert.Equal(t, "First", view.Diffs[0].CurrentValue)
	assert.Equal(t, "Second", view.Diffs[0].OtherValue)
	assert.Equal(t, "Content", view.Diffs[1].Name)
	assert.Nil(t, view.Diffs[1].CurrentValue)

	require.Len(t, view.Related, 1)
	assert.Equal(t, block, view.Related[0].Item.Key())
	assert.Equal(t, "Content block", view.Related[0].Name)
	assert.Equal(t, "Hero", view.Related[0].Title)
}

func TestViewMissingVersion(t *testing.T) {
	env := setupTestService(t, pageSchemas())
	ctx := context.Background()
	commit(t, env.store, titled(page, "First"))

	view, err := env.svc.View(ctx, page, "9", "viewer")
	require.NoError(t, err)
	assert.Nil(t, view.Record)
	assert.Equal(t, "No version #9 found for this record", view.Message)

	view, err = env.svc.View(ctx, page, "latest", "viewer")
	require.NoError(t, err)
	assert.Nil(t, view.Record)
	assert.Equal(t, "No version #latest found for this record", view.Message)

	_, err = env.svc.View(ctx, page, "1", "stranger")
	assert.ErrorIs(t, err, ErrNoAccess)
}

func TestUnpublishedReport(t *testing.T) {
	env := setupTestService(t, pageSchemas())
	ctx := context.Background()

	draft := version.Key{Type: "Page", ID: "1"}
	live := version.Key{Type: "Page", ID: "2"}
	pulled := version.Key{Type: "Page", ID: "3"}
	gone := version.Key{Type: "Page", ID: "4"}

	commit(t, env.store, titled(draft, "Zebra"))
	commit(t, env.store, version.Write{Key: live, Fields: map[string]any{"Title": "Live"}, Published: true})
	commit(t, env.store, version.Write{Key: pulled, Fields: map[string]any{"Title": "Apple"}, Published: true})
	commit(t, env.store, version.Write{Key: pulled, Fields: map[string]any{"Title": "Apple"}, Published: true, Deleted: true})
	commit(t, env.store, version.Write{Key: gone, Fields: map[string]any{"Title": "Gone"}, Deleted: true})

	rows, err := env.svc.UnpublishedReport(ctx, "Page", "viewer")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, pulled, rows[0].Key)
	assert.Equal(t, "Apple", rows[0].Title)
	require.NotNil(t, rows[0].UnpublishedAt)
	assert.Equal(t, base.Add(4*time.Minute), *rows[0].UnpublishedAt)

	assert.Equal(t, draft, rows[1].Key)
	assert.Nil(t, rows[1].UnpublishedAt)

	rows, err = env.svc.UnpublishedReport(ctx, "Page", "stranger")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUnpublishedReportWithoutTitleField(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	first := version.Key{Type: "Note", ID: "a"}
	second := version.Key{Type: "Note", ID: "b"}
	commit(t, env.store, version.Write{Key: first, Fields: map[string]any{"Body": "x"}})
	commit(t, env.store, version.Write{Key: second, Fields: map[string]any{"Body": "y"}})

	rows, err := env.svc.UnpublishedReport(ctx, "Note", "viewer")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second, rows[0].Key)
	assert.Equal(t, first, rows[1].Key)
	assert.Empty(t, rows[0].Title)
}
