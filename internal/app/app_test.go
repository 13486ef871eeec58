package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/revertstore/internal/config"
	"github.com/nainya/revertstore/internal/logger"
	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/version"
	"github.com/nainya/revertstore/pkg/version/storetest"
)

var page = version.Key{Type: "Page", ID: "42"}

func setupTestApp(t *testing.T, backend string) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.GCInterval = 0
	switch backend {
	case "badger":
		cfg.Storage.Path = filepath.Join(t.TempDir(), "badger")
	case "sqlite":
		cfg.Storage.Path = filepath.Join(t.TempDir(), "revert.db")
	}
	cfg.Access.Editors = []string{"editor"}

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAppBackends(t *testing.T) {
	for _, backend := range []string{"memory", "badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			a := setupTestApp(t, backend)
			ctx := context.Background()

			for _, title := range []string{"First", "Second", "Old", "Fourth", "New"} {
				_, _, err := a.Store.Commit(ctx, version.CommitRequest{
					AuthorID: "alice",
					Writes:   []version.Write{{Key: page, Fields: map[string]any{"Title": title}}},
				})
				require.NoError(t, err)
			}

			out := a.Executor.Revert(ctx, "editor", page, "3")
			require.Equal(t, revert.StatusSuccess, out.Status, out.Message())
			assert.Equal(t, 6, out.NewVersion)

			out = a.Executor.Revert(ctx, "viewer", page, "2")
			assert.Equal(t, revert.NoAccess, out.Reason)

			a.SetWorkflow(page, true)
			out = a.Executor.Revert(ctx, "editor", page, "2")
			assert.Equal(t, revert.RecordInWorkflow, out.Reason)
			assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.WorkflowsActive))

			assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.RevertsTotal.WithLabelValues("SUCCESS", "OK")))
			assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.StoreOperationsTotal.WithLabelValues("rollback", "success")))
		})
	}
}

func TestInstrumentedStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) version.Store {
		a := setupTestApp(t, "memory")
		return a.Store
	})
}

func TestNewWithSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
types:
  - type: Page
    singular: Page
    title_field: Title
    fields:
      - name: Title
`), 0o644))

	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Schema.Path = path
	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	d, ok := a.Schemas.Get("Page")
	require.True(t, ok)
	assert.Equal(t, "Title", d.TitleField)

	cfg.Schema.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, err := OpenStore(config.StorageConfig{Backend: "etcd"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRevertOutcomeLogging(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Access.Editors = []string{"editor"}
	a, err := New(cfg, logger.NewLogger(logger.Config{Level: "info", Output: &buf}))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	for _, title := range []string{"First", "Second", "Old"} {
		_, _, err := a.Store.Commit(ctx, version.CommitRequest{
			AuthorID: "alice",
			Writes:   []version.Write{{Key: page, Fields: map[string]any{"Title": title}}},
		})
		require.NoError(t, err)
	}
	a.Executor.Revert(ctx, "editor", page, "2")
	a.Executor.Revert(ctx, "viewer", page, "2")

	var outcomes []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["message"] == "Revert completed" {
			outcomes = append(outcomes, m)
		}
	}
	require.Len(t, outcomes, 2)
	assert.Equal(t, "info", outcomes[0]["level"])
	assert.Equal(t, "SUCCESS", outcomes[0]["status"])
	assert.Equal(t, float64(4), outcomes[0]["new_version"])
	assert.Equal(t, "Page#42", outcomes[0]["record"])
	assert.Equal(t, "warn", outcomes[1]["level"])
	assert.Equal(t, "NO_ACCESS", outcomes[1]["code"])
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.RevertsTotal.WithLabelValues("DENIED", "NO_ACCESS")))
}
