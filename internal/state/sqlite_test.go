package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore()
	require.NoError(t, store.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OpenMigrates(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	rows, err := store.db.Query("SELECT 1 FROM builds LIMIT 1")
	require.NoError(t, err)
	_ = rows.Close()
}

func TestSQLiteStore_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store := NewSQLiteStore()
	require.NoError(t, store.Open(ctx, path))
	require.NoError(t, store.RecordBuild(ctx, &Build{Template: "a.pegt", Status: BuildSucceeded}))
	require.NoError(t, store.Close())

	// reopening keeps data and does not re-run migrations
	store = NewSQLiteStore()
	require.NoError(t, store.Open(ctx, path))
	defer store.Close()
	assert.Equal(t, path, store.Path())

	builds, err := store.ListBuilds(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, builds, 1)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore()
	ctx := context.Background()

	assert.Error(t, store.RecordBuild(ctx, &Build{}))
	_, err := store.ListBuilds(ctx, "", 1)
	assert.Error(t, err)
	_, err = store.GetBuild(ctx, "x")
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_RecordAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &Build{
		Template:    "json.pegt",
		Name:        "json",
		GrammarHash: "abc123",
		Actions:     4,
		Bytes:       512,
		Status:      BuildFailed,
		Error:       "1:5: rule \"x\" is not defined",
		Duration:    1500 * time.Millisecond,
		CreatedAt:   created,
	}
	require.NoError(t, store.RecordBuild(ctx, b))
	require.NotEmpty(t, b.ID)

	got, err := store.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "json", got.Name)
	assert.Equal(t, "abc123", got.GrammarHash)
	assert.Equal(t, 4, got.Actions)
	assert.Equal(t, 512, got.Bytes)
	assert.Equal(t, BuildFailed, got.Status)
	assert.Equal(t, b.Error, got.Error)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, created.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)

	_, err = store.GetBuild(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListBuilds(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, tmpl := range []string{"a.pegt", "b.pegt", "a.pegt", "a.pegt"} {
		require.NoError(t, store.RecordBuild(ctx, &Build{
			Template:  tmpl,
			Status:    BuildSucceeded,
			Actions:   i,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		name     string
		template string
		limit    int
		actions  []int
	}{
		{"all newest first", "", 10, []int{3, 2, 1, 0}},
		{"limit", "", 2, []int{3, 2}},
		{"by template", "a.pegt", 10, []int{3, 2, 0}},
		{"unknown template", "c.pegt", 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builds, err := store.ListBuilds(ctx, tt.template, tt.limit)
			require.NoError(t, err)
			var actions []int
			for _, b := range builds {
				actions = append(actions, b.Actions)
			}
			assert.Equal(t, tt.actions, actions)
		})
	}
}

func TestSQLiteStore_PruneBuilds(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.RecordBuild(ctx, &Build{
			Template:  "a.pegt",
			Status:    BuildSucceeded,
			Actions:   i,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	deleted, err := store.PruneBuilds(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	builds, err := store.ListBuilds(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, 4, builds[0].Actions)
}
