package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/learnd/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "learnd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestRecordAndGetEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &Event{
		ID:              "mem-1",
		ProjectID:       "proj-a",
		Content:         "We use microservices for the payments domain",
		MemoryType:      TypeArchitecture,
		ImportanceScore: 0.8,
		Tags:            []string{"architecture"},
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.RecordEvent(ctx, ev))

	got, err := store.GetEvent(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, ev.ProjectID, got.ProjectID)
	assert.Equal(t, ev.Content, got.Content)
	assert.Equal(t, ev.MemoryType, got.MemoryType)
	assert.Equal(t, ev.Tags, got.Tags)
	assert.True(t, ev.CreatedAt.Equal(got.CreatedAt))
}

func TestGetEventNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEvent(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordEventIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &Event{ID: "mem-1", ProjectID: "p", Content: "original", MemoryType: TypeBug}
	require.NoError(t, store.RecordEvent(ctx, ev))

	replay := &Event{ID: "mem-1", ProjectID: "p", Content: "changed", MemoryType: TypeBug}
	require.NoError(t, store.RecordEvent(ctx, replay))

	got, err := store.GetEvent(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestRecordEventRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordEvent(context.Background(), &Event{ID: "x", MemoryType: TypeBug})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRecentEventsFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	events := []*Event{
		{ID: "old", ProjectID: "p", Content: "too old", MemoryType: TypeBug, CreatedAt: base.Add(-48 * time.Hour)},
		{ID: "bug-1", ProjectID: "p", Content: "null pointer in handler", MemoryType: TypeBug, CreatedAt: base.Add(1 * time.Hour)},
		{ID: "arch-1", ProjectID: "p", Content: "service split", MemoryType: TypeArchitecture, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "bug-2", ProjectID: "p", Content: "race in worker", MemoryType: TypeBug, CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, ev := range events {
		require.NoError(t, store.RecordEvent(ctx, ev))
	}

	bugs, err := store.RecentEvents(ctx, []string{TypeBug}, base, 0)
	require.NoError(t, err)
	require.Len(t, bugs, 2)
	assert.Equal(t, "bug-2", bugs[0].ID)
	assert.Equal(t, "bug-1", bugs[1].ID)

	all, err := store.RecentEvents(ctx, nil, base, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.RecentEvents(ctx, nil, base, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "bug-2", limited[0].ID)
}

func TestCreateTaskMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateTaskMemory(ctx, []string{"proj-a", "proj-b"},
		"Document the microservices pattern",
		"Seen repeatedly across projects without docs.",
		map[string]any{"kind": "documentation"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TypeTask, got.MemoryType)
	assert.Equal(t, "proj-a", got.ProjectID)
	assert.Contains(t, got.Content, "Document the microservices pattern")
	assert.Contains(t, got.Tags, "auto_generated")
}

func TestCreateTaskMemoryRequiresTitle(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateTaskMemory(context.Background(), nil, "", "desc", nil)
	require.ErrorIs(t, err, ErrInvalidEvent)
}
