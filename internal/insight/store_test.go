package insight

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

func testInsight() Insight {
	return Insight{
		Type:               TypeBestPractice,
		Category:           "architectural",
		Title:              "Best practice: Repository layer",
		Description:        "Repository layer has held up across 2 projects.",
		ConfidenceLevel:    0.8,
		EvidenceStrength:   4,
		ProjectsInvolved:   []string{"proj-a", "proj-b"},
		SupportingPatterns: []string{"pat-1"},
		Actionable:         true,
		Priority:           PriorityMedium,
		Metadata:           map[string]any{"signature": "arch_repository"},
	}
}

func TestUpsertCreatesAndRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ins := testInsight()
	created, err := store.Upsert(ctx, &ins)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, ins.ID)
	assert.False(t, ins.CreatedAt.IsZero())

	got, err := store.GetByTitle(ctx, ins.Title)
	require.NoError(t, err)
	assert.Equal(t, ins.ID, got.ID)
	assert.Equal(t, TypeBestPractice, got.Type)
	assert.Equal(t, 0.8, got.ConfidenceLevel)
	assert.Equal(t, 4, got.EvidenceStrength)
	assert.Equal(t, []string{"proj-a", "proj-b"}, got.ProjectsInvolved)
	assert.Equal(t, []string{"pat-1"}, got.SupportingPatterns)
	assert.True(t, got.Actionable)
	assert.Equal(t, "arch_repository", got.Metadata["signature"])
}

func TestUpsertMergesByTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createdAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return createdAt }

	first := testInsight()
	created, err := store.Upsert(ctx, &first)
	require.NoError(t, err)
	require.True(t, created)

	mergedAt := createdAt.Add(24 * time.Hour)
	store.now = func() time.Time { return mergedAt }

	second := testInsight()
	second.ConfidenceLevel = 0.6
	second.EvidenceStrength = 2
	second.ProjectsInvolved = []string{"proj-c"}
	second.SupportingPatterns = []string{"pat-2"}
	second.Description = "regenerated"

	created, err = store.Upsert(ctx, &second)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.GetByTitle(ctx, first.Title)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.InDelta(t, 0.7, got.ConfidenceLevel, 1e-9)
	assert.Equal(t, 4, got.EvidenceStrength)
	assert.Equal(t, []string{"proj-a", "proj-b", "proj-c"}, got.ProjectsInvolved)
	assert.Equal(t, []string{"pat-1", "pat-2"}, got.SupportingPatterns)
	assert.Equal(t, "regenerated", got.Description)
	assert.Equal(t, createdAt, got.CreatedAt)
	assert.Equal(t, mergedAt, got.UpdatedAt)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	bad := testInsight()
	bad.Type = "hunch"
	_, err := store.Upsert(context.Background(), &bad)
	assert.ErrorIs(t, err, ErrInvalidInsight)
}

func TestGetByTitleNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByTitle(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAllNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return older }
	first := testInsight()
	_, err := store.Upsert(ctx, &first)
	require.NoError(t, err)

	store.now = func() time.Time { return older.Add(time.Hour) }
	second := testInsight()
	second.Title = "Team focus: bug"
	second.Type = TypeTeamPattern
	second.Priority = PriorityLow
	_, err = store.Upsert(ctx, &second)
	require.NoError(t, err)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Team focus: bug", all[0].Title)
	assert.Equal(t, first.Title, all[1].Title)
}

func TestCountsByType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testInsight()
	_, err := store.Upsert(ctx, &a)
	require.NoError(t, err)

	b := testInsight()
	b.Title = "Best practice: Worker pool"
	_, err = store.Upsert(ctx, &b)
	require.NoError(t, err)

	c := testInsight()
	c.Title = "High bug rate: proj-a"
	c.Type = TypeQualityMetric
	c.Priority = PriorityHigh
	_, err = store.Upsert(ctx, &c)
	require.NoError(t, err)

	counts, err := store.CountsByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		TypeBestPractice:  2,
		TypeQualityMetric: 1,
	}, counts)
}
