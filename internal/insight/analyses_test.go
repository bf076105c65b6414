package insight

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/learnd/internal/memory"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
)

func titles(insights []Insight) []string {
	out := make([]string, len(insights))
	for i, ins := range insights {
		out[i] = ins.Title
	}
	return out
}

func TestBestPractices(t *testing.T) {
	cfg := DefaultConfig()
	patterns := []*pattern.Pattern{
		{
			ID: "p1", Name: "Repository layer", Category: pattern.CategoryArchitectural,
			Signature: "arch_repository", ConfidenceScore: 0.8, FrequencyCount: 4,
			ProjectsSeen: []string{"proj-a", "proj-b"},
		},
		{
			ID: "p2", Name: "Singleton", Category: pattern.CategoryCreational,
			Signature: "creat_singleton", ConfidenceScore: 0.6, FrequencyCount: 9,
			ProjectsSeen: []string{"proj-a", "proj-b"},
		},
		{
			ID: "p3", Name: "Caching", Category: pattern.CategoryImplementation,
			Signature: "impl_caching", ConfidenceScore: 0.9, FrequencyCount: 2,
			ProjectsSeen: []string{"proj-a", "proj-b"},
		},
		{
			ID: "p4", Name: "Worker pool", Category: pattern.CategoryImplementation,
			Signature: "impl_worker_pool", ConfidenceScore: 0.9, FrequencyCount: 6,
			ProjectsSeen: []string{"proj-a"},
		},
		{
			ID: "p5", Name: "God object", Category: pattern.CategoryAntiPattern,
			Signature: "anti_god_object", ConfidenceScore: 1.0, FrequencyCount: 9,
			ProjectsSeen: []string{"proj-a", "proj-b"},
		},
	}

	out := bestPractices(patterns, cfg)

	require.Len(t, out, 1)
	ins := out[0]
	assert.Equal(t, "Best practice: Repository layer", ins.Title)
	assert.Equal(t, TypeBestPractice, ins.Type)
	assert.Equal(t, 0.8, ins.ConfidenceLevel)
	assert.Equal(t, 4, ins.EvidenceStrength)
	assert.Equal(t, []string{"proj-a", "proj-b"}, ins.ProjectsInvolved)
	assert.Equal(t, []string{"p1"}, ins.SupportingPatterns)
	assert.True(t, ins.Actionable)
	assert.Equal(t, PriorityMedium, ins.Priority)
}

func TestBugCorrelations(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	patterns := []*pattern.Pattern{
		{ID: "p1", Name: "God object", Category: pattern.CategoryAntiPattern, Signature: "anti_god_object"},
		{ID: "p2", Name: "Caching", Category: pattern.CategoryImplementation, Signature: "impl_caching"},
	}
	occs := []*pattern.Occurrence{
		{PatternID: "p1", MemoryID: "m1", ProjectID: "proj-a", OccurredAt: base},
		{PatternID: "p2", MemoryID: "m9", ProjectID: "proj-a", OccurredAt: base.Add(-60 * 24 * time.Hour)},
	}
	bugs := []memory.Event{
		{ID: "b1", ProjectID: "proj-a", MemoryType: memory.TypeBug, CreatedAt: base.Add(24 * time.Hour)},
		{ID: "b2", ProjectID: "proj-a", MemoryType: memory.TypeBug, CreatedAt: base.Add(-3 * 24 * time.Hour)},
		{ID: "b3", ProjectID: "proj-a", MemoryType: memory.TypeBug, CreatedAt: base.Add(6 * 24 * time.Hour)},
		// Outside the 7-day window.
		{ID: "b4", ProjectID: "proj-a", MemoryType: memory.TypeBug, CreatedAt: base.Add(20 * 24 * time.Hour)},
		// Different project.
		{ID: "b5", ProjectID: "proj-b", MemoryType: memory.TypeBug, CreatedAt: base},
	}

	out := bugCorrelations(patterns, occs, bugs, cfg)

	require.Len(t, out, 1)
	ins := out[0]
	assert.Equal(t, "Bug correlation: God object", ins.Title)
	assert.Equal(t, TypeAntiPattern, ins.Type)
	assert.Equal(t, 3, ins.EvidenceStrength)
	assert.Equal(t, []string{"proj-a"}, ins.ProjectsInvolved)
	assert.Equal(t, []string{"p1"}, ins.SupportingPatterns)
	assert.True(t, ins.Actionable)
	assert.Equal(t, PriorityHigh, ins.Priority)
	assert.InDelta(t, 0.8, ins.ConfidenceLevel, 1e-9)
}

func TestBugCorrelationsBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	patterns := []*pattern.Pattern{
		{ID: "p1", Name: "God object", Category: pattern.CategoryAntiPattern, Signature: "anti_god_object"},
	}
	occs := []*pattern.Occurrence{
		{PatternID: "p1", MemoryID: "m1", ProjectID: "proj-a", OccurredAt: base},
	}
	bugs := []memory.Event{
		{ID: "b1", ProjectID: "proj-a", CreatedAt: base},
		{ID: "b2", ProjectID: "proj-a", CreatedAt: base.Add(time.Hour)},
	}

	assert.Empty(t, bugCorrelations(patterns, occs, bugs, cfg))
}

func TestTechnologyPreferences(t *testing.T) {
	cfg := DefaultConfig()
	events := []memory.Event{
		{ID: "m1", ProjectID: "proj-a", Content: "Moved the cache to Redis, Docker image updated"},
		{ID: "m2", ProjectID: "proj-a", Content: "Docker compose now runs Postgres locally"},
		{ID: "m3", ProjectID: "proj-b", Content: "CI builds the Docker image twice, needs a fix"},
	}
	patterns := []*pattern.Pattern{
		{ID: "p1", Signature: "tech_docker", Name: "Docker", Category: pattern.CategoryTechnology},
	}

	out := technologyPreferences(events, patterns, cfg)

	require.Len(t, out, 1)
	ins := out[0]
	assert.Equal(t, "Technology preference: Docker", ins.Title)
	assert.Equal(t, TypeTechnologyPreference, ins.Type)
	assert.Equal(t, 3, ins.EvidenceStrength)
	assert.InDelta(t, 0.7, ins.ConfidenceLevel, 1e-9)
	assert.Equal(t, []string{"proj-a", "proj-b"}, ins.ProjectsInvolved)
	assert.Equal(t, []string{"p1"}, ins.SupportingPatterns)
	assert.False(t, ins.Actionable)
}

func TestEvolutionTrends(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	june := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)

	patterns := []*pattern.Pattern{
		{ID: "grow", Name: "Event-driven architecture", Category: pattern.CategoryArchitectural, Signature: "arch_event_driven"},
		{ID: "shrink", Name: "Monolith", Category: pattern.CategoryArchitectural, Signature: "arch_monolith"},
		{ID: "flat", Name: "Caching", Category: pattern.CategoryImplementation, Signature: "impl_caching"},
		{ID: "fresh", Name: "CQRS", Category: pattern.CategoryArchitectural, Signature: "arch_cqrs"},
	}
	var occs []*pattern.Occurrence
	add := func(id string, at time.Time, n int) {
		for i := 0; i < n; i++ {
			occs = append(occs, &pattern.Occurrence{
				PatternID:  id,
				MemoryID:   fmt.Sprintf("%s-%s-%d", id, at.Format("01"), i),
				OccurredAt: at,
			})
		}
	}
	add("grow", jan, 2)
	add("grow", june, 4)
	add("shrink", jan, 4)
	add("shrink", june, 1)
	add("flat", jan, 2)
	add("flat", june, 2)
	add("fresh", june, 3)

	out := evolutionTrends(patterns, occs, now, cfg)

	got := titles(out)
	assert.ElementsMatch(t, []string{
		"Growing pattern: Event-driven architecture",
		"Declining pattern: Monolith",
	}, got)

	for _, ins := range out {
		assert.Equal(t, TypeEvolution, ins.Type)
		assert.False(t, ins.Actionable)
		if ins.Title == "Growing pattern: Event-driven architecture" {
			assert.Equal(t, "growing", ins.Metadata["trend"])
			assert.Equal(t, 6, ins.EvidenceStrength)
		}
	}
}

func TestEvolutionDeclineToZero(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	patterns := []*pattern.Pattern{
		{ID: "gone", Name: "Singleton", Category: pattern.CategoryCreational, Signature: "creat_singleton"},
	}
	occs := []*pattern.Occurrence{
		{PatternID: "gone", MemoryID: "m1", OccurredAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{PatternID: "gone", MemoryID: "m2", OccurredAt: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)},
	}

	out := evolutionTrends(patterns, occs, now, cfg)

	require.Len(t, out, 1)
	assert.Equal(t, "Declining pattern: Singleton", out[0].Title)
	assert.Equal(t, "declining", out[0].Metadata["trend"])
}

func TestTeamPatterns(t *testing.T) {
	cfg := DefaultConfig()
	counts := map[string]map[string]int{
		"proj-a": {"bug": 5, "code": 2},
		"proj-b": {"bug": 2, "general": 1},
	}

	out := teamPatterns(counts, cfg)

	require.Len(t, out, 1)
	ins := out[0]
	assert.Equal(t, "Team focus: bug", ins.Title)
	assert.Equal(t, TypeTeamPattern, ins.Type)
	assert.Equal(t, 7, ins.EvidenceStrength)
	assert.InDelta(t, 0.7, ins.ConfidenceLevel, 1e-9)
	assert.Equal(t, []string{"proj-a", "proj-b"}, ins.ProjectsInvolved)
	assert.False(t, ins.Actionable)
}

func TestTeamPatternsEmpty(t *testing.T) {
	assert.Empty(t, teamPatterns(nil, DefaultConfig()))
	assert.Empty(t, teamPatterns(map[string]map[string]int{}, DefaultConfig()))
}

func TestQualityMetrics(t *testing.T) {
	cfg := DefaultConfig()
	counts := map[string]map[string]int{
		"proj-a": {"bug": 2, "code": 8},
		"proj-b": {"lessons_learned": 1, "code": 9},
		"proj-c": {"code": 10},
		"":       {"bug": 9, "code": 1},
	}

	out := qualityMetrics(counts, cfg)

	got := titles(out)
	assert.ElementsMatch(t, []string{
		"High bug rate: proj-a",
		"Learning culture: proj-b",
	}, got)

	for _, ins := range out {
		assert.Equal(t, TypeQualityMetric, ins.Type)
		switch ins.Title {
		case "High bug rate: proj-a":
			assert.True(t, ins.Actionable)
			assert.Equal(t, PriorityHigh, ins.Priority)
			assert.Equal(t, 2, ins.EvidenceStrength)
		case "Learning culture: proj-b":
			assert.False(t, ins.Actionable)
			assert.Equal(t, PriorityLow, ins.Priority)
			assert.Equal(t, 1, ins.EvidenceStrength)
		}
	}
}
