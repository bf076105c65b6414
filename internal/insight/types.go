// Package insight correlates accumulated patterns with memory activity and
// produces durable, deduplicated insights.
//
// Six analyses run independently; each emits candidates that merge into the
// insight store by title, so re-running an analysis refines an insight
// instead of duplicating it.
package insight

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the requested insight does not exist.
	ErrNotFound = errors.New("insight not found")

	// ErrInvalidInsight indicates an insight failed validation.
	ErrInvalidInsight = errors.New("invalid insight")
)

// Insight types, one per analysis.
const (
	TypeBestPractice         = "best_practice"
	TypeAntiPattern          = "anti_pattern"
	TypeTechnologyPreference = "technology_preference"
	TypeEvolution            = "evolution"
	TypeTeamPattern          = "team_pattern"
	TypeQualityMetric        = "quality_metric"
)

// AllTypes returns every analysis kind in a stable order.
func AllTypes() []string {
	return []string{
		TypeBestPractice,
		TypeAntiPattern,
		TypeTechnologyPreference,
		TypeEvolution,
		TypeTeamPattern,
		TypeQualityMetric,
	}
}

// ValidType reports whether t names a known analysis kind.
func ValidType(t string) bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Insight priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Insight is one generated observation, keyed by title.
type Insight struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Category           string         `json:"category"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	ConfidenceLevel    float64        `json:"confidence_level"`
	EvidenceStrength   int            `json:"evidence_strength"`
	ProjectsInvolved   []string       `json:"projects_involved"`
	SupportingPatterns []string       `json:"supporting_patterns"`
	Actionable         bool           `json:"actionable"`
	Priority           string         `json:"priority"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Validate checks the insight for required fields.
func (i *Insight) Validate() error {
	if i.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInsight)
	}
	if !ValidType(i.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInsight, i.Type)
	}
	if i.ConfidenceLevel < 0 || i.ConfidenceLevel > 1 {
		return fmt.Errorf("%w: confidence %g out of range", ErrInvalidInsight, i.ConfidenceLevel)
	}
	switch i.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInsight, i.Priority)
	}
	return nil
}

// Merge folds a regenerated candidate into an existing insight with the
// same title. Confidence averages, evidence takes the max, the involved
// sets union. Identity and creation time survive from the existing row;
// the candidate's description, flags and metadata replace the old ones.
func Merge(existing, incoming Insight, now time.Time) Insight {
	merged := incoming
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	merged.ConfidenceLevel = (existing.ConfidenceLevel + incoming.ConfidenceLevel) / 2
	merged.EvidenceStrength = max(existing.EvidenceStrength, incoming.EvidenceStrength)
	merged.ProjectsInvolved = union(existing.ProjectsInvolved, incoming.ProjectsInvolved)
	merged.SupportingPatterns = union(existing.SupportingPatterns, incoming.SupportingPatterns)
	merged.UpdatedAt = now
	return merged
}

// union appends the values of b missing from a, preserving order.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Config holds the analysis thresholds and windows.
type Config struct {
	BestPracticeConfidence float64
	BestPracticeFrequency  int
	BestPracticeProjects   int

	AntiPatternBugCount int
	AntiPatternWindow   time.Duration

	TechPreferenceWindow      time.Duration
	TechPreferenceMinMentions int

	EvolutionWindowMonths  int
	EvolutionGrowthFactor  float64
	EvolutionDeclineFactor float64

	TeamPatternWindow time.Duration
	TeamPatternShare  float64

	QualityWindow       time.Duration
	QualityBugRatio     float64
	QualityLessonsRatio float64
}

// DefaultConfig returns the standard analysis tuning.
func DefaultConfig() Config {
	return Config{
		BestPracticeConfidence: 0.7,
		BestPracticeFrequency:  3,
		BestPracticeProjects:   2,

		AntiPatternBugCount: 3,
		AntiPatternWindow:   7 * 24 * time.Hour,

		TechPreferenceWindow:      90 * 24 * time.Hour,
		TechPreferenceMinMentions: 3,

		EvolutionWindowMonths:  6,
		EvolutionGrowthFactor:  1.5,
		EvolutionDeclineFactor: 0.5,

		TeamPatternWindow: 30 * 24 * time.Hour,
		TeamPatternShare:  0.20,

		QualityWindow:       90 * 24 * time.Hour,
		QualityBugRatio:     0.15,
		QualityLessonsRatio: 0.05,
	}
}

// withDefaults backfills unset fields from DefaultConfig so a zero or
// partially populated Config never collapses an analysis window to nothing.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BestPracticeConfidence <= 0 {
		c.BestPracticeConfidence = def.BestPracticeConfidence
	}
	if c.BestPracticeFrequency <= 0 {
		c.BestPracticeFrequency = def.BestPracticeFrequency
	}
	if c.BestPracticeProjects <= 0 {
		c.BestPracticeProjects = def.BestPracticeProjects
	}
	if c.AntiPatternBugCount <= 0 {
		c.AntiPatternBugCount = def.AntiPatternBugCount
	}
	if c.AntiPatternWindow <= 0 {
		c.AntiPatternWindow = def.AntiPatternWindow
	}
	if c.TechPreferenceWindow <= 0 {
		c.TechPreferenceWindow = def.TechPreferenceWindow
	}
	if c.TechPreferenceMinMentions <= 0 {
		c.TechPreferenceMinMentions = def.TechPreferenceMinMentions
	}
	if c.EvolutionWindowMonths <= 0 {
		c.EvolutionWindowMonths = def.EvolutionWindowMonths
	}
	if c.EvolutionGrowthFactor <= 0 {
		c.EvolutionGrowthFactor = def.EvolutionGrowthFactor
	}
	if c.EvolutionDeclineFactor <= 0 {
		c.EvolutionDeclineFactor = def.EvolutionDeclineFactor
	}
	if c.TeamPatternWindow <= 0 {
		c.TeamPatternWindow = def.TeamPatternWindow
	}
	if c.TeamPatternShare <= 0 {
		c.TeamPatternShare = def.TeamPatternShare
	}
	if c.QualityWindow <= 0 {
		c.QualityWindow = def.QualityWindow
	}
	if c.QualityBugRatio <= 0 {
		c.QualityBugRatio = def.QualityBugRatio
	}
	if c.QualityLessonsRatio <= 0 {
		c.QualityLessonsRatio = def.QualityLessonsRatio
	}
	return c
}
