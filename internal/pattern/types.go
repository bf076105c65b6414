// Package pattern detects recurring coding and architectural motifs in
// memory events and accumulates them in a durable store.
//
// Detection is deliberately rule-based: ordered matchers emit candidates
// keyed by a deterministic signature, and repeated detections of the same
// signature converge on a single pattern row through a monotonic merge.
package pattern

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested pattern does not exist.
	ErrNotFound = errors.New("pattern not found")

	// ErrInvalidPattern indicates a pattern failed validation.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Pattern categories.
const (
	CategoryArchitectural  = "architectural"
	CategoryCreational     = "creational"
	CategoryAPI            = "api"
	CategorySecurity       = "security"
	CategoryTesting        = "testing"
	CategoryImplementation = "implementation"
	CategoryTechnology     = "technology"
	CategoryProcess        = "process"
	CategoryAntiPattern    = "anti_pattern"
)

// signaturePrefixes maps categories to the short prefixes used in
// signatures. Unknown categories fall back to the category name itself.
var signaturePrefixes = map[string]string{
	CategoryArchitectural:  "arch",
	CategoryCreational:     "creat",
	CategoryAPI:            "api",
	CategorySecurity:       "sec",
	CategoryTesting:        "test",
	CategoryImplementation: "impl",
	CategoryTechnology:     "tech",
	CategoryProcess:        "proc",
	CategoryAntiPattern:    "anti",
}

// Signature derives the deterministic natural key for a category and
// pattern type, e.g. ("architectural", "microservices") -> "arch_microservices".
func Signature(category, patternType string) string {
	prefix, ok := signaturePrefixes[category]
	if !ok {
		prefix = category
	}
	return prefix + "_" + slug(patternType)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// DetectionMethod records how a pattern was identified.
type DetectionMethod string

const (
	DetectionUserExplicit DetectionMethod = "user_explicit"
	DetectionMemoryType   DetectionMethod = "memory_type"
	DetectionKeyword      DetectionMethod = "keyword"
)

func (m DetectionMethod) rank() int {
	switch m {
	case DetectionUserExplicit:
		return 2
	case DetectionMemoryType:
		return 1
	default:
		return 0
	}
}

// PromoteMethod returns the stronger of the two detection methods. An
// existing user_explicit classification is never downgraded.
func PromoteMethod(existing, incoming DetectionMethod) DetectionMethod {
	if incoming.rank() > existing.rank() {
		return incoming
	}
	return existing
}

// Pattern is a recurring motif accumulated across memories.
type Pattern struct {
	ID              string          `json:"id"`
	Signature       string          `json:"signature"`
	Category        string          `json:"category"`
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ConfidenceScore float64         `json:"confidence_score"`
	FrequencyCount  int             `json:"frequency_count"`
	ProjectsSeen    []string        `json:"projects_seen"`
	ExampleMemories []string        `json:"example_memories"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastReinforced  time.Time       `json:"last_reinforced"`
}

// Validate checks the pattern for required fields.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPattern)
	}
	if p.Signature == "" {
		return fmt.Errorf("%w: signature is required", ErrInvalidPattern)
	}
	if p.ConfidenceScore < 0 || p.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence %g out of range", ErrInvalidPattern, p.ConfidenceScore)
	}
	if p.FrequencyCount < 1 {
		return fmt.Errorf("%w: frequency must be at least 1", ErrInvalidPattern)
	}
	return nil
}

// Candidate is one potential pattern emitted by a matcher.
type Candidate struct {
	Category        string
	Type            string
	Name            string
	Signature       string
	Description     string
	Confidence      float64
	DetectionMethod DetectionMethod
}

// Occurrence links a pattern to one memory that exhibited it. The pair
// (PatternID, MemoryID) is unique; replays are ignored.
type Occurrence struct {
	PatternID      string    `json:"pattern_id"`
	MemoryID       string    `json:"memory_id"`
	ProjectID      string    `json:"project_id"`
	Confidence     float64   `json:"confidence"`
	ContextSnippet string    `json:"context_snippet"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// MergeConfig holds the tunable merge constants.
type MergeConfig struct {
	Boost              float64
	ExplicitBoost      float64
	MaxExampleMemories int
}

// DefaultMergeConfig returns the standard merge tuning.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{Boost: 0.1, ExplicitBoost: 0.2, MaxExampleMemories: 10}
}

// BoostFor returns the confidence boost a detection method earns.
func (c MergeConfig) BoostFor(method DetectionMethod) float64 {
	if method == DetectionUserExplicit {
		return c.ExplicitBoost
	}
	return c.Boost
}

// NewPattern creates a pattern row from its first detected candidate.
func NewPattern(c Candidate, memoryID, projectID string, now time.Time) *Pattern {
	p := &Pattern{
		ID:              uuid.New().String(),
		Signature:       c.Signature,
		Category:        c.Category,
		Type:            c.Type,
		Name:            c.Name,
		Description:     c.Description,
		ConfidenceScore: c.Confidence,
		FrequencyCount:  1,
		ProjectsSeen:    []string{},
		ExampleMemories: []string{},
		DetectionMethod: c.DetectionMethod,
		FirstSeen:       now,
		LastReinforced:  now,
	}
	if projectID != "" {
		p.ProjectsSeen = append(p.ProjectsSeen, projectID)
	}
	if memoryID != "" {
		p.ExampleMemories = append(p.ExampleMemories, memoryID)
	}
	return p
}

// Merge combines an existing pattern with a repeated detection. Every field
// moves monotonically: frequency increments, sets grow, confidence rises
// toward 1.0, and the detection method only promotes upward.
func Merge(existing Pattern, c Candidate, memoryID, projectID string, now time.Time, cfg MergeConfig) Pattern {
	merged := existing
	merged.FrequencyCount++
	merged.ConfidenceScore = min(1.0, existing.ConfidenceScore+cfg.BoostFor(c.DetectionMethod))
	merged.DetectionMethod = PromoteMethod(existing.DetectionMethod, c.DetectionMethod)
	merged.ProjectsSeen = appendUnique(existing.ProjectsSeen, projectID, 0)
	merged.ExampleMemories = appendUnique(existing.ExampleMemories, memoryID, cfg.MaxExampleMemories)
	merged.LastReinforced = now
	if merged.Description == "" {
		merged.Description = c.Description
	}
	return merged
}

// appendUnique adds value to set if absent, preserving insertion order. A
// max of 0 means unbounded.
func appendUnique(set []string, value string, max int) []string {
	if value == "" {
		return set
	}
	for _, v := range set {
		if v == value {
			return set
		}
	}
	if max > 0 && len(set) >= max {
		return set
	}
	out := make([]string, len(set), len(set)+1)
	copy(out, set)
	return append(out, value)
}

// Snippet returns a bounded context excerpt for occurrence facts.
func Snippet(content string, max int) string {
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
