// Package memory defines the memory-event collaborator consumed by the
// learning pipeline.
//
// The pipeline never owns memory CRUD. It reads recent persisted events as
// the durable fallback for buffer loss, and writes exactly one kind of
// memory: synthesized task memories produced by the feedback loop.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the requested memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidEvent indicates a memory event failed validation.
	ErrInvalidEvent = errors.New("invalid memory event")
)

// Memory types the pipeline distinguishes. The set mirrors the categories
// the platform assigns at capture time; anything else is treated as general.
const (
	TypeArchitecture   = "architecture"
	TypeDecision       = "design_decision"
	TypeCode           = "code"
	TypeTechContext    = "tech_context"
	TypeBug            = "bug"
	TypeLessonsLearned = "lessons_learned"
	TypeTask           = "task"
	TypeGeneral        = "general"
)

// Event is one persisted memory observation, read-only to the pipeline.
type Event struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Content         string    `json:"content"`
	MemoryType      string    `json:"memory_type"`
	ImportanceScore float64   `json:"importance_score"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the event for required fields.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidEvent)
	}
	if e.MemoryType == "" {
		return fmt.Errorf("%w: memory_type is required", ErrInvalidEvent)
	}
	return nil
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Store is the collaborator interface the pipeline depends on.
type Store interface {
	// GetEvent returns a single memory by id.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// RecentEvents returns events created at or after since, newest first,
	// optionally filtered to the given memory types. A limit of 0 means no
	// limit.
	RecentEvents(ctx context.Context, types []string, since time.Time, limit int) ([]Event, error)

	// CountsByProjectType returns, per project, the number of memories of
	// each type created at or after since.
	CountsByProjectType(ctx context.Context, since time.Time) (map[string]map[string]int, error)

	// CreateTaskMemory persists a synthesized task memory and returns its id.
	CreateTaskMemory(ctx context.Context, projectIDs []string, title, description string, metadata map[string]any) (string, error)
}
