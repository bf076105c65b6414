// Package queue provides the durable task queue backing the learning
// pipeline.
//
// The queue is the single source of truth for pending, in-flight, and
// terminal background work. Concurrency correctness across workers rests
// entirely on the atomic claim in Store.ClaimBatch; nothing else
// coordinates.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTask indicates a task failed validation.
	ErrInvalidTask = errors.New("invalid task")

	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("task not found")
)

// TaskType identifies the kind of background work a task carries.
type TaskType string

const (
	TypePatternDetection        TaskType = "pattern_detection"
	TypeInsightGeneration       TaskType = "insight_generation"
	TypePreferenceAnalysis      TaskType = "preference_analysis"
	TypeEvolutionTracking       TaskType = "evolution_tracking"
	TypeMilestoneAnalysis       TaskType = "milestone_analysis"
	TypeCriticalPatternAnalysis TaskType = "critical_pattern_analysis"
	TypeManualAnalysis          TaskType = "manual_analysis"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TypePatternDetection, TypeInsightGeneration, TypePreferenceAnalysis,
		TypeEvolutionTracking, TypeMilestoneAnalysis, TypeCriticalPatternAnalysis,
		TypeManualAnalysis:
		return true
	}
	return false
}

// RecurringTypes returns the task types the scheduler enqueues on fixed
// intervals. Manual analysis is operator-triggered only.
func RecurringTypes() []TaskType {
	return []TaskType{
		TypePatternDetection,
		TypeInsightGeneration,
		TypePreferenceAnalysis,
		TypeEvolutionTracking,
		TypeMilestoneAnalysis,
		TypeCriticalPatternAnalysis,
	}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusRetry      TaskStatus = "retry"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task priorities. Lower values are claimed first.
const (
	PriorityHigh   = 1
	PriorityMedium = 5
	PriorityLow    = 10
)

// DefaultMaxRetries is the retry budget a store stamps on tasks that do
// not carry their own.
const DefaultMaxRetries = 3

// Task is one unit of queued background work.
type Task struct {
	ID            string          `json:"id"`
	Type          TaskType        `json:"type"`
	Priority      int             `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
	Status        TaskStatus      `json:"status"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTask creates a pending task of the given type. The payload is marshaled
// to JSON; a nil payload becomes an empty document. ScheduledFor defaults to
// the creation time and can be moved forward by the caller before enqueue.
// MaxRetries is left zero; the store stamps its configured retry budget at
// enqueue unless the caller sets one explicitly.
func NewTask(taskType TaskType, payload any, priority int) (*Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTask, taskType)
	}

	raw := json.RawMessage(`{}`)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal payload: %v", ErrInvalidTask, err)
		}
		raw = data
	}

	now := time.Now().UTC()
	return &Task{
		ID:           uuid.New().String(),
		Type:         taskType,
		Priority:     priority,
		Payload:      raw,
		Status:       StatusPending,
		ScheduledFor: now,
		CreatedAt:    now,
	}, nil
}

// Validate checks the task for required fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTask, t.Type)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry_count", ErrInvalidTask)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max_retries", ErrInvalidTask)
	}
	return nil
}

// Less is the claim-order comparator: priority ascending, then scheduled
// time ascending. The claim query orders by exactly these columns; tests
// that simulate claiming in memory must use this comparator and nothing
// else.
func Less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ScheduledFor.Before(b.ScheduledFor)
}

// Backoff returns the retry delay for the given retry count: 2^retryCount
// minutes, strictly increasing.
func Backoff(retryCount int) time.Duration {
	return time.Duration(1<<uint(retryCount)) * time.Minute
}
