package learning

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// fakeTrigger counts worker-pass requests.
type fakeTrigger struct {
	calls atomic.Int64
}

func (f *fakeTrigger) TriggerNow() { f.calls.Add(1) }

func newTestScheduler(t *testing.T, q queue.Store, trigger Trigger) *Scheduler {
	t.Helper()
	s, err := NewScheduler(q, trigger, DefaultSchedulerConfig(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestSchedulerStartEnqueuesRecurringTypes(t *testing.T) {
	q := newQueueStore(t)
	s := newTestScheduler(t, q, &fakeTrigger{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	got := pendingByType(t, q)
	for _, taskType := range queue.RecurringTypes() {
		assert.Equal(t, 1, got[taskType], "type %s", taskType)
	}
	// Manual analysis is operator-only, never scheduled.
	assert.Zero(t, got[queue.TypeManualAnalysis])
}

func TestSchedulerStartIsExclusive(t *testing.T) {
	q := newQueueStore(t)
	s := newTestScheduler(t, q, &fakeTrigger{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	// Stop after stop is a no-op.
	s.Stop()
}

func TestSchedulerNextRuns(t *testing.T) {
	q := newQueueStore(t)
	s := newTestScheduler(t, q, &fakeTrigger{})

	assert.Empty(t, s.NextRuns())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	next := s.NextRuns()
	require.Len(t, next, len(queue.RecurringTypes()))
	now := time.Now()
	for taskType, at := range next {
		assert.True(t, at.After(now), "next run for %s = %v", taskType, at)
	}
}

func TestTickTriggersWorkerWhenOverdue(t *testing.T) {
	q := newQueueStore(t)
	trigger := &fakeTrigger{}
	s := newTestScheduler(t, q, trigger)

	// A pending task already due counts as overdue at the next tick.
	enqueueTask(t, q, queue.TypeCriticalPatternAnalysis, queue.PriorityHigh)

	s.tick(queue.TypeCriticalPatternAnalysis)
	assert.Equal(t, int64(1), trigger.calls.Load())

	// The tick also enqueued the next recurring instance.
	got := pendingByType(t, q)
	assert.Equal(t, 2, got[queue.TypeCriticalPatternAnalysis])
}

func TestTickWithoutOverdueDoesNotTrigger(t *testing.T) {
	q := newQueueStore(t)
	trigger := &fakeTrigger{}
	s := newTestScheduler(t, q, trigger)

	s.tick(queue.TypePatternDetection)
	assert.Zero(t, trigger.calls.Load())

	got := pendingByType(t, q)
	assert.Equal(t, 1, got[queue.TypePatternDetection])
}

func TestRecurringInstancePriorities(t *testing.T) {
	q := newQueueStore(t)
	s := newTestScheduler(t, q, &fakeTrigger{})

	ctx := context.Background()
	s.enqueueRecurring(ctx, queue.TypeCriticalPatternAnalysis)
	s.enqueueRecurring(ctx, queue.TypePatternDetection)
	s.enqueueRecurring(ctx, queue.TypeInsightGeneration)

	batch, err := q.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	// Claim order follows priority: critical first, insight last.
	assert.Equal(t, queue.TypeCriticalPatternAnalysis, batch[0].Type)
	assert.Equal(t, queue.TypePatternDetection, batch[1].Type)
	assert.Equal(t, queue.TypeInsightGeneration, batch[2].Type)
}

func TestNewSchedulerValidation(t *testing.T) {
	q := newQueueStore(t)

	_, err := NewScheduler(nil, &fakeTrigger{}, DefaultSchedulerConfig(), zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler(q, nil, DefaultSchedulerConfig(), zap.NewNop())
	assert.Error(t, err)
}
