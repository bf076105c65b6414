package learning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/insight"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
	"github.com/fyrsmithlabs/learnd/internal/queue"
	"github.com/fyrsmithlabs/learnd/internal/storage"
)

type serviceFixture struct {
	service *Service
	queue   *queue.SQLiteStore
	buffer  *Buffer
	handler *fakeHandler
}

func newServiceFixture(t *testing.T, withScheduler bool) *serviceFixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "learnd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := queue.NewSQLiteStore(db)
	require.NoError(t, err)
	patterns, err := pattern.NewSQLiteStore(db)
	require.NoError(t, err)
	insights, err := insight.NewSQLiteStore(db)
	require.NoError(t, err)

	handler := &fakeHandler{result: []byte(`{}`)}
	worker, err := NewWorker(q, handler, DefaultWorkerConfig(), zap.NewNop())
	require.NoError(t, err)

	var scheduler *Scheduler
	if withScheduler {
		scheduler, err = NewScheduler(q, worker, DefaultSchedulerConfig(), zap.NewNop())
		require.NoError(t, err)
	}

	buffer, err := NewBuffer(q, 3, 6, zap.NewNop())
	require.NoError(t, err)

	svc, err := NewService(ServiceDeps{
		Queue:     q,
		Patterns:  patterns,
		Insights:  insights,
		Buffer:    buffer,
		Worker:    worker,
		Scheduler: scheduler,
	}, time.Minute, zap.NewNop())
	require.NoError(t, err)

	return &serviceFixture{service: svc, queue: q, buffer: buffer, handler: handler}
}

func TestServiceLifecycle(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.service.Start(ctx))
	assert.Error(t, f.service.Start(ctx))

	status, err := f.service.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)

	require.NoError(t, f.service.Stop())
	assert.NoError(t, f.service.Stop())

	status, err = f.service.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestStopFlushesBuffer(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.service.Start(ctx))
	// One event stays below the drain threshold of three.
	f.service.OnMemoryAdded(ctx, "mem-1", "proj-a")
	require.Equal(t, 1, f.buffer.Size())

	require.NoError(t, f.service.Stop())
	assert.Zero(t, f.buffer.Size())

	counts, err := f.queue.CountsByStatus(ctx)
	require.NoError(t, err)
	// The flushed event survived the shutdown as a queued task, in whatever
	// state the final worker pass left it.
	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestOnMemoryAddedIgnoresEmptyID(t *testing.T) {
	f := newServiceFixture(t, false)

	f.service.OnMemoryAdded(context.Background(), "", "proj-a")
	assert.Zero(t, f.buffer.Size())
}

func TestQueueTaskEnqueuesAndReports(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	task, err := f.service.QueueTask(ctx, queue.TypeManualAnalysis,
		ManualPayload{Query: "retries"}, queue.PriorityHigh)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, queue.TypeManualAnalysis, task.Type)

	got, err := f.queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, got.Status)
}

func TestQueueTaskRejectsInvalidType(t *testing.T) {
	f := newServiceFixture(t, false)

	_, err := f.service.QueueTask(context.Background(), queue.TaskType("bogus"), nil, queue.PriorityLow)
	require.Error(t, err)
}

func TestStatusReflectsSchedulerAndQueue(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.service.Start(ctx))
	defer func() { _ = f.service.Stop() }()

	status, err := f.service.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	require.Len(t, status.NextRuns, len(queue.RecurringTypes()))
	for taskType, stamp := range status.NextRuns {
		_, parseErr := time.Parse(time.RFC3339, stamp)
		assert.NoError(t, parseErr, "next run for %s = %q", taskType, stamp)
	}
	// Startup enqueued one instance of each recurring type; the worker may
	// have started processing them already.
	total := 0
	for _, n := range status.QueueCounts {
		total += n
	}
	assert.Equal(t, len(queue.RecurringTypes()), total)
}
