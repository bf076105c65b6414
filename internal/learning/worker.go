package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// TaskHandler executes one claimed task and returns its result summary.
type TaskHandler interface {
	Handle(ctx context.Context, task *queue.Task) (json.RawMessage, error)
}

// WorkerConfig tunes the worker loop and queue maintenance.
type WorkerConfig struct {
	// Interval between worker passes.
	Interval time.Duration

	// BatchSize bounds how many tasks one pass claims.
	BatchSize int

	// StuckTimeout is how long a processing task may run before the sweep
	// assumes its worker died.
	StuckTimeout time.Duration

	// StuckRetryDelay is the re-schedule delay applied to recovered tasks.
	StuckRetryDelay time.Duration

	// Retention is how long terminal tasks are kept before deletion.
	Retention time.Duration
}

// DefaultWorkerConfig returns the standard worker tuning.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:        15 * time.Minute,
		BatchSize:       10,
		StuckTimeout:    time.Hour,
		StuckRetryDelay: 5 * time.Minute,
		Retention:       7 * 24 * time.Hour,
	}
}

// PassStats summarizes one worker pass, sweeps included.
type PassStats struct {
	Claimed        int   `json:"claimed"`
	Completed      int   `json:"completed"`
	Retried        int   `json:"retried"`
	Failed         int   `json:"failed"`
	RetriesRelease int64 `json:"retries_released"`
	StuckRecovered int64 `json:"stuck_recovered"`
	StuckFailed    int64 `json:"stuck_failed"`
	Pruned         int64 `json:"pruned"`
}

// Worker is the periodic loop that claims and executes queued tasks.
//
// Multiple workers, in or across processes, cooperate purely through the
// queue store's atomic claim; the loop holds no cross-worker state. It is
// reentrant-safe: an interval tick racing an immediate trigger only races on
// ClaimBatch, which never hands the same row to two callers.
type Worker struct {
	queue   queue.Store
	handler TaskHandler
	cfg     WorkerConfig
	metrics *Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastPass PassStats

	// triggerCh requests an immediate pass; capacity 1 coalesces bursts.
	triggerCh chan struct{}

	now func() time.Time
}

// NewWorker creates a worker loop over the queue store.
func NewWorker(q queue.Store, handler TaskHandler, cfg WorkerConfig, logger *zap.Logger) (*Worker, error) {
	if q == nil {
		return nil, errNilQueue
	}
	if handler == nil {
		return nil, errNilDispatcher
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = time.Hour
	}
	if cfg.StuckRetryDelay <= 0 {
		cfg.StuckRetryDelay = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Worker{
		queue:     q,
		handler:   handler,
		cfg:       cfg,
		metrics:   NewMetrics(),
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
		now:       time.Now,
	}, nil
}

// Start launches the background loop. Idempotent: starting a running worker
// returns an error without spawning a second goroutine.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker is already running")
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	w.logger.Info("worker loop started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize))

	go w.run()
	return nil
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("worker loop stopped")
	return nil
}

// TriggerNow requests an immediate pass without waiting for the interval.
// Non-blocking; a pass already requested absorbs the trigger.
func (w *Worker) TriggerNow() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// LastPass returns the stats of the most recent completed pass.
func (w *Worker) LastPass() PassStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPass
}

func (w *Worker) run() {
	defer close(w.doneCh)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker goroutine panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.pass()
		case <-w.triggerCh:
			w.pass()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) pass() {
	ctx := context.Background()
	stats, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("worker pass failed", zap.Error(err))
		return
	}
	if stats.Claimed > 0 || stats.StuckRecovered > 0 || stats.Pruned > 0 {
		w.logger.Info("worker pass completed",
			zap.Int("claimed", stats.Claimed),
			zap.Int("completed", stats.Completed),
			zap.Int("retried", stats.Retried),
			zap.Int("failed", stats.Failed),
			zap.Int64("stuck_recovered", stats.StuckRecovered),
			zap.Int64("pruned", stats.Pruned))
	}
}

// RunOnce executes a single worker pass: maintenance sweeps, then claim and
// execute one batch. One task's failure never aborts the rest of the batch.
func (w *Worker) RunOnce(ctx context.Context) (PassStats, error) {
	stats := PassStats{}

	released, err := w.queue.ReleaseDueRetries(ctx)
	if err != nil {
		return stats, fmt.Errorf("release retries: %w", err)
	}
	stats.RetriesRelease = released

	recovered, stuckFailed, err := w.queue.RecoverStuck(ctx, w.cfg.StuckTimeout, w.cfg.StuckRetryDelay)
	if err != nil {
		return stats, fmt.Errorf("recover stuck: %w", err)
	}
	stats.StuckRecovered = recovered
	stats.StuckFailed = stuckFailed
	w.metrics.StuckRecoveredTotal.Add(float64(recovered))
	w.metrics.StuckFailedTotal.Add(float64(stuckFailed))

	pruned, err := w.queue.PruneTerminal(ctx, w.cfg.Retention)
	if err != nil {
		return stats, fmt.Errorf("prune terminal: %w", err)
	}
	stats.Pruned = pruned
	w.metrics.PrunedTotal.Add(float64(pruned))

	batch, err := w.queue.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim batch: %w", err)
	}
	stats.Claimed = len(batch)
	w.metrics.ClaimBatchSize.Observe(float64(len(batch)))

	for i := range batch {
		switch w.process(ctx, &batch[i]) {
		case queue.StatusCompleted:
			stats.Completed++
		case queue.StatusRetry:
			stats.Retried++
		case queue.StatusFailed:
			stats.Failed++
		}
	}

	if counts, err := w.queue.CountsByStatus(ctx); err == nil {
		for _, status := range []queue.TaskStatus{queue.StatusPending, queue.StatusProcessing,
			queue.StatusCompleted, queue.StatusRetry, queue.StatusFailed} {
			w.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}

	w.mu.Lock()
	w.lastPass = stats
	w.mu.Unlock()
	return stats, nil
}

// process executes one claimed task and records its outcome. Returns the
// status the task ended the pass in.
func (w *Worker) process(ctx context.Context, task *queue.Task) queue.TaskStatus {
	start := w.now()
	result, err := w.safeHandle(ctx, task)
	duration := w.now().Sub(start)
	w.metrics.TaskDuration.WithLabelValues(string(task.Type)).Observe(duration.Seconds())

	if err == nil {
		if markErr := w.queue.MarkCompleted(ctx, task.ID, result); markErr != nil {
			w.logger.Error("mark completed failed",
				zap.String("task_id", task.ID),
				zap.Error(markErr))
		}
		w.metrics.TasksProcessedTotal.WithLabelValues(string(task.Type), "completed").Inc()
		w.logger.Debug("task completed",
			zap.String("task_id", task.ID),
			zap.String("type", string(task.Type)),
			zap.Duration("duration", duration))
		return queue.StatusCompleted
	}

	// Retry budget: the count caps at max_retries; the attempt that would
	// exceed it fails the task terminally instead.
	newCount := task.RetryCount + 1
	if newCount > task.MaxRetries {
		if markErr := w.queue.MarkFailed(ctx, task.ID, err.Error()); markErr != nil {
			w.logger.Error("mark failed failed",
				zap.String("task_id", task.ID),
				zap.Error(markErr))
		}
		w.metrics.TasksProcessedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		w.logger.Warn("task failed terminally",
			zap.String("task_id", task.ID),
			zap.String("type", string(task.Type)),
			zap.Int("retries", task.RetryCount),
			zap.Error(err))
		return queue.StatusFailed
	}

	rescheduled := w.now().UTC().Add(queue.Backoff(newCount))
	if markErr := w.queue.MarkRetry(ctx, task.ID, newCount, err.Error(), rescheduled); markErr != nil {
		w.logger.Error("mark retry failed",
			zap.String("task_id", task.ID),
			zap.Error(markErr))
	}
	w.metrics.TasksProcessedTotal.WithLabelValues(string(task.Type), "retry").Inc()
	w.logger.Warn("task scheduled for retry",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.Int("retry_count", newCount),
		zap.Time("scheduled_for", rescheduled),
		zap.Error(err))
	return queue.StatusRetry
}

// safeHandle runs the handler with panic recovery so one misbehaving task
// cannot kill the worker; a panic counts as a handler error and burns a
// retry like any other failure.
func (w *Worker) safeHandle(ctx context.Context, task *queue.Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, task)
}
