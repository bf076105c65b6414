package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/insight"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// Status is the introspection document exposed to monitoring surfaces.
type Status struct {
	Running      bool                      `json:"running"`
	QueueCounts  map[queue.TaskStatus]int  `json:"queue_counts"`
	PatternTotal int                       `json:"pattern_total"`
	PatternsBy   map[string]int            `json:"patterns_by_category"`
	InsightsBy   map[string]int            `json:"insights_by_type"`
	BufferSize   int                       `json:"buffer_size"`
	NextRuns     map[queue.TaskType]string `json:"next_runs,omitempty"`
	LastPass     PassStats                 `json:"last_pass"`
}

// Service is the facade the daemon and external surfaces talk to. It owns
// the buffer, the worker loop, and the scheduler, and exposes the inbound
// triggers and status introspection.
type Service struct {
	queueStore queue.Store
	patterns   pattern.Store
	insights   insight.Store
	buffer     *Buffer
	worker     *Worker
	scheduler  *Scheduler
	flushEvery time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ServiceDeps are the collaborators a Service needs.
type ServiceDeps struct {
	Queue     queue.Store
	Patterns  pattern.Store
	Insights  insight.Store
	Buffer    *Buffer
	Worker    *Worker
	Scheduler *Scheduler
}

// NewService creates the pipeline facade. FlushEvery bounds how long a
// below-threshold buffer waits before draining anyway.
func NewService(deps ServiceDeps, flushEvery time.Duration, logger *zap.Logger) (*Service, error) {
	if deps.Queue == nil {
		return nil, errNilQueue
	}
	if deps.Patterns == nil {
		return nil, errors.New("pattern store cannot be nil")
	}
	if deps.Insights == nil {
		return nil, errors.New("insight store cannot be nil")
	}
	if deps.Buffer == nil {
		return nil, errors.New("buffer cannot be nil")
	}
	if deps.Worker == nil {
		return nil, errors.New("worker cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if flushEvery <= 0 {
		flushEvery = 5 * time.Minute
	}
	return &Service{
		queueStore: deps.Queue,
		patterns:   deps.Patterns,
		insights:   deps.Insights,
		buffer:     deps.Buffer,
		worker:     deps.Worker,
		scheduler:  deps.Scheduler,
		flushEvery: flushEvery,
		logger:     logger,
	}, nil
}

// Start launches the worker, the scheduler (when configured), and the
// periodic buffer flush.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("learning service is already running")
	}

	if err := s.worker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			_ = s.worker.Stop()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.flushLoop()

	s.logger.Info("learning service started",
		zap.Bool("scheduler", s.scheduler != nil),
		zap.Duration("buffer_flush", s.flushEvery))
	return nil
}

// Stop shuts the pipeline down in dependency order: scheduler first so no
// new recurring work arrives, then the worker, then a final buffer drain so
// threshold-pending events survive a clean exit as queued tasks.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if err := s.worker.Stop(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.buffer.Flush(ctx)

	s.logger.Info("learning service stopped")
	return nil
}

func (s *Service) flushLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.buffer.Flush(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// OnMemoryAdded is the inbound ingestion trigger. Best-effort by contract:
// it never returns an error to the ingestion path.
func (s *Service) OnMemoryAdded(ctx context.Context, memoryID, projectID string) {
	if memoryID == "" {
		s.logger.Warn("ignoring memory event without id")
		return
	}
	s.buffer.Add(ctx, BufferedEvent{MemoryID: memoryID, ProjectID: projectID})
}

// QueueTask is the manual trigger for operator-forced runs. Unlike the
// fire-and-forget internal enqueues this one reports failure, since the
// operator is waiting on the answer.
func (s *Service) QueueTask(ctx context.Context, taskType queue.TaskType, payload any, priority int) (*queue.Task, error) {
	task, err := queue.NewTask(taskType, payload, priority)
	if err != nil {
		return nil, err
	}
	if err := s.queueStore.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	s.worker.TriggerNow()
	s.logger.Info("manual task queued",
		zap.String("type", string(taskType)),
		zap.String("task_id", task.ID))
	return task, nil
}

// Status assembles the introspection document from the stores and the
// in-process components.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	counts, err := s.queueStore.CountsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	patternsBy, err := s.patterns.CountsByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("pattern counts: %w", err)
	}
	insightsBy, err := s.insights.CountsByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("insight counts: %w", err)
	}

	total := 0
	for _, n := range patternsBy {
		total += n
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := &Status{
		Running:      running,
		QueueCounts:  counts,
		PatternTotal: total,
		PatternsBy:   patternsBy,
		InsightsBy:   insightsBy,
		BufferSize:   s.buffer.Size(),
		LastPass:     s.worker.LastPass(),
	}
	if s.scheduler != nil {
		next := s.scheduler.NextRuns()
		status.NextRuns = make(map[queue.TaskType]string, len(next))
		for taskType, at := range next {
			if !at.IsZero() {
				status.NextRuns[taskType] = at.UTC().Format(time.RFC3339)
			}
		}
	}
	return status, nil
}
