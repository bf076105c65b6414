package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// Trigger requests an immediate worker pass. Satisfied by *Worker.
type Trigger interface {
	TriggerNow()
}

// SchedulerConfig holds the per-type recurring intervals.
type SchedulerConfig struct {
	PatternInterval    time.Duration
	InsightInterval    time.Duration
	PreferenceInterval time.Duration
	EvolutionInterval  time.Duration
	MilestoneInterval  time.Duration
	CriticalInterval   time.Duration
}

// DefaultSchedulerConfig returns the standard recurring cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PatternInterval:    6 * time.Hour,
		InsightInterval:    12 * time.Hour,
		PreferenceInterval: 24 * time.Hour,
		EvolutionInterval:  24 * time.Hour,
		MilestoneInterval:  24 * time.Hour,
		CriticalInterval:   4 * time.Hour,
	}
}

func (c SchedulerConfig) interval(taskType queue.TaskType) time.Duration {
	switch taskType {
	case queue.TypePatternDetection:
		return c.PatternInterval
	case queue.TypeInsightGeneration:
		return c.InsightInterval
	case queue.TypePreferenceAnalysis:
		return c.PreferenceInterval
	case queue.TypeEvolutionTracking:
		return c.EvolutionInterval
	case queue.TypeMilestoneAnalysis:
		return c.MilestoneInterval
	case queue.TypeCriticalPatternAnalysis:
		return c.CriticalInterval
	}
	return 24 * time.Hour
}

// Scheduler enqueues the recurring task types on their fixed intervals.
//
// Each tick first checks for overdue pending rows of its type and triggers
// an immediate worker pass when any exist, then enqueues the next recurring
// instance. The overdue check is the catch-up path: work scheduled while the
// process was down gets picked up on the first tick after restart instead of
// waiting a full interval.
type Scheduler struct {
	queue   queue.Store
	trigger Trigger
	cfg     SchedulerConfig
	cron    *cron.Cron
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	entries map[queue.TaskType]cron.EntryID

	priorities map[queue.TaskType]int
}

// NewScheduler creates a recurring-task scheduler.
func NewScheduler(q queue.Store, trigger Trigger, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if q == nil {
		return nil, errNilQueue
	}
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:   q,
		trigger: trigger,
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger,
		entries: make(map[queue.TaskType]cron.EntryID),
		priorities: map[queue.TaskType]int{
			queue.TypePatternDetection:        queue.PriorityMedium,
			queue.TypeInsightGeneration:       queue.PriorityLow,
			queue.TypePreferenceAnalysis:      queue.PriorityLow,
			queue.TypeEvolutionTracking:       queue.PriorityLow,
			queue.TypeMilestoneAnalysis:       queue.PriorityLow,
			queue.TypeCriticalPatternAnalysis: queue.PriorityHigh,
		},
	}, nil
}

// Start enqueues one instance of each recurring task type, then begins the
// per-type interval entries. Idempotent-checked like the worker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	for _, taskType := range queue.RecurringTypes() {
		s.enqueueRecurring(ctx, taskType)

		taskType := taskType
		spec := fmt.Sprintf("@every %s", s.cfg.interval(taskType))
		id, err := s.cron.AddFunc(spec, func() {
			s.tick(taskType)
		})
		if err != nil {
			return fmt.Errorf("add cron entry for %s: %w", taskType, err)
		}
		s.entries[taskType] = id
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started",
		zap.Int("recurring_types", len(s.entries)))
	return nil
}

// Stop halts the cron entries and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// NextRuns returns the next scheduled enqueue time per task type.
func (s *Scheduler) NextRuns() map[queue.TaskType]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[queue.TaskType]time.Time, len(s.entries))
	if !s.running {
		return next
	}
	for taskType, id := range s.entries {
		next[taskType] = s.cron.Entry(id).Next
	}
	return next
}

// tick handles one interval firing for a task type: catch up on overdue
// work, then enqueue the next recurring instance.
func (s *Scheduler) tick(taskType queue.TaskType) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked",
				zap.String("type", string(taskType)),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	overdue, err := s.queue.CountOverduePending(ctx, taskType)
	if err != nil {
		s.logger.Warn("overdue check failed",
			zap.String("type", string(taskType)),
			zap.Error(err))
	} else if overdue > 0 {
		s.logger.Info("overdue tasks found, triggering worker pass",
			zap.String("type", string(taskType)),
			zap.Int("overdue", overdue))
		s.trigger.TriggerNow()
	}

	s.enqueueRecurring(ctx, taskType)
}

// enqueueRecurring inserts the next recurring instance of taskType.
// Best-effort: an enqueue failure is logged and the next tick tries again.
func (s *Scheduler) enqueueRecurring(ctx context.Context, taskType queue.TaskType) {
	task, err := queue.NewTask(taskType, GenerationPayload{Trigger: "scheduled"}, s.priorities[taskType])
	if err != nil {
		s.logger.Warn("recurring task build failed",
			zap.String("type", string(taskType)),
			zap.Error(err))
		return
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Warn("recurring enqueue failed",
			zap.String("type", string(taskType)),
			zap.Error(err))
		return
	}
	s.logger.Debug("recurring task enqueued",
		zap.String("type", string(taskType)),
		zap.String("task_id", task.ID))
}
