package insight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/memory"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// FollowUpPayload is carried by the tasks actionable insights enqueue.
type FollowUpPayload struct {
	InsightID   string `json:"insight_id"`
	InsightType string `json:"insight_type"`
	Title       string `json:"title"`
}

// Report summarizes one generation run.
type Report struct {
	Created   int            `json:"created"`
	Merged    int            `json:"merged"`
	FollowUps int            `json:"follow_ups"`
	ByType    map[string]int `json:"by_type,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// Engine runs the analyses and maintains the insight store.
type Engine struct {
	patterns pattern.Store
	memories memory.Store
	insights Store
	queue    queue.Store
	cfg      Config
	logger   *zap.Logger

	now func() time.Time
}

// NewEngine creates an insight engine. Zero cfg fields fall back to the
// DefaultConfig values.
func NewEngine(patterns pattern.Store, memories memory.Store, insights Store, q queue.Store, cfg Config, logger *zap.Logger) (*Engine, error) {
	if patterns == nil {
		return nil, errors.New("pattern store is required")
	}
	if memories == nil {
		return nil, errors.New("memory store is required")
	}
	if insights == nil {
		return nil, errors.New("insight store is required")
	}
	if q == nil {
		return nil, errors.New("queue store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		patterns: patterns,
		memories: memories,
		insights: insights,
		queue:    q,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run executes the named analyses, or all six when none are given. Analyses
// are isolated: one failing only costs its own candidates. The run itself
// fails only when every requested analysis failed.
func (e *Engine) Run(ctx context.Context, kinds ...string) (*Report, error) {
	if len(kinds) == 0 {
		kinds = AllTypes()
	}
	for _, kind := range kinds {
		if !ValidType(kind) {
			return nil, fmt.Errorf("unknown analysis %q", kind)
		}
	}

	now := e.now().UTC()
	report := &Report{ByType: make(map[string]int, len(kinds))}
	failed := 0
	for _, kind := range kinds {
		candidates, err := e.runAnalysis(ctx, kind, now)
		if err != nil {
			failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", kind, err))
			e.logger.Warn("insight analysis failed",
				zap.String("analysis", kind),
				zap.Error(err))
			continue
		}
		report.ByType[kind] = len(candidates)
		for i := range candidates {
			ins := &candidates[i]
			created, err := e.insights.Upsert(ctx, ins)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: upsert %q: %v", kind, ins.Title, err))
				e.logger.Warn("insight upsert failed",
					zap.String("title", ins.Title),
					zap.Error(err))
				continue
			}
			if created {
				report.Created++
				if ins.Actionable && ins.Priority != PriorityLow {
					e.feedback(ctx, ins)
					report.FollowUps++
				}
			} else {
				report.Merged++
			}
		}
	}
	if failed == len(kinds) {
		return nil, fmt.Errorf("all %d analyses failed", failed)
	}
	return report, nil
}

// runAnalysis gathers one analysis's inputs and evaluates it. Input queries
// live inside the isolation boundary so a failing query only kills its own
// analysis. A panic in an analysis is converted to an error.
func (e *Engine) runAnalysis(ctx context.Context, kind string, now time.Time) (out []Insight, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// The longest horizon any analysis looks back over. Occurrence scans
	// are bounded to it.
	horizon := now.AddDate(0, -e.cfg.EvolutionWindowMonths, 0)

	switch kind {
	case TypeBestPractice:
		pats, err := e.patterns.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return bestPractices(pats, e.cfg), nil

	case TypeAntiPattern:
		pats, err := e.patterns.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		occs, err := e.patterns.OccurrencesSince(ctx, horizon)
		if err != nil {
			return nil, err
		}
		bugs, err := e.memories.RecentEvents(ctx, []string{memory.TypeBug}, horizon.Add(-e.cfg.AntiPatternWindow), 0)
		if err != nil {
			return nil, err
		}
		return bugCorrelations(pats, occs, bugs, e.cfg), nil

	case TypeTechnologyPreference:
		events, err := e.memories.RecentEvents(ctx,
			[]string{memory.TypeTechContext, memory.TypeArchitecture, memory.TypeDecision},
			now.Add(-e.cfg.TechPreferenceWindow), 0)
		if err != nil {
			return nil, err
		}
		pats, err := e.patterns.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return technologyPreferences(events, pats, e.cfg), nil

	case TypeEvolution:
		pats, err := e.patterns.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		occs, err := e.patterns.OccurrencesSince(ctx, horizon)
		if err != nil {
			return nil, err
		}
		return evolutionTrends(pats, occs, now, e.cfg), nil

	case TypeTeamPattern:
		counts, err := e.memories.CountsByProjectType(ctx, now.Add(-e.cfg.TeamPatternWindow))
		if err != nil {
			return nil, err
		}
		return teamPatterns(counts, e.cfg), nil

	case TypeQualityMetric:
		counts, err := e.memories.CountsByProjectType(ctx, now.Add(-e.cfg.QualityWindow))
		if err != nil {
			return nil, err
		}
		return qualityMetrics(counts, e.cfg), nil
	}
	return nil, fmt.Errorf("unknown analysis %q", kind)
}

// feedback closes the loop for a newly created actionable insight: a
// follow-up task goes on the queue and a task memory makes it user-visible.
// Both writes are fire-and-forget; failures are logged, never raised.
func (e *Engine) feedback(ctx context.Context, ins *Insight) {
	task, err := queue.NewTask(queue.TypeMilestoneAnalysis, FollowUpPayload{
		InsightID:   ins.ID,
		InsightType: ins.Type,
		Title:       ins.Title,
	}, feedbackPriority(ins.Priority))
	if err != nil {
		e.logger.Warn("follow-up task build failed", zap.String("title", ins.Title), zap.Error(err))
	} else if err := e.queue.Enqueue(ctx, task); err != nil {
		e.logger.Warn("follow-up task enqueue failed", zap.String("title", ins.Title), zap.Error(err))
	}

	meta := map[string]any{
		"kind":         "insight_follow_up",
		"insight_id":   ins.ID,
		"insight_type": ins.Type,
	}
	if _, err := e.memories.CreateTaskMemory(ctx, ins.ProjectsInvolved, "Follow up: "+ins.Title, ins.Description, meta); err != nil {
		e.logger.Warn("follow-up task memory failed", zap.String("title", ins.Title), zap.Error(err))
	}
}

func feedbackPriority(priority string) int {
	if priority == PriorityHigh {
		return queue.PriorityHigh
	}
	return queue.PriorityMedium
}
