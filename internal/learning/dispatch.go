package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/insight"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
	"github.com/fyrsmithlabs/learnd/internal/queue"
	"github.com/fyrsmithlabs/learnd/internal/vectorstore"
)

var (
	errNilQueue      = errors.New("queue store cannot be nil")
	errNilPatterns   = errors.New("pattern engine cannot be nil")
	errNilInsights   = errors.New("insight engine cannot be nil")
	errNilDispatcher = errors.New("dispatcher cannot be nil")
)

// Searcher answers similarity queries against indexed patterns. Used only by
// manual_analysis tasks; a nil Searcher degrades to an explanatory note in
// the result.
type Searcher interface {
	Similar(ctx context.Context, query string, k int) ([]vectorstore.Match, error)
}

// ManualPayload is carried by operator-triggered manual_analysis tasks.
type ManualPayload struct {
	Query string `json:"query,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

// manualResult is the result summary of a manual_analysis task.
type manualResult struct {
	Matches   []vectorstore.Match `json:"matches,omitempty"`
	Detection *pattern.Result     `json:"detection,omitempty"`
	Insights  *insight.Report     `json:"insights,omitempty"`
	Note      string              `json:"note,omitempty"`
}

// Dispatcher routes claimed tasks to the engine entry point their type
// names. The switch is closed over the task type enum: adding a type without
// a case here fails the dispatch with an error instead of silently dropping
// work.
type Dispatcher struct {
	patterns *pattern.Engine
	insights *insight.Engine
	searcher Searcher
	metrics  *Metrics
	logger   *zap.Logger
}

// NewDispatcher creates a task dispatcher.
func NewDispatcher(patterns *pattern.Engine, insights *insight.Engine, searcher Searcher, logger *zap.Logger) (*Dispatcher, error) {
	if patterns == nil {
		return nil, errNilPatterns
	}
	if insights == nil {
		return nil, errNilInsights
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		patterns: patterns,
		insights: insights,
		searcher: searcher,
		metrics:  NewMetrics(),
		logger:   logger,
	}, nil
}

// Handle executes one claimed task and returns its result summary.
func (d *Dispatcher) Handle(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	switch task.Type {
	case queue.TypePatternDetection:
		var payload DetectionPayload
		if err := unmarshalPayload(task.Payload, &payload); err != nil {
			return nil, err
		}
		var res *pattern.Result
		var err error
		if payload.MemoryID != "" {
			res, err = d.patterns.DetectForMemory(ctx, payload.MemoryID)
		} else {
			res, err = d.patterns.DetectRecent(ctx)
		}
		if err != nil {
			return nil, err
		}
		return marshalResult(res)

	case queue.TypeInsightGeneration:
		return d.runAnalyses(ctx)

	case queue.TypePreferenceAnalysis:
		return d.runAnalyses(ctx, insight.TypeTechnologyPreference)

	case queue.TypeEvolutionTracking:
		return d.runAnalyses(ctx, insight.TypeEvolution)

	case queue.TypeMilestoneAnalysis:
		return d.runAnalyses(ctx, insight.TypeTeamPattern, insight.TypeQualityMetric)

	case queue.TypeCriticalPatternAnalysis:
		return d.runAnalyses(ctx, insight.TypeAntiPattern)

	case queue.TypeManualAnalysis:
		return d.handleManual(ctx, task)
	}
	return nil, fmt.Errorf("no handler for task type %q", task.Type)
}

func (d *Dispatcher) runAnalyses(ctx context.Context, kinds ...string) (json.RawMessage, error) {
	report, err := d.insights.Run(ctx, kinds...)
	if err != nil {
		return nil, err
	}
	d.metrics.InsightsGeneratedTotal.WithLabelValues("created").Add(float64(report.Created))
	d.metrics.InsightsGeneratedTotal.WithLabelValues("merged").Add(float64(report.Merged))
	return marshalResult(report)
}

// handleManual serves operator-forced runs. A query payload answers with the
// nearest indexed patterns; without one the task runs a full detection pass
// plus all analyses.
func (d *Dispatcher) handleManual(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	var payload ManualPayload
	if err := unmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	res := manualResult{}
	if payload.Query != "" {
		if d.searcher == nil {
			res.Note = "no pattern index configured"
			return marshalResult(res)
		}
		k := payload.TopK
		if k <= 0 {
			k = 5
		}
		matches, err := d.searcher.Similar(ctx, payload.Query, k)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
		res.Matches = matches
		return marshalResult(res)
	}

	detection, err := d.patterns.DetectRecent(ctx)
	if err != nil {
		return nil, err
	}
	res.Detection = detection

	report, err := d.insights.Run(ctx)
	if err != nil {
		return nil, err
	}
	d.metrics.InsightsGeneratedTotal.WithLabelValues("created").Add(float64(report.Created))
	d.metrics.InsightsGeneratedTotal.WithLabelValues("merged").Add(float64(report.Merged))
	res.Insights = report
	return marshalResult(res)
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func marshalResult(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}
