package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/memory"
)

// Indexer receives newly created patterns for similarity search. The engine
// treats indexing as best effort: failures are logged, never propagated.
type Indexer interface {
	AddPattern(ctx context.Context, p *Pattern) error
}

// EngineConfig tunes detection behavior.
type EngineConfig struct {
	// Merge holds the confidence boost and set bounds applied on
	// reinforcement.
	Merge MergeConfig

	// FallbackWindow bounds the recent-memory scan used when a detection
	// task names no memory.
	FallbackWindow time.Duration

	// FallbackLimit caps how many memories one fallback scan processes.
	FallbackLimit int

	// SignificantCount is how many undocumented patterns a single memory
	// must exhibit before a documentation follow-up is raised.
	SignificantCount int

	// SnippetLength bounds occurrence context excerpts.
	SnippetLength int
}

// DefaultEngineConfig returns the standard detection tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Merge:            DefaultMergeConfig(),
		FallbackWindow:   24 * time.Hour,
		FallbackLimit:    50,
		SignificantCount: 2,
		SnippetLength:    160,
	}
}

// Result summarizes one detection run.
type Result struct {
	Scanned    int      `json:"scanned"`
	Created    int      `json:"created"`
	Reinforced int      `json:"reinforced"`
	Unchanged  int      `json:"unchanged"`
	Antis      int      `json:"anti_patterns"`
	Signatures []string `json:"signatures,omitempty"`
	Note       string   `json:"note,omitempty"`
}

// Engine runs pattern detection over memory events and maintains the
// pattern store.
type Engine struct {
	detector *Detector
	patterns Store
	memories memory.Store
	index    Indexer
	cfg      EngineConfig
	logger   *zap.Logger

	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIndexer attaches a similarity index that receives new patterns.
func WithIndexer(idx Indexer) EngineOption {
	return func(e *Engine) { e.index = idx }
}

// NewEngine creates a detection engine.
func NewEngine(patterns Store, memories memory.Store, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if patterns == nil {
		return nil, errors.New("pattern store is required")
	}
	if memories == nil {
		return nil, errors.New("memory store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = 24 * time.Hour
	}
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = 50
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 160
	}
	e := &Engine{
		detector: NewDetector(),
		patterns: patterns,
		memories: memories,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DetectForMemory runs detection against a single memory. A memory that no
// longer exists is reported in the result, not as an error, so replayed
// tasks referencing deleted memories still complete.
func (e *Engine) DetectForMemory(ctx context.Context, memoryID string) (*Result, error) {
	res := &Result{}
	ev, err := e.memories.GetEvent(ctx, memoryID)
	if errors.Is(err, memory.ErrNotFound) {
		res.Note = fmt.Sprintf("memory %s not found", memoryID)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", memoryID, err)
	}
	res.Scanned = 1
	if err := e.processMemory(ctx, ev, res); err != nil {
		return nil, err
	}
	return res, nil
}

// DetectRecent runs detection across recently created memories. This is the
// fallback path for detection tasks that carry no memory id, typically
// enqueued after an unflushed buffer was lost.
func (e *Engine) DetectRecent(ctx context.Context) (*Result, error) {
	since := e.now().Add(-e.cfg.FallbackWindow)
	events, err := e.memories.RecentEvents(ctx, detectableTypes(), since, e.cfg.FallbackLimit)
	if err != nil {
		return nil, fmt.Errorf("scan recent memories: %w", err)
	}
	res := &Result{Scanned: len(events)}
	if len(events) == 0 {
		res.Note = "no recent memories"
		return res, nil
	}
	for i := range events {
		if err := e.processMemory(ctx, &events[i], res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func detectableTypes() []string {
	return []string{
		memory.TypeArchitecture,
		memory.TypeDecision,
		memory.TypeCode,
		memory.TypeTechContext,
		memory.TypeBug,
		memory.TypeLessonsLearned,
		memory.TypeGeneral,
	}
}

func (e *Engine) processMemory(ctx context.Context, ev *memory.Event, res *Result) error {
	cands := e.detector.Detect(ev)
	var undocumented, antis []Candidate
	for _, c := range cands {
		outcome, err := e.apply(ctx, ev, c)
		if err != nil {
			return fmt.Errorf("apply candidate %s: %w", c.Signature, err)
		}
		switch outcome {
		case outcomeCreated:
			res.Created++
		case outcomeReinforced:
			res.Reinforced++
		default:
			res.Unchanged++
			continue
		}
		res.Signatures = append(res.Signatures, c.Signature)
		if c.Category == CategoryAntiPattern {
			antis = append(antis, c)
		} else if c.DetectionMethod != DetectionUserExplicit {
			undocumented = append(undocumented, c)
		}
	}
	res.Antis += len(antis)
	e.flagSignificant(ctx, ev, undocumented, antis)
	return nil
}

type applyOutcome int

const (
	outcomeUnchanged applyOutcome = iota
	outcomeCreated
	outcomeReinforced
)

// apply folds one candidate into the pattern store. The occurrence fact is
// the idempotency anchor: a (pattern, memory) pair only ever counts once,
// so replaying a detection task leaves frequencies untouched.
func (e *Engine) apply(ctx context.Context, ev *memory.Event, c Candidate) (applyOutcome, error) {
	now := e.now().UTC()
	occurredAt := ev.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	existing, err := e.patterns.GetBySignature(ctx, c.Signature)
	if errors.Is(err, ErrNotFound) {
		p := NewPattern(c, ev.ID, ev.ProjectID, now)
		created, err := e.patterns.Create(ctx, p)
		if err != nil {
			return outcomeUnchanged, err
		}
		if created {
			if _, err := e.patterns.RecordOccurrence(ctx, e.occurrence(p.ID, ev, c, occurredAt)); err != nil {
				return outcomeUnchanged, err
			}
			e.indexPattern(ctx, p)
			return outcomeCreated, nil
		}
		// Lost a create race; reinforce the winner instead.
		existing, err = e.patterns.GetBySignature(ctx, c.Signature)
		if err != nil {
			return outcomeUnchanged, err
		}
	} else if err != nil {
		return outcomeUnchanged, err
	}

	inserted, err := e.patterns.RecordOccurrence(ctx, e.occurrence(existing.ID, ev, c, occurredAt))
	if err != nil {
		return outcomeUnchanged, err
	}
	if !inserted {
		return outcomeUnchanged, nil
	}
	if err := e.patterns.Reinforce(ctx, c.Signature, c, ev.ID, ev.ProjectID, now, e.cfg.Merge); err != nil {
		return outcomeUnchanged, err
	}
	return outcomeReinforced, nil
}

func (e *Engine) occurrence(patternID string, ev *memory.Event, c Candidate, at time.Time) *Occurrence {
	return &Occurrence{
		PatternID:      patternID,
		MemoryID:       ev.ID,
		ProjectID:      ev.ProjectID,
		Confidence:     c.Confidence,
		ContextSnippet: Snippet(ev.Content, e.cfg.SnippetLength),
		OccurredAt:     at,
	}
}

func (e *Engine) indexPattern(ctx context.Context, p *Pattern) {
	if e.index == nil {
		return
	}
	if err := e.index.AddPattern(ctx, p); err != nil {
		e.logger.Warn("similarity index update failed",
			zap.String("signature", p.Signature),
			zap.Error(err))
	}
}

// flagSignificant raises follow-up task memories for detections worth a
// human's attention: any anti-pattern, or a memory exhibiting several
// patterns nobody has documented. Failures here are logged and swallowed;
// follow-ups must never fail the detection itself.
func (e *Engine) flagSignificant(ctx context.Context, ev *memory.Event, undocumented, antis []Candidate) {
	if len(antis) > 0 {
		names := candidateNames(antis)
		title := "Address anti-pattern: " + names[0]
		var b strings.Builder
		fmt.Fprintf(&b, "Detected in memory %s:\n", ev.ID)
		for _, c := range antis {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		}
		meta := map[string]any{
			"kind":       "anti_pattern",
			"signatures": candidateSignatures(antis),
			"memory_id":  ev.ID,
		}
		if _, err := e.memories.CreateTaskMemory(ctx, projectList(ev), title, b.String(), meta); err != nil {
			e.logger.Warn("anti-pattern follow-up failed", zap.Error(err))
		}
	}

	if e.cfg.SignificantCount > 0 && len(undocumented) >= e.cfg.SignificantCount {
		names := candidateNames(undocumented)
		title := "Document recurring patterns: " + strings.Join(names, ", ")
		var b strings.Builder
		fmt.Fprintf(&b, "Memory %s exhibits %d patterns with no written guidance:\n", ev.ID, len(undocumented))
		for _, c := range undocumented {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		}
		meta := map[string]any{
			"kind":       "documentation",
			"signatures": candidateSignatures(undocumented),
			"memory_id":  ev.ID,
		}
		if _, err := e.memories.CreateTaskMemory(ctx, projectList(ev), title, b.String(), meta); err != nil {
			e.logger.Warn("documentation follow-up failed", zap.Error(err))
		}
	}
}

func candidateNames(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}

func candidateSignatures(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Signature
	}
	return out
}

func projectList(ev *memory.Event) []string {
	if ev.ProjectID == "" {
		return nil
	}
	return []string{ev.ProjectID}
}
