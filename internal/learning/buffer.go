// Package learning wires the pipeline together: the ingestion buffer, the
// worker loop that drains the durable queue, the recurring scheduler, and
// the service facade external callers talk to.
package learning

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// BufferedEvent is one memory creation waiting for real-time enqueuing.
type BufferedEvent struct {
	MemoryID  string
	ProjectID string
}

// DetectionPayload is carried by pattern_detection tasks. An empty MemoryID
// means the handler falls back to scanning recent persisted memories.
type DetectionPayload struct {
	MemoryID string `json:"memory_id,omitempty"`
}

// GenerationPayload is carried by insight_generation tasks.
type GenerationPayload struct {
	ProjectIDs []string `json:"project_ids,omitempty"`
	Trigger    string   `json:"trigger,omitempty"`
}

// Buffer accumulates freshly created memory events in process memory and
// converts them into queued pattern_detection work once enough arrive.
//
// The buffer is deliberately non-durable: events lost to a crash are covered
// by the scheduled fallback scan over persisted memories. One mutex guards
// append, the threshold check, and the drain, since ingestion calls arrive
// concurrently.
type Buffer struct {
	queue     queue.Store
	threshold int
	batchCap  int
	metrics   *Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	pending []BufferedEvent

	// drained volume and affected projects since the last burst insight
	// task, reset whenever one is enqueued.
	sinceBurst    int
	burstProjects map[string]struct{}
}

// NewBuffer creates an ingestion buffer. Threshold is how many buffered
// events trigger a drain; batchCap bounds how many one drain takes and is
// the drained volume that signals a burst.
func NewBuffer(q queue.Store, threshold, batchCap int, logger *zap.Logger) (*Buffer, error) {
	if q == nil {
		return nil, errNilQueue
	}
	if threshold < 1 {
		threshold = 5
	}
	if batchCap < threshold {
		batchCap = threshold * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		queue:         q,
		threshold:     threshold,
		batchCap:      batchCap,
		metrics:       NewMetrics(),
		logger:        logger,
		burstProjects: make(map[string]struct{}),
	}, nil
}

// Add appends one event and drains a batch when the threshold is reached.
// Best-effort: enqueue failures are logged and the events dropped, never
// raised to the ingestion path that called us.
func (b *Buffer) Add(ctx context.Context, ev BufferedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, ev)
	b.metrics.BufferSize.Set(float64(len(b.pending)))

	if len(b.pending) >= b.threshold {
		b.drainLocked(ctx)
	}
}

// Flush drains everything currently buffered, in cap-sized batches. Called
// by the periodic flush timer and on shutdown so threshold-pending events
// are not lost on a clean exit.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.pending) > 0 {
		b.drainLocked(ctx)
	}
}

// Size returns the number of buffered events.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// drainLocked takes up to batchCap events off the front of the buffer and
// enqueues one pattern_detection task per event. Drain volume accumulates
// across drains; once it reaches batchCap the buffer has seen a burst of
// activity, so it additionally enqueues one low-priority insight_generation
// task covering every project touched since the last burst.
func (b *Buffer) drainLocked(ctx context.Context) {
	n := len(b.pending)
	if n == 0 {
		return
	}
	if n > b.batchCap {
		n = b.batchCap
	}
	batch := b.pending[:n]
	b.pending = b.pending[n:]
	b.metrics.BufferSize.Set(float64(len(b.pending)))
	b.metrics.BufferDrainedTotal.Add(float64(n))

	for _, ev := range batch {
		if ev.ProjectID != "" {
			b.burstProjects[ev.ProjectID] = struct{}{}
		}
		task, err := queue.NewTask(queue.TypePatternDetection,
			DetectionPayload{MemoryID: ev.MemoryID}, queue.PriorityMedium)
		if err != nil {
			b.logger.Warn("buffer task build failed",
				zap.String("memory_id", ev.MemoryID),
				zap.Error(err))
			continue
		}
		if err := b.queue.Enqueue(ctx, task); err != nil {
			b.logger.Warn("buffer enqueue failed",
				zap.String("memory_id", ev.MemoryID),
				zap.Error(err))
		}
	}

	b.sinceBurst += n
	if b.sinceBurst >= b.batchCap {
		ids := make([]string, 0, len(b.burstProjects))
		for p := range b.burstProjects {
			ids = append(ids, p)
		}
		b.sinceBurst = 0
		b.burstProjects = make(map[string]struct{})
		task, err := queue.NewTask(queue.TypeInsightGeneration,
			GenerationPayload{ProjectIDs: ids, Trigger: "buffer_batch"}, queue.PriorityLow)
		if err != nil {
			b.logger.Warn("burst insight task build failed", zap.Error(err))
			return
		}
		if err := b.queue.Enqueue(ctx, task); err != nil {
			b.logger.Warn("burst insight enqueue failed", zap.Error(err))
		}
	}

	b.logger.Debug("ingestion buffer drained",
		zap.Int("events", n),
		zap.Int("remaining", len(b.pending)))
}
