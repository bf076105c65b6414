// Package ingest receives memory-creation events over NATS and feeds them
// into the learning pipeline.
//
// The subscriber is the inbound edge of the pipeline: it persists each event
// into the local memory read model and notifies the ingestion buffer. Both
// steps are best-effort; a malformed or unpersistable event is logged and
// dropped, never bounced back to the publisher.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/memory"
)

// Recorder persists inbound memory events. Satisfied by *memory.SQLiteStore.
type Recorder interface {
	RecordEvent(ctx context.Context, ev *memory.Event) error
}

// Notifier receives the ingestion trigger. Satisfied by *learning.Service.
type Notifier interface {
	OnMemoryAdded(ctx context.Context, memoryID, projectID string)
}

// Config holds subscriber configuration.
type Config struct {
	// URL is the NATS server address.
	URL string

	// Subject is the memory-creation subject to subscribe to.
	Subject string
}

// Subscriber consumes memory.created events from NATS.
type Subscriber struct {
	cfg      Config
	recorder Recorder
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	conn    *nats.Conn
	sub     *nats.Subscription
	msgCh   chan *nats.Msg
	doneCh  chan struct{}
}

// NewSubscriber creates a memory-event subscriber.
func NewSubscriber(cfg Config, recorder Recorder, notifier Notifier, logger *zap.Logger) (*Subscriber, error) {
	if recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "memory.created"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:      cfg,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Start connects to NATS and begins consuming events.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("subscriber is already running")
	}

	conn, err := nats.Connect(s.cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", s.cfg.URL, err)
	}

	msgCh := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(s.cfg.Subject, msgCh)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.msgCh = msgCh
	s.doneCh = make(chan struct{})
	s.running = true

	go s.consume()

	s.logger.Info("ingest subscriber started",
		zap.String("url", s.cfg.URL),
		zap.String("subject", s.cfg.Subject))
	return nil
}

// Stop unsubscribes and closes the connection, waiting for the consumer
// goroutine to drain.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sub, conn, msgCh, done := s.sub, s.conn, s.msgCh, s.doneCh
	s.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("unsubscribe failed", zap.Error(err))
	}
	close(msgCh)
	<-done
	conn.Close()

	s.logger.Info("ingest subscriber stopped")
	return nil
}

func (s *Subscriber) consume() {
	defer close(s.doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ingest consumer panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	for msg := range s.msgCh {
		s.handle(msg.Data)
	}
}

// handle processes one published event. Errors never propagate: knowledge
// capture is best-effort and must not disturb the publishing path.
func (s *Subscriber) handle(data []byte) {
	var ev memory.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Warn("dropping malformed memory event", zap.Error(err))
		return
	}
	if err := ev.Validate(); err != nil {
		s.logger.Warn("dropping invalid memory event",
			zap.String("memory_id", ev.ID),
			zap.Error(err))
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.recorder.RecordEvent(ctx, &ev); err != nil {
		s.logger.Warn("recording memory event failed",
			zap.String("memory_id", ev.ID),
			zap.Error(err))
		return
	}

	s.notifier.OnMemoryAdded(ctx, ev.ID, ev.ProjectID)

	s.logger.Debug("memory event ingested",
		zap.String("memory_id", ev.ID),
		zap.String("project_id", ev.ProjectID),
		zap.String("memory_type", ev.MemoryType))
}
