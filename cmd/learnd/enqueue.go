package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/learnd/internal/config"
	"github.com/fyrsmithlabs/learnd/internal/queue"
	"github.com/fyrsmithlabs/learnd/internal/storage"
)

var (
	enqueueType     string
	enqueuePriority int
	enqueuePayload  string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a learning task for the next worker pass",
	Long: `Enqueue writes a task directly into the configured database, without
needing the daemon. A running daemon picks it up on its next pass.

Examples:
  # Force a full analysis run
  learnd enqueue --type=manual_analysis

  # Search indexed patterns
  learnd enqueue --type=manual_analysis --payload='{"query":"repository pattern"}'

  # Re-run pattern detection over recent memories, urgently
  learnd enqueue --type=pattern_detection --priority=1`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueType, "type", string(queue.TypeManualAnalysis), "task type to enqueue")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", queue.PriorityMedium, "task priority (lower is more urgent)")
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "task payload as a JSON document")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	taskType := queue.TaskType(enqueueType)
	if !taskType.Valid() {
		return fmt.Errorf("unknown task type %q", enqueueType)
	}

	var payload any
	if enqueuePayload != "" {
		if !json.Valid([]byte(enqueuePayload)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		payload = json.RawMessage(enqueuePayload)
	}

	task, err := queue.NewTask(taskType, payload, enqueuePriority)
	if err != nil {
		return err
	}

	store, closeDB, err := openQueueStore()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.Enqueue(context.Background(), task); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	fmt.Printf("queued %s task %s (priority %d)\n", task.Type, task.ID, task.Priority)
	return nil
}

// openQueueStore opens the configured database and a queue store over it.
func openQueueStore() (*queue.SQLiteStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	dbPath, err := config.ExpandPath(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving database path: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	store, err := queue.NewSQLiteStore(db, queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}
