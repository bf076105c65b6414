package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/learnd/internal/config"
	"github.com/fyrsmithlabs/learnd/internal/insight"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
	"github.com/fyrsmithlabs/learnd/internal/queue"
	"github.com/fyrsmithlabs/learnd/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pipeline state from the configured database",
	Long: `Status reads the queue, pattern, and insight stores directly and prints
their counts as JSON. It reflects durable state only; buffer size and
scheduler timings live in the daemon's /api/v1/status endpoint.`,
	RunE: runStatus,
}

// storeStatus is the offline subset of the daemon status document.
type storeStatus struct {
	QueueCounts  map[queue.TaskStatus]int `json:"queue_counts"`
	PatternTotal int                      `json:"pattern_total"`
	PatternsBy   map[string]int           `json:"patterns_by_category"`
	InsightsBy   map[string]int           `json:"insights_by_type"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	dbPath, err := config.ExpandPath(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	queueStore, err := queue.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	patternStore, err := pattern.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	insightStore, err := insight.NewSQLiteStore(db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	doc := storeStatus{}
	if doc.QueueCounts, err = queueStore.CountsByStatus(ctx); err != nil {
		return fmt.Errorf("queue counts: %w", err)
	}
	if doc.PatternsBy, err = patternStore.CountsByCategory(ctx); err != nil {
		return fmt.Errorf("pattern counts: %w", err)
	}
	if doc.InsightsBy, err = insightStore.CountsByType(ctx); err != nil {
		return fmt.Errorf("insight counts: %w", err)
	}
	for _, n := range doc.PatternsBy {
		doc.PatternTotal += n
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
