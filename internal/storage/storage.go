// Package storage opens and migrates the learnd SQLite database.
//
// All durable pipeline state (tasks, patterns, occurrences, insights, and the
// memory read model) lives in one database file. The pool is capped at a
// single connection: SQLite allows one writer at a time, and a shared
// connection avoids writer lock contention between worker goroutines while
// keeping multi-statement claims atomic.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open creates or opens the learnd database at path and applies migrations.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Immediate transactions take the write lock at BEGIN, so read-merge-write
	// sequences inside a transaction serialize against writers in other
	// processes, not just other goroutines.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			priority INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			scheduled_for_ms INTEGER NOT NULL,
			started_at_ms INTEGER,
			completed_at_ms INTEGER,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			error_message TEXT,
			result_summary TEXT,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claim
			ON tasks(status, scheduled_for_ms, priority);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_type_status
			ON tasks(type, status);`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			signature TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			confidence_score REAL NOT NULL,
			frequency_count INTEGER NOT NULL DEFAULT 1,
			projects_seen TEXT NOT NULL DEFAULT '[]',
			example_memories TEXT NOT NULL DEFAULT '[]',
			detection_method TEXT NOT NULL,
			first_seen_ms INTEGER NOT NULL,
			last_reinforced_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_category
			ON patterns(category);`,
		`CREATE TABLE IF NOT EXISTS pattern_occurrences (
			pattern_id TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			confidence REAL NOT NULL,
			context_snippet TEXT NOT NULL DEFAULT '',
			occurred_at_ms INTEGER NOT NULL,
			PRIMARY KEY (pattern_id, memory_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_project
			ON pattern_occurrences(project_id, occurred_at_ms);`,
		`CREATE TABLE IF NOT EXISTS insights (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			category TEXT NOT NULL,
			title TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			confidence_level REAL NOT NULL,
			evidence_strength INTEGER NOT NULL DEFAULT 1,
			projects_involved TEXT NOT NULL DEFAULT '[]',
			supporting_patterns TEXT NOT NULL DEFAULT '[]',
			actionable INTEGER NOT NULL DEFAULT 0,
			priority TEXT NOT NULL DEFAULT 'low',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_insights_type
			ON insights(type);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance_score REAL NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type_created
			ON memories(memory_type, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project
			ON memories(project_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
