package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore reads and writes the memories table.
//
// Inbound events are recorded by the ingestion adapter; the pipeline itself
// only reads them back and appends task memories.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store over an opened learnd database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// RecordEvent persists an inbound memory event. Existing rows are left
// untouched so replayed events are harmless.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	tags, err := json.Marshal(normalizeTags(ev.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, project_id, content, memory_type, importance_score, tags, metadata, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, '{}', ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.ProjectID, ev.Content, ev.MemoryType, ev.ImportanceScore, string(tags), ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// GetEvent returns a single memory by id.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, memory_type, importance_score, tags, created_at_ms
		FROM memories WHERE id = ?`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// RecentEvents returns events created at or after since, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, types []string, since time.Time, limit int) ([]Event, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, project_id, content, memory_type, importance_score, tags, created_at_ms
		FROM memories WHERE created_at_ms >= ?`)
	args := []any{since.UnixMilli()}

	if len(types) > 0 {
		query.WriteString(" AND memory_type IN (?" + strings.Repeat(",?", len(types)-1) + ")")
		for _, t := range types {
			args = append(args, t)
		}
	}
	query.WriteString(" ORDER BY created_at_ms DESC")
	if limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// CountsByProjectType returns, per project, the number of memories of each
// type created at or after since.
func (s *SQLiteStore) CountsByProjectType(ctx context.Context, since time.Time) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, memory_type, COUNT(*)
		FROM memories
		WHERE created_at_ms >= ?
		GROUP BY project_id, memory_type`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var (
			project    string
			memoryType string
			n          int
		)
		if err := rows.Scan(&project, &memoryType, &n); err != nil {
			return nil, fmt.Errorf("count memories: %w", err)
		}
		if counts[project] == nil {
			counts[project] = make(map[string]int)
		}
		counts[project][memoryType] = n
	}
	return counts, rows.Err()
}

// CreateTaskMemory persists a synthesized task memory and returns its id.
func (s *SQLiteStore) CreateTaskMemory(ctx context.Context, projectIDs []string, title, description string, metadata map[string]any) (string, error) {
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}

	id := uuid.New().String()
	projectID := ""
	if len(projectIDs) > 0 {
		projectID = projectIDs[0]
	}
	content := title
	if description != "" {
		content = title + "\n\n" + description
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	if len(projectIDs) > 1 {
		metadata["projects"] = projectIDs
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	tags, err := json.Marshal([]string{"task", "auto_generated"})
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, project_id, content, memory_type, importance_score, tags, metadata, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectID, content, TypeTask, 0.7, string(tags), string(meta), s.now().UTC().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("create task memory: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev        Event
		tags      string
		createdMs int64
	)
	if err := row.Scan(&ev.ID, &ev.ProjectID, &ev.Content, &ev.MemoryType, &ev.ImportanceScore, &tags, &createdMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	ev.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &ev, nil
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

var _ Store = (*SQLiteStore)(nil)
