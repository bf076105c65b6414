package insight

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists insights keyed by title.
type Store interface {
	// GetByTitle returns the insight with the given natural key, or
	// ErrNotFound.
	GetByTitle(ctx context.Context, title string) (*Insight, error)

	// Upsert inserts a new insight or merges the candidate into the
	// existing row with the same title, reading and writing inside one
	// write transaction so concurrent upserts never lose merged fields.
	// Returns true when a new row was created. On creation the candidate's
	// ID and timestamps are filled in.
	Upsert(ctx context.Context, candidate *Insight) (bool, error)

	// ListAll returns every insight, most recently updated first.
	ListAll(ctx context.Context) ([]*Insight, error)

	// CountsByType returns the number of insights per type.
	CountsByType(ctx context.Context) (map[string]int, error)
}

const insightColumns = `id, type, category, title, description, confidence_level,
	evidence_strength, projects_involved, supporting_patterns, actionable,
	priority, metadata, created_at_ms, updated_at_ms`

// SQLiteStore is the SQLite-backed insight store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates an insight store over an open database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

var _ Store = (*SQLiteStore)(nil)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetByTitle(ctx context.Context, title string) (*Insight, error) {
	return getByTitle(ctx, s.db, title)
}

func getByTitle(ctx context.Context, q dbtx, title string) (*Insight, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE title = ?`, title)
	ins, err := scanInsight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: title %q", ErrNotFound, title)
	}
	if err != nil {
		return nil, fmt.Errorf("get insight: %w", err)
	}
	return ins, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, candidate *Insight) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert insight: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := s.upsertTx(ctx, tx, candidate)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert insight: %w", err)
	}
	return created, nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx dbtx, candidate *Insight) (bool, error) {
	now := s.now().UTC()
	existing, err := getByTitle(ctx, tx, candidate.Title)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if existing == nil {
		if candidate.ID == "" {
			candidate.ID = uuid.New().String()
		}
		if candidate.CreatedAt.IsZero() {
			candidate.CreatedAt = now
		}
		candidate.UpdatedAt = now
		if err := candidate.Validate(); err != nil {
			return false, err
		}
		inserted, err := insert(ctx, tx, candidate)
		if err != nil {
			return false, err
		}
		if inserted {
			return true, nil
		}
		// Lost an insert race on the title; merge into the winner.
		existing, err = getByTitle(ctx, tx, candidate.Title)
		if err != nil {
			return false, err
		}
	}

	merged := Merge(*existing, *candidate, now)
	if err := merged.Validate(); err != nil {
		return false, err
	}
	if err := update(ctx, tx, &merged); err != nil {
		return false, err
	}
	return false, nil
}

func insert(ctx context.Context, tx dbtx, ins *Insight) (bool, error) {
	projects, supporting, metadata, err := marshalInsightFields(ins)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO insights (id, type, category, title, description,
			confidence_level, evidence_strength, projects_involved,
			supporting_patterns, actionable, priority, metadata,
			created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO NOTHING`,
		ins.ID, ins.Type, ins.Category, ins.Title, ins.Description,
		ins.ConfidenceLevel, ins.EvidenceStrength, projects, supporting,
		boolToInt(ins.Actionable), ins.Priority, metadata,
		ins.CreatedAt.UnixMilli(), ins.UpdatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert insight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert insight: %w", err)
	}
	return n > 0, nil
}

func update(ctx context.Context, tx dbtx, ins *Insight) error {
	projects, supporting, metadata, err := marshalInsightFields(ins)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE insights
		SET type = ?, category = ?, description = ?, confidence_level = ?,
			evidence_strength = ?, projects_involved = ?, supporting_patterns = ?,
			actionable = ?, priority = ?, metadata = ?, updated_at_ms = ?
		WHERE title = ?`,
		ins.Type, ins.Category, ins.Description, ins.ConfidenceLevel,
		ins.EvidenceStrength, projects, supporting, boolToInt(ins.Actionable),
		ins.Priority, metadata, ins.UpdatedAt.UnixMilli(), ins.Title)
	if err != nil {
		return fmt.Errorf("update insight: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights ORDER BY updated_at_ms DESC, title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []*Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("list insights: %w", err)
		}
		out = append(out, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountsByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM insights GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count insights: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			insightType string
			n           int
		)
		if err := rows.Scan(&insightType, &n); err != nil {
			return nil, fmt.Errorf("count insights: %w", err)
		}
		counts[insightType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count insights: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInsight(row rowScanner) (*Insight, error) {
	var (
		ins        Insight
		projects   string
		supporting string
		metadata   string
		actionable int
		createdMs  int64
		updatedMs  int64
	)
	err := row.Scan(&ins.ID, &ins.Type, &ins.Category, &ins.Title,
		&ins.Description, &ins.ConfidenceLevel, &ins.EvidenceStrength,
		&projects, &supporting, &actionable, &ins.Priority, &metadata,
		&createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	ins.Actionable = actionable != 0
	ins.CreatedAt = time.UnixMilli(createdMs).UTC()
	ins.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if err := json.Unmarshal([]byte(projects), &ins.ProjectsInvolved); err != nil {
		return nil, fmt.Errorf("unmarshal projects: %w", err)
	}
	if err := json.Unmarshal([]byte(supporting), &ins.SupportingPatterns); err != nil {
		return nil, fmt.Errorf("unmarshal supporting patterns: %w", err)
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &ins.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &ins, nil
}

func marshalInsightFields(ins *Insight) (projects, supporting, metadata string, err error) {
	p, err := json.Marshal(emptyIfNil(ins.ProjectsInvolved))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal projects: %w", err)
	}
	sp, err := json.Marshal(emptyIfNil(ins.SupportingPatterns))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal supporting patterns: %w", err)
	}
	meta := ins.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(p), string(sp), string(m), nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
