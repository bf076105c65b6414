package pattern

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists patterns and their occurrence facts.
type Store interface {
	// GetBySignature returns the pattern with the given natural key, or
	// ErrNotFound.
	GetBySignature(ctx context.Context, signature string) (*Pattern, error)

	// Create inserts a new pattern. Returns false when a pattern with the
	// same signature already exists, leaving the existing row untouched.
	Create(ctx context.Context, p *Pattern) (bool, error)

	// Reinforce folds a repeated detection into the pattern with the given
	// signature. The merge runs against a fresh read inside a write
	// transaction, so concurrent reinforcements never lose set members or
	// method promotions; the frequency increment and confidence boost stay
	// in SQL.
	Reinforce(ctx context.Context, signature string, c Candidate, memoryID, projectID string, at time.Time, cfg MergeConfig) error

	// RecordOccurrence inserts one pattern-memory occurrence fact. Returns
	// false when the pair was already recorded.
	RecordOccurrence(ctx context.Context, o *Occurrence) (bool, error)

	// ListAll returns every pattern, most frequent first.
	ListAll(ctx context.Context) ([]*Pattern, error)

	// OccurrencesSince returns occurrence facts at or after the given
	// time, oldest first.
	OccurrencesSince(ctx context.Context, since time.Time) ([]*Occurrence, error)

	// CountsByCategory returns the number of patterns per category.
	CountsByCategory(ctx context.Context) (map[string]int, error)
}

const patternColumns = `id, signature, category, type, name, description,
	confidence_score, frequency_count, projects_seen, example_memories,
	detection_method, first_seen_ms, last_reinforced_ms`

// SQLiteStore is the SQLite-backed pattern store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a pattern store over an open database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetBySignature(ctx context.Context, signature string) (*Pattern, error) {
	return getBySignature(ctx, s.db, signature)
}

func getBySignature(ctx context.Context, q rowQuerier, signature string) (*Pattern, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE signature = ?`, signature)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: signature %s", ErrNotFound, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Create(ctx context.Context, p *Pattern) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	projects, err := marshalStrings(p.ProjectsSeen)
	if err != nil {
		return false, err
	}
	examples, err := marshalStrings(p.ExampleMemories)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, signature, category, type, name, description,
			confidence_score, frequency_count, projects_seen, example_memories,
			detection_method, first_seen_ms, last_reinforced_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING`,
		p.ID, p.Signature, p.Category, p.Type, p.Name, p.Description,
		p.ConfidenceScore, p.FrequencyCount, projects, examples,
		string(p.DetectionMethod), p.FirstSeen.UnixMilli(), p.LastReinforced.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("create pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create pattern: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Reinforce(ctx context.Context, signature string, c Candidate, memoryID, projectID string, at time.Time, cfg MergeConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reinforce pattern: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getBySignature(ctx, tx, signature)
	if err != nil {
		return err
	}
	merged := Merge(*existing, c, memoryID, projectID, at, cfg)

	projects, err := marshalStrings(merged.ProjectsSeen)
	if err != nil {
		return err
	}
	examples, err := marshalStrings(merged.ExampleMemories)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE patterns
		SET frequency_count = frequency_count + 1,
			confidence_score = MIN(1.0, confidence_score + ?),
			projects_seen = ?,
			example_memories = ?,
			detection_method = ?,
			last_reinforced_ms = ?
		WHERE signature = ?`,
		cfg.BoostFor(c.DetectionMethod), projects, examples,
		string(merged.DetectionMethod), merged.LastReinforced.UnixMilli(), signature)
	if err != nil {
		return fmt.Errorf("reinforce pattern: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reinforce pattern: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordOccurrence(ctx context.Context, o *Occurrence) (bool, error) {
	if o.PatternID == "" || o.MemoryID == "" {
		return false, fmt.Errorf("%w: occurrence needs pattern and memory ids", ErrInvalidPattern)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_occurrences (pattern_id, memory_id, project_id,
			confidence, context_snippet, occurred_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_id, memory_id) DO NOTHING`,
		o.PatternID, o.MemoryID, o.ProjectID, o.Confidence,
		o.ContextSnippet, o.OccurredAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("record occurrence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record occurrence: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM patterns
		 ORDER BY frequency_count DESC, signature ASC`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) OccurrencesSince(ctx context.Context, since time.Time) ([]*Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, memory_id, project_id, confidence, context_snippet, occurred_at_ms
		FROM pattern_occurrences
		WHERE occurred_at_ms >= ?
		ORDER BY occurred_at_ms ASC`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var out []*Occurrence
	for rows.Next() {
		var (
			o          Occurrence
			occurredMs int64
		)
		if err := rows.Scan(&o.PatternID, &o.MemoryID, &o.ProjectID,
			&o.Confidence, &o.ContextSnippet, &occurredMs); err != nil {
			return nil, fmt.Errorf("list occurrences: %w", err)
		}
		o.OccurredAt = time.UnixMilli(occurredMs).UTC()
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountsByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM patterns GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count patterns: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("count patterns: %w", err)
		}
		counts[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count patterns: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*Pattern, error) {
	var (
		p            Pattern
		method       string
		projects     string
		examples     string
		firstSeenMs  int64
		reinforcedMs int64
	)
	err := row.Scan(&p.ID, &p.Signature, &p.Category, &p.Type, &p.Name,
		&p.Description, &p.ConfidenceScore, &p.FrequencyCount,
		&projects, &examples, &method, &firstSeenMs, &reinforcedMs)
	if err != nil {
		return nil, err
	}
	p.DetectionMethod = DetectionMethod(method)
	p.FirstSeen = time.UnixMilli(firstSeenMs).UTC()
	p.LastReinforced = time.UnixMilli(reinforcedMs).UTC()
	if p.ProjectsSeen, err = unmarshalStrings(projects); err != nil {
		return nil, err
	}
	if p.ExampleMemories, err = unmarshalStrings(examples); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal string set: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unmarshal string set: %w", err)
	}
	return out, nil
}
