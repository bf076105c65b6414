package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Store is the durable queue contract the pipeline components share.
type Store interface {
	// Enqueue inserts a pending task.
	Enqueue(ctx context.Context, task *Task) error

	// ClaimBatch atomically claims up to limit eligible pending tasks,
	// ordered by (priority, scheduled_for) ascending, transitioning each to
	// processing. No two concurrent callers can claim the same row.
	ClaimBatch(ctx context.Context, limit int) ([]Task, error)

	// MarkCompleted transitions a claimed task to completed with its result.
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error

	// MarkRetry schedules another attempt, recording the new retry count and
	// the failure that caused it.
	MarkRetry(ctx context.Context, id string, retryCount int, errMsg string, scheduledFor time.Time) error

	// MarkFailed transitions a task to terminal failure.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// ReleaseDueRetries promotes retry tasks whose backoff has elapsed back
	// to pending so the next claim can pick them up.
	ReleaseDueRetries(ctx context.Context) (int64, error)

	// RecoverStuck resets processing tasks older than olderThan. Tasks with
	// retry budget left are rescheduled after retryDelay; exhausted ones are
	// failed. Returns (recovered, failed).
	RecoverStuck(ctx context.Context, olderThan, retryDelay time.Duration) (int64, int64, error)

	// PruneTerminal deletes terminal tasks older than the retention window.
	PruneTerminal(ctx context.Context, olderThan time.Duration) (int64, error)

	// GetTask returns a single task by id.
	GetTask(ctx context.Context, id string) (*Task, error)

	// CountsByStatus returns the number of tasks per status.
	CountsByStatus(ctx context.Context) (map[TaskStatus]int, error)

	// CountOverduePending returns how many pending tasks of the given type
	// are already eligible.
	CountOverduePending(ctx context.Context, taskType TaskType) (int, error)
}

const taskColumns = `id, type, priority, payload, status, scheduled_for_ms,
	started_at_ms, completed_at_ms, retry_count, max_retries, error_message,
	result_summary, created_at_ms`

// SQLiteStore is the durable queue. Claim atomicity comes from issuing the
// claim as a single UPDATE statement over the single-connection pool: SQLite
// serializes writers, so concurrent claimants observe each other's
// processing transitions and skip those rows.
type SQLiteStore struct {
	db         *sql.DB
	maxRetries int
	now        func() time.Time
}

// StoreOption configures a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithDefaultMaxRetries sets the retry budget stamped on enqueued tasks
// that do not carry their own. Values below 1 keep DefaultMaxRetries.
func WithDefaultMaxRetries(n int) StoreOption {
	return func(s *SQLiteStore) {
		if n >= 1 {
			s.maxRetries = n
		}
	}
}

// NewSQLiteStore creates a queue store over an opened learnd database.
func NewSQLiteStore(db *sql.DB, opts ...StoreOption) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	s := &SQLiteStore{db: db, maxRetries: DefaultMaxRetries, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enqueue inserts a pending task. Tasks without an explicit retry budget
// get the store's configured default.
func (s *SQLiteStore) Enqueue(ctx context.Context, task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = s.maxRetries
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, priority, payload, status, scheduled_for_ms,
			retry_count, max_retries, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Type), task.Priority, string(task.Payload), string(StatusPending),
		task.ScheduledFor.UnixMilli(), task.RetryCount, task.MaxRetries, task.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// ClaimBatch atomically claims up to limit eligible tasks.
func (s *SQLiteStore) ClaimBatch(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	nowMs := s.now().UTC().UnixMilli()

	rows, err := s.db.QueryContext(ctx, `
		UPDATE tasks SET status = ?, started_at_ms = ?
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = ? AND scheduled_for_ms <= ?
			ORDER BY priority ASC, scheduled_for_ms ASC
			LIMIT ?
		)
		RETURNING `+taskColumns,
		string(StatusProcessing), nowMs, string(StatusPending), nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var claimed []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		claimed = append(claimed, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING yields rows in storage order; hand them back in claim order.
	sort.Slice(claimed, func(i, j int) bool {
		return Less(&claimed[i], &claimed[j])
	})
	return claimed, nil
}

// MarkCompleted transitions a claimed task to completed. Terminal rows are
// never modified; a task already completed or failed is left as is.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	summary := sql.NullString{}
	if len(result) > 0 {
		summary = sql.NullString{String: string(result), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at_ms = ?, result_summary = ?, error_message = NULL
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusCompleted), s.now().UTC().UnixMilli(), summary,
		id, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkRetry schedules another attempt for a failed execution.
func (s *SQLiteStore) MarkRetry(ctx context.Context, id string, retryCount int, errMsg string, scheduledFor time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, retry_count = ?, error_message = ?, scheduled_for_ms = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusRetry), retryCount, errMsg, scheduledFor.UnixMilli(),
		id, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a task to terminal failure.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ?, completed_at_ms = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusFailed), errMsg, s.now().UTC().UnixMilli(),
		id, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ReleaseDueRetries promotes retry tasks whose backoff has elapsed.
func (s *SQLiteStore) ReleaseDueRetries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?
		WHERE status = ? AND scheduled_for_ms <= ?`,
		string(StatusPending), string(StatusRetry), s.now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("release due retries: %w", err)
	}
	return res.RowsAffected()
}

// RecoverStuck resets processing tasks whose worker presumably died.
func (s *SQLiteStore) RecoverStuck(ctx context.Context, olderThan, retryDelay time.Duration) (int64, int64, error) {
	now := s.now().UTC()
	cutoff := now.Add(-olderThan).UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, retry_count = retry_count + 1,
			scheduled_for_ms = ?, error_message = ?
		WHERE status = ? AND started_at_ms < ? AND retry_count < max_retries`,
		string(StatusRetry), now.Add(retryDelay).UnixMilli(), "worker timeout: task reset by sweep",
		string(StatusProcessing), cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("recover stuck: %w", err)
	}
	recovered, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at_ms = ?, error_message = ?
		WHERE status = ? AND started_at_ms < ? AND retry_count >= max_retries`,
		string(StatusFailed), now.UnixMilli(), "worker timeout: retry budget exhausted",
		string(StatusProcessing), cutoff)
	if err != nil {
		return recovered, 0, fmt.Errorf("fail exhausted stuck: %w", err)
	}
	failed, err := res.RowsAffected()
	if err != nil {
		return recovered, 0, err
	}
	return recovered, failed, nil
}

// PruneTerminal deletes terminal tasks past the retention window.
func (s *SQLiteStore) PruneTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan).UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?, ?) AND COALESCE(completed_at_ms, created_at_ms) < ?`,
		string(StatusCompleted), string(StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune terminal: %w", err)
	}
	return res.RowsAffected()
}

// GetTask returns a single task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// CountsByStatus returns the number of tasks per status.
func (s *SQLiteStore) CountsByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountOverduePending returns how many pending tasks of the given type are
// already eligible.
func (s *SQLiteStore) CountOverduePending(ctx context.Context, taskType TaskType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE type = ? AND status = ? AND scheduled_for_ms <= ?`,
		string(taskType), string(StatusPending), s.now().UTC().UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overdue: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task        Task
		taskType    string
		status      string
		payload     string
		scheduledMs int64
		startedMs   sql.NullInt64
		completedMs sql.NullInt64
		errMsg      sql.NullString
		result      sql.NullString
		createdAtMs int64
	)
	err := row.Scan(&task.ID, &taskType, &task.Priority, &payload, &status,
		&scheduledMs, &startedMs, &completedMs, &task.RetryCount, &task.MaxRetries,
		&errMsg, &result, &createdAtMs)
	if err != nil {
		return nil, err
	}

	task.Type = TaskType(taskType)
	task.Status = TaskStatus(status)
	task.Payload = json.RawMessage(payload)
	task.ScheduledFor = time.UnixMilli(scheduledMs).UTC()
	if startedMs.Valid {
		t := time.UnixMilli(startedMs.Int64).UTC()
		task.StartedAt = &t
	}
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64).UTC()
		task.CompletedAt = &t
	}
	if errMsg.Valid {
		task.ErrorMessage = errMsg.String
	}
	if result.Valid {
		task.ResultSummary = json.RawMessage(result.String)
	}
	task.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	return &task, nil
}

var _ Store = (*SQLiteStore)(nil)
