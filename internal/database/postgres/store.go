// Package postgres provides the PostgreSQL-backed implementation of the
// submissions store.
//
// One [pgxpool.Pool] serves all operations. [NewStore] runs [Migrate] so
// the submissions and assignments tables exist before the first query.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/speakscore/speakscore/internal/database"
)

var _ database.Database = (*Store)(nil)

// DB is the query interface used by [Store]. *pgxpool.Pool satisfies it;
// tests substitute a mock.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store is the PostgreSQL submissions store. Safe for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and
// runs the schema migration.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{db: pool, pool: pool}, nil
}

// NewWithDB wraps an existing connection in a Store, skipping pool setup
// and migration. Used by tests.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases all connections held by the underlying pool, if any.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// TimeLimit resolves the question's time limit in minutes through the
// submission's assignment. Question numbers are 1-based; the assignment
// stores questions as a JSONB array with a per-entry timeLimit field.
func (s *Store) TimeLimit(ctx context.Context, submissionKey string, questionNumber int) (float64, error) {
	const q = `
SELECT a.questions -> $2 ->> 'timeLimit'
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE s.submission_url = $1`

	var raw *string
	err := s.db.QueryRow(ctx, q, submissionKey, questionNumber-1).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, fmt.Errorf("%w: %s", database.ErrNotFound, submissionKey)
	case err != nil:
		return 0, fmt.Errorf("postgres store: time limit: %w", err)
	}

	if raw == nil || *raw == "" {
		return 0, fmt.Errorf("%w: %s question %d", database.ErrNoTimeLimit, submissionKey, questionNumber)
	}
	limit, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres store: parse time limit %q: %w", *raw, err)
	}
	if limit <= 0 {
		return 0, fmt.Errorf("%w: %s question %d", database.ErrNoTimeLimit, submissionKey, questionNumber)
	}
	return limit, nil
}

// PersistFinalResult writes the ordered question feedback and status for
// the submission. The row is created if the intake path has not inserted
// it yet, so a finalize replay after a partial failure still lands.
func (s *Store) PersistFinalResult(ctx context.Context, res database.FinalResult) error {
	feedback, err := json.Marshal(res.Results)
	if err != nil {
		return fmt.Errorf("postgres store: marshal feedback: %w", err)
	}

	const q = `
INSERT INTO submissions (submission_url, total_questions, section_feedback, status, submitted_at, analyzed_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (submission_url) DO UPDATE SET
    total_questions  = EXCLUDED.total_questions,
    section_feedback = EXCLUDED.section_feedback,
    status           = EXCLUDED.status,
    analyzed_at      = now()`

	status := res.Status
	if status == "" {
		status = database.StatusAnalyzed
	}
	if _, err := s.db.Exec(ctx, q, res.SubmissionKey, res.TotalQuestions, feedback, status, res.SubmittedAt); err != nil {
		return fmt.Errorf("postgres store: persist final result: %w", err)
	}
	return nil
}

// MarkFinalizationFailed flags the submission so operators can find and
// re-run it. Missing rows are reported as [database.ErrNotFound].
func (s *Store) MarkFinalizationFailed(ctx context.Context, submissionKey string) error {
	const q = `UPDATE submissions SET status = $2 WHERE submission_url = $1`

	tag, err := s.db.Exec(ctx, q, submissionKey, database.StatusFinalizationFailed)
	if err != nil {
		return fmt.Errorf("postgres store: mark finalization failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", database.ErrNotFound, submissionKey)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}
