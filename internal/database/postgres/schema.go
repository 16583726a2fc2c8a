package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAssignments = `
CREATE TABLE IF NOT EXISTS assignments (
    id         BIGSERIAL   PRIMARY KEY,
    title      TEXT        NOT NULL DEFAULT '',
    questions  JSONB       NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const ddlSubmissions = `
CREATE TABLE IF NOT EXISTS submissions (
    id               BIGSERIAL   PRIMARY KEY,
    submission_url   TEXT        NOT NULL UNIQUE,
    assignment_id    BIGINT      REFERENCES assignments (id),
    total_questions  INT         NOT NULL DEFAULT 0,
    recordings       JSONB       NOT NULL DEFAULT '[]'::jsonb,
    section_feedback JSONB,
    status           TEXT        NOT NULL DEFAULT 'submitted',
    submitted_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    analyzed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_submissions_status
    ON submissions (status);

CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at
    ON submissions (submitted_at);`

// Migrate ensures the submissions schema exists. Statements are
// idempotent; Migrate is safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlAssignments, ddlSubmissions} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
