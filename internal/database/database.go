// Package database defines the persistence boundary of the pipeline:
// looking up per-question time limits and writing the final analysis
// payload of a submission.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/speakscore/speakscore/internal/event"
)

// ErrNoTimeLimit is returned by [Database.TimeLimit] when the assignment
// defines no time limit for the question. Duration feedback maps it to
// the no_time_limit error shape rather than failing the submission.
var ErrNoTimeLimit = errors.New("database: no time limit configured")

// ErrNotFound is returned when the submission row does not exist.
var ErrNotFound = errors.New("database: submission not found")

// Submission status values written during finalization.
const (
	StatusAnalyzed           = "analyzed"
	StatusFinalizationFailed = "finalization_failed"
)

// FinalResult is the persisted payload of a finalized submission.
type FinalResult struct {
	SubmissionKey  string
	TotalQuestions int
	// Results is the ordered per-question feedback, stored as the
	// section_feedback JSONB column.
	Results     []event.QuestionResult
	Status      string
	SubmittedAt time.Time
}

// Database is the abstraction over the submissions store.
// Implementations must be safe for concurrent use.
type Database interface {
	// TimeLimit returns the question's time limit in minutes, resolved
	// through the submission's assignment. Returns [ErrNoTimeLimit] when
	// the assignment defines none for this question.
	TimeLimit(ctx context.Context, submissionKey string, questionNumber int) (float64, error)

	// PersistFinalResult writes the finalized analysis payload for the
	// submission.
	PersistFinalResult(ctx context.Context, res FinalResult) error

	// MarkFinalizationFailed records that finalization exhausted its
	// retry budget, leaving the row eligible for a manual re-run.
	MarkFinalizationFailed(ctx context.Context, submissionKey string) error

	// Ping reports whether the store is reachable. Used by readiness
	// checks.
	Ping(ctx context.Context) error
}
