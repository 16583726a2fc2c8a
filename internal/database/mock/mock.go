// Package mock provides an in-memory mock implementation of
// [database.Database] for use in unit tests.
//
// The mock records every method call and allows the test to configure
// return values via exported fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/speakscore/speakscore/internal/database"
)

// Compile-time interface assertion.
var _ database.Database = (*Database)(nil)

// TimeLimitCall records the arguments of a single [Database.TimeLimit] call.
type TimeLimitCall struct {
	SubmissionKey  string
	QuestionNumber int
}

// Database is a mock implementation of [database.Database].
// All exported *Result and *Error fields control return values.
// All exported *Calls fields accumulate invocation records.
type Database struct {
	mu sync.Mutex

	// TimeLimits maps question numbers to time limits in minutes.
	// Questions without an entry return TimeLimitError, or
	// [database.ErrNoTimeLimit] when that is nil.
	TimeLimits map[int]float64

	// TimeLimitError overrides the lookup result for questions missing
	// from TimeLimits.
	TimeLimitError error

	// PersistError is returned by [Database.PersistFinalResult].
	PersistError error

	// PersistErrorsBeforeSuccess makes the first N persist calls fail
	// with PersistError, then succeed. Used to exercise retry paths.
	PersistErrorsBeforeSuccess int

	// MarkFailedError is returned by [Database.MarkFinalizationFailed].
	MarkFailedError error

	// PingError is returned by [Database.Ping].
	PingError error

	// TimeLimitCalls records all TimeLimit invocations.
	TimeLimitCalls []TimeLimitCall

	// PersistCalls records all PersistFinalResult invocations.
	PersistCalls []database.FinalResult

	// MarkFailedCalls records the submission keys passed to
	// MarkFinalizationFailed.
	MarkFailedCalls []string

	persistAttempts int
}

// TimeLimit returns the configured limit for the question.
func (m *Database) TimeLimit(_ context.Context, submissionKey string, questionNumber int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TimeLimitCalls = append(m.TimeLimitCalls, TimeLimitCall{submissionKey, questionNumber})
	if limit, ok := m.TimeLimits[questionNumber]; ok {
		return limit, nil
	}
	if m.TimeLimitError != nil {
		return 0, m.TimeLimitError
	}
	return 0, database.ErrNoTimeLimit
}

// PersistFinalResult records the call and returns the configured error.
func (m *Database) PersistFinalResult(_ context.Context, res database.FinalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PersistCalls = append(m.PersistCalls, res)
	m.persistAttempts++
	if m.PersistErrorsBeforeSuccess > 0 && m.persistAttempts <= m.PersistErrorsBeforeSuccess {
		return m.PersistError
	}
	if m.PersistErrorsBeforeSuccess > 0 {
		return nil
	}
	return m.PersistError
}

// MarkFinalizationFailed records the call and returns the configured error.
func (m *Database) MarkFinalizationFailed(_ context.Context, submissionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkFailedCalls = append(m.MarkFailedCalls, submissionKey)
	return m.MarkFailedError
}

// Ping returns the configured error.
func (m *Database) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingError
}

// PersistAttempts returns how many times PersistFinalResult was called.
func (m *Database) PersistAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistAttempts
}
