// Package results provides the process-local, concurrency-safe store of
// per-submission analysis results.
//
// The store is the single source of truth for submission completion:
// the aggregator counts progress by reading aggregates back rather than
// keeping its own counters. All operations are atomic from the caller's
// perspective; writers for different questions never conflict, and two
// writers for the same question are serialised with a
// first-writer-wins-unless-upgrading-error-to-success rule.
package results

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

// ErrNotFound is returned when no aggregate exists for a submission key.
var ErrNotFound = errors.New("results: submission not found")

// missingResult is the error message coerced onto analysis stages that
// never produced a sub-result.
const missingResult = "no_result"

// SubmissionAggregate is the stored state of one submission: the
// expected question count and the per-question results received so far.
type SubmissionAggregate struct {
	SubmissionKey  string
	TotalQuestions int
	Results        map[int]event.QuestionResult
	Finalized      bool
	UpdatedAt      time.Time
}

// Store maps submission keys to aggregates. The zero value is not
// usable; construct with [NewStore]. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	aggregates map[string]*SubmissionAggregate
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{aggregates: make(map[string]*SubmissionAggregate)}
}

// Put idempotently inserts a question result. A later write for an
// already-stored question replaces the prior entry only when the prior
// entry carries at least one error sub-result and the new one carries
// none; otherwise it is dropped. Writes for a finalized submission are
// ignored. Reports whether the result was stored.
func (s *Store) Put(submissionKey string, totalQuestions, questionNumber int, qr event.QuestionResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[submissionKey]
	if !ok {
		agg = &SubmissionAggregate{
			SubmissionKey:  submissionKey,
			TotalQuestions: totalQuestions,
			Results:        make(map[int]event.QuestionResult),
		}
		s.aggregates[submissionKey] = agg
	}
	if totalQuestions > 0 && agg.TotalQuestions == 0 {
		agg.TotalQuestions = totalQuestions
	}

	if agg.Finalized {
		slog.Debug("results: write ignored, submission finalized",
			"submission_key", submissionKey, "question", questionNumber)
		return false
	}

	if prior, exists := agg.Results[questionNumber]; exists {
		if !hasErrorStage(prior) || hasErrorStage(qr) {
			slog.Debug("results: duplicate write dropped",
				"submission_key", submissionKey, "question", questionNumber)
			return false
		}
		// Upgrade: the retry succeeded where the first delivery carried
		// stage errors.
	}

	agg.Results[questionNumber] = qr
	agg.UpdatedAt = time.Now()
	return true
}

// GetRaw returns a snapshot of the aggregate for submissionKey.
func (s *Store) GetRaw(submissionKey string) (SubmissionAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[submissionKey]
	if !ok {
		return SubmissionAggregate{}, fmt.Errorf("%w: %s", ErrNotFound, submissionKey)
	}
	return snapshot(agg), nil
}

// GetTransformed returns the question results for submissionKey as a
// canonical list: ascending question order, every stage normalised to a
// success-or-error shape.
func (s *Store) GetTransformed(submissionKey string) ([]event.QuestionResult, error) {
	agg, err := s.GetRaw(submissionKey)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(agg.Results))
	for n := range agg.Results {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([]event.QuestionResult, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, Normalize(agg.Results[n]))
	}
	return out, nil
}

// ListAll returns the known submission keys in unspecified order.
func (s *Store) ListAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.aggregates))
	for k := range s.aggregates {
		keys = append(keys, k)
	}
	return keys
}

// Has reports whether an aggregate exists for submissionKey.
func (s *Store) Has(submissionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.aggregates[submissionKey]
	return ok
}

// Clear removes the aggregate for submissionKey. Used for explicit
// reset and test hygiene; clearing an unknown key is not an error.
func (s *Store) Clear(submissionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aggregates, submissionKey)
}

// Complete reports whether every question in [1, total_questions] has a
// stored result.
func (s *Store) Complete(submissionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[submissionKey]
	if !ok || agg.TotalQuestions <= 0 {
		return false
	}
	return len(agg.Results) >= agg.TotalQuestions
}

// IsFinalized reports whether submissionKey has been finalized.
func (s *Store) IsFinalized(submissionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[submissionKey]
	return ok && agg.Finalized
}

// MarkFinalized flips the finalized flag. Reports whether this call
// performed the transition; the flag never transitions back.
func (s *Store) MarkFinalized(submissionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[submissionKey]
	if !ok || agg.Finalized {
		return false
	}
	agg.Finalized = true
	agg.UpdatedAt = time.Now()
	return true
}

// Normalize coerces every missing stage of qr to an error shape so the
// persisted payload always carries all five analyses plus duration
// feedback.
func Normalize(qr event.QuestionResult) event.QuestionResult {
	coerce := func(r analyzer.Result) analyzer.Result {
		if r.IsZero() {
			return analyzer.Errorf(missingResult)
		}
		return r
	}
	qr.Pronunciation = coerce(qr.Pronunciation)
	qr.Grammar = coerce(qr.Grammar)
	qr.Lexical = coerce(qr.Lexical)
	qr.Vocabulary = coerce(qr.Vocabulary)
	qr.Fluency = coerce(qr.Fluency)
	if qr.DurationFeedback.Feedback == "" && qr.DurationFeedback.Error == "" {
		qr.DurationFeedback = event.DurationFeedback{Error: missingResult}
	}
	return qr
}

// hasErrorStage reports whether any of the five sub-results of qr is an
// error shape (a missing stage counts as an error).
func hasErrorStage(qr event.QuestionResult) bool {
	for _, r := range []analyzer.Result{qr.Pronunciation, qr.Grammar, qr.Lexical, qr.Vocabulary, qr.Fluency} {
		if r.IsError() || r.IsZero() {
			return true
		}
	}
	return false
}

// snapshot deep-copies an aggregate so callers can read it without
// holding the store lock.
func snapshot(agg *SubmissionAggregate) SubmissionAggregate {
	cp := *agg
	cp.Results = make(map[int]event.QuestionResult, len(agg.Results))
	for n, qr := range agg.Results {
		cp.Results[n] = qr
	}
	return cp
}
