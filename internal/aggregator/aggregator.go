// Package aggregator performs the per-submission fan-in: it collects
// question completions, and when the last one lands it composes the
// final payload, persists it, and emits SUBMISSION_ANALYSIS_COMPLETE.
//
// Completion is counted by reading the results store back, never by a
// separate counter, so redelivered completions cannot skew progress.
// Finalization runs under a per-submission mutex and flips the store's
// finalized flag exactly once; the database write is the pipeline's only
// in-process retry.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/speakscore/speakscore/internal/database"
	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/internal/resilience"
	"github.com/speakscore/speakscore/internal/results"
)

// Duration feedback messages, keyed to the spoken-to-allowed ratio.
const (
	feedbackUnderHalf = "Did not speak that much."
	feedbackInRange   = "User spoke longer."
	feedbackOverLimit = "User exceeded the time limit."

	errNoTimeLimit          = "no_time_limit"
	errTimeLimitUnavailable = "time_limit_unavailable"
)

// Aggregator finalizes submissions. Safe for concurrent use.
type Aggregator struct {
	pub   event.Publisher
	store *results.Store
	db    database.Database
	retry resilience.RetryConfig

	mu         sync.Mutex
	finalizers map[string]*sync.Mutex
}

// Option is a functional option for configuring an Aggregator.
type Option func(*Aggregator)

// WithRetryConfig overrides the database persistence retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(a *Aggregator) { a.retry = cfg }
}

// New creates an Aggregator reading progress from store and persisting
// through db.
func New(pub event.Publisher, store *results.Store, db database.Database, opts ...Option) *Aggregator {
	a := &Aggregator{
		pub:   pub,
		store: store,
		db:    db,
		retry: resilience.RetryConfig{
			Name:           "persist final result",
			Attempts:       3,
			InitialBackoff: 100 * time.Millisecond,
			Multiplier:     4,
		},
		finalizers: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OnAnalysisComplete stores one question completion and finalizes the
// submission when all questions are in. Safe to call with redelivered
// events: the store's write rules and the finalized flag make repeats
// observationally idempotent.
func (a *Aggregator) OnAnalysisComplete(ctx context.Context, msg event.AnalysisComplete) error {
	a.store.Put(msg.SubmissionURL, msg.TotalQuestions, msg.QuestionNumber, msg.Result)

	if !a.store.Complete(msg.SubmissionURL) {
		slog.Debug("aggregator: submission not yet complete",
			"submission", msg.SubmissionURL, "question", msg.QuestionNumber)
		return nil
	}
	return a.Finalize(ctx, msg.SubmissionURL, msg.TotalQuestions)
}

// Finalize composes, persists and announces the final result for the
// submission. Only the first call per submission does work; concurrent
// and repeated calls return nil once the submission is finalized.
// Exposed so operators can re-run a finalization that previously
// exhausted its retry budget.
func (a *Aggregator) Finalize(ctx context.Context, submissionKey string, totalQuestions int) error {
	fm := a.finalizer(submissionKey)
	fm.Lock()
	defer fm.Unlock()

	if a.store.IsFinalized(submissionKey) {
		return nil
	}

	ordered, err := a.store.GetTransformed(submissionKey)
	if err != nil {
		return fmt.Errorf("aggregator: load results: %w", err)
	}
	for i := range ordered {
		ordered[i].DurationFeedback = a.durationFeedback(ctx,
			submissionKey, ordered[i].QuestionNumber, ordered[i].AudioDuration)
	}

	final := database.FinalResult{
		SubmissionKey:  submissionKey,
		TotalQuestions: totalQuestions,
		Results:        ordered,
		Status:         database.StatusAnalyzed,
		SubmittedAt:    time.Now(),
	}

	err = resilience.Retry(ctx, a.retry, func(ctx context.Context) error {
		return a.db.PersistFinalResult(ctx, final)
	})
	if err != nil {
		slog.Error("aggregator: finalization failed, submission left for manual retry",
			"submission", submissionKey, "err", err)
		if markErr := a.db.MarkFinalizationFailed(ctx, submissionKey); markErr != nil {
			slog.Error("aggregator: could not record finalization failure",
				"submission", submissionKey, "err", markErr)
		}
		return fmt.Errorf("aggregator: persist final result: %w", err)
	}

	a.store.MarkFinalized(submissionKey)
	a.dropFinalizer(submissionKey)

	slog.Info("aggregator: submission finalized",
		"submission", submissionKey, "questions", len(ordered))
	event.BestEffort(ctx, a.pub, event.TopicSubmissionAnalysisComplete, event.SubmissionAnalysisComplete{
		SubmissionURL:  submissionKey,
		TotalQuestions: totalQuestions,
		Results:        ordered,
	})
	return nil
}

// durationFeedback compares the spoken duration against the question's
// time limit fetched from the database. Lookup failures degrade to an
// error shape; they never block finalization.
func (a *Aggregator) durationFeedback(ctx context.Context, submissionKey string, questionNumber int, audioDuration float64) event.DurationFeedback {
	limit, err := a.db.TimeLimit(ctx, submissionKey, questionNumber)
	switch {
	case errors.Is(err, database.ErrNoTimeLimit), errors.Is(err, database.ErrNotFound):
		return event.DurationFeedback{Error: errNoTimeLimit}
	case err != nil:
		slog.Warn("aggregator: time limit lookup failed",
			"submission", submissionKey, "question", questionNumber, "err", err)
		return event.DurationFeedback{Error: errTimeLimitUnavailable}
	}
	return CompareDuration(audioDuration, limit)
}

// CompareDuration applies the duration feedback rule: for spoken
// duration d seconds against a limit of t minutes, the ratio
// r = d/(60·t)·100 selects the feedback message.
func CompareDuration(d, t float64) event.DurationFeedback {
	if t <= 0 {
		return event.DurationFeedback{Error: errNoTimeLimit}
	}
	r := d / (60 * t) * 100
	switch {
	case r < 50:
		return event.DurationFeedback{Feedback: feedbackUnderHalf}
	case r <= 100:
		return event.DurationFeedback{Feedback: feedbackInRange}
	default:
		return event.DurationFeedback{Feedback: feedbackOverLimit}
	}
}

// finalizer returns the per-submission finalize mutex, creating it on
// first use.
func (a *Aggregator) finalizer(submissionKey string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	fm, ok := a.finalizers[submissionKey]
	if !ok {
		fm = &sync.Mutex{}
		a.finalizers[submissionKey] = fm
	}
	return fm
}

// dropFinalizer releases the bookkeeping for a finalized submission.
// Caller must hold the finalizer itself; a late caller that still
// obtained the old mutex re-checks the finalized flag and exits.
func (a *Aggregator) dropFinalizer(submissionKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.finalizers, submissionKey)
}
