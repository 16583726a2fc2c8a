package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	dbmock "github.com/speakscore/speakscore/internal/database/mock"
	"github.com/speakscore/speakscore/internal/event"
	eventmock "github.com/speakscore/speakscore/internal/event/mock"
	"github.com/speakscore/speakscore/internal/resilience"
	"github.com/speakscore/speakscore/internal/results"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

const submission = "https://app.example.com/submissions/42"

func questionResult(q int) event.QuestionResult {
	return event.QuestionResult{
		SubmissionURL:  submission,
		QuestionNumber: q,
		Pronunciation:  analyzer.Result{Grade: 80},
		Grammar:        analyzer.Result{Grade: 75},
		Lexical:        analyzer.Result{Grade: 70},
		Vocabulary:     analyzer.Result{Grade: 72},
		Fluency:        analyzer.Result{Grade: 78},
		Transcript:     "I think remote work is great.",
		AudioDuration:  45,
	}
}

func complete(q, total int) event.AnalysisComplete {
	return event.AnalysisComplete{
		SubmissionURL:  submission,
		QuestionNumber: q,
		TotalQuestions: total,
		Result:         questionResult(q),
	}
}

func fastRetry() Option {
	return WithRetryConfig(resilience.RetryConfig{
		Name:           "persist final result",
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
	})
}

func TestAggregator_FinalizesWhenAllQuestionsIn(t *testing.T) {
	t.Parallel()
	pub := &eventmock.Publisher{}
	store := results.NewStore()
	db := &dbmock.Database{TimeLimits: map[int]float64{1: 1, 2: 1}}
	a := New(pub, store, db, fastRetry())
	ctx := context.Background()

	if err := a.OnAnalysisComplete(ctx, complete(2, 2)); err != nil {
		t.Fatal(err)
	}
	if len(db.PersistCalls) != 0 {
		t.Fatalf("persisted before completion: %d calls", len(db.PersistCalls))
	}

	if err := a.OnAnalysisComplete(ctx, complete(1, 2)); err != nil {
		t.Fatal(err)
	}

	if len(db.PersistCalls) != 1 {
		t.Fatalf("persist calls = %d, want 1", len(db.PersistCalls))
	}
	persisted := db.PersistCalls[0]
	if persisted.Status != "analyzed" {
		t.Errorf("status = %q, want analyzed", persisted.Status)
	}
	if len(persisted.Results) != 2 {
		t.Fatalf("persisted results = %d, want 2", len(persisted.Results))
	}
	// Ordered by question number regardless of arrival order.
	if persisted.Results[0].QuestionNumber != 1 || persisted.Results[1].QuestionNumber != 2 {
		t.Errorf("result order = %d,%d, want 1,2",
			persisted.Results[0].QuestionNumber, persisted.Results[1].QuestionNumber)
	}
	// 45s of 1min is 75%.
	if fb := persisted.Results[0].DurationFeedback.Feedback; fb != "User spoke longer." {
		t.Errorf("duration feedback = %q", fb)
	}

	if !store.IsFinalized(submission) {
		t.Error("store not finalized")
	}
	done := pub.CallsOn(event.TopicSubmissionAnalysisComplete)
	if len(done) != 1 {
		t.Fatalf("SUBMISSION_ANALYSIS_COMPLETE count = %d, want 1", len(done))
	}
	final := done[0].Payload.(event.SubmissionAnalysisComplete)
	if final.TotalQuestions != 2 || len(final.Results) != 2 {
		t.Errorf("final payload = %+v", final)
	}
}

func TestAggregator_RedeliveryAfterFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	pub := &eventmock.Publisher{}
	store := results.NewStore()
	db := &dbmock.Database{TimeLimits: map[int]float64{1: 1}}
	a := New(pub, store, db, fastRetry())
	ctx := context.Background()

	if err := a.OnAnalysisComplete(ctx, complete(1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := a.OnAnalysisComplete(ctx, complete(1, 1)); err != nil {
		t.Fatal(err)
	}

	if len(db.PersistCalls) != 1 {
		t.Errorf("persist calls = %d, want 1", len(db.PersistCalls))
	}
	if got := pub.CallsOn(event.TopicSubmissionAnalysisComplete); len(got) != 1 {
		t.Errorf("SUBMISSION_ANALYSIS_COMPLETE count = %d, want 1", len(got))
	}
}

func TestAggregator_PersistRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	pub := &eventmock.Publisher{}
	store := results.NewStore()
	db := &dbmock.Database{
		TimeLimits:                 map[int]float64{1: 1},
		PersistError:               errors.New("connection reset"),
		PersistErrorsBeforeSuccess: 2,
	}
	a := New(pub, store, db, fastRetry())

	if err := a.OnAnalysisComplete(context.Background(), complete(1, 1)); err != nil {
		t.Fatal(err)
	}

	if db.PersistAttempts() != 3 {
		t.Errorf("persist attempts = %d, want 3", db.PersistAttempts())
	}
	if !store.IsFinalized(submission) {
		t.Error("store not finalized after eventual success")
	}
}

func TestAggregator_TerminalPersistFailure(t *testing.T) {
	t.Parallel()
	pub := &eventmock.Publisher{}
	store := results.NewStore()
	persistErr := errors.New("database down")
	db := &dbmock.Database{
		TimeLimits:   map[int]float64{1: 1},
		PersistError: persistErr,
	}
	a := New(pub, store, db, fastRetry())
	ctx := context.Background()

	err := a.OnAnalysisComplete(ctx, complete(1, 1))
	if !errors.Is(err, persistErr) {
		t.Fatalf("err = %v, want wrapped persist error", err)
	}

	if db.PersistAttempts() != 3 {
		t.Errorf("persist attempts = %d, want 3", db.PersistAttempts())
	}
	if len(db.MarkFailedCalls) != 1 || db.MarkFailedCalls[0] != submission {
		t.Errorf("MarkFinalizationFailed calls = %v", db.MarkFailedCalls)
	}
	if store.IsFinalized(submission) {
		t.Error("store finalized despite terminal failure")
	}
	if got := pub.CallsOn(event.TopicSubmissionAnalysisComplete); len(got) != 0 {
		t.Errorf("SUBMISSION_ANALYSIS_COMPLETE published on failure: %d", len(got))
	}

	// Manual retry once the database recovers.
	db.PersistError = nil
	if err := a.Finalize(ctx, submission, 1); err != nil {
		t.Fatalf("manual retry failed: %v", err)
	}
	if !store.IsFinalized(submission) {
		t.Error("store not finalized after manual retry")
	}
}

func TestAggregator_AllErrorQuestionStillFinalizes(t *testing.T) {
	t.Parallel()
	pub := &eventmock.Publisher{}
	store := results.NewStore()
	db := &dbmock.Database{TimeLimits: map[int]float64{1: 1}}
	a := New(pub, store, db, fastRetry())

	msg := complete(1, 1)
	msg.Result.Pronunciation = analyzer.Errorf("conversion failed")
	msg.Result.Grammar = analyzer.Errorf("transcription failed")
	msg.Result.Lexical = analyzer.Errorf("transcription failed")
	msg.Result.Vocabulary = analyzer.Errorf("transcription failed")
	msg.Result.Fluency = analyzer.Errorf("no_pronunciation_detail")

	if err := a.OnAnalysisComplete(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if !store.IsFinalized(submission) {
		t.Error("all-error submission did not finalize")
	}
}

func TestAggregator_MissingTimeLimit(t *testing.T) {
	t.Parallel()
	pub := &eventmock.Publisher{}
	store := results.NewStore()
	db := &dbmock.Database{} // no limits configured
	a := New(pub, store, db, fastRetry())

	if err := a.OnAnalysisComplete(context.Background(), complete(1, 1)); err != nil {
		t.Fatal(err)
	}

	fb := db.PersistCalls[0].Results[0].DurationFeedback
	if fb.Error != "no_time_limit" || fb.Feedback != "" {
		t.Errorf("duration feedback = %+v, want {error: no_time_limit}", fb)
	}
}

func TestCompareDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		duration float64 // seconds
		limit    float64 // minutes
		want     event.DurationFeedback
	}{
		{"just under half", 29.9, 1, event.DurationFeedback{Feedback: "Did not speak that much."}},
		{"exactly half", 30, 1, event.DurationFeedback{Feedback: "User spoke longer."}},
		{"exactly at limit", 60, 1, event.DurationFeedback{Feedback: "User spoke longer."}},
		{"just over limit", 60.01, 1, event.DurationFeedback{Feedback: "User exceeded the time limit."}},
		{"silent recording", 0, 1, event.DurationFeedback{Feedback: "Did not speak that much."}},
		{"no limit", 45, 0, event.DurationFeedback{Error: "no_time_limit"}},
		{"negative limit", 45, -2, event.DurationFeedback{Error: "no_time_limit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareDuration(tt.duration, tt.limit); got != tt.want {
				t.Errorf("CompareDuration(%v, %v) = %+v, want %+v", tt.duration, tt.limit, got, tt.want)
			}
		})
	}
}
