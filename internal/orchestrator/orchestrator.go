// Package orchestrator runs the per-question analysis fan-out.
//
// When a question becomes ready (audio converted and transcript
// available, or a recorded failure on either side), the orchestrator
// launches pronunciation, grammar, lexical and vocabulary analysis
// concurrently, gates fluency on pronunciation completion, collects the
// five stage results, and emits ANALYSIS_COMPLETE exactly once per
// state lifetime. A stage never retries in-process; retries come from
// the broker redelivering the ready event, and emittedComplete keeps
// redelivery from double-counting.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/internal/filesession"
	"github.com/speakscore/speakscore/internal/results"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

// Stage names as they appear in events and file session dependencies.
const (
	StagePronunciation = "pronunciation"
	StageGrammar       = "grammar"
	StageLexical       = "lexical"
	StageVocabulary    = "vocabulary"
	StageFluency       = "fluency"
)

const (
	// DefaultStageTimeout bounds one analyzer call. A stage that
	// exceeds it is recorded as {error: "timeout"}.
	DefaultStageTimeout = 120 * time.Second

	// DefaultRetention is how long finished analysis states are kept so
	// redelivered ready events are recognised as duplicates.
	DefaultRetention = 30 * time.Minute
)

// stageTopics maps stage names to their completion topics.
var stageTopics = map[string]event.Topic{
	StagePronunciation: event.TopicPronunciationDone,
	StageGrammar:       event.TopicGrammarDone,
	StageLexical:       event.TopicLexicalDone,
	StageVocabulary:    event.TopicVocabularyDone,
	StageFluency:       event.TopicFluencyDone,
}

// Analyzers bundles the five stage backends.
type Analyzers struct {
	Pronunciation analyzer.Pronunciation
	Grammar       analyzer.Text
	Lexical       analyzer.Text
	Vocabulary    analyzer.Text
	Fluency       analyzer.Fluency
}

type questionKey struct {
	submission string
	question   int
}

// analysisState tracks one question's fan-out. Stage entries in done
// never change once written; emittedComplete transitions false→true at
// most once.
type analysisState struct {
	ready           event.QuestionAnalysisReady
	started         bool
	fluencyStarted  bool
	emittedComplete bool
	done            map[string]analyzer.Result
	createdAt       time.Time
}

// Orchestrator fans one ready question out to the five analysis stages.
// Safe for concurrent use.
type Orchestrator struct {
	pub              event.Publisher
	analyzers        Analyzers
	files            *filesession.Manager
	store            *results.Store
	stageTimeout     time.Duration
	retention        time.Duration
	fluencyUsesAudio bool

	mu     sync.Mutex
	states map[questionKey]*analysisState
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithStageTimeout overrides the per-analyzer-call timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

// WithRetention overrides how long finished states are retained.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithFluencyUsesAudio marks the fluency stage as a consumer of the
// local audio file, so it too reports file session completion.
func WithFluencyUsesAudio(enabled bool) Option {
	return func(o *Orchestrator) { o.fluencyUsesAudio = enabled }
}

// New creates an Orchestrator. All analyzers must be non-nil.
func New(pub event.Publisher, analyzers Analyzers, files *filesession.Manager, store *results.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pub:          pub,
		analyzers:    analyzers,
		files:        files,
		store:        store,
		stageTimeout: DefaultStageTimeout,
		retention:    DefaultRetention,
		states:       make(map[questionKey]*analysisState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnAnalysisReady processes one ready question, blocking until all five
// stages have finished. The webhook handler runs it synchronously so
// the push delivery is acknowledged only after the fan-out completes.
// Redeliveries of a question that is already running or already
// complete are discarded.
func (o *Orchestrator) OnAnalysisReady(ctx context.Context, msg event.QuestionAnalysisReady) {
	key := questionKey{msg.SubmissionURL, msg.QuestionNumber}

	o.mu.Lock()
	st, ok := o.states[key]
	if !ok {
		st = &analysisState{
			ready:     msg,
			done:      make(map[string]analyzer.Result),
			createdAt: time.Now(),
		}
		o.states[key] = st
	}
	if st.started {
		o.mu.Unlock()
		slog.Debug("orchestrator: duplicate ready event discarded",
			"submission", msg.SubmissionURL, "question", msg.QuestionNumber,
			"complete", st.emittedComplete)
		return
	}
	st.started = true
	o.mu.Unlock()

	slog.Info("orchestrator: starting analysis",
		"submission", msg.SubmissionURL,
		"question", msg.QuestionNumber,
		"audio_error", msg.AudioError,
		"transcript_error", msg.TranscriptError,
	)

	var g errgroup.Group
	g.Go(func() error { o.runPronunciation(ctx, &g, st); return nil })
	g.Go(func() error { o.runText(ctx, st, StageGrammar, o.analyzers.Grammar); return nil })
	g.Go(func() error { o.runText(ctx, st, StageLexical, o.analyzers.Lexical); return nil })
	g.Go(func() error { o.runText(ctx, st, StageVocabulary, o.analyzers.Vocabulary); return nil })
	g.Wait()
}

// runPronunciation executes the pronunciation stage and, in the same
// critical section that records its completion, claims the fluency
// launch. Fluency is registered on g before pronunciation's goroutine
// returns so the group cannot finish early.
func (o *Orchestrator) runPronunciation(ctx context.Context, g *errgroup.Group, st *analysisState) {
	ready := st.ready

	var res analyzer.Result
	switch {
	case ready.AudioError != "":
		res = analyzer.Errorf(ready.AudioError)
	case ready.WavPath == "":
		res = analyzer.Errorf("no_audio_file")
	default:
		res = o.callPronunciation(ctx, ready.WavPath, ready.Transcript)
	}

	launchFluency := o.record(ctx, st, StagePronunciation, res)
	if ready.SessionID != "" {
		o.files.MarkServiceComplete(ready.SessionID, StagePronunciation)
	}
	if launchFluency {
		g.Go(func() error { o.runFluency(ctx, st, res); return nil })
	}
}

// runFluency executes the fluency stage with the pronunciation word
// detail. A pronunciation result without word detail fails fluency with
// no_pronunciation_detail regardless of the pronunciation error state.
func (o *Orchestrator) runFluency(ctx context.Context, st *analysisState, pronunciation analyzer.Result) {
	ready := st.ready

	var res analyzer.Result
	switch {
	case ready.TranscriptError != "":
		res = analyzer.Errorf(ready.TranscriptError)
	case len(pronunciation.Words) == 0:
		res = analyzer.Errorf("no_pronunciation_detail")
	default:
		res = o.callFluency(ctx, ready.Transcript, pronunciation.Words)
	}

	o.record(ctx, st, StageFluency, res)
	if o.fluencyUsesAudio && ready.SessionID != "" {
		o.files.MarkServiceComplete(ready.SessionID, StageFluency)
	}
}

// runText executes one transcript-only stage (grammar, lexical or
// vocabulary).
func (o *Orchestrator) runText(ctx context.Context, st *analysisState, stage string, backend analyzer.Text) {
	ready := st.ready

	var res analyzer.Result
	switch {
	case ready.TranscriptError != "":
		res = analyzer.Errorf(ready.TranscriptError)
	case ready.Transcript == "":
		res = analyzer.Errorf("no_transcript")
	default:
		res = o.callText(ctx, backend, ready.Transcript)
	}

	o.record(ctx, st, stage, res)
}

func (o *Orchestrator) callPronunciation(ctx context.Context, wavPath, referenceText string) analyzer.Result {
	ctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	res, err := o.analyzers.Pronunciation.AnalyzePronunciation(ctx, wavPath, referenceText)
	return coerce(ctx, res, err)
}

func (o *Orchestrator) callFluency(ctx context.Context, transcript string, words []analyzer.WordScore) analyzer.Result {
	ctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	res, err := o.analyzers.Fluency.AnalyzeFluency(ctx, transcript, words)
	return coerce(ctx, res, err)
}

func (o *Orchestrator) callText(ctx context.Context, backend analyzer.Text, transcript string) analyzer.Result {
	ctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	res, err := backend.Analyze(ctx, transcript)
	return coerce(ctx, res, err)
}

// coerce folds a call error into the result's error shape. Deadline
// expiry is normalised to "timeout".
func coerce(ctx context.Context, res analyzer.Result, err error) analyzer.Result {
	if err == nil {
		return res
	}
	if ctx.Err() == context.DeadlineExceeded {
		return analyzer.Errorf("timeout")
	}
	return analyzer.ErrorResult(err)
}

// record stores a stage result, publishes the per-stage done event, and
// emits ANALYSIS_COMPLETE when the last stage lands. Returns whether the
// caller owns the fluency launch (pronunciation only, claimed at most
// once). All publishes and store writes happen outside the lock.
func (o *Orchestrator) record(ctx context.Context, st *analysisState, stage string, res analyzer.Result) bool {
	ready := st.ready

	o.mu.Lock()
	if _, dup := st.done[stage]; dup {
		o.mu.Unlock()
		return false
	}
	st.done[stage] = res

	launchFluency := false
	if stage == StagePronunciation && !st.fluencyStarted {
		st.fluencyStarted = true
		launchFluency = true
	}

	complete := len(st.done) == 5 && !st.emittedComplete
	var qr event.QuestionResult
	if complete {
		st.emittedComplete = true
		qr = event.QuestionResult{
			SubmissionURL:  ready.SubmissionURL,
			QuestionNumber: ready.QuestionNumber,
			Pronunciation:  st.done[StagePronunciation],
			Grammar:        st.done[StageGrammar],
			Lexical:        st.done[StageLexical],
			Vocabulary:     st.done[StageVocabulary],
			Fluency:        st.done[StageFluency],
			Transcript:     ready.Transcript,
			AudioDuration:  ready.AudioDuration,
		}
	}
	o.mu.Unlock()

	slog.Info("orchestrator: stage done",
		"submission", ready.SubmissionURL,
		"question", ready.QuestionNumber,
		"stage", stage,
		"error", res.Error,
	)
	event.BestEffort(ctx, o.pub, stageTopics[stage], event.StageDone{
		SubmissionURL:  ready.SubmissionURL,
		QuestionNumber: ready.QuestionNumber,
		TotalQuestions: ready.TotalQuestions,
		Service:        stage,
		Result:         res,
	})

	if complete {
		o.store.Put(ready.SubmissionURL, ready.TotalQuestions, ready.QuestionNumber, qr)
		slog.Info("orchestrator: question analysis complete",
			"submission", ready.SubmissionURL, "question", ready.QuestionNumber)
		event.BestEffort(ctx, o.pub, event.TopicAnalysisComplete, event.AnalysisComplete{
			SubmissionURL:  ready.SubmissionURL,
			QuestionNumber: ready.QuestionNumber,
			TotalQuestions: ready.TotalQuestions,
			Result:         qr,
		})
	}
	return launchFluency
}

// Purge removes states created before the retention bound. A purged
// state makes a redelivered ready event run again; downstream
// idempotence (results store, aggregator finalize) absorbs the repeat.
func (o *Orchestrator) Purge() int {
	cutoff := time.Now().Add(-o.retention)

	o.mu.Lock()
	defer o.mu.Unlock()

	var n int
	for key, st := range o.states {
		if st.createdAt.Before(cutoff) {
			delete(o.states, key)
			n++
		}
	}
	return n
}

// Run executes the purge sweep on the retention interval until ctx is
// done.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.retention)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Purge(); n > 0 {
				slog.Info("orchestrator: purged stale states", "count", n)
			}
		}
	}
}

// Pending returns the number of analysis states currently held.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.states)
}
