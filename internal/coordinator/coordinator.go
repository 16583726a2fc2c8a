// Package coordinator implements the per-question fan-in of audio
// conversion and transcription.
//
// Audio and transcript completions for the same question arrive as
// independent push deliveries, in any order, possibly duplicated. The
// coordinator records both sides under a per-question state and emits
// QUESTION_ANALYSIS_READY exactly once per state lifetime when the
// second side lands. Errors on either side do not block emission: the
// event carries the error in place of the missing data so downstream
// stages can short-circuit instead of hanging forever.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/speakscore/speakscore/internal/event"
)

// DefaultRetention is how long coordination states are kept before the
// purge sweep removes them. Long enough to absorb broker redelivery of
// an already-joined pair; short enough to bound memory.
const DefaultRetention = 30 * time.Minute

// questionKey identifies one recording within a submission.
type questionKey struct {
	submission string
	question   int
}

// state is the fan-in record for one question. Readiness flags are
// monotonic; emitted transitions false→true at most once.
type state struct {
	audioReady      bool
	transcriptReady bool
	emitted         bool
	audio           event.AudioConversionDone
	transcript      event.TranscriptionDone
	createdAt       time.Time
}

// Coordinator joins audio and transcript completions per question.
// Safe for concurrent use.
type Coordinator struct {
	pub       event.Publisher
	retention time.Duration

	mu     sync.Mutex
	states map[questionKey]*state
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithRetention overrides how long states are retained before the purge
// sweep removes them. Default is 30 minutes.
func WithRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// New creates a Coordinator that publishes QUESTION_ANALYSIS_READY on pub.
func New(pub event.Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		pub:       pub,
		retention: DefaultRetention,
		states:    make(map[questionKey]*state),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnAudioReady records the audio-conversion side for the question and
// emits the joined event when the transcript side has already arrived.
// Duplicate arrivals after emission are discarded.
func (c *Coordinator) OnAudioReady(ctx context.Context, msg event.AudioConversionDone) {
	key := questionKey{msg.SubmissionURL, msg.QuestionNumber}

	c.mu.Lock()
	st := c.loadOrCreate(key)
	st.audioReady = true
	st.audio = msg
	ready := c.takeEmission(st)
	payload := joinPayload(st)
	c.mu.Unlock()

	if !ready {
		slog.Debug("coordinator: audio side recorded",
			"submission", msg.SubmissionURL, "question", msg.QuestionNumber)
		return
	}
	c.emit(ctx, payload)
}

// OnTranscriptReady records the transcription side for the question and
// emits the joined event when the audio side has already arrived.
// Duplicate arrivals after emission are discarded.
func (c *Coordinator) OnTranscriptReady(ctx context.Context, msg event.TranscriptionDone) {
	key := questionKey{msg.SubmissionURL, msg.QuestionNumber}

	c.mu.Lock()
	st := c.loadOrCreate(key)
	st.transcriptReady = true
	st.transcript = msg
	ready := c.takeEmission(st)
	payload := joinPayload(st)
	c.mu.Unlock()

	if !ready {
		slog.Debug("coordinator: transcript side recorded",
			"submission", msg.SubmissionURL, "question", msg.QuestionNumber)
		return
	}
	c.emit(ctx, payload)
}

// loadOrCreate returns the state for key, creating it on first arrival.
// Caller must hold c.mu.
func (c *Coordinator) loadOrCreate(key questionKey) *state {
	st, ok := c.states[key]
	if !ok {
		st = &state{createdAt: time.Now()}
		c.states[key] = st
	}
	return st
}

// takeEmission claims the single emission for st: it returns true
// exactly once, when both sides are present and emitted is still false.
// Caller must hold c.mu.
func (c *Coordinator) takeEmission(st *state) bool {
	if !st.audioReady || !st.transcriptReady || st.emitted {
		return false
	}
	st.emitted = true
	return true
}

// emit publishes the joined event. Called outside the lock; publication
// is best-effort, broker redelivery of the inputs is the retry path.
func (c *Coordinator) emit(ctx context.Context, payload event.QuestionAnalysisReady) {
	slog.Info("coordinator: question ready for analysis",
		"submission", payload.SubmissionURL,
		"question", payload.QuestionNumber,
		"audio_error", payload.AudioError,
		"transcript_error", payload.TranscriptError,
	)
	event.BestEffort(ctx, c.pub, event.TopicQuestionAnalysisReady, payload)
}

// Purge removes states created before the retention bound. Returns the
// number removed. A purged half-arrived state loses its recorded side;
// redelivery recreates it and may re-emit, which downstream consumers
// tolerate idempotently.
func (c *Coordinator) Purge() int {
	cutoff := time.Now().Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for key, st := range c.states {
		if st.createdAt.Before(cutoff) {
			delete(c.states, key)
			n++
		}
	}
	return n
}

// Run executes the purge sweep on the retention interval until ctx is
// done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.retention)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				slog.Info("coordinator: purged stale states", "count", n)
			}
		}
	}
}

// Pending returns the number of states currently held. Observability
// only.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// joinPayload builds the union payload from both recorded sides.
// Caller must hold c.mu.
func joinPayload(st *state) event.QuestionAnalysisReady {
	total := st.audio.TotalQuestions
	if total == 0 {
		total = st.transcript.TotalQuestions
	}
	audioURL := st.audio.AudioURL
	if audioURL == "" {
		audioURL = st.transcript.AudioURL
	}
	submission := st.audio.SubmissionURL
	question := st.audio.QuestionNumber
	if submission == "" {
		submission = st.transcript.SubmissionURL
		question = st.transcript.QuestionNumber
	}

	return event.QuestionAnalysisReady{
		SubmissionURL:   submission,
		QuestionNumber:  question,
		TotalQuestions:  total,
		SessionID:       st.audio.SessionID,
		WavPath:         st.audio.WavPath,
		AudioURL:        audioURL,
		AudioDuration:   st.audio.AudioDuration,
		Transcript:      st.transcript.Transcript,
		WordDetails:     st.transcript.WordDetails,
		AudioError:      st.audio.Error,
		TranscriptError: st.transcript.Error,
	}
}
