// Package server exposes the HTTP surface of the analysis pipeline: the
// submission entrypoint, one webhook route per broker topic, the results
// API and the operational debug endpoints.
//
// Webhook responses drive broker redelivery: 2xx acknowledges the
// message, 4xx drops it as unprocessable, and 5xx asks for redelivery.
// Handled business failures (a stage erroring, a duplicate delivery)
// are acknowledged with 200 because redelivering them cannot help.
package server

import (
	"net/http"

	"github.com/speakscore/speakscore/internal/aggregator"
	"github.com/speakscore/speakscore/internal/coordinator"
	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/internal/filesession"
	"github.com/speakscore/speakscore/internal/health"
	"github.com/speakscore/speakscore/internal/intake"
	"github.com/speakscore/speakscore/internal/observe"
	"github.com/speakscore/speakscore/internal/orchestrator"
	"github.com/speakscore/speakscore/internal/results"
)

// maxBodyBytes bounds webhook and submission request bodies.
const maxBodyBytes = 10 << 20

// Server wires the pipeline components to their HTTP routes.
type Server struct {
	pub    event.Publisher
	intake *intake.Intake
	coord  *coordinator.Coordinator
	orch   *orchestrator.Orchestrator
	agg    *aggregator.Aggregator
	store  *results.Store
	files  *filesession.Manager

	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithHealth registers the liveness and readiness routes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wraps the handler in request instrumentation and records
// per-webhook outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics, typically the Prometheus
// scrape handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// New creates a Server over the given pipeline components.
func New(
	pub event.Publisher,
	in *intake.Intake,
	coord *coordinator.Coordinator,
	orch *orchestrator.Orchestrator,
	agg *aggregator.Aggregator,
	store *results.Store,
	files *filesession.Manager,
	opts ...Option,
) *Server {
	s := &Server{
		pub:    pub,
		intake: in,
		coord:  coord,
		orch:   orch,
		agg:    agg,
		store:  store,
		files:  files,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the route table. Webhook processing runs synchronously
// inside the request so a 2xx response means the work is done; the
// broker's ack deadline covers the longest stage fan-out.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /submit", s.handleSubmit)

	mux.HandleFunc("POST /webhooks/student-submission", s.handleStudentSubmission)
	mux.HandleFunc("POST /webhooks/audio-conversion-done", s.handleAudioConversionDone)
	mux.HandleFunc("POST /webhooks/transcription-done", s.handleTranscriptionDone)
	mux.HandleFunc("POST /webhooks/question-analysis-ready", s.handleAnalysisReady)
	mux.HandleFunc("POST /webhooks/pronunciation-done", s.handleStageDone(event.TopicPronunciationDone))
	mux.HandleFunc("POST /webhooks/grammar-done", s.handleStageDone(event.TopicGrammarDone))
	mux.HandleFunc("POST /webhooks/lexical-done", s.handleStageDone(event.TopicLexicalDone))
	mux.HandleFunc("POST /webhooks/vocabulary-done", s.handleStageDone(event.TopicVocabularyDone))
	mux.HandleFunc("POST /webhooks/fluency-done", s.handleStageDone(event.TopicFluencyDone))
	mux.HandleFunc("POST /webhooks/analysis-complete", s.handleAnalysisComplete)
	mux.HandleFunc("POST /webhooks/submission-analysis-complete", s.handleSubmissionComplete)

	mux.HandleFunc("GET /results/submissions", s.handleListSubmissions)
	mux.HandleFunc("GET /results/submission/{key...}", s.handleGetResults)
	mux.HandleFunc("GET /results/raw/{key...}", s.handleGetRaw)
	mux.HandleFunc("DELETE /results/submission/{key...}", s.handleClearResults)

	mux.HandleFunc("GET /debug/file-sessions", s.handleFileSessions)
	mux.HandleFunc("POST /debug/cleanup-session/{id}", s.handleForceCleanup)
	mux.HandleFunc("POST /debug/periodic-cleanup", s.handlePeriodicCleanup)
	mux.HandleFunc("POST /debug/purge-pending", s.handlePurgePending)
	mux.HandleFunc("POST /debug/finalize/{key...}", s.handleFinalize)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var h http.Handler = mux
	if s.metrics != nil {
		h = observe.Middleware(s.metrics)(h)
	}
	return h
}
