package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/speakscore/speakscore/internal/event"
)

// payload is any webhook payload type that can validate itself.
type payload interface {
	Validate() error
}

// decodeWebhook reads the request body, unwraps a push envelope if
// present, and unmarshals the application payload into T.
func decodeWebhook[T payload](w http.ResponseWriter, r *http.Request) (T, error) {
	var msg T

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return msg, fmt.Errorf("%w: read body: %v", event.ErrMalformedEnvelope, err)
	}

	in, err := event.DecodeBody(body)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(in.Payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: payload: %v", event.ErrMalformedEnvelope, err)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}

// ack acknowledges a processed webhook so the broker stops redelivering.
func (s *Server) ack(w http.ResponseWriter, r *http.Request, topic event.Topic) {
	if s.metrics != nil {
		s.metrics.RecordWebhook(r.Context(), string(topic), "ok")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reject responds according to the redelivery contract: malformed or
// incomplete payloads get 400 so the broker drops them, everything else
// gets 500 so it redelivers.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, topic event.Topic, err error) {
	status := http.StatusInternalServerError
	outcome := "error"
	if errors.Is(err, event.ErrMalformedEnvelope) || errors.Is(err, event.ErrMissingField) {
		status = http.StatusBadRequest
		outcome = "rejected"
	}

	slog.Warn("server: webhook failed", "topic", string(topic), "status", status, "err", err)
	if s.metrics != nil {
		s.metrics.RecordWebhook(r.Context(), string(topic), outcome)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleSubmit accepts a submission directly from the portal and feeds
// it into the pipeline by publishing it on the submission topic.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeWebhook[event.StudentSubmission](w, r)
	if err != nil {
		s.reject(w, r, event.TopicStudentSubmission, err)
		return
	}

	if err := s.pub.Publish(r.Context(), event.TopicStudentSubmission, sub); err != nil {
		s.reject(w, r, event.TopicStudentSubmission, fmt.Errorf("server: publish submission: %w", err))
		return
	}

	slog.Info("server: submission accepted",
		"submission", sub.SubmissionURL, "questions", sub.TotalQuestions)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"submission_url": sub.SubmissionURL,
	})
}

func (s *Server) handleStudentSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeWebhook[event.StudentSubmission](w, r)
	if err != nil {
		s.reject(w, r, event.TopicStudentSubmission, err)
		return
	}

	if err := s.intake.OnSubmission(r.Context(), sub); err != nil {
		s.reject(w, r, event.TopicStudentSubmission, err)
		return
	}
	s.ack(w, r, event.TopicStudentSubmission)
}

func (s *Server) handleAudioConversionDone(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeWebhook[event.AudioConversionDone](w, r)
	if err != nil {
		s.reject(w, r, event.TopicAudioConversionDone, err)
		return
	}

	s.coord.OnAudioReady(r.Context(), msg)
	s.ack(w, r, event.TopicAudioConversionDone)
}

func (s *Server) handleTranscriptionDone(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeWebhook[event.TranscriptionDone](w, r)
	if err != nil {
		s.reject(w, r, event.TopicTranscriptionDone, err)
		return
	}

	s.coord.OnTranscriptReady(r.Context(), msg)
	s.ack(w, r, event.TopicTranscriptionDone)
}

func (s *Server) handleAnalysisReady(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeWebhook[event.QuestionAnalysisReady](w, r)
	if err != nil {
		s.reject(w, r, event.TopicQuestionAnalysisReady, err)
		return
	}

	// Runs the full stage fan-out before acknowledging; duplicates of an
	// already-running or finished question return immediately.
	s.orch.OnAnalysisReady(r.Context(), msg)
	s.ack(w, r, event.TopicQuestionAnalysisReady)
}

// handleStageDone acknowledges per-stage completion events. Stage
// results are consolidated in-process by the orchestrator; these topics
// exist for external consumers, so the webhook only validates and logs.
func (s *Server) handleStageDone(topic event.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := decodeWebhook[event.StageDone](w, r)
		if err != nil {
			s.reject(w, r, topic, err)
			return
		}

		slog.Debug("server: stage done",
			"topic", string(topic), "submission", msg.SubmissionURL,
			"question", msg.QuestionNumber, "service", msg.Service)
		s.ack(w, r, topic)
	}
}

func (s *Server) handleAnalysisComplete(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeWebhook[event.AnalysisComplete](w, r)
	if err != nil {
		s.reject(w, r, event.TopicAnalysisComplete, err)
		return
	}

	// A finalization failure gets a 5xx so the broker redelivers and
	// retries the persistence later.
	if err := s.agg.OnAnalysisComplete(r.Context(), msg); err != nil {
		s.reject(w, r, event.TopicAnalysisComplete, err)
		return
	}
	s.ack(w, r, event.TopicAnalysisComplete)
}

func (s *Server) handleSubmissionComplete(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeWebhook[event.SubmissionAnalysisComplete](w, r)
	if err != nil {
		s.reject(w, r, event.TopicSubmissionAnalysisComplete, err)
		return
	}

	slog.Info("server: submission analysis complete",
		"submission", msg.SubmissionURL, "questions", len(msg.Results))
	s.ack(w, r, event.TopicSubmissionAnalysisComplete)
}
