// Package intake turns a student submission into the per-question
// conversion and transcription events the rest of the pipeline consumes.
//
// Each recording is processed independently: conversion and
// transcription failures are published as error-carrying events rather
// than returned, so one bad recording never blocks its siblings. The
// converted WAV is registered with the file session manager before its
// conversion event is published, guaranteeing the file exists when the
// pronunciation stage picks it up.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/internal/filesession"
	"github.com/speakscore/speakscore/internal/observe"
	"github.com/speakscore/speakscore/pkg/transcode"
	"github.com/speakscore/speakscore/pkg/transcribe"
)

// maxConcurrentRecordings bounds how many recordings of one submission
// are converted and transcribed at once.
const maxConcurrentRecordings = 4

// wavHeaderSize is the canonical RIFF/WAVE header length ffmpeg writes.
const wavHeaderSize = 44

// wavBytesPerSecond is the data rate of 16kHz mono PCM16.
const wavBytesPerSecond = 32000

// Intake fans a submission out into per-recording processing.
type Intake struct {
	pub   event.Publisher
	conv  *transcode.Converter
	trans transcribe.Transcriber
	files *filesession.Manager

	cleanupTimeout   time.Duration
	fluencyUsesAudio bool
	transcribeLocal  bool
	metrics          *observe.Metrics
}

// Option is a functional option for configuring an Intake.
type Option func(*Intake)

// WithCleanupTimeout sets the file session cleanup timeout passed on
// registration. Zero keeps the manager's default.
func WithCleanupTimeout(d time.Duration) Option {
	return func(in *Intake) { in.cleanupTimeout = d }
}

// WithFluencyUsesAudio registers the fluency stage as an additional
// consumer of the converted file.
func WithFluencyUsesAudio(on bool) Option {
	return func(in *Intake) { in.fluencyUsesAudio = on }
}

// WithLocalTranscription transcribes the converted WAV instead of the
// remote recording URL. Required for the realtime transcriber, which
// cannot fetch remote audio.
func WithLocalTranscription(on bool) Option {
	return func(in *Intake) { in.transcribeLocal = on }
}

// WithMetrics records conversion and transcription latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(in *Intake) { in.metrics = m }
}

// New creates an Intake publishing through pub.
func New(pub event.Publisher, conv *transcode.Converter, trans transcribe.Transcriber, files *filesession.Manager, opts ...Option) *Intake {
	in := &Intake{
		pub:   pub,
		conv:  conv,
		trans: trans,
		files: files,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// OnSubmission processes every recording of sub concurrently and
// returns when all conversion and transcription events have been
// published. Recording failures surface as error-carrying events, never
// as a returned error.
func (in *Intake) OnSubmission(ctx context.Context, sub event.StudentSubmission) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("intake: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRecordings)

	for i, url := range sub.AudioURLs {
		questionNumber := i + 1
		g.Go(func() error {
			in.processRecording(ctx, sub, questionNumber, url)
			return nil
		})
	}
	return g.Wait()
}

// processRecording converts and transcribes one recording, publishing
// AUDIO_CONVERSION_DONE and TRANSCRIPTION_DONE in that order.
func (in *Intake) processRecording(ctx context.Context, sub event.StudentSubmission, questionNumber int, audioURL string) {
	wavPath, convErr := in.convert(ctx, sub, questionNumber, audioURL)
	in.transcribe(ctx, sub, questionNumber, audioURL, wavPath, convErr)
}

func (in *Intake) convert(ctx context.Context, sub event.StudentSubmission, questionNumber int, audioURL string) (string, error) {
	start := time.Now()
	wavPath, err := in.conv.FetchWAV(ctx, audioURL)
	if in.metrics != nil {
		in.metrics.ConversionDuration.Record(ctx, time.Since(start).Seconds())
	}

	done := event.AudioConversionDone{
		SubmissionURL:  sub.SubmissionURL,
		QuestionNumber: questionNumber,
		TotalQuestions: sub.TotalQuestions,
		AudioURL:       audioURL,
	}

	if err != nil {
		slog.Error("intake: conversion failed",
			"submission", sub.SubmissionURL, "question", questionNumber, "err", err)
		done.Error = err.Error()
		event.BestEffort(ctx, in.pub, event.TopicAudioConversionDone, done)
		return "", err
	}

	sessionID := in.files.GenerateSessionID(sub.SubmissionURL, questionNumber)
	deps := []string{"pronunciation"}
	if in.fluencyUsesAudio {
		deps = append(deps, "fluency")
	}
	if regErr := in.files.Register(sessionID, wavPath, deps, in.cleanupTimeout); regErr != nil {
		slog.Error("intake: session registration failed",
			"session_id", sessionID, "err", regErr)
		done.Error = regErr.Error()
		event.BestEffort(ctx, in.pub, event.TopicAudioConversionDone, done)
		return "", regErr
	}

	done.WavPath = wavPath
	done.SessionID = sessionID
	done.AudioDuration = wavDuration(wavPath)
	event.BestEffort(ctx, in.pub, event.TopicAudioConversionDone, done)
	return wavPath, nil
}

func (in *Intake) transcribe(ctx context.Context, sub event.StudentSubmission, questionNumber int, audioURL, wavPath string, convErr error) {
	done := event.TranscriptionDone{
		SubmissionURL:  sub.SubmissionURL,
		QuestionNumber: questionNumber,
		TotalQuestions: sub.TotalQuestions,
		AudioURL:       audioURL,
	}

	var (
		t   transcribe.Transcript
		err error
	)
	start := time.Now()
	switch {
	case in.transcribeLocal && convErr != nil:
		err = fmt.Errorf("intake: no local audio to transcribe: %w", convErr)
	case in.transcribeLocal:
		t, err = in.trans.TranscribeFile(ctx, wavPath)
	default:
		t, err = in.trans.TranscribeURL(ctx, audioURL)
	}
	if in.metrics != nil {
		in.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	}

	if err != nil {
		slog.Error("intake: transcription failed",
			"submission", sub.SubmissionURL, "question", questionNumber, "err", err)
		done.Error = err.Error()
	} else {
		done.Transcript = t.Text
		done.WordDetails = t.Words
	}
	event.BestEffort(ctx, in.pub, event.TopicTranscriptionDone, done)
}

// wavDuration derives playback seconds from the file size, assuming the
// fixed 16kHz mono PCM16 layout the converter produces. Returns 0 for
// unreadable or header-only files.
func wavDuration(path string) float64 {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= wavHeaderSize {
		return 0
	}
	return float64(info.Size()-wavHeaderSize) / wavBytesPerSecond
}
