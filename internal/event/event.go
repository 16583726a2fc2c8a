// Package event defines the logical event topics of the analysis pipeline,
// the payload types carried on them, and the decoding of inbound push
// envelopes.
//
// Topics are logical names; the binding to concrete broker topic IDs is
// configurable via [Binding] so that environments can prefix or rename
// broker resources without touching pipeline code.
package event

import (
	"fmt"

	"github.com/speakscore/speakscore/pkg/analyzer"
	"github.com/speakscore/speakscore/pkg/transcribe"
)

// Topic is a logical event topic name. The full set is fixed; see the
// Topic* constants.
type Topic string

const (
	TopicStudentSubmission          Topic = "STUDENT_SUBMISSION"
	TopicAudioConversionDone        Topic = "AUDIO_CONVERSION_DONE"
	TopicTranscriptionDone          Topic = "TRANSCRIPTION_DONE"
	TopicQuestionAnalysisReady      Topic = "QUESTION_ANALYSIS_READY"
	TopicPronunciationDone          Topic = "PRONUNCIATION_DONE"
	TopicGrammarDone                Topic = "GRAMMAR_DONE"
	TopicLexicalDone                Topic = "LEXICAL_DONE"
	TopicVocabularyDone             Topic = "VOCABULARY_DONE"
	TopicFluencyDone                Topic = "FLUENCY_DONE"
	TopicAnalysisComplete           Topic = "ANALYSIS_COMPLETE"
	TopicSubmissionAnalysisComplete Topic = "SUBMISSION_ANALYSIS_COMPLETE"
)

// AllTopics lists every logical topic in the pipeline.
var AllTopics = []Topic{
	TopicStudentSubmission,
	TopicAudioConversionDone,
	TopicTranscriptionDone,
	TopicQuestionAnalysisReady,
	TopicPronunciationDone,
	TopicGrammarDone,
	TopicLexicalDone,
	TopicVocabularyDone,
	TopicFluencyDone,
	TopicAnalysisComplete,
	TopicSubmissionAnalysisComplete,
}

// IsValid reports whether t is a recognised logical topic.
func (t Topic) IsValid() bool {
	for _, known := range AllTopics {
		if t == known {
			return true
		}
	}
	return false
}

// Binding maps logical topic names to broker topic IDs.
type Binding map[Topic]string

// DefaultBinding returns the conventional kebab-case broker topic IDs
// (e.g. QUESTION_ANALYSIS_READY → "question-analysis-ready-topic").
func DefaultBinding() Binding {
	return Binding{
		TopicStudentSubmission:          "student-submission-topic",
		TopicAudioConversionDone:        "audio-conversion-done-topic",
		TopicTranscriptionDone:          "transcription-done-topic",
		TopicQuestionAnalysisReady:      "question-analysis-ready-topic",
		TopicPronunciationDone:          "pronunciation-done-topic",
		TopicGrammarDone:                "grammar-done-topic",
		TopicLexicalDone:                "lexical-done-topic",
		TopicVocabularyDone:             "vocabulary-done-topic",
		TopicFluencyDone:                "fluency-done-topic",
		TopicAnalysisComplete:           "analysis-complete-topic",
		TopicSubmissionAnalysisComplete: "submission-analysis-complete-topic",
	}
}

// Resolve returns the broker topic ID bound to t, falling back to the
// default binding when b has no entry.
func (b Binding) Resolve(t Topic) string {
	if id, ok := b[t]; ok && id != "" {
		return id
	}
	return DefaultBinding()[t]
}

// ─── Payloads ─────────────────────────────────────────────────────────────────

// StudentSubmission announces a new submission with one recording per
// question. Question numbers are assigned from the slice order, 1-based.
type StudentSubmission struct {
	AudioURLs      []string `json:"audio_urls"`
	SubmissionURL  string   `json:"submission_url"`
	TotalQuestions int      `json:"total_questions"`
}

// Validate reports the first missing required field, wrapped in
// [ErrMissingField].
func (m StudentSubmission) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if len(m.AudioURLs) == 0 {
		return fmt.Errorf("%w: audio_urls", ErrMissingField)
	}
	if m.TotalQuestions <= 0 {
		return fmt.Errorf("%w: total_questions", ErrMissingField)
	}
	return nil
}

// AudioConversionDone reports the outcome of transcoding one recording.
// On failure Error is set and WavPath/SessionID may be empty.
type AudioConversionDone struct {
	SubmissionURL  string  `json:"submission_url"`
	QuestionNumber int     `json:"question_number"`
	TotalQuestions int     `json:"total_questions"`
	WavPath        string  `json:"wav_path"`
	SessionID      string  `json:"session_id"`
	AudioURL       string  `json:"audio_url"`
	AudioDuration  float64 `json:"audio_duration"`
	Error          string  `json:"error,omitempty"`
}

func (m AudioConversionDone) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if m.QuestionNumber <= 0 {
		return fmt.Errorf("%w: question_number", ErrMissingField)
	}
	if m.WavPath == "" && m.Error == "" {
		return fmt.Errorf("%w: wav_path", ErrMissingField)
	}
	return nil
}

// TranscriptionDone reports the outcome of transcribing one recording.
type TranscriptionDone struct {
	SubmissionURL  string                  `json:"submission_url"`
	QuestionNumber int                     `json:"question_number"`
	TotalQuestions int                     `json:"total_questions"`
	Transcript     string                  `json:"transcript"`
	WordDetails    []transcribe.WordDetail `json:"word_details"`
	AudioURL       string                  `json:"audio_url"`
	Error          string                  `json:"error,omitempty"`
}

func (m TranscriptionDone) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if m.QuestionNumber <= 0 {
		return fmt.Errorf("%w: question_number", ErrMissingField)
	}
	if m.Transcript == "" && m.Error == "" {
		return fmt.Errorf("%w: transcript", ErrMissingField)
	}
	return nil
}

// QuestionAnalysisReady is the fan-in of [AudioConversionDone] and
// [TranscriptionDone] for one question. Per-side errors are carried in
// AudioError / TranscriptError so downstream stages can short-circuit
// instead of hanging.
type QuestionAnalysisReady struct {
	SubmissionURL   string                  `json:"submission_url"`
	QuestionNumber  int                     `json:"question_number"`
	TotalQuestions  int                     `json:"total_questions"`
	SessionID       string                  `json:"session_id,omitempty"`
	WavPath         string                  `json:"wav_path,omitempty"`
	AudioURL        string                  `json:"audio_url,omitempty"`
	AudioDuration   float64                 `json:"audio_duration,omitempty"`
	Transcript      string                  `json:"transcript,omitempty"`
	WordDetails     []transcribe.WordDetail `json:"word_details,omitempty"`
	AudioError      string                  `json:"audio_error,omitempty"`
	TranscriptError string                  `json:"transcript_error,omitempty"`
}

func (m QuestionAnalysisReady) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if m.QuestionNumber <= 0 {
		return fmt.Errorf("%w: question_number", ErrMissingField)
	}
	if m.TotalQuestions <= 0 {
		return fmt.Errorf("%w: total_questions", ErrMissingField)
	}
	return nil
}

// StageDone reports completion of a single analysis stage
// (pronunciation, grammar, lexical, vocabulary or fluency) for one
// question. Published on the per-stage *_DONE topics.
type StageDone struct {
	SubmissionURL  string          `json:"submission_url"`
	QuestionNumber int             `json:"question_number"`
	TotalQuestions int             `json:"total_questions"`
	Service        string          `json:"service"`
	Result         analyzer.Result `json:"result"`
}

func (m StageDone) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if m.QuestionNumber <= 0 {
		return fmt.Errorf("%w: question_number", ErrMissingField)
	}
	return nil
}

// AnalysisComplete carries the consolidated five-stage result for one
// question.
type AnalysisComplete struct {
	SubmissionURL  string         `json:"submission_url"`
	QuestionNumber int            `json:"question_number"`
	TotalQuestions int            `json:"total_questions"`
	Result         QuestionResult `json:"result"`
}

func (m AnalysisComplete) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if m.QuestionNumber <= 0 {
		return fmt.Errorf("%w: question_number", ErrMissingField)
	}
	if m.TotalQuestions <= 0 {
		return fmt.Errorf("%w: total_questions", ErrMissingField)
	}
	return nil
}

// QuestionResult is the consolidated result of all five analysis stages
// for one question. Sub-results are success-or-error shapes; missing
// sub-results are coerced to error shapes before persistence.
type QuestionResult struct {
	SubmissionURL    string           `json:"submission_url"`
	QuestionNumber   int              `json:"question_number"`
	Pronunciation    analyzer.Result  `json:"pronunciation"`
	Grammar          analyzer.Result  `json:"grammar"`
	Lexical          analyzer.Result  `json:"lexical"`
	Vocabulary       analyzer.Result  `json:"vocabulary"`
	Fluency          analyzer.Result  `json:"fluency"`
	Transcript       string           `json:"transcript"`
	AudioDuration    float64          `json:"audio_duration"`
	DurationFeedback DurationFeedback `json:"duration_feedback"`
}

// DurationFeedback compares spoken duration to the question's time
// limit. Either Feedback or Error is set, never both.
type DurationFeedback struct {
	Feedback string `json:"feedback,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SubmissionAnalysisComplete is the terminal event for a submission,
// carrying the ordered per-question results.
type SubmissionAnalysisComplete struct {
	SubmissionURL  string           `json:"submission_url"`
	TotalQuestions int              `json:"total_questions"`
	Results        []QuestionResult `json:"results"`
}

func (m SubmissionAnalysisComplete) Validate() error {
	if m.SubmissionURL == "" {
		return fmt.Errorf("%w: submission_url", ErrMissingField)
	}
	if m.TotalQuestions <= 0 {
		return fmt.Errorf("%w: total_questions", ErrMissingField)
	}
	return nil
}
