// Package analyzer defines the interfaces and result shapes shared by
// the five analysis stages of the assessment pipeline: pronunciation,
// grammar, lexical, vocabulary, and fluency.
//
// Every stage produces a [Result] that is either a success shape (grade
// 0–100 plus issues and component-specific detail) or an error shape
// (only Error set). The orchestrator normalises failed or missing stages
// to error shapes so the aggregated payload always has all five keys.
//
// Implementations must be safe for concurrent use; a single provider
// instance serves all questions of all submissions.
package analyzer

import "context"

// Issue is a single piece of feedback inside a stage result: the span of
// the transcript it refers to, what is wrong, and a suggested fix.
type Issue struct {
	Span        string `json:"span,omitempty"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// PhonemeScore is the per-phoneme accuracy inside a [WordScore].
type PhonemeScore struct {
	Phoneme  string  `json:"phoneme"`
	Accuracy float64 `json:"accuracy_score"`
	Stress   int     `json:"stress,omitempty"`
}

// WordScore is the per-word pronunciation assessment detail. ErrorType
// is the provider's classification ("None", "Mispronunciation",
// "Omission", "Insertion"). Offset and Duration are seconds from the
// start of the recording; the fluency stage derives pause metrics from
// them.
type WordScore struct {
	Word      string         `json:"word"`
	Accuracy  float64        `json:"accuracy_score"`
	ErrorType string         `json:"error_type,omitempty"`
	Offset    float64        `json:"offset,omitempty"`
	Duration  float64        `json:"duration,omitempty"`
	Phonemes  []PhonemeScore `json:"phonemes,omitempty"`
}

// Result is the outcome of one analysis stage. Exactly one of the two
// shapes is populated:
//
//   - success: Grade (0–100) plus optional Issues, Words, and Detail
//   - error:   Error holds the failure message, all other fields zero
type Result struct {
	Grade  float64        `json:"grade,omitempty"`
	Issues []Issue        `json:"issues,omitempty"`
	Words  []WordScore    `json:"word_details,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// IsError reports whether r is an error shape.
func (r Result) IsError() bool { return r.Error != "" }

// IsZero reports whether r carries neither a success nor an error shape,
// i.e. the stage never produced a result.
func (r Result) IsZero() bool {
	return r.Error == "" && r.Grade == 0 && r.Issues == nil && r.Words == nil && r.Detail == nil
}

// ErrorResult builds an error-shape result from err.
func ErrorResult(err error) Result {
	if err == nil {
		return Result{Error: "unknown error"}
	}
	return Result{Error: err.Error()}
}

// Errorf builds an error-shape result from a plain message.
func Errorf(msg string) Result { return Result{Error: msg} }

// Pronunciation scores how closely a recording matches its reference
// transcript, returning per-word and per-phoneme detail in Result.Words.
type Pronunciation interface {
	// AnalyzePronunciation assesses the local WAV file at wavPath
	// against referenceText. The file must outlive the call; deleting
	// it is the caller's responsibility.
	AnalyzePronunciation(ctx context.Context, wavPath, referenceText string) (Result, error)
}

// Text is the shared shape of the transcript-only stages (grammar,
// lexical, vocabulary).
type Text interface {
	// Analyze evaluates transcript and returns a graded result.
	Analyze(ctx context.Context, transcript string) (Result, error)
}

// Fluency evaluates speaking flow. It consumes the pronunciation stage's
// word-level detail in addition to the transcript, which is why it is
// gated on pronunciation completion.
type Fluency interface {
	AnalyzeFluency(ctx context.Context, transcript string, words []WordScore) (Result, error)
}
