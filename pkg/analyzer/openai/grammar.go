package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/speakscore/speakscore/internal/textproc"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

// Compile-time interface assertion.
var _ analyzer.Text = (*Grammar)(nil)

const grammarPrompt = `You are an expert in English grammar and spoken communication. Analyze the following transcript, which is based on a spoken response. Since it is derived from speech, ignore disfluencies (e.g., "um", "uh"), filler words, and transcription-related punctuation issues.

Your job is to detect and correct grammar mistakes related to:
1. Subject-verb agreement
2. Verb tense consistency
3. Article usage (a, an, the)
4. Singular/plural form
5. Word order and sentence structure
6. Preposition use
7. Sentence completeness (fragments, run-ons)

Provide a list of corrections for each sentence in structured JSON format, even if no corrections are needed (return an empty array for those). Each correction must include:
- "original_phrase": the problematic phrase from the sentence
- "suggested_correction": the corrected version
- "explanation": a brief, clear explanation of the issue

Output format:
[
    [{"original_phrase": "...", "suggested_correction": "...", "explanation": "..."}],
    [],
    ...
]

Provide ONLY the JSON array with corrections. No other text or markdown formatting.

Here are the sentences to analyze:`

// grammarCorrection is one correction in the model's reply.
type grammarCorrection struct {
	OriginalPhrase      string `json:"original_phrase"`
	SuggestedCorrection string `json:"suggested_correction"`
	Explanation         string `json:"explanation"`
}

// Grammar implements the grammar analysis stage.
type Grammar struct {
	client *Client
}

// NewGrammar creates the grammar stage on client.
func NewGrammar(client *Client) *Grammar { return &Grammar{client: client} }

// Analyze checks the transcript sentence by sentence and grades it by
// the number of corrections found.
func (g *Grammar) Analyze(ctx context.Context, transcript string) (analyzer.Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return analyzer.Result{Grade: 100}, nil
	}
	sentences := textproc.SplitSentences(transcript)

	var perSentence [][]grammarCorrection
	if err := g.client.CompleteJSON(ctx, numberSentences(grammarPrompt, sentences), &perSentence); err != nil {
		return analyzer.Result{}, fmt.Errorf("grammar analysis: %w", err)
	}

	var issues []analyzer.Issue
	for i, corrections := range perSentence {
		if i >= len(sentences) {
			break
		}
		for _, c := range corrections {
			issues = append(issues, analyzer.Issue{
				Span:        c.OriginalPhrase,
				Description: c.Explanation,
				Suggestion:  c.SuggestedCorrection,
			})
		}
	}

	return analyzer.Result{
		Grade:  grammarGrade(len(issues)),
		Issues: issues,
	}, nil
}

// grammarGrade maps a correction count to a grade.
func grammarGrade(issues int) float64 {
	switch {
	case issues == 0:
		return 100
	case issues <= 2:
		return 90
	case issues <= 4:
		return 80
	case issues <= 6:
		return 70
	default:
		return max(60-float64(issues-6)*5, 0)
	}
}
