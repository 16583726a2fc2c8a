// Package vocabulary implements the CEFR vocabulary analysis stage.
//
// A chat model proposes level-up substitutions per sentence; the loaded
// CEFR lexicon then verifies the claimed levels, so a hallucinated
// level on a known word is corrected before it reaches the learner and
// suggestions that skip levels are dropped.
package vocabulary

import (
	"context"
	"fmt"
	"strings"

	"github.com/speakscore/speakscore/internal/lexicon"
	"github.com/speakscore/speakscore/internal/textproc"
	"github.com/speakscore/speakscore/pkg/analyzer"
	"github.com/speakscore/speakscore/pkg/analyzer/openai"
)

// Compile-time interface assertion.
var _ analyzer.Text = (*Analyzer)(nil)

const vocabularyPrompt = `You are an expert in English vocabulary analysis specializing in CEFR levels and word usage.

For each of the following sentences, identify:
1. Basic level words (A1-A2) that could be replaced with more advanced vocabulary
2. Words that are used in an incorrect or unnatural context
3. Opportunities to use more sophisticated vocabulary, even if the current word is already advanced

IMPORTANT: When suggesting replacements, you MUST follow this progression:
- For A1 words, suggest ONLY A2 alternatives
- For A2 words, suggest ONLY B1 alternatives
- For B1 words, suggest ONLY B2 alternatives
- For B2 words, suggest ONLY C1 alternatives

Never skip levels in your suggestions. Each suggestion should be exactly one level higher than the original word.

For each issue identified, provide the original word, a suggested replacement, the CEFR level of both words, a brief explanation, and example usage.

Present the results in a structured JSON format like this:
[
    [{"original_word": "...", "suggested_word": "...", "original_level": "...", "suggested_level": "...", "explanation": "...", "examples": ["..."]}],
    [],
    ...
]

ONLY analyze the actual words present in the sentences provided below. Do not suggest changes for words that are not in the text.

Provide ONLY the JSON array with vocabulary suggestions. No other text or markdown formatting.

Here are the sentences to analyze:`

// Suggestion is one verified vocabulary improvement.
type Suggestion struct {
	OriginalWord   string   `json:"original_word"`
	SuggestedWord  string   `json:"suggested_word"`
	OriginalLevel  string   `json:"original_level"`
	SuggestedLevel string   `json:"suggested_level"`
	Explanation    string   `json:"explanation"`
	Examples       []string `json:"examples,omitempty"`
	SentenceIndex  int      `json:"sentence_index"`
	SentenceText   string   `json:"sentence_text"`
}

// Analyzer implements the vocabulary stage.
type Analyzer struct {
	client *openai.Client
	lex    *lexicon.Lexicon
}

// New creates the vocabulary stage on client, verifying levels against
// lex.
func New(client *openai.Client, lex *lexicon.Lexicon) *Analyzer {
	return &Analyzer{client: client, lex: lex}
}

// Analyze proposes level-up vocabulary substitutions for the transcript
// and grades it by how many were needed.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (analyzer.Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return analyzer.Result{Grade: 100}, nil
	}
	sentences := textproc.SplitSentences(transcript)

	var perSentence [][]Suggestion
	prompt := vocabularyPrompt
	for i, s := range sentences {
		prompt += fmt.Sprintf("\n%d. %s", i+1, s)
	}
	if err := a.client.CompleteJSON(ctx, prompt, &perSentence); err != nil {
		return analyzer.Result{}, fmt.Errorf("vocabulary analysis: %w", err)
	}

	suggestions := a.verify(sentences, perSentence)

	var issues []analyzer.Issue
	for _, s := range suggestions {
		issues = append(issues, analyzer.Issue{
			Span:        s.OriginalWord,
			Description: s.Explanation,
			Suggestion:  s.SuggestedWord,
		})
	}

	res := analyzer.Result{
		Grade:  vocabularyGrade(len(suggestions)),
		Issues: issues,
	}
	if len(suggestions) > 0 {
		res.Detail = map[string]any{"vocabulary_suggestions": suggestions}
	}
	return res, nil
}

// verify filters the model's suggestions: the original word must appear
// in its sentence, known words have their level corrected from the
// lexicon, and the suggested level must be exactly one step up.
func (a *Analyzer) verify(sentences []string, perSentence [][]Suggestion) []Suggestion {
	var out []Suggestion
	for i, sent := range perSentence {
		if i >= len(sentences) {
			break
		}
		lower := strings.ToLower(sentences[i])
		for _, s := range sent {
			if s.OriginalWord == "" || s.SuggestedWord == "" {
				continue
			}
			if !strings.Contains(lower, strings.ToLower(s.OriginalWord)) {
				continue
			}
			if level, ok := a.lex.Level(s.OriginalWord); ok {
				s.OriginalLevel = level
			}
			if next, ok := lexicon.NextLevel[s.OriginalLevel]; !ok || next != s.SuggestedLevel {
				continue
			}
			s.SentenceIndex = i
			s.SentenceText = sentences[i]
			out = append(out, s)
		}
	}
	return out
}

// vocabularyGrade maps a suggestion count to a grade.
func vocabularyGrade(suggestions int) float64 {
	switch {
	case suggestions == 0:
		return 100
	case suggestions == 1:
		return 95
	case suggestions == 2:
		return 90
	case suggestions == 3:
		return 85
	case suggestions == 4:
		return 80
	default:
		return max(75-float64(suggestions-4)*5, 50)
	}
}
