package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/speakscore/speakscore/internal/textproc"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

// Compile-time interface assertion.
var _ analyzer.Text = (*Lexical)(nil)

const lexicalPrompt = `You are an expert in English lexical resources specializing in collocations, idioms, and natural word usage.

For each of the following sentences, identify:
1. Collocations that are used incorrectly or unnaturally
2. Idioms that are used incorrectly or could be used to enhance the sentence
3. Word usage errors where a word is used in an incorrect or unnatural context
4. Word combinations that don't follow conventional English patterns

For each issue identified, provide:
- "original_phrase": the incorrect or unnatural phrase
- "suggested_phrase": the suggested correction with proper collocation/idiom usage
- "explanation": a brief explanation of the correction
- "resource_type": the type of issue (collocation, idiom, or word_usage)

Present the results in a structured JSON format like this:
[
    [{"original_phrase": "...", "suggested_phrase": "...", "explanation": "...", "resource_type": "collocation"}],
    [],
    ...
]

Provide ONLY the JSON array with lexical resource suggestions. No other text or markdown formatting.

Here are the sentences to analyze:`

// lexicalSuggestion is one suggestion in the model's reply.
type lexicalSuggestion struct {
	OriginalPhrase  string `json:"original_phrase"`
	SuggestedPhrase string `json:"suggested_phrase"`
	Explanation     string `json:"explanation"`
	ResourceType    string `json:"resource_type"`
}

// Lexical implements the lexical resource analysis stage.
type Lexical struct {
	client *Client
}

// NewLexical creates the lexical stage on client.
func NewLexical(client *Client) *Lexical { return &Lexical{client: client} }

// Analyze evaluates collocation and idiom usage across the transcript.
func (l *Lexical) Analyze(ctx context.Context, transcript string) (analyzer.Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return analyzer.Result{Grade: 100}, nil
	}
	sentences := textproc.SplitSentences(transcript)

	var perSentence [][]lexicalSuggestion
	if err := l.client.CompleteJSON(ctx, numberSentences(lexicalPrompt, sentences), &perSentence); err != nil {
		return analyzer.Result{}, fmt.Errorf("lexical analysis: %w", err)
	}

	var issues []analyzer.Issue
	byType := map[string]int{}
	for i, suggestions := range perSentence {
		if i >= len(sentences) {
			break
		}
		for _, s := range suggestions {
			issues = append(issues, analyzer.Issue{
				Span:        s.OriginalPhrase,
				Description: s.Explanation,
				Suggestion:  s.SuggestedPhrase,
			})
			byType[s.ResourceType]++
		}
	}

	res := analyzer.Result{
		Grade:  lexicalGrade(len(issues)),
		Issues: issues,
	}
	if len(byType) > 0 {
		res.Detail = map[string]any{"issues_by_type": byType}
	}
	return res, nil
}

// lexicalGrade maps a suggestion count to a grade.
func lexicalGrade(issues int) float64 {
	switch {
	case issues == 0:
		return 100
	case issues == 1:
		return 95
	case issues == 2:
		return 90
	case issues == 3:
		return 85
	case issues == 4:
		return 80
	default:
		return max(75-float64(issues-4)*5, 50)
	}
}
