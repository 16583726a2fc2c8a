// Package textproc provides the small text measurements the analysis
// stages share: word counting, sentence counting and sentence splitting.
package textproc

import (
	"regexp"
	"strings"
)

var (
	punctuation  = regexp.MustCompile(`[.,!?;:"'()\[\]{}]`)
	sentenceEnds = regexp.MustCompile(`[.!?]+`)
)

// CountWords counts the words in text, excluding punctuation and
// special characters.
func CountWords(text string) int {
	cleaned := punctuation.ReplaceAllString(strings.TrimSpace(text), " ")
	return len(strings.Fields(cleaned))
}

// CountSentences counts the sentences in text, splitting on terminal
// punctuation runs.
func CountSentences(text string) int {
	return len(SplitSentences(text))
}

// SplitSentences splits text into trimmed, non-empty sentences.
func SplitSentences(text string) []string {
	parts := sentenceEnds.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
