package openai

import (
	"context"
	"fmt"
	"math"

	"github.com/speakscore/speakscore/pkg/analyzer"
)

// Compile-time interface assertion.
var _ analyzer.Fluency = (*Fluency)(nil)

// pauseThreshold is the minimum gap between words counted as a pause.
const pauseThreshold = 0.3

const fluencyPromptFormat = `You are an expert in speech assessment focusing on fluency and coherence. Answer in 2nd person. Analyze the following transcript from a language learner:

"%s"
%s
Provide a detailed analysis of the speaker's fluency and coherence with numerical scores (0-100) and specific observations.

Return ONLY a JSON object with the following structure:
{
    "fluency_metrics": {
        "speech_rate": 0,
        "hesitation_ratio": 0,
        "pause_pattern_score": 0,
        "overall_fluency_score": 0
    },
    "coherence_metrics": {
        "topic_consistency": 0,
        "logical_flow": 0,
        "idea_development": 0,
        "overall_coherence_score": 0
    },
    "key_findings": ["3-5 specific observations about fluency and coherence"],
    "improvement_suggestions": ["2-3 concrete and actionable suggestions for improvement"]
}`

// TimingMetrics are the pause statistics derived from word timing.
type TimingMetrics struct {
	WordsPerMinute   float64 `json:"words_per_minute"`
	PauseCount       int     `json:"pause_count"`
	AvgPauseDuration float64 `json:"avg_pause_duration"`
	PausePercentage  float64 `json:"pause_percentage"`
	HesitationRatio  float64 `json:"hesitation_ratio"`
}

// fluencyAnalysis is the model's reply shape.
type fluencyAnalysis struct {
	FluencyMetrics struct {
		SpeechRate          float64 `json:"speech_rate"`
		HesitationRatio     float64 `json:"hesitation_ratio"`
		PausePatternScore   float64 `json:"pause_pattern_score"`
		OverallFluencyScore float64 `json:"overall_fluency_score"`
	} `json:"fluency_metrics"`
	CoherenceMetrics struct {
		TopicConsistency      float64 `json:"topic_consistency"`
		LogicalFlow           float64 `json:"logical_flow"`
		IdeaDevelopment       float64 `json:"idea_development"`
		OverallCoherenceScore float64 `json:"overall_coherence_score"`
	} `json:"coherence_metrics"`
	KeyFindings            []string `json:"key_findings"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

// Fluency implements the fluency and coherence analysis stage. It
// combines word timing from the pronunciation assessment with a chat
// evaluation of the transcript.
type Fluency struct {
	client *Client
}

// NewFluency creates the fluency stage on client.
func NewFluency(client *Client) *Fluency { return &Fluency{client: client} }

// AnalyzeFluency grades speaking flow from the transcript and the
// pronunciation stage's word timing.
func (f *Fluency) AnalyzeFluency(ctx context.Context, transcript string, words []analyzer.WordScore) (analyzer.Result, error) {
	metrics, hasMetrics := ComputeTimingMetrics(words)

	timingInfo := ""
	if hasMetrics {
		timingInfo = fmt.Sprintf(`
Timing metrics:
- Words per minute: %.1f
- Number of pauses: %d
- Average pause duration: %.2f seconds
- Pause percentage: %.1f%%
- Hesitation ratio: %.2f
`, metrics.WordsPerMinute, metrics.PauseCount, metrics.AvgPauseDuration,
			metrics.PausePercentage, metrics.HesitationRatio)
	}

	var parsed fluencyAnalysis
	prompt := fmt.Sprintf(fluencyPromptFormat, transcript, timingInfo)
	if err := f.client.CompleteJSON(ctx, prompt, &parsed); err != nil {
		return analyzer.Result{}, fmt.Errorf("fluency analysis: %w", err)
	}

	var issues []analyzer.Issue
	for _, s := range parsed.ImprovementSuggestions {
		issues = append(issues, analyzer.Issue{Description: s})
	}

	detail := map[string]any{
		"fluency_metrics":   parsed.FluencyMetrics,
		"coherence_metrics": parsed.CoherenceMetrics,
		"key_findings":      parsed.KeyFindings,
	}
	if hasMetrics {
		detail["timing_metrics"] = metrics
	}

	grade := (parsed.FluencyMetrics.OverallFluencyScore + parsed.CoherenceMetrics.OverallCoherenceScore) / 2
	return analyzer.Result{
		Grade:  grade,
		Issues: issues,
		Detail: detail,
	}, nil
}

// ComputeTimingMetrics derives pause statistics from word timing. It
// reports false when there are too few timed words to measure.
func ComputeTimingMetrics(words []analyzer.WordScore) (TimingMetrics, bool) {
	if len(words) < 2 {
		return TimingMetrics{}, false
	}

	first := words[0].Offset
	last := words[len(words)-1].Offset + words[len(words)-1].Duration
	total := last - first
	if total <= 0 {
		return TimingMetrics{}, false
	}

	var pauses []float64
	var pauseTotal float64
	for i := 1; i < len(words); i++ {
		gap := words[i].Offset - (words[i-1].Offset + words[i-1].Duration)
		if gap > pauseThreshold {
			pauses = append(pauses, gap)
			pauseTotal += gap
		}
	}

	m := TimingMetrics{
		WordsPerMinute:  round1(float64(len(words)) / total * 60),
		PauseCount:      len(pauses),
		PausePercentage: round1(pauseTotal / total * 100),
		HesitationRatio: round2(pauseTotal / total),
	}
	if len(pauses) > 0 {
		m.AvgPauseDuration = round2(pauseTotal / float64(len(pauses)))
	}
	return m, true
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
