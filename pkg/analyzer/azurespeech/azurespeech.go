// Package azurespeech implements pronunciation assessment backed by the
// Azure Speech service REST API.
//
// The recording is posted as raw WAV with a pronunciation assessment
// header referencing the transcript; the response carries per-word and
// per-phoneme accuracy which is mapped into the shared analyzer result
// shape, with provider phoneme names converted to IPA.
package azurespeech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/speakscore/speakscore/internal/resilience"
	"github.com/speakscore/speakscore/pkg/analyzer"
)

// Compile-time interface assertion.
var _ analyzer.Pronunciation = (*Client)(nil)

// ticksPerSecond converts the service's 100-nanosecond time units.
const ticksPerSecond = 1e7

// fillerWords matches hesitation sounds in the recognised words.
var fillerWords = regexp.MustCompile(`(?i)^(uh|um|uhh|uhm|er|erm|hmm)$`)

// Client calls the Azure Speech pronunciation assessment endpoint.
// Safe for concurrent use.
type Client struct {
	endpoint string
	key      string
	language string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLanguage overrides the recognition language. Default en-US.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithEndpoint overrides the full recognition endpoint URL. Intended
// for tests and sovereign-cloud regions.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// New creates a Client for the given subscription region and key.
func New(region, key string, opts ...Option) (*Client, error) {
	if region == "" || key == "" {
		return nil, fmt.Errorf("azurespeech: region and key must not be empty")
	}
	c := &Client{
		endpoint: fmt.Sprintf(
			"https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1",
			region),
		key:      key,
		language: "en-US",
		http:     &http.Client{Timeout: 2 * time.Minute},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "azure speech",
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// assessmentConfig is the Pronunciation-Assessment request header body.
type assessmentConfig struct {
	ReferenceText string `json:"ReferenceText"`
	GradingSystem string `json:"GradingSystem"`
	Granularity   string `json:"Granularity"`
	EnableMiscue  bool   `json:"EnableMiscue"`
}

// Response shapes for the detailed-format recognition result.
type recognitionResponse struct {
	RecognitionStatus string  `json:"RecognitionStatus"`
	DisplayText       string  `json:"DisplayText"`
	Duration          int64   `json:"Duration"`
	NBest             []nBest `json:"NBest"`
}

type nBest struct {
	PronunciationAssessment overallAssessment `json:"PronunciationAssessment"`
	Words                   []wordResult      `json:"Words"`
}

type overallAssessment struct {
	PronScore         float64 `json:"PronScore"`
	AccuracyScore     float64 `json:"AccuracyScore"`
	FluencyScore      float64 `json:"FluencyScore"`
	CompletenessScore float64 `json:"CompletenessScore"`
	ProsodyScore      float64 `json:"ProsodyScore"`
}

type wordResult struct {
	Word                    string           `json:"Word"`
	Offset                  int64            `json:"Offset"`
	Duration                int64            `json:"Duration"`
	PronunciationAssessment wordAssessment   `json:"PronunciationAssessment"`
	Phonemes                []phonemeResult  `json:"Phonemes"`
}

type wordAssessment struct {
	AccuracyScore float64 `json:"AccuracyScore"`
	ErrorType     string  `json:"ErrorType"`
}

type phonemeResult struct {
	Phoneme                 string         `json:"Phoneme"`
	Stress                  int            `json:"Stress"`
	PronunciationAssessment wordAssessment `json:"PronunciationAssessment"`
}

// AnalyzePronunciation assesses the WAV file at wavPath against
// referenceText and returns the graded result with word and phoneme
// detail.
func (c *Client) AnalyzePronunciation(ctx context.Context, wavPath, referenceText string) (analyzer.Result, error) {
	audio, err := os.ReadFile(wavPath)
	if err != nil {
		return analyzer.Result{}, fmt.Errorf("azurespeech: read audio: %w", err)
	}

	cfg, err := json.Marshal(assessmentConfig{
		ReferenceText: referenceText,
		GradingSystem: "HundredMark",
		Granularity:   "Phoneme",
		EnableMiscue:  true,
	})
	if err != nil {
		return analyzer.Result{}, fmt.Errorf("azurespeech: marshal assessment config: %w", err)
	}

	var parsed recognitionResponse
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint+"?language="+c.language+"&format=detailed", bytes.NewReader(audio))
		if err != nil {
			return fmt.Errorf("azurespeech: build request: %w", err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
		req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(cfg))

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("azurespeech: request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("azurespeech: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("azurespeech: status %d: %s", resp.StatusCode, truncate(body, 200))
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("azurespeech: parse response: %w", err)
		}
		return nil
	})
	if err != nil {
		return analyzer.Result{}, err
	}

	return buildResult(parsed), nil
}

// buildResult maps the provider response to the shared result shape.
// Recognition failures are business errors, not transport errors, so
// they come back as error-shape results.
func buildResult(resp recognitionResponse) analyzer.Result {
	if resp.RecognitionStatus != "Success" || len(resp.NBest) == 0 {
		return analyzer.Errorf("no speech recognized: " + resp.RecognitionStatus)
	}

	best := resp.NBest[0]
	res := analyzer.Result{
		Grade: best.PronunciationAssessment.PronScore,
		Detail: map[string]any{
			"accuracy_score":     best.PronunciationAssessment.AccuracyScore,
			"fluency_score":      best.PronunciationAssessment.FluencyScore,
			"completeness_score": best.PronunciationAssessment.CompletenessScore,
			"prosody_score":      best.PronunciationAssessment.ProsodyScore,
			"azure_transcript":   resp.DisplayText,
			"audio_duration":     float64(resp.Duration) / ticksPerSecond,
		},
	}

	var fillers []string
	for _, w := range best.Words {
		errType := w.PronunciationAssessment.ErrorType
		// Omitted and inserted words have no usable timing or phonemes.
		if strings.EqualFold(errType, "Omission") || strings.EqualFold(errType, "Insertion") {
			continue
		}
		if fillerWords.MatchString(w.Word) {
			fillers = append(fillers, w.Word)
		}

		ws := analyzer.WordScore{
			Word:      w.Word,
			Accuracy:  w.PronunciationAssessment.AccuracyScore,
			ErrorType: errType,
			Offset:    float64(w.Offset) / ticksPerSecond,
			Duration:  float64(w.Duration) / ticksPerSecond,
		}
		for _, p := range w.Phonemes {
			ws.Phonemes = append(ws.Phonemes, analyzer.PhonemeScore{
				Phoneme:  ConvertToIPA(p.Phoneme, p.Stress),
				Accuracy: p.PronunciationAssessment.AccuracyScore,
				Stress:   p.Stress,
			})
		}
		res.Words = append(res.Words, ws)

		if ws.Accuracy < 60 && !strings.EqualFold(errType, "None") {
			res.Issues = append(res.Issues, analyzer.Issue{
				Span:        w.Word,
				Description: fmt.Sprintf("mispronounced (accuracy %.0f)", ws.Accuracy),
			})
		}
	}
	if len(fillers) > 0 {
		res.Detail["filler_words"] = fillers
	}
	return res
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
