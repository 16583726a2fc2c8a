// Package openai implements the transcript-based analysis stages
// (grammar, lexical, fluency) on top of the OpenAI chat completions
// API.
//
// All stages share one [Client]: a low temperature chat call that must
// come back as JSON. Models occasionally wrap JSON in markdown fences
// or prose; the client strips fences and retries with a format reminder
// before giving up.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/speakscore/speakscore/internal/resilience"
)

// temperature keeps the analysis output stable across runs.
const temperature = 0.1

// formatRetries is how many extra attempts are made when the model
// response fails JSON validation.
const formatRetries = 2

const formatEmphasis = `IMPORTANT: Your previous response was not in the expected JSON format.
You MUST ONLY return valid JSON without any explanation text, markdown formatting, or code blocks.
DO NOT include ` + "```json or ```" + ` markers.

`

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Client is the shared chat-completion caller for the text analysis
// stages. Safe for concurrent use.
type Client struct {
	client  oai.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Client for the given API key and model.
func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Client{
		client: oai.NewClient(reqOpts...),
		model:  model,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "openai",
		}),
	}, nil
}

// CompleteJSON sends prompt and unmarshals the JSON reply into out.
// Responses that fail to parse trigger a format-emphasised retry.
func (c *Client) CompleteJSON(ctx context.Context, prompt string, out any) error {
	current := prompt

	var lastErr error
	for attempt := 0; attempt <= formatRetries; attempt++ {
		if attempt > 0 {
			current = formatEmphasis + prompt
		}

		var content string
		err := c.breaker.Execute(func() error {
			resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
				Model:       oai.ChatModel(c.model),
				Temperature: oai.Float(temperature),
				Messages: []oai.ChatCompletionMessageParamUnion{
					oai.UserMessage(current),
				},
			})
			if err != nil {
				return fmt.Errorf("openai: chat completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("openai: empty completion response")
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
		if err != nil {
			return err
		}

		if lastErr = json.Unmarshal([]byte(ExtractJSON(content)), out); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("openai: response is not valid JSON after %d attempts: %w", formatRetries+1, lastErr)
}

// ExtractJSON returns the JSON body of a model reply, stripping a
// markdown code fence when present.
func ExtractJSON(content string) string {
	if strings.Contains(content, "```") {
		if m := fencedJSON.FindStringSubmatch(content); m != nil {
			return m[1]
		}
	}
	return strings.TrimSpace(content)
}

// numberSentences appends the sentences as a numbered list to prompt.
func numberSentences(prompt string, sentences []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	for i, s := range sentences {
		fmt.Fprintf(&b, "\n%d. %s", i+1, s)
	}
	return b.String()
}
