// Package assemblyai provides an AssemblyAI-backed batch transcriber.
//
// Recordings reachable by URL are submitted directly; local files are
// uploaded first. The transcript endpoint is asynchronous, so the
// client polls until the job completes or errors. Word-level timing is
// requested and passed through for the downstream fluency analysis.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/speakscore/speakscore/pkg/transcribe"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

// defaultPollInterval is the delay between transcript status polls.
const defaultPollInterval = 3 * time.Second

// Compile-time interface assertion.
var _ transcribe.Transcriber = (*Client)(nil)

// Client is the AssemblyAI batch transcription client. Safe for
// concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	http         *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Intended for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithPollInterval overrides the transcript status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client with the given API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("assemblyai: apiKey must not be empty")
	}
	c := &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		pollInterval: defaultPollInterval,
		http:         &http.Client{Timeout: time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// transcriptRequest is the transcript submission body.
type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
	Punctuate     bool   `json:"punctuate"`
	FormatText    bool   `json:"format_text"`
}

// transcriptResponse is the transcript resource returned by submission
// and polling.
type transcriptResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	AudioDuration float64 `json:"audio_duration"`
	Words         []struct {
		Text       string  `json:"text"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// TranscribeURL transcribes the recording at audioURL, blocking until
// the job finishes or ctx is done.
func (c *Client) TranscribeURL(ctx context.Context, audioURL string) (transcribe.Transcript, error) {
	id, err := c.submit(ctx, audioURL)
	if err != nil {
		return transcribe.Transcript{}, err
	}
	return c.poll(ctx, id)
}

// TranscribeFile uploads the local file at path and transcribes it.
func (c *Client) TranscribeFile(ctx context.Context, path string) (transcribe.Transcript, error) {
	uploadURL, err := c.upload(ctx, path)
	if err != nil {
		return transcribe.Transcript{}, err
	}
	return c.TranscribeURL(ctx, uploadURL)
}

// upload posts the raw file body and returns the temporary URL the
// service assigns to it.
func (c *Client) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("assemblyai: open audio: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", f)
	if err != nil {
		return "", fmt.Errorf("assemblyai: build upload request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("assemblyai: upload returned no URL")
	}
	return out.UploadURL, nil
}

// submit creates the transcription job and returns its ID.
func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(transcriptRequest{
		AudioURL:      audioURL,
		SpeakerLabels: true,
		Punctuate:     true,
		FormatText:    true,
	})
	if err != nil {
		return "", fmt.Errorf("assemblyai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assemblyai: build submit request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("assemblyai: submit: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("assemblyai: submit returned no transcript ID")
	}
	return out.ID, nil
}

// poll fetches the transcript until it reaches a terminal status.
func (c *Client) poll(ctx context.Context, id string) (transcribe.Transcript, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return transcribe.Transcript{}, ctx.Err()
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcript/"+id, nil)
		if err != nil {
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: build poll request: %w", err)
		}
		req.Header.Set("Authorization", c.apiKey)

		var out transcriptResponse
		if err := c.do(req, &out); err != nil {
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: poll: %w", err)
		}

		switch out.Status {
		case "completed":
			return buildTranscript(out), nil
		case "error":
			msg := out.Error
			if msg == "" {
				msg = "unknown error"
			}
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: transcription failed: %s", msg)
		}
	}
}

// do executes req and decodes the JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func buildTranscript(resp transcriptResponse) transcribe.Transcript {
	t := transcribe.Transcript{
		Text:          resp.Text,
		AudioDuration: resp.AudioDuration,
	}
	for _, w := range resp.Words {
		t.Words = append(t.Words, transcribe.WordDetail{
			Text:       w.Text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return t
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
