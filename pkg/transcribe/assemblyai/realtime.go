package assemblyai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/speakscore/speakscore/pkg/transcribe"
)

const realtimeEndpoint = "wss://api.assemblyai.com/v2/realtime/ws"

// chunkSize is 100ms of 16kHz mono PCM16.
const chunkSize = 3200

// Compile-time interface assertion.
var _ transcribe.Transcriber = (*Realtime)(nil)

// Realtime transcribes local WAV files by streaming them over the
// AssemblyAI realtime WebSocket API instead of the batch upload+poll
// flow. Latency per recording is lower, at the cost of word confidence
// detail only arriving with final transcripts.
type Realtime struct {
	apiKey     string
	endpoint   string
	sampleRate int
}

// RealtimeOption is a functional option for configuring Realtime.
type RealtimeOption func(*Realtime)

// WithRealtimeEndpoint overrides the WebSocket endpoint. Intended for
// tests.
func WithRealtimeEndpoint(url string) RealtimeOption {
	return func(r *Realtime) { r.endpoint = url }
}

// WithSampleRate overrides the PCM sample rate announced to the
// service. Default 16000.
func WithSampleRate(rate int) RealtimeOption {
	return func(r *Realtime) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// NewRealtime creates a streaming transcriber with the given API key.
func NewRealtime(apiKey string, opts ...RealtimeOption) (*Realtime, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("assemblyai: apiKey must not be empty")
	}
	r := &Realtime{
		apiKey:     apiKey,
		endpoint:   realtimeEndpoint,
		sampleRate: 16000,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// realtimeMessage is the union of messages the service sends.
type realtimeMessage struct {
	MessageType string  `json:"message_type"`
	Text        string  `json:"text"`
	Error       string  `json:"error"`
	AudioStart  int     `json:"audio_start"`
	AudioEnd    int     `json:"audio_end"`
	Words       []struct {
		Text       string  `json:"text"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// TranscribeURL is not supported by the streaming transcriber; remote
// recordings go through the batch [Client].
func (r *Realtime) TranscribeURL(ctx context.Context, audioURL string) (transcribe.Transcript, error) {
	return transcribe.Transcript{}, fmt.Errorf("assemblyai: realtime transcriber requires a local file, got URL %s", audioURL)
}

// TranscribeFile streams the WAV file at path over the realtime socket
// and assembles the final transcripts into one result.
func (r *Realtime) TranscribeFile(ctx context.Context, path string) (transcribe.Transcript, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("assemblyai: read audio: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("%s?sample_rate=%d", r.endpoint, r.sampleRate), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{r.apiKey}},
	})
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("assemblyai: dial realtime: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := r.awaitSessionBegins(ctx, conn); err != nil {
		return transcribe.Transcript{}, err
	}

	// Reader collects finals while the writer streams chunks.
	type readResult struct {
		transcript transcribe.Transcript
		err        error
	}
	done := make(chan readResult, 1)
	go func() {
		t, err := r.collect(ctx, conn)
		done <- readResult{t, err}
	}()

	for off := 0; off < len(audio); off += chunkSize {
		end := off + chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, audio[off:end]); err != nil {
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: stream audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"terminate_session": true}`)); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("assemblyai: terminate session: %w", err)
	}

	select {
	case <-ctx.Done():
		return transcribe.Transcript{}, ctx.Err()
	case res := <-done:
		return res.transcript, res.err
	}
}

// awaitSessionBegins reads until the service confirms the session.
func (r *Realtime) awaitSessionBegins(ctx context.Context, conn *websocket.Conn) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("assemblyai: read session begin: %w", err)
	}
	var msg realtimeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("assemblyai: parse session begin: %w", err)
	}
	if msg.MessageType != "SessionBegins" {
		return fmt.Errorf("assemblyai: unexpected first message %q", msg.MessageType)
	}
	return nil
}

// collect reads messages until the session terminates, concatenating
// final transcripts.
func (r *Realtime) collect(ctx context.Context, conn *websocket.Conn) (transcribe.Transcript, error) {
	var out transcribe.Transcript
	var parts []string
	lastAudioEnd := 0

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Normal closure after SessionTerminated still surfaces as a
			// read error; return what was collected.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: read realtime message: %w", err)
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: parse realtime message: %w", err)
		}

		switch msg.MessageType {
		case "FinalTranscript":
			if msg.Text != "" {
				parts = append(parts, msg.Text)
			}
			for _, w := range msg.Words {
				out.Words = append(out.Words, transcribe.WordDetail{
					Text:       w.Text,
					Start:      w.Start,
					End:        w.End,
					Confidence: w.Confidence,
				})
			}
			if msg.AudioEnd > lastAudioEnd {
				lastAudioEnd = msg.AudioEnd
			}
		case "SessionTerminated":
			out.Text = strings.Join(parts, " ")
			out.AudioDuration = time.Duration(lastAudioEnd * int(time.Millisecond)).Seconds()
			return out, nil
		case "RealtimeError":
			return transcribe.Transcript{}, fmt.Errorf("assemblyai: realtime error: %s", msg.Error)
		}
	}

	out.Text = strings.Join(parts, " ")
	out.AudioDuration = time.Duration(lastAudioEnd * int(time.Millisecond)).Seconds()
	return out, nil
}
