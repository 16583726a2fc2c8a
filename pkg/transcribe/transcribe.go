// Package transcribe defines the Transcriber interface for batch
// speech-to-text backends and the transcript types they produce.
//
// Unlike a streaming STT session, the pipeline transcribes complete
// recordings: a provider receives an audio source (local file or public
// URL) and returns the full transcript with word-level timing. The
// word timings feed the fluency analysis downstream.
package transcribe

import "context"

// WordDetail is one recognised word with its timing and confidence.
// Start and End are milliseconds from the beginning of the recording.
type WordDetail struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the result of transcribing one complete recording.
type Transcript struct {
	// Text is the full punctuated transcript.
	Text string `json:"text"`

	// Words holds word-level timing detail in transcript order.
	Words []WordDetail `json:"words,omitempty"`

	// AudioDuration is the recording length in seconds as reported by
	// the provider, 0 when unknown.
	AudioDuration float64 `json:"audio_duration,omitempty"`
}

// Transcriber is the abstraction over any batch speech-to-text backend.
// Implementations must be safe for concurrent use; one transcription per
// question may be in flight simultaneously.
type Transcriber interface {
	// TranscribeURL transcribes the recording at the publicly reachable
	// audioURL. Blocks until the provider finishes or ctx is done.
	TranscribeURL(ctx context.Context, audioURL string) (Transcript, error)

	// TranscribeFile uploads and transcribes the local audio file at
	// path. Blocks until the provider finishes or ctx is done.
	TranscribeFile(ctx context.Context, path string) (Transcript, error)
}
