// Package mock provides an in-memory mock implementation of
// [transcribe.Transcriber] for use in unit tests.
//
// The mock records every call and returns the configured *Result and
// *Error fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/speakscore/speakscore/pkg/transcribe"
)

// Compile-time interface assertion.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcriber is a mock implementation of [transcribe.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by both transcription methods.
	Result transcribe.Transcript

	// Err is the error returned by both transcription methods.
	Err error

	// URLCalls records the audio URLs passed to TranscribeURL.
	URLCalls []string

	// FileCalls records the paths passed to TranscribeFile.
	FileCalls []string
}

func (m *Transcriber) TranscribeURL(_ context.Context, audioURL string) (transcribe.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.URLCalls = append(m.URLCalls, audioURL)
	return m.Result, m.Err
}

func (m *Transcriber) TranscribeFile(_ context.Context, path string) (transcribe.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FileCalls = append(m.FileCalls, path)
	return m.Result, m.Err
}

// Calls returns the total number of transcription calls.
func (m *Transcriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.URLCalls) + len(m.FileCalls)
}
