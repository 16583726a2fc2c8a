// Package mock provides in-memory mock implementations of the analyzer
// interfaces for use in unit tests.
//
// Each mock records its calls and returns the configured *Result and
// *Error fields. A non-zero Delay makes the call block, honouring
// context cancellation, so tests can exercise timeout paths. All mocks
// are safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/speakscore/speakscore/pkg/analyzer"
)

// Compile-time interface assertions.
var (
	_ analyzer.Pronunciation = (*Pronunciation)(nil)
	_ analyzer.Text          = (*Text)(nil)
	_ analyzer.Fluency       = (*Fluency)(nil)
)

// wait blocks for d or until ctx is done, returning ctx.Err() on
// cancellation. A zero d returns immediately.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PronunciationCall records the arguments of one AnalyzePronunciation call.
type PronunciationCall struct {
	WavPath       string
	ReferenceText string
}

// Pronunciation is a mock implementation of [analyzer.Pronunciation].
type Pronunciation struct {
	mu sync.Mutex

	// Result is returned by AnalyzePronunciation.
	Result analyzer.Result

	// Err is the error returned by AnalyzePronunciation.
	Err error

	// Delay makes each call block before returning.
	Delay time.Duration

	// Calls records all invocations.
	Calls []PronunciationCall
}

func (m *Pronunciation) AnalyzePronunciation(ctx context.Context, wavPath, referenceText string) (analyzer.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, PronunciationCall{wavPath, referenceText})
	delay := m.Delay
	m.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return analyzer.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Result, m.Err
}

// CallCount returns how many times AnalyzePronunciation was invoked.
func (m *Pronunciation) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Text is a mock implementation of [analyzer.Text].
type Text struct {
	mu sync.Mutex

	// Result is returned by Analyze.
	Result analyzer.Result

	// Err is the error returned by Analyze.
	Err error

	// Delay makes each call block before returning.
	Delay time.Duration

	// Calls records the transcripts passed to Analyze.
	Calls []string
}

func (m *Text) Analyze(ctx context.Context, transcript string) (analyzer.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, transcript)
	delay := m.Delay
	m.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return analyzer.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Result, m.Err
}

// CallCount returns how many times Analyze was invoked.
func (m *Text) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// FluencyCall records the arguments of one AnalyzeFluency call.
type FluencyCall struct {
	Transcript string
	Words      []analyzer.WordScore
}

// Fluency is a mock implementation of [analyzer.Fluency].
type Fluency struct {
	mu sync.Mutex

	// Result is returned by AnalyzeFluency.
	Result analyzer.Result

	// Err is the error returned by AnalyzeFluency.
	Err error

	// Delay makes each call block before returning.
	Delay time.Duration

	// Calls records all invocations.
	Calls []FluencyCall
}

func (m *Fluency) AnalyzeFluency(ctx context.Context, transcript string, words []analyzer.WordScore) (analyzer.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, FluencyCall{transcript, words})
	delay := m.Delay
	m.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return analyzer.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Result, m.Err
}

// CallCount returns how many times AnalyzeFluency was invoked.
func (m *Fluency) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
