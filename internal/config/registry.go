package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/speakscore/speakscore/pkg/transcribe"
)

// ErrTranscriberNotRegistered is returned by [Registry.CreateTranscriber]
// when no factory has been registered under the requested mode.
var ErrTranscriberNotRegistered = errors.New("config: transcriber not registered")

// Registry maps transcriber modes to their constructor functions, letting
// main wire up whichever flow the config selects without importing every
// implementation at the call site. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[TranscriberMode]func(TranscriberConfig) (transcribe.Transcriber, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[TranscriberMode]func(TranscriberConfig) (transcribe.Transcriber, error)),
	}
}

// RegisterTranscriber registers a transcriber factory under mode.
// Subsequent calls with the same mode overwrite the previous registration.
func (r *Registry) RegisterTranscriber(mode TranscriberMode, factory func(TranscriberConfig) (transcribe.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[mode] = factory
}

// CreateTranscriber instantiates a transcriber using the factory registered
// under cfg.Mode. An empty mode falls back to [TranscriberBatch]. Returns
// [ErrTranscriberNotRegistered] if no factory has been registered.
func (r *Registry) CreateTranscriber(cfg TranscriberConfig) (transcribe.Transcriber, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = TranscriberBatch
	}

	r.mu.RLock()
	factory, ok := r.transcribers[mode]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTranscriberNotRegistered, mode)
	}
	return factory(cfg)
}
