package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/speakscore/speakscore/internal/event"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Broker topic overrides must name known logical topics.
	for name := range cfg.Broker.Topics {
		if !event.Topic(name).IsValid() {
			errs = append(errs, fmt.Errorf("broker.topics: unknown logical topic %q", name))
		}
	}
	if cfg.Broker.ProjectID == "" {
		slog.Warn("broker.project_id is empty; events will be logged instead of published")
	}

	// Database
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	// Analyzer backends
	if cfg.Analyzers.Azure.Region == "" {
		errs = append(errs, errors.New("analyzers.azure.region is required"))
	}
	if cfg.Analyzers.Azure.Key == "" {
		errs = append(errs, errors.New("analyzers.azure.key is required"))
	}
	if cfg.Analyzers.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("analyzers.openai.api_key is required"))
	}

	// Transcriber
	if cfg.Transcriber.Mode != "" && !cfg.Transcriber.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("transcriber.mode %q is invalid; valid values: batch, realtime", cfg.Transcriber.Mode))
	}
	if cfg.Transcriber.APIKey == "" {
		errs = append(errs, errors.New("transcriber.api_key is required"))
	}
	if cfg.Transcriber.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("transcriber.poll_interval %s must not be negative", cfg.Transcriber.PollInterval))
	}
	if cfg.Transcriber.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("transcriber.sample_rate %d must not be negative", cfg.Transcriber.SampleRate))
	}
	if cfg.Transcriber.Mode == TranscriberBatch && cfg.Transcriber.SampleRate != 0 {
		slog.Warn("transcriber.sample_rate is only used in realtime mode")
	}

	// Files
	if cfg.Files.CleanupTimeout < 0 {
		errs = append(errs, fmt.Errorf("files.cleanup_timeout %s must not be negative", cfg.Files.CleanupTimeout))
	}
	if cfg.Files.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("files.sweep_interval %s must not be negative", cfg.Files.SweepInterval))
	}

	// Vocabulary
	if cfg.Vocabulary.WordListPath == "" {
		errs = append(errs, errors.New("vocabulary.word_list_path is required"))
	}

	// Analysis
	if cfg.Analysis.StageTimeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.stage_timeout %s must not be negative", cfg.Analysis.StageTimeout))
	}
	if cfg.Analysis.Retention < 0 {
		errs = append(errs, fmt.Errorf("analysis.retention %s must not be negative", cfg.Analysis.Retention))
	}

	return errors.Join(errs...)
}
