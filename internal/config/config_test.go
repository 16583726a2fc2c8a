package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/speakscore/speakscore/internal/config"
	"github.com/speakscore/speakscore/internal/event"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
broker:
  project_id: speakscore-prod
  topics:
    TRANSCRIPTION_DONE: staging-transcription-done
database:
  dsn: "postgres://localhost:5432/speakscore?sslmode=disable"
analyzers:
  azure:
    region: eastus
    key: az-key
    language: en-US
  openai:
    api_key: oa-key
    model: gpt-4
transcriber:
  mode: batch
  api_key: aai-key
  poll_interval: 3s
files:
  cleanup_timeout: 30m
  sweep_interval: 5m
vocabulary:
  word_list_path: /etc/speakscore/words.json
analysis:
  stage_timeout: 2m
  fluency_uses_audio: true
  retention: 30m
`

func loadValid(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg := loadValid(t, validYAML)

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Broker.ProjectID != "speakscore-prod" {
		t.Errorf("project_id = %q", cfg.Broker.ProjectID)
	}
	if cfg.Analyzers.Azure.Region != "eastus" {
		t.Errorf("azure region = %q", cfg.Analyzers.Azure.Region)
	}
	if cfg.Transcriber.Mode != config.TranscriberBatch {
		t.Errorf("transcriber mode = %q", cfg.Transcriber.Mode)
	}
	if cfg.Transcriber.PollInterval != 3*time.Second {
		t.Errorf("poll_interval = %s", cfg.Transcriber.PollInterval)
	}
	if !cfg.Analysis.FluencyUsesAudio {
		t.Error("fluency_uses_audio not set")
	}
	if cfg.Analysis.StageTimeout != 2*time.Minute {
		t.Errorf("stage_timeout = %s", cfg.Analysis.StageTimeout)
	}
}

func TestBrokerBinding_AppliesOverrides(t *testing.T) {
	t.Parallel()
	cfg := loadValid(t, validYAML)

	b := cfg.Broker.Binding()
	if got := b.Resolve(event.TopicTranscriptionDone); got != "staging-transcription-done" {
		t.Errorf("override topic = %q, want %q", got, "staging-transcription-done")
	}
	// Unlisted topics keep their conventional IDs.
	if got := b.Resolve(event.TopicAnalysisComplete); got != event.DefaultBinding()[event.TopicAnalysisComplete] {
		t.Errorf("default topic = %q", got)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("empty config should not validate")
	}
	for _, want := range []string{
		"database.dsn",
		"analyzers.azure.region",
		"analyzers.azure.key",
		"analyzers.openai.api_key",
		"transcriber.api_key",
		"vocabulary.word_list_path",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "invalid log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = "verbose" },
			want:   "server.log_level",
		},
		{
			name:   "invalid transcriber mode",
			mutate: func(c *config.Config) { c.Transcriber.Mode = "streaming" },
			want:   "transcriber.mode",
		},
		{
			name:   "unknown topic override",
			mutate: func(c *config.Config) { c.Broker.Topics = map[string]string{"NOT_A_TOPIC": "x"} },
			want:   "unknown logical topic",
		},
		{
			name:   "incomplete tls",
			mutate: func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"} },
			want:   "server.tls",
		},
		{
			name:   "negative stage timeout",
			mutate: func(c *config.Config) { c.Analysis.StageTimeout = -time.Second },
			want:   "analysis.stage_timeout",
		},
		{
			name:   "negative cleanup timeout",
			mutate: func(c *config.Config) { c.Files.CleanupTimeout = -time.Minute },
			want:   "files.cleanup_timeout",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := loadValid(t, validYAML)
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("want validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should not be valid")
	}
}

func TestTranscriberMode_IsValid(t *testing.T) {
	t.Parallel()
	if !config.TranscriberBatch.IsValid() || !config.TranscriberRealtime.IsValid() {
		t.Error("known modes should be valid")
	}
	if config.TranscriberMode("grpc").IsValid() {
		t.Error("grpc should not be valid")
	}
}
