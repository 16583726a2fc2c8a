package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/speakscore/speakscore/internal/config"
)

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN == "" {
		t.Error("database DSN not loaded")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := validYAML + "\nextra_section:\n  foo: bar\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("unknown top-level field should be rejected")
	}
}

func TestLoadFromReader_RejectsTypos(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "word_list_path", "word_list_pth", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("misspelled field should be rejected")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: [not a map"))
	if err == nil {
		t.Fatal("want error for malformed YAML")
	}
}

func TestLoadFromReader_InvalidConfigFailsValidation(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "log_level: info", "log_level: loud", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("invalid log level should fail validation")
	}
}
