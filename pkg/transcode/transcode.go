// Package transcode downloads remote recordings and converts them into
// the 16kHz mono PCM16 WAV layout the analysis backends expect.
//
// Conversion shells out to ffmpeg; the binary must be on PATH (or set
// explicitly with [WithFFmpegPath]). Downloaded originals are removed
// once the WAV exists, so only one file per recording lives on disk.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Converter fetches recordings over HTTP and converts them to WAV.
// Safe for concurrent use.
type Converter struct {
	http       *http.Client
	dir        string
	ffmpegPath string
}

// Option is a functional option for configuring a Converter.
type Option func(*Converter)

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Converter) { c.http = hc }
}

// WithDir sets the directory downloaded and converted files are written
// to. Default os.TempDir().
func WithDir(dir string) Option {
	return func(c *Converter) {
		if dir != "" {
			c.dir = dir
		}
	}
}

// WithFFmpegPath overrides the ffmpeg executable path. Intended for
// tests and containers with non-standard layouts.
func WithFFmpegPath(path string) Option {
	return func(c *Converter) {
		if path != "" {
			c.ffmpegPath = path
		}
	}
}

// New creates a Converter with the given options.
func New(opts ...Option) *Converter {
	c := &Converter{
		http:       &http.Client{Timeout: 2 * time.Minute},
		dir:        os.TempDir(),
		ffmpegPath: "ffmpeg",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchWAV downloads the recording at audioURL and converts it to WAV,
// returning the path of the converted file. The downloaded original is
// removed regardless of conversion outcome.
func (c *Converter) FetchWAV(ctx context.Context, audioURL string) (string, error) {
	src, err := c.Fetch(ctx, audioURL)
	if err != nil {
		return "", err
	}
	defer os.Remove(src)

	return c.ConvertToWAV(ctx, src)
}

// Fetch downloads the recording at audioURL into the working directory,
// keeping the source extension so ffmpeg can sniff the container format.
func (c *Converter) Fetch(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("transcode: build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcode: download %s: %w", audioURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcode: download %s: status %d", audioURL, resp.StatusCode)
	}

	ext := strings.ToLower(filepath.Ext(audioURL))
	if ext == "" || len(ext) > 8 {
		ext = ".tmp"
	}

	f, err := os.CreateTemp(c.dir, "recording-*"+ext)
	if err != nil {
		return "", fmt.Errorf("transcode: create temp file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("transcode: write download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("transcode: close download: %w", err)
	}
	return f.Name(), nil
}

// ConvertToWAV converts the audio file at inputPath to 16-bit PCM,
// 16kHz, mono WAV and returns the output path. The input file is left
// in place.
func (c *Converter) ConvertToWAV(ctx context.Context, inputPath string) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".wav"

	args := []string{
		"-i", inputPath,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcode: ffmpeg: %w", ctx.Err())
		}
		return "", fmt.Errorf("transcode: ffmpeg: %w: %s", err, truncate(stderr.Bytes(), 300))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("transcode: ffmpeg produced no output: %w", err)
	}
	return outputPath, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
