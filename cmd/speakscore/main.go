// Command speakscore is the spoken-English analysis server: it accepts
// student submissions, fans each recording out to the transcription and
// analysis backends, and persists the consolidated per-submission
// result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speakscore/speakscore/internal/aggregator"
	"github.com/speakscore/speakscore/internal/config"
	"github.com/speakscore/speakscore/internal/coordinator"
	"github.com/speakscore/speakscore/internal/database/postgres"
	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/internal/event/pubsub"
	"github.com/speakscore/speakscore/internal/filesession"
	"github.com/speakscore/speakscore/internal/health"
	"github.com/speakscore/speakscore/internal/intake"
	"github.com/speakscore/speakscore/internal/lexicon"
	"github.com/speakscore/speakscore/internal/observe"
	"github.com/speakscore/speakscore/internal/orchestrator"
	"github.com/speakscore/speakscore/internal/results"
	"github.com/speakscore/speakscore/internal/server"
	"github.com/speakscore/speakscore/pkg/analyzer/azurespeech"
	"github.com/speakscore/speakscore/pkg/analyzer/openai"
	"github.com/speakscore/speakscore/pkg/analyzer/vocabulary"
	"github.com/speakscore/speakscore/pkg/transcode"
	"github.com/speakscore/speakscore/pkg/transcribe"
	"github.com/speakscore/speakscore/pkg/transcribe/assemblyai"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speakscore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speakscore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("speakscore starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "speakscore",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Word list ─────────────────────────────────────────────────────────────
	lex, err := lexicon.Load(cfg.Vocabulary.WordListPath)
	if err != nil {
		slog.Error("failed to load word list", "path", cfg.Vocabulary.WordListPath, "err", err)
		return 1
	}
	slog.Info("word list loaded", "entries", lex.Len())

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := postgres.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer db.Close()

	// ── Event publisher ───────────────────────────────────────────────────────
	var pub event.Publisher
	var broker *pubsub.Client
	if cfg.Broker.ProjectID != "" {
		broker, err = pubsub.New(ctx, cfg.Broker.ProjectID, cfg.Broker.Binding(), metrics)
		if err != nil {
			slog.Error("failed to connect to broker", "err", err)
			return 1
		}
		pub = broker
	} else {
		slog.Warn("broker: no project_id configured, events are logged only")
		pub = event.LogPublisher{}
	}

	// ── Analysis backends ─────────────────────────────────────────────────────
	var azOpts []azurespeech.Option
	if cfg.Analyzers.Azure.Language != "" {
		azOpts = append(azOpts, azurespeech.WithLanguage(cfg.Analyzers.Azure.Language))
	}
	azure, err := azurespeech.New(cfg.Analyzers.Azure.Region, cfg.Analyzers.Azure.Key, azOpts...)
	if err != nil {
		slog.Error("failed to build pronunciation backend", "err", err)
		return 1
	}

	var oaOpts []openai.Option
	if cfg.Analyzers.OpenAI.BaseURL != "" {
		oaOpts = append(oaOpts, openai.WithBaseURL(cfg.Analyzers.OpenAI.BaseURL))
	}
	oa, err := openai.New(cfg.Analyzers.OpenAI.APIKey, cfg.Analyzers.OpenAI.Model, oaOpts...)
	if err != nil {
		slog.Error("failed to build text analysis backend", "err", err)
		return 1
	}

	analyzers := orchestrator.Analyzers{
		Pronunciation: azure,
		Grammar:       openai.NewGrammar(oa),
		Lexical:       openai.NewLexical(oa),
		Vocabulary:    vocabulary.New(oa, lex),
		Fluency:       openai.NewFluency(oa),
	}

	// ── Transcriber ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerTranscribers(reg)
	trans, err := reg.CreateTranscriber(cfg.Transcriber)
	if err != nil {
		slog.Error("failed to build transcriber", "mode", cfg.Transcriber.Mode, "err", err)
		return 1
	}

	// ── Pipeline components ───────────────────────────────────────────────────
	files := filesession.NewManager(filesession.WithSweepInterval(cfg.Files.SweepInterval))
	store := results.NewStore()
	conv := transcode.New(transcode.WithDir(cfg.Files.Dir))

	intakeOpts := []intake.Option{
		intake.WithCleanupTimeout(cfg.Files.CleanupTimeout),
		intake.WithFluencyUsesAudio(cfg.Analysis.FluencyUsesAudio),
		intake.WithMetrics(metrics),
	}
	if cfg.Transcriber.Mode == config.TranscriberRealtime {
		intakeOpts = append(intakeOpts, intake.WithLocalTranscription(true))
	}
	in := intake.New(pub, conv, trans, files, intakeOpts...)

	coord := coordinator.New(pub, coordinator.WithRetention(cfg.Analysis.Retention))
	orch := orchestrator.New(pub, analyzers, files, store,
		orchestrator.WithStageTimeout(cfg.Analysis.StageTimeout),
		orchestrator.WithRetention(cfg.Analysis.Retention),
		orchestrator.WithFluencyUsesAudio(cfg.Analysis.FluencyUsesAudio),
	)
	agg := aggregator.New(pub, store, db)

	healthHandler := health.New(
		health.Database(db),
		health.Checker{Name: "lexicon", Check: func(context.Context) error {
			if lex.Len() == 0 {
				return errors.New("word list not loaded")
			}
			return nil
		}},
	)

	srv := server.New(pub, in, coord, orch, agg, store, files,
		server.WithHealth(healthHandler),
		server.WithMetrics(metrics),
		server.WithMetricsHandler(promhttp.Handler()),
	)

	// ── Background loops ──────────────────────────────────────────────────────
	go files.Run(ctx)
	go coord.Run(ctx)
	go orch.Run(ctx)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("config reloaded: log level changed", "log_level", d.NewLogLevel)
		}
		if d.AnalysisChanged || d.FilesChanged {
			slog.Warn("config changed: analysis and file settings apply after restart")
		}
	})
	if err != nil {
		slog.Error("failed to watch config file", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if broker != nil {
		if err := broker.Close(); err != nil {
			slog.Warn("broker close error", "err", err)
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// registerTranscribers wires both transcription flows into reg; the
// config's transcriber.mode selects which one is built.
func registerTranscribers(reg *config.Registry) {
	reg.RegisterTranscriber(config.TranscriberBatch, func(tc config.TranscriberConfig) (transcribe.Transcriber, error) {
		var opts []assemblyai.Option
		if tc.PollInterval > 0 {
			opts = append(opts, assemblyai.WithPollInterval(tc.PollInterval))
		}
		return assemblyai.New(tc.APIKey, opts...)
	})
	reg.RegisterTranscriber(config.TranscriberRealtime, func(tc config.TranscriberConfig) (transcribe.Transcriber, error) {
		var opts []assemblyai.RealtimeOption
		if tc.SampleRate > 0 {
			opts = append(opts, assemblyai.WithSampleRate(tc.SampleRate))
		}
		return assemblyai.NewRealtime(tc.APIKey, opts...)
	})
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
