// Command echoloom is the main entry point for the Echoloom voice session server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/internal/fallback"
	"github.com/echoloom/echoloom/internal/observe"
	"github.com/echoloom/echoloom/internal/pipeline"
	"github.com/echoloom/echoloom/internal/resilience"
	"github.com/echoloom/echoloom/internal/session"
	"github.com/echoloom/echoloom/internal/transport"
	"github.com/echoloom/echoloom/internal/upstream"
	"github.com/echoloom/echoloom/pkg/audio"
	opusaudio "github.com/echoloom/echoloom/pkg/audio/opus"
	geminilive "github.com/echoloom/echoloom/pkg/provider/live/gemini"
	"github.com/echoloom/echoloom/pkg/provider/llm"
	"github.com/echoloom/echoloom/pkg/provider/llm/anyllm"
	"github.com/echoloom/echoloom/pkg/provider/stt"
	oaistt "github.com/echoloom/echoloom/pkg/provider/stt/openai"
	"github.com/echoloom/echoloom/pkg/provider/stt/whisperhttp"
	"github.com/echoloom/echoloom/pkg/provider/tts/elevenlabs"
	"github.com/echoloom/echoloom/pkg/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debugErrors := flag.Bool("debug-errors", false, "include failure detail in client error events")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echoloom: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echoloom: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echoloom starting",
		"config", *configPath,
		"mode", cfg.Session.Mode,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "echoloom",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Persistence (optional) ────────────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("failed to create postgres pool", "err", err)
			return 1
		}
		defer pool.Close()
		if err := migrate(ctx, pool); err != nil {
			slog.Error("failed to migrate database", "err", err)
			return 1
		}
		slog.Info("postgres connected")
	}

	// ── Sessions, transport, supervisor ───────────────────────────────────────
	registry := session.NewRegistry(nil)

	opts, err := serverOptions(cfg, pool)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if *debugErrors || cfg.Server.LogLevel == config.LogDebug {
		opts = append(opts, transport.WithDebugErrors(true))
	}
	server := transport.NewServer(*cfg, registry, opts...)

	supervisor := session.NewSupervisor(registry, server, cfg.Session)

	printStartupSummary(cfg)

	// ── HTTP servers ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/ws", server.Handler())

	wsServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
		// Tie connection contexts to the signal context so in-flight
		// sessions unwind on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	var adminServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		admin := http.NewServeMux()
		admin.Handle("/metrics", promhttp.Handler())
		admin.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		adminServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: admin}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})
	if adminServer != nil {
		g.Go(func() error {
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		supervisor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		registry.CloseAll()
		var errs []error
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if adminServer != nil {
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// serverOptions builds the mode-dependent transport options: an upstream
// manager in native mode, a pipeline orchestrator (with transcription
// fallback chain, fallback selector, and synthesizer) in pipeline mode.
func serverOptions(cfg *config.Config, pool *pgxpool.Pool) ([]transport.ServerOption, error) {
	var opts []transport.ServerOption

	if pool != nil {
		opts = append(opts, transport.WithProfileStore(postgres.New(pool)))
	}

	if cfg.Session.InputCodec == config.CodecOpus {
		opts = append(opts, transport.WithTransformFactory(func() (audio.FrameTransform, error) {
			return opusaudio.New(0, 0)
		}))
	}

	switch cfg.Session.Mode {
	case config.ModeNative:
		live, err := buildLive(cfg.Providers.Live)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithUpstream(upstream.NewManager(live, cfg.Session)))

	case config.ModePipeline:
		primary, err := buildSTT(cfg.Providers.STT)
		if err != nil {
			return nil, err
		}
		transcribers := resilience.NewFallbackGroup[stt.Provider](primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		if entry := cfg.Providers.STTFallback; entry.Name != "" {
			backup, err := buildSTT(entry)
			if err != nil {
				return nil, err
			}
			transcribers.AddFallback(entry.Name, backup)
			opts = append(opts, transport.WithAltTranscriber(entry.Name))
		}

		generator, err := buildLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
		synth, err := buildTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, err
		}

		var library fallback.Library
		if pool != nil {
			library = fallback.NewPostgresLibrary(pool)
		}
		selector := fallback.NewSelector(library, synth)

		opts = append(opts,
			transport.WithOrchestrator(pipeline.NewOrchestrator(transcribers, generator, synth, selector)),
			transport.WithSynthesizer(synth),
		)

	default:
		return nil, fmt.Errorf("unsupported session mode %q", cfg.Session.Mode)
	}

	return opts, nil
}

func buildLive(entry config.ProviderEntry) (*geminilive.Provider, error) {
	switch entry.Name {
	case "gemini-live":
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown live provider %q", entry.Name)
	}
}

func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "whisper":
		return whisperhttp.New(entry.BaseURL), nil
	case "openai":
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		p, err := oaistt.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	p, err := anyllm.New(entry.Name, entry.Model, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildTTS(entry config.ProviderEntry) (*elevenlabs.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(entry.Voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// migrate ensures the persistence schema exists.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.New(pool).Migrate(ctx); err != nil {
		return err
	}
	return fallback.NewPostgresLibrary(pool).Migrate(ctx)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Echoloom — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Mode            : %-19s ║\n", cfg.Session.Mode)
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("STT fallback", cfg.Providers.STTFallback.Name, cfg.Providers.STTFallback.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if cfg.Postgres.DSN != "" {
		fmt.Printf("║  Postgres        : %-19s ║\n", "connected")
	} else {
		fmt.Printf("║  Postgres        : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Input codec     : %-19s ║\n", cfg.Session.InputCodec)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
