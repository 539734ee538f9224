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

	"TaxChat/internal/backend"
	"TaxChat/internal/cache"
	"TaxChat/internal/canned"
	"TaxChat/internal/chatbot"
	"TaxChat/internal/config"
	"TaxChat/internal/responder"
	"TaxChat/internal/server"
	"TaxChat/internal/storage"
	"TaxChat/internal/stream"
	"TaxChat/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
)

const usage = `usage: taxchat <command> [flags]

commands:
  serve   run the chat endpoint
  chat    start the terminal client

run "taxchat <command> -h" for flags`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(ctx, os.Args[2:])
	case "chat":
		err = chat(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// modelFlags registers the flags shared by both commands.
func modelFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "LLM backend (openai|grok|anthropic|ollama)")
	fs.StringVar(&cfg.Region, "region", cfg.Region, "Tax region for canned answers (us|ca)")
	fs.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model specification (format: model:version)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Characters per streamed text frame")
	fs.DurationVar(&cfg.ChunkDelay, "chunk-delay", cfg.ChunkDelay, "Delay between streamed text frames")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "How long model replies are cached (0 disables)")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
}

func loadConfig(name string, args []string, extra func(*flag.FlagSet, *config.Config)) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	modelFlags(fs, &cfg)
	extra(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// newResponder builds the canned/cache/model pipeline. A backend that
// cannot be configured leaves the responder serving canned answers only.
func newResponder(cfg config.Config, logger *slog.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) (*responder.Responder, *canned.Region, error) {
	region, err := canned.LoadRegion(cfg.Region)
	if err != nil {
		return nil, nil, err
	}

	delegate, err := backend.New(cfg, region.SystemPrompt, backend.Deps{
		HTTPClient: &http.Client{},
		Logger:     logger,
		Tracer:     tracer,
	})
	if err != nil {
		logger.Warn("model backend unavailable, serving canned answers only", "backend", cfg.Backend, "error", err)
	}

	enc := stream.NewEncoder(cfg.ChunkSize, cfg.ChunkDelay)
	enc.PromptTokens = cfg.PromptTokens

	opts := responder.Options{
		Region:  region,
		Encoder: enc,
		Cache:   cache.NewStore(cfg.CacheTTL),
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
	}
	if err == nil {
		opts.Delegate = delegate
	}
	return responder.New(opts), region, nil
}

func serve(ctx context.Context, args []string) error {
	cfg, err := loadConfig("serve", args, func(fs *flag.FlagSet, cfg *config.Config) {
		fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
		fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Maximum duration of one chat request")
		fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Requests per second per client (0 disables)")
		fs.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Rate limit burst")
	})
	if err != nil {
		return err
	}

	logger, closeLog, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir: cfg.LogDir, File: "taxchat-server.log", Debug: cfg.Debug, Stdout: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "taxchat-server")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return err
	}

	resp, region, err := newResponder(cfg, logger, tracer, metrics)
	if err != nil {
		return err
	}
	logger.Info("responder ready", "region", region.Name, "backend", cfg.Backend, "cache_ttl", cfg.CacheTTL)

	srv := server.New(resp, server.Options{
		Addr:           cfg.Addr,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func chat(ctx context.Context, args []string) error {
	var local, plain bool
	cfg, err := loadConfig("chat", args, func(fs *flag.FlagSet, cfg *config.Config) {
		fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Chat endpoint URL")
		fs.BoolVar(&local, "local", false, "Answer in-process instead of calling a server")
		fs.StringVar(&cfg.StorageDriver, "storage", cfg.StorageDriver, "Local storage driver (sqlite|bolt|memory)")
		fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Local storage file")
		fs.IntVar(&cfg.Width, "width", cfg.Width, "Output width in columns")
		fs.BoolVar(&plain, "plain", false, "Disable colors and markdown styling")
	})
	if err != nil {
		return err
	}

	logger, closeLog, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir: cfg.LogDir, File: "taxchat-client.log", Debug: cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "taxchat-client")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	kv, err := storage.Open(cfg.StorageDriver, cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open local storage: %w", err)
	}
	defer kv.Close()

	var (
		transport chatbot.Transport
		region    *canned.Region
	)
	if local {
		metrics, err := telemetry.NewMetrics(meter)
		if err != nil {
			return err
		}
		resp, reg, err := newResponder(cfg, logger, tracer, metrics)
		if err != nil {
			return err
		}
		transport, region = chatbot.NewLocalTransport(resp), reg
	} else {
		reg, err := canned.LoadRegion(cfg.Region)
		if err != nil {
			return err
		}
		transport, region = chatbot.NewHTTPTransport(cfg.ServerURL, &http.Client{}), reg
	}

	bot, err := chatbot.NewChatBot(chatbot.Options{
		Region:      region,
		Transport:   transport,
		Storage:     kv,
		Width:       cfg.Width,
		Plain:       plain,
		UploadDelay: cfg.UploadDelay,
		TypingDelay: cfg.TypingDelay,
		In:          os.Stdin,
		Out:         os.Stdout,
		Logger:      logger,
		Tracer:      tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot.Run(ctx)
}
