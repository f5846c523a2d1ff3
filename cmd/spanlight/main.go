package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spanlight/spanlight/internal/api"
	"github.com/spanlight/spanlight/internal/config"
	"github.com/spanlight/spanlight/internal/ingest"
	"github.com/spanlight/spanlight/internal/observability"
	"github.com/spanlight/spanlight/internal/rollup"
	"github.com/spanlight/spanlight/internal/store"
	"github.com/spanlight/spanlight/internal/tenant"
	"github.com/spanlight/spanlight/internal/version"
)

const defaultConfigPath = "spanlight.yaml"

const otelShutdownTimeout = 5 * time.Second
const compactorShutdownTimeout = 5 * time.Second
const serverShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// signalNotifyContext is swapped out in tests.
var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "serve":
		return runServe(args[1:])
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	_, _, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		}
		return 1
	}

	logger := slog.New(observability.NewTraceLogHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	var st store.Store
	switch cfg.Storage.Driver {
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize sqlite storage: %v\n", err)
			return 1
		}
		st = sqliteStore
	case "postgres":
		postgresStore, err := store.NewPostgresStore(cfg.Storage.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize postgres storage: %v\n", err)
			return 1
		}
		st = postgresStore
	default:
		fmt.Fprintf(os.Stderr, "unsupported storage.driver %q\n", cfg.Storage.Driver)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	ingestService := ingest.NewService(st, ingest.NewVersionClock(), logger)
	ingestService.SetMaxSpanBatch(cfg.Ingest.MaxSpanBatch)
	if otelRuntime != nil {
		ingestService.SetMetrics(ingest.Metrics{
			OnRejection:    otelRuntime.RecordIngestRejection,
			OnWriteFailure: otelRuntime.RecordWriteFailure,
		})
	}

	compactor := rollup.NewCompactor(
		st,
		time.Duration(cfg.Rollup.CompactionIntervalMS)*time.Millisecond,
		cfg.Rollup.MaxKeysPerPass,
		logger,
	)
	if otelRuntime != nil {
		compactor.SetMetrics(&rollup.CompactorMetrics{
			OnPass: func(stats store.CompactStats, _ time.Duration, err error) {
				if err == nil {
					otelRuntime.RecordCompaction(int64(stats.RowsMerged))
				}
			},
		})
	}
	compactor.Start(context.Background())
	defer shutdownCompactor(logger, compactor, compactorShutdownTimeout)

	staticResolver, err := tenant.NewStaticResolver(tenantKeysFromConfig(cfg.Auth.Keys))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize ingest keys: %v\n", err)
		return 1
	}
	cache := tenant.NewCache(time.Duration(cfg.Auth.CacheTTLMS)*time.Millisecond, cfg.Auth.CacheMaxSize)
	resolver := tenant.NewCachingResolver(staticResolver, cache)

	router := api.NewRouter(api.RouterOptions{
		AppVersion:    version.String(),
		Store:         st,
		Ingest:        ingestService,
		Compactor:     compactor,
		StorageDriver: cfg.Storage.Driver,
		StoragePath:   cfg.Storage.Path,
		AuthHeader:    cfg.Auth.Header,
		MaxBodySize:   cfg.Ingest.MaxBodySize,
		Logger:        logger,
	})

	// Logging sits inside authentication so each line carries the resolved
	// tenant; span enrichment sits between so tenant attributes reach the
	// request span opened by the outermost otel handler.
	handler := api.LoggingMiddleware(logger, router)
	if otelRuntime != nil {
		handler = otelRuntime.SpanEnrichmentMiddleware(handler)
	}
	handler = tenant.Middleware(resolver, tenant.MiddlewareOptions{
		Header:      cfg.Auth.Header,
		BypassPaths: []string{"/api/health", "/"},
	}, handler)
	if otelRuntime != nil {
		handler = otelRuntime.WrapHTTPHandler(handler)
	}

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"port", cfg.Server.Port,
		"storage_driver", cfg.Storage.Driver,
		"config_path", *configPath,
		"ingest_keys", len(cfg.Auth.Keys),
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("server stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			return 1
		}
		return 0
	}
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

func tenantKeysFromConfig(keys []config.IngestKeyConfig) []tenant.KeyConfig {
	if len(keys) == 0 {
		return nil
	}

	out := make([]tenant.KeyConfig, 0, len(keys))
	for _, key := range keys {
		out = append(out, tenant.KeyConfig{
			Token:     key.Token,
			TokenHash: key.TokenHash,
			TenantID:  key.TenantID,
			Name:      key.Name,
		})
	}
	return out
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
	}
}

func shutdownCompactor(logger *slog.Logger, compactor *rollup.Compactor, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := compactor.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown rollup compactor", "error", err, "timeout", timeout.String())
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  spanlight serve [--config path/to/spanlight.yaml]")
	fmt.Fprintln(out, "  spanlight version")
	fmt.Fprintln(out, "  spanlight config validate [--config path/to/spanlight.yaml]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  spanlight config validate [--config path/to/spanlight.yaml]")
}
