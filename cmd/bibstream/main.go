// Package main implements the bibstream service: it periodically ingests
// bibliographic records from every configured Host LMS, reconciles each
// record's matchpoints, and publishes cluster-change events for downstream
// clustering consumers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub007/config"
	"github.com/openlibraryenvironment/dcb-service-sub007/groups"
	"github.com/openlibraryenvironment/dcb-service-sub007/health"
	"github.com/openlibraryenvironment/dcb-service-sub007/ingest"
	"github.com/openlibraryenvironment/dcb-service-sub007/match"
	"github.com/openlibraryenvironment/dcb-service-sub007/matchkey"
	"github.com/openlibraryenvironment/dcb-service-sub007/metric"
	"github.com/openlibraryenvironment/dcb-service-sub007/natsclient"
	"github.com/openlibraryenvironment/dcb-service-sub007/records"
	"github.com/openlibraryenvironment/dcb-service-sub007/sources/httpjson"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "bibstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting bibstream",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"sources", len(cfg.Sources),
		"store_mode", cfg.Ingest.StoreMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewRegistry()
	monitor := health.NewMonitor()

	// NATS is optional: without it the service runs with the in-memory
	// store and no cluster-change publishing.
	var nats *natsclient.Client
	var notifier ingest.ClusterNotifier
	if cfg.NATS.Enabled {
		nats = natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(registry.CoreMetrics()),
			natsclient.WithName(appName),
			natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
			natsclient.WithToken(cfg.NATS.Token),
		)
		if err := nats.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			_ = nats.Close(closeCtx)
		}()

		notifier = natsclient.NewNotifier(nats, cfg.NATS.ClusterSubject)
	}

	store, err := buildStore(ctx, cfg, nats)
	if err != nil {
		return err
	}

	var engineOpts []match.Option
	engineOpts = append(engineOpts, match.WithMetrics(registry.CoreMetrics()))
	if cfg.Ingest.Goldrush {
		engineOpts = append(engineOpts, match.WithKeyDeriver(matchkey.NewDeriver()))
	}
	engine := match.NewEngine(logger, engineOpts...)

	orchestrator, err := ingest.New(ingest.Config{
		Providers:   []types.SourceProvider{httpjson.NewProvider(cfg.Sources)},
		Groups:      groups.NewRegistry(logger, cfg.Ingest.Groups),
		Records:     records.NewService(logger),
		Engine:      engine,
		Store:       store,
		RecordLimit: cfg.Ingest.RecordLimit,
		Logger:      logger,
		Metrics:     registry.CoreMetrics(),
		Health:      monitor,
		Notifier:    notifier,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	runner := ingest.NewInstrumented(orchestrator, registry.CoreMetrics(), logger, 0)

	if cfg.Ingest.MetricsAddr != "" {
		startOpsServer(ctx, cfg.Ingest.MetricsAddr, registry, monitor, logger)
	}

	for {
		if err := runPass(ctx, runner, logger); err != nil {
			return err
		}
		if cliCfg.Once {
			return nil
		}

		slog.Info("ingestion pass scheduled", "next_in", cliCfg.Interval)
		select {
		case <-time.After(cliCfg.Interval):
		case <-ctx.Done():
			slog.Info("Shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// buildStore selects the matchpoint store backend from configuration.
func buildStore(ctx context.Context, cfg *config.Config, nats *natsclient.Client) (match.Store, error) {
	switch cfg.Ingest.StoreMode {
	case config.StoreModeKV:
		bucket, err := nats.KeyValue(ctx, cfg.NATS.Bucket)
		if err != nil {
			return nil, fmt.Errorf("open matchpoint bucket: %w", err)
		}
		return match.NewKVStore(natsclient.NewKVStore(bucket)), nil
	default:
		return match.NewMemoryStore(), nil
	}
}

// runPass executes one ingestion pass and drains its output, logging a
// per-source summary when the pass completes.
func runPass(ctx context.Context, runner *ingest.Instrumented, logger *slog.Logger) error {
	start := time.Now()
	out, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("start ingestion pass: %w", err)
	}

	var total int64
	for range out {
		total++
	}
	if ctx.Err() != nil {
		logger.Info("ingestion pass interrupted", "records", total, "elapsed", time.Since(start))
		return nil
	}

	logger.Info("ingestion pass complete",
		"records", total,
		"elapsed", time.Since(start),
		"by_source", runner.Counts())
	return nil
}

// startOpsServer serves /metrics and /healthz until the context ends.
func startOpsServer(ctx context.Context, addr string, registry *metric.Registry, monitor *health.Monitor, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !monitor.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(monitor.All())
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
