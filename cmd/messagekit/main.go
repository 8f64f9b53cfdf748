// Package main implements the entry point for the messagekit daemon. It
// wires the proposition cache, rule engine, and notification handler over a
// configurable storage backend and exposes Prometheus metrics for scraping.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/messagekit/config"
	"github.com/c360/messagekit/health"
	"github.com/c360/messagekit/messaging"
	"github.com/c360/messagekit/metric"
	"github.com/c360/messagekit/natsclient"
	"github.com/c360/messagekit/propcache"
	"github.com/c360/messagekit/rules"
	"github.com/c360/messagekit/storage"
	"github.com/c360/messagekit/storage/filestore"
	"github.com/c360/messagekit/storage/kvstore"
	"github.com/c360/messagekit/tracking"
)

// Build information constants.
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "messagekit"
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
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting messagekit",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()

	natsClient, err := connectNATS(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = natsClient.Close(closeCtx)
		}()
	}

	handler, engine, err := buildHandler(signalCtx, cfg, natsClient, logger, registry)
	if err != nil {
		return err
	}

	if err := handler.Start(signalCtx); err != nil {
		return fmt.Errorf("start handler: %w", err)
	}

	if cliCfg.ClearCache {
		defer func() { _ = handler.Stop(cliCfg.ShutdownTimeout) }()
		if err := handler.Clear(signalCtx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		slog.Info("Cache and registered rules cleared")
		return nil
	}

	if cliCfg.PayloadPath != "" {
		if err := processPayloadFile(signalCtx, handler, engine, cliCfg.PayloadPath); err != nil {
			_ = handler.Stop(cliCfg.ShutdownTimeout)
			return err
		}
	}

	monitor := health.NewMonitor()
	monitor.UpdateHealthy("handler", "running")
	if natsClient != nil {
		monitor.UpdateHealthy("nats", natsClient.Status().String())
	}

	return serve(signalCtx, cfg, registry, monitor, natsClient, handler, cliCfg.ShutdownTimeout)
}

// loadConfig layers the optional config file over defaults and environment
// overrides.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cliCfg.DryRun {
		cfg.Tracking.DryRun = true
	}
	return cfg, nil
}

// connectNATS dials NATS when any configured concern needs it. Returns nil
// when the file backend and dry-run tracking make a connection unnecessary.
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	needsNATS := cfg.Cache.Backend == config.BackendNATS || !cfg.Tracking.DryRun
	if !needsNATS {
		return nil, nil
	}

	options := []natsclient.Option{
		natsclient.WithName(appName),
		natsclient.WithReconnect(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait),
	}
	if cfg.NATS.Username != "" {
		options = append(options, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		options = append(options, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.New(cfg.NATS.URLs, logger, options...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// buildHandler assembles the storage backend, caches, engine, and dispatcher
// into a notification handler.
func buildHandler(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*messaging.Handler, *rules.Engine, error) {
	store, err := buildStore(ctx, cfg, natsClient, logger)
	if err != nil {
		return nil, nil, err
	}

	cache := propcache.NewPropositionCache(store, logger, registry)
	assets := propcache.NewAssetCache(store, logger, registry, propcache.AssetConfig{
		Workers:           cfg.Assets.Workers,
		QueueSize:         cfg.Assets.QueueSize,
		RequestsPerSecond: cfg.Assets.RequestsPerSecond,
		RequestTimeout:    cfg.Assets.RequestTimeout,
	})
	engine := rules.NewEngine(logger, registry)

	dispatcher, err := buildDispatcher(cfg, natsClient, logger, registry)
	if err != nil {
		return nil, nil, err
	}

	handler, err := messaging.NewHandler(messaging.Config{
		AppSurface:    cfg.AppSurface(),
		ExtraSurfaces: cfg.ExtraSurfaces(),
		QueueSize:     cfg.App.QueueSize,
	}, cache, assets, engine, dispatcher, nil, logger, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("create handler: %w", err)
	}
	return handler, engine, nil
}

// processPayloadFile feeds a payload JSON file through the handler and
// reports the registered rule counts per surface.
func processPayloadFile(ctx context.Context, handler *messaging.Handler, engine *rules.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read payload file: %w", err)
	}

	var payloads []map[string]any
	if err := json.Unmarshal(data, &payloads); err != nil {
		return fmt.Errorf("decode payload file: %w", err)
	}

	if err := handler.HandlePersonalizationPayload(ctx, payloads); err != nil {
		return fmt.Errorf("process payload file: %w", err)
	}

	slog.Info("Payload file processed",
		"path", path,
		"entries", len(payloads),
		"surfaces", engine.Surfaces(),
		"rules_registered", engine.RuleCount())
	return nil
}

// buildStore selects the storage backend from configuration.
func buildStore(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (storage.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendFile:
		store, err := filestore.New(cfg.Cache.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("create file store: %w", err)
		}
		return store, nil
	case config.BackendNATS:
		nc, err := natsClient.Conn()
		if err != nil {
			return nil, err
		}
		store, err := kvstore.New(ctx, nc, cfg.Cache.Bucket, logger)
		if err != nil {
			return nil, fmt.Errorf("create KV store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// buildDispatcher returns a capture dispatcher in dry-run mode, otherwise a
// NATS publisher on the configured subject.
func buildDispatcher(
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (tracking.Dispatcher, error) {
	if cfg.Tracking.DryRun {
		slog.Info("Tracking in dry-run mode, events captured in memory")
		return tracking.NewCaptureDispatcher(), nil
	}

	nc, err := natsClient.Conn()
	if err != nil {
		return nil, err
	}
	dispatcher, err := tracking.NewNATSDispatcher(nc, cfg.Tracking.Subject, logger, registry)
	if err != nil {
		return nil, fmt.Errorf("create tracking dispatcher: %w", err)
	}
	return dispatcher, nil
}

// serve runs the metrics and health endpoint until a shutdown signal
// arrives, then stops the handler within the shutdown timeout.
func serve(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	natsClient *natsclient.Client,
	handler *messaging.Handler,
	shutdownTimeout time.Duration,
) error {
	group, groupCtx := errgroup.WithContext(ctx)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		metricsServer.SetHealthHandler(monitor.Handler(appName))
		group.Go(func() error {
			slog.Info("Metrics endpoint listening", "address", metricsServer.Address())
			return metricsServer.Start()
		})
	}

	group.Go(func() error {
		refreshHealth(groupCtx, monitor, natsClient)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		if metricsServer != nil {
			return metricsServer.Stop()
		}
		return nil
	})

	slog.Info("messagekit started", "app_surface", cfg.AppSurface().URI())

	<-ctx.Done()
	slog.Info("Received shutdown signal")

	if err := handler.Stop(shutdownTimeout); err != nil {
		slog.Error("Handler shutdown incomplete", "error", err)
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("messagekit shutdown complete")
	return nil
}

// refreshHealth keeps the NATS component status current until shutdown.
func refreshHealth(ctx context.Context, monitor *health.Monitor, natsClient *natsclient.Client) {
	if natsClient == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := natsClient.Status()
			switch status {
			case natsclient.StatusConnected:
				monitor.UpdateHealthy("nats", status.String())
			case natsclient.StatusReconnecting, natsclient.StatusConnecting:
				monitor.UpdateDegraded("nats", status.String())
			default:
				monitor.UpdateUnhealthy("nats", status.String())
			}
		}
	}
}
