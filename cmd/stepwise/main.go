// Command stepwise runs the workflow orchestration service.
//
// Configuration is read from a YAML file and STEPWISE_* environment
// variables; see pkg/config. The file is located with:
//
//	stepwise -config /path/to/config.yaml
//
// or STEPWISE_CONFIG, ./config.yaml and /etc/stepwise/config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/auth"
	authfactory "github.com/rhuss/stepwise/pkg/auth/factory"
	"github.com/rhuss/stepwise/pkg/config"
	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/mcpserver"
	"github.com/rhuss/stepwise/pkg/observability"
	"github.com/rhuss/stepwise/pkg/orchestration"
	"github.com/rhuss/stepwise/pkg/session"
	storagefactory "github.com/rhuss/stepwise/pkg/storage/factory"
	transporthttp "github.com/rhuss/stepwise/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := storagefactory.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer provider.Close()

	runner := orchestration.NewAsyncRunner(logger)
	defer runner.Wait()

	opts := orchestration.Options{
		Logger:   logger,
		Observer: observability.Observer{},
		Runner:   runner,
	}
	store := session.New[api.State](provider, session.Options{
		KeyPrefix: cfg.Session.KeyPrefix,
		TTL:       cfg.Session.TTL,
		Logger:    logger,
	})
	manager := orchestration.New(store, opts)
	slog.Info("orchestration engine ready", "agents", cfg.AgentNames(), "session_ttl", cfg.Session.TTL)

	if cfg.Cleanup.Enabled {
		cleaner := orchestration.NewCleaner(provider, cfg.Cleanup.Interval, opts)
		if cleaner.Start() {
			defer cleaner.Stop()
		}
	}

	chain, limiter, err := authfactory.Build(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	adapter := transporthttp.NewAdapter(manager, cfg, provider, transporthttp.Config{
		MaxBodySize: cfg.Server.MaxBodySize,
	})

	bypass := slices.Clone(auth.DefaultBypassEndpoints)
	if cfg.Observability.Metrics.Enabled {
		adapter.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
		bypass = append(bypass, cfg.Observability.Metrics.Path)
		slog.Info("metrics enabled", "path", cfg.Observability.Metrics.Path)
	}
	if cfg.MCP.Enabled {
		mcpServer := mcpserver.New(manager, cfg, version)
		adapter.Handle(cfg.MCP.Path, mcpServer.Handler())
		slog.Info("MCP server enabled", "path", cfg.MCP.Path)
	}

	srv := transporthttp.NewServer(adapter.Handler(),
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
		transporthttp.WithMiddleware(auth.Middleware(chain, limiter, bypass)),
	)

	slog.Info("stepwise starting", "version", version, "port", cfg.Server.Port, "storage", cfg.Storage.Type, "auth", cfg.Auth.Type)
	return srv.Run(ctx)
}
