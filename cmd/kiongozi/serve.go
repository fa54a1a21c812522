package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bassmang/kiongozi/internal/config"
	"github.com/bassmang/kiongozi/internal/gateway/httpapi"
	"github.com/bassmang/kiongozi/internal/gateway/ws"
	"github.com/bassmang/kiongozi/internal/scheduler"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server (HTTP API, WebSocket events, scheduler)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `kiongozi --config path` and `kiongozi serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts Kiongozi in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("KIONGOZI_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Cron scheduler (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched, err := scheduler.New(sc.Engine, logger, cfg.Scheduler)
		if err != nil {
			return fmt.Errorf("initializing scheduler: %w", err)
		}
		cancelScheduler := sched.Start(ctx)
		defer cancelScheduler()
	}

	if cfg.Gateways.HTTP == nil || !cfg.Gateways.HTTP.Enabled {
		return fmt.Errorf("http gateway is not enabled in config")
	}

	gwCfg := httpapi.Config{
		ListenAddr: cfg.Gateways.HTTP.Addr(),
		EnableDocs: cfg.Gateways.HTTP.EnableDocs,
		APIKeys:    cfg.Gateways.HTTP.APIKeyUserMapping,
	}
	if sc.Registry != nil {
		gwCfg.MetricsRegistry = sc.Registry
		gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
	}

	gateway := httpapi.NewGateway(gwCfg, sc.Engine, logger)

	// WebSocket event stream (optional), mounted on the same server.
	if cfg.Gateways.WebSocket != nil && cfg.Gateways.WebSocket.Enabled {
		wsServer := ws.NewServer(sc.Broker, cfg.Gateways.WebSocket, logger)
		gateway.WithHandler(cfg.Gateways.WebSocket.WSPath(), wsServer.Handler())
		logger.Debug("websocket event stream initialized",
			slog.String("path", cfg.Gateways.WebSocket.WSPath()),
		)
	}

	// Start the gateway and wait for signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gateway.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gateway.Stop(shutdownCtx)
}
