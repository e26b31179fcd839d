// Command tempdesk runs the drop-folder lifecycle service: it watches a
// storage folder, sweeps expired entries on a schedule and exposes the
// store over a local HTTP API for the desktop shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/tempdesk/config"
	"github.com/wolfeidau/tempdesk/server"
	"github.com/wolfeidau/tempdesk/telemetry"
)

var version = "dev"

var cli struct {
	Address      string           `help:"Address to listen on." default:"127.0.0.1:8321"`
	Config       string           `help:"Path to the settings file." type:"path"`
	Folder       string           `help:"Override the storage folder from the settings file." type:"path"`
	AuthToken    string           `help:"Require this Bearer token on API requests." env:"TEMPDESK_AUTH_TOKEN"`
	OTLPEndpoint string           `help:"OTLP gRPC endpoint for metrics export."`
	Prometheus   bool             `help:"Serve Prometheus metrics on /metrics."`
	LogLevel     string           `help:"Log level (debug, info, warn, error)." enum:"debug,info,warn,error" default:"info"`
	LogFormat    string           `help:"Log format (text, json)." enum:"text,json" default:"text"`
	Version      kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("tempdesk"),
		kong.Description("Lifecycle manager for a self-cleaning drop folder."),
		kong.Vars{"version": version},
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := buildLogger()
	slog.SetDefault(logger)

	configPath := cli.Config
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	appCfg := config.Load(configPath, logger)
	if cli.Folder != "" {
		appCfg.StorageFolder = cli.Folder
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "tempdesk",
		ServiceVersion:   version,
		OTLPEndpoint:     cli.OTLPEndpoint,
		EnablePrometheus: cli.Prometheus,
	})
	if err != nil {
		// Metrics are advisory; the service runs without them.
		logger.Warn("metrics disabled", "error", err)
		shutdownMetrics = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownMetrics(flushCtx)
	}()

	srv, err := server.New(server.Config{
		Address:    cli.Address,
		ConfigPath: configPath,
		AuthToken:  cli.AuthToken,
		Logger:     logger,
	}, appCfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("tempdesk started",
		"version", version,
		"address", srv.Address(),
		"folder", appCfg.StorageFolder,
		"retention", appCfg.Retention,
		"delete_on_expire", appCfg.DeleteOnExpire,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger() *slog.Logger {
	var level slog.Level
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	switch cli.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler)
}
