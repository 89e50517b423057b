// Projmetad is the project metadata daemon.
//
// It serves per-project settings, resource properties, data sources,
// and tasks over an HTTP API, persisting everything to each project's
// metadata directory.
//
// Usage:
//
//	# Start with defaults
//	projmetad
//
//	# Configure via file or environment
//	projmetad -config ~/.config/projmeta/config.yaml
//	SERVER_PORT=9700 STORE_FLUSH_DELAY=250ms projmetad
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/config"
	"github.com/fyrsmithlabs/projmeta/internal/http"
	"github.com/fyrsmithlabs/projmeta/internal/logging"
	"github.com/fyrsmithlabs/projmeta/internal/telemetry"
	"github.com/fyrsmithlabs/projmeta/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  projmetad           Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  projmetad version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("projmetad by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting projmetad",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("flush_delay", cfg.Store.FlushDelay.Duration()),
		zap.Bool("telemetry", tel.IsEnabled()))

	ws, err := workspace.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := ws.Start(ctx); err != nil {
		return fmt.Errorf("failed to start resource watcher: %w", err)
	}

	srv, err := http.NewServer(ws, logger, &http.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	srv.Use(http.NewMetrics(logger).Middleware())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := ws.Close(); err != nil {
		logger.Error(shutdownCtx, "workspace close failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	return nil
}

// newLogger builds the process logger from daemon config. When telemetry
// export is enabled, log records are bridged to its log provider as well.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Format = cfg.Logging.Format
	logCfg.Output.OTEL = tel.IsEnabled()

	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	logCfg.Level = level

	return logging.NewLogger(logCfg, tel.LoggerProvider())
}
