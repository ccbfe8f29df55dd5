package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mentorline/internal/app"
	"mentorline/internal/config"
	"mentorline/internal/logging"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(ctx context.Context, args []string, stderr io.Writer) error {
	// STEP 1: Parse flags; the config file is optional
	flags := flag.NewFlagSet("mentorline", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv("MENTORLINE_CONFIG_FILE"), "path to a YAML, JSON or TOML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// STEP 2: Load configuration with precedence (env > file > defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// STEP 3: Create application with configuration
	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 4: Start serving
	if err := application.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 5: Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown requested", zap.Error(context.Cause(ctx)))

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
