package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/config"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/runner"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "preview",
	Short: "Loan sizing and route previews for band lending markets",

	// SilenceUsage is an option to silence usage when an error occurs.
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config and builds the runner.
func setup(ctx context.Context, logToFile bool) (*runner.Runner, *config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	// Initialize logger
	logger := setupLogger(cfg.App.LogLevel, logToFile)
	logger.Info("Config loaded successfully",
		"configPath", configPath,
		"app", cfg.App.Name,
		"markets", len(cfg.Markets),
		"domains", len(cfg.Signer.Domains))

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create runner", "error", err)
		return nil, nil, nil, err
	}
	return r, cfg, logger, nil
}

// setupLogger initializes the logger
func setupLogger(level string, logToFile bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	// One-shot commands keep stdout for their output
	if !logToFile {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	// Create logs directory
	if err := os.MkdirAll("logs", 0755); err != nil {
		slog.Error("Failed to create logs directory", "error", err)
	}

	// Open log file
	logFile, err := os.OpenFile("logs/preview.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("Failed to open log file", "error", err)
		// Fallback to stdout
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}

	// Output to both file and stdout
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	return slog.New(slog.NewTextHandler(multiWriter, opts))
}
