package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"departureboard/internal/config"
	"departureboard/internal/logging"
)

var version = "dev"

var (
	logger *slog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "departureboard",
	Short:        "Departure board backend for MVG stops",
	Long:         "Polls the MVG departure feed for one stop, keeps a filtered cache of upcoming departures and serves it over HTTP and websockets.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.NewStructuredLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	return nil
}
