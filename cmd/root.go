package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/config"
	"github.com/kozaktomas/faceauth/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "faceauth",
	Short: "Face verification login service",
	Long: `faceauth verifies a person's face against enrolled templates.

It serves a login API (password or face), runs live-capture verification
sessions from the command line and manages the template store.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig loads configuration and builds the logger for a command.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Face.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid face configuration: %w", err)
	}
	return cfg, logging.MustNew(cfg.Log.Level, cfg.Log.Format), nil
}
