package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/config"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
)

var (
	// Global flags
	dev      bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "oprelay",
	Short: "Relay host between page-embedded objects and a local backend",
	Long: `oprelay carries requests from embedded objects on a page to a local
backend process and routes the responses back:
  • Page sessions over websocket, one context bridge each
  • HTTP, websocket or native-messaging backend transports
  • Optional Triple DES envelope with per-session keys`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "Development mode (colored logs, debug level)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(),
		newProbeCmd(),
		newSettingsCmd(),
	)
}

// loadConfig reads the environment and applies the global flags.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.LoadOrDefault()
	if cmd.Flags().Changed("dev") {
		cfg.Logging.Development = dev
	}
	return cfg
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	} else {
		logCfg.Level = cfg.Logging.Level
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	return logging.New(logCfg)
}
