package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/config"
	"github.com/GriffinCanCode/oprelay/internal/server"
)

type serveFlags struct {
	port         string
	host         string
	transport    string
	backendHost  string
	backendPort  int
	settingsPath string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			f.apply(cmd, cfg)
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&f.port, "port", "", "Server port")
	cmd.Flags().StringVar(&f.host, "host", "", "Server bind address")
	cmd.Flags().StringVar(&f.transport, "transport", "", "Backend transport (http, native, websocket)")
	cmd.Flags().StringVar(&f.backendHost, "backend-host", "", "Backend host")
	cmd.Flags().IntVar(&f.backendPort, "backend-port", 0, "Backend port")
	cmd.Flags().StringVar(&f.settingsPath, "settings", "", "Settings store (.db, .toml or .yaml)")
	return cmd
}

// apply overrides env values with the flags that were set.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = f.port
	}
	if flags.Changed("host") {
		cfg.Server.Host = f.host
	}
	if flags.Changed("transport") {
		cfg.Backend.Transport = f.transport
	}
	if flags.Changed("backend-host") {
		cfg.Backend.Host = f.backendHost
	}
	if flags.Changed("backend-port") {
		cfg.Backend.Port = f.backendPort
	}
	if flags.Changed("settings") {
		cfg.Settings.Path = f.settingsPath
	}
}

func runServe(cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Server error", zap.Error(runErr))
	} else {
		logger.Info("Shutting down gracefully...")
	}
	if err := srv.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
