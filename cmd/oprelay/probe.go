package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/oprelay/internal/server"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

func newProbeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the backend heartbeat once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, closeStore, err := settings.Open(cfg.Settings.Path, cfg.BackendSettings())
			if err != nil {
				return err
			}
			defer closeStore()

			gw, err := server.NewGateway(cfg, logger.Component("gateway"))
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, err := store.Load(ctx)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := gw.Probe(ctx, s); err != nil {
				return fmt.Errorf("backend %s via %s: %w", s.Address(), gw.Kind(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend %s is up via %s (%s)\n", s.Address(), gw.Kind(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Probe timeout")
	return cmd
}
