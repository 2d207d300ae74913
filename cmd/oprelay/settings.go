package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/oprelay/internal/settings"
)

func newSettingsCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or edit the backend connection settings",
	}
	cmd.PersistentFlags().StringVar(&path, "settings", "", "Settings store (default is SETTINGS_PATH)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the settings the relay would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			if path == "" {
				path = cfg.Settings.Path
			}
			store, closeStore, err := settings.Open(path, cfg.BackendSettings())
			if err != nil {
				return err
			}
			defer closeStore()

			s, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if s.PersonalToken != "" {
				s.PersonalToken = "********"
			}
			out, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	set := &cobra.Command{
		Use:   "set key=value...",
		Short: "Update a bbolt settings store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			if path == "" {
				path = cfg.Settings.Path
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".db", ".bolt":
			default:
				return errors.New("settings set needs a .db store; edit TOML or YAML files directly")
			}

			store, err := settings.OpenBolt(path)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.SaveIfEmpty(cmd.Context(), cfg.BackendSettings()); err != nil {
				return err
			}
			s, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				if err := s.Set(key, value); err != nil {
					return err
				}
			}
			if err := s.Validate(); err != nil {
				return err
			}
			return store.Save(cmd.Context(), s)
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}
