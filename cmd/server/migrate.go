package main

import (
	"github.com/spf13/cobra"

	"dyntables/internal/config"
	"dyntables/internal/logger"
)

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the metadata schema",
	}
	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if down {
				err = s.MigrateDown()
			} else {
				err = s.Migrate()
			}
			if err != nil {
				return err
			}
			log.Info("migrations applied", "down", down)
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: run(false)},
		&cobra.Command{Use: "down", Short: "Roll back every migration", RunE: run(true)},
	)
	return cmd
}
