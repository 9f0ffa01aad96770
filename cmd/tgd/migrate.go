package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alfredjeanlab/tracegate/internal/config"
	"github.com/alfredjeanlab/tracegate/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Apply pending database migrations",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if cfg.Store != config.StorePostgres {
			return errors.New("migrate needs TRACEGATE_STORE=postgres")
		}
		version, err := postgres.Migrate(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		logger.Info("database migrated", zap.Uint("version", version))
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}
