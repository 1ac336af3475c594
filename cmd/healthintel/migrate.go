package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"healthintel.local/gateway/internal/config"
	"healthintel.local/gateway/internal/db"
	"healthintel.local/gateway/internal/session"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the session tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.GatewayFromYAMLAndEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if cfg.DBDriver == db.DriverMemory {
				return fmt.Errorf("db_driver is memory; nothing to migrate")
			}

			store, err := session.NewGormStore(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s session store\n", cfg.DBDriver)
			return nil
		},
	}
}
