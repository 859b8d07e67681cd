package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/spendperm/server/internal/db"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite migrations and report the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}

			// Open applies pending migrations.
			sqlDB, err := db.Open(cmd.Context(), db.Config{Path: cfg.DBPath, Env: cfg.Env})
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			version, err := db.CurrentVersion(cmd.Context(), sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.DBPath, version)
			return nil
		},
	}
}
