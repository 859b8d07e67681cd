// Package cli holds the spendperm command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/spendperm/server/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

func (o *RootOptions) load() (config.Config, error) {
	return config.Load(o.ConfigPath)
}

// NewRootCommand creates the root command for the spendperm CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "spendperm",
		Short: "Delegated spend permission server",
		Long: `spendperm keeps a registry of recurring spend permissions granted by
accounts to spenders, and executes spends that stay within each
permission's per-period allowance.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $SPENDPERM_CONFIG)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
