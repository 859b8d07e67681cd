package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/spendperm/server/internal/api"
	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/config"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/policy"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store/memory"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// hashOps maps the hash command's kinds to the operations computing them.
var hashOps = map[string]string{
	"permission": "HashPermission",
	"spend":      "SpendRequestHash",
	"batch":      "BatchRequestHash",
}

// NewHashCommand creates the hash command. It computes the hashes a client
// signs without talking to a server.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Compute a permission or request hash offline",
		Long: `Reads a request body (the same JSON the HTTP API takes) from file or
stdin and prints the hash for the configured chain and engine.

Kinds: permission (PermissionRequest), spend (SpendRequest),
batch (BatchRequest).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			out, err := runHash(cmd, cfg, kind, body)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "permission", "what to hash (permission|spend|batch)")
	return cmd
}

func runHash(cmd *cobra.Command, cfg config.Config, kind string, body []byte) ([]byte, error) {
	name, ok := hashOps[kind]
	if !ok {
		return nil, fmt.Errorf("invalid kind %q: must be permission, spend or batch", kind)
	}
	o, err := api.Lookup(name)
	if err != nil {
		return nil, err
	}

	// Hashing reads nothing from state; a scratch in-memory backend serves.
	ledger := memory.New()
	domain := types.Domain{ChainID: cfg.ChainID, Engine: cfg.Engine()}
	reg := service.NewRegistry(domain, ledger, signature.NewVerifier(nil), policy.DefaultRegistry(), clock.Real())
	backend := &api.Backend{
		Registry: reg,
		Spends:   service.NewSpendService(reg, ledger, dispatch.NewMemory()),
	}

	res, err := o.Handle(cmd.Context(), backend, common.Address{}, bytes.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(res, "", "  ")
}
