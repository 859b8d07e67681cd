package policy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

const TransferName = "transfer"

// TransferConfig constrains single spends. Every field is optional.
type TransferConfig struct {
	MaxPerCall      *big.Int         `cbor:"1,keyasint,omitempty"`
	Recipients      []common.Address `cbor:"2,keyasint,omitempty"`
	RequireOverseer bool             `cbor:"3,keyasint,omitempty"`
}

// Transfer is the default policy: one transfer of the resource to a
// non-zero recipient.
type Transfer struct{}

func (Transfer) config(raw []byte) (TransferConfig, error) {
	var cfg TransferConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return TransferConfig{}, err
	}
	return cfg, nil
}

func (t Transfer) CheckConfig(raw []byte) error {
	cfg, err := t.config(raw)
	if err != nil {
		return err
	}
	if cfg.MaxPerCall != nil && cfg.MaxPerCall.Sign() <= 0 {
		return violationConfig("max_per_call must be positive")
	}
	return nil
}

func (t Transfer) RequiresSecondFactor(raw []byte) (bool, error) {
	cfg, err := t.config(raw)
	if err != nil {
		return false, err
	}
	return cfg.RequireOverseer, nil
}

func (t Transfer) Validate(_ context.Context, raw []byte, action types.Action) error {
	cfg, err := t.config(raw)
	if err != nil {
		return err
	}
	if action.Kind != types.ActionSpend {
		return violation("transfer policy only allows single spends, got %s", action.Kind)
	}
	if action.Recipient == (common.Address{}) {
		return violation("recipient is the zero address")
	}
	if cfg.MaxPerCall != nil && action.Amount != nil && action.Amount.Cmp(cfg.MaxPerCall) > 0 {
		return violation("amount %s exceeds per-call maximum %s", action.Amount, cfg.MaxPerCall)
	}
	if len(cfg.Recipients) > 0 && !containsAddress(cfg.Recipients, action.Recipient) {
		return violation("recipient %s is not allow-listed", action.Recipient.Hex())
	}
	return nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
