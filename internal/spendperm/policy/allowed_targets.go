package policy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/calldata"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

const AllowedTargetsName = "allowed-targets"

// AllowedTargetsConfig lists the destinations a batch may call.
type AllowedTargetsConfig struct {
	Targets         []common.Address `cbor:"1,keyasint"`
	RequireOverseer bool             `cbor:"2,keyasint,omitempty"`
}

// AllowedTargets governs batches of native-asset calls. Every call except
// the last must hit an allow-listed destination, and the batch must end with
// a self-call useAllowance(sum of call values) so that the spend it performs
// is registered with the engine.
type AllowedTargets struct{}

func (AllowedTargets) config(raw []byte) (AllowedTargetsConfig, error) {
	var cfg AllowedTargetsConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return AllowedTargetsConfig{}, err
	}
	return cfg, nil
}

func (a AllowedTargets) CheckConfig(raw []byte) error {
	cfg, err := a.config(raw)
	if err != nil {
		return err
	}
	if len(cfg.Targets) == 0 {
		return violationConfig("targets must not be empty")
	}
	return nil
}

func (a AllowedTargets) RequiresSecondFactor(raw []byte) (bool, error) {
	cfg, err := a.config(raw)
	if err != nil {
		return false, err
	}
	return cfg.RequireOverseer, nil
}

func (a AllowedTargets) Validate(_ context.Context, raw []byte, action types.Action) error {
	cfg, err := a.config(raw)
	if err != nil {
		return err
	}
	if action.Kind != types.ActionBatch {
		return violation("allowed-targets policy only allows batches, got %s", action.Kind)
	}
	if action.Resource != types.NativeToken {
		return violation("allowed-targets policy only meters the native asset")
	}
	if len(action.Calls) == 0 {
		return violation("empty batch")
	}

	last := len(action.Calls) - 1
	total := new(big.Int)
	for i, c := range action.Calls[:last] {
		if c.Target == action.Engine {
			return violation("call %d targets the engine", i)
		}
		if !containsAddress(cfg.Targets, c.Target) {
			return violation("call %d target %s is not allow-listed", i, c.Target.Hex())
		}
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}

	final := action.Calls[last]
	if final.Target != action.Engine {
		return violation("batch must end with a call to the engine")
	}
	if final.Value != nil && final.Value.Sign() != 0 {
		return violation("registration call must not carry value")
	}
	registered, err := calldata.DecodeUseAllowance(final.Data)
	if err != nil {
		return violation("registration call: %v", err)
	}
	if registered.Cmp(total) != 0 {
		return violation("registered spend %s does not match call values %s", registered, total)
	}
	return nil
}
