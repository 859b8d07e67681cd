package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/calldata"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/permhash"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// SpendResult describes an accepted spend.
type SpendResult struct {
	PermissionHash common.Hash
	RequestHash    common.Hash
	Cycle          types.Cycle
	Results        [][]byte
}

// SpendService turns authorized requests into dispatched calls. Each
// request is one ledger transaction: validation, accounting, replay
// protection, audit events and the dispatch itself either all happen or
// none do.
type SpendService struct {
	registry   *Registry
	ledger     store.Ledger
	dispatcher dispatch.Dispatcher
}

func NewSpendService(reg *Registry, ledger store.Ledger, d dispatch.Dispatcher) *SpendService {
	return &SpendService{registry: reg, ledger: ledger, dispatcher: d}
}

// Spend is called directly by the spender.
func (s *SpendService) Spend(ctx context.Context, caller common.Address, req types.SpendRequest) (SpendResult, error) {
	return s.spend(ctx, &caller, req)
}

// SpendWithSignature may be relayed by anyone; the signer's proof stands in
// for the caller.
func (s *SpendService) SpendWithSignature(ctx context.Context, req types.SpendRequest) (SpendResult, error) {
	return s.spend(ctx, nil, req)
}

// SpendBatch runs a call batch for the spender.
func (s *SpendService) SpendBatch(ctx context.Context, caller common.Address, req types.BatchRequest) (SpendResult, error) {
	return s.spendBatch(ctx, &caller, req)
}

func (s *SpendService) SpendBatchWithSignature(ctx context.Context, req types.BatchRequest) (SpendResult, error) {
	return s.spendBatch(ctx, nil, req)
}

// TransferCall builds the call that moves amount of p's resource to
// recipient: a value transfer for the native asset, a token transfer
// otherwise.
func TransferCall(p types.Permission, recipient common.Address, amount *big.Int) (types.Call, error) {
	if p.Resource == types.NativeToken {
		return types.Call{Target: recipient, Value: new(big.Int).Set(amount)}, nil
	}
	data, err := calldata.Transfer(recipient, amount)
	if err != nil {
		return types.Call{}, err
	}
	return types.Call{Target: p.Resource, Value: new(big.Int), Data: data}, nil
}

// SpendRequestHash is the digest a signer or overseer signs for req.
func (s *SpendService) SpendRequestHash(req types.SpendRequest) (common.Hash, error) {
	amount, err := requestAmount(req.Amount)
	if err != nil {
		return common.Hash{}, err
	}
	call, err := TransferCall(req.Permission, req.Recipient, amount)
	if err != nil {
		return common.Hash{}, err
	}
	d := s.registry.Domain()
	return permhash.SpendRequestHash(d, permhash.Hash(d, req.Permission), call.Target, req.Recipient, amount, req.Nonce), nil
}

// BatchRequestHash is the digest a signer or overseer signs for req.
func (s *SpendService) BatchRequestHash(req types.BatchRequest) common.Hash {
	d := s.registry.Domain()
	return permhash.BatchRequestHash(d, permhash.Hash(d, req.Permission), req.Calls, req.Nonce)
}

func (s *SpendService) spend(ctx context.Context, caller *common.Address, req types.SpendRequest) (SpendResult, error) {
	p := req.Permission
	amount, err := requestAmount(req.Amount)
	if err != nil {
		return SpendResult{}, err
	}
	if err := checkUint("nonce", req.Nonce, types.MaxSalt); err != nil {
		return SpendResult{}, err
	}
	call, err := TransferCall(p, req.Recipient, amount)
	if err != nil {
		return SpendResult{}, err
	}
	requestHash, err := s.SpendRequestHash(req)
	if err != nil {
		return SpendResult{}, err
	}

	a := attempt{
		permission:     p,
		permissionHash: req.PermissionHash,
		account:        req.Account,
		caller:         caller,
		requestHash:    requestHash,
		action: types.Action{
			Kind:      types.ActionSpend,
			Engine:    s.registry.Domain().Engine,
			Account:   p.Account,
			Spender:   p.Spender,
			Resource:  p.Resource,
			Recipient: req.Recipient,
			Amount:    amount,
			Calls:     []types.Call{call},
		},
		approvalSig: req.ApprovalSignature,
		signerSig:   req.SignerSignature,
		overseerSig: req.OverseerSignature,
	}

	var res SpendResult
	err = s.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := consumeCallerProof(ctx, tx, s.registry.clock.Now()); err != nil {
			return err
		}
		id, err := validator{registry: s.registry}.authorize(ctx, tx, a)
		if err != nil {
			return err
		}
		if err := s.registry.useAllowance(ctx, tx, id, p, amount); err != nil {
			return err
		}
		c, err := s.registry.currentCycle(ctx, tx, id, p, s.registry.now())
		if err != nil {
			return err
		}

		out, err := s.dispatcher.Execute(ctx, p.Account, call)
		if err != nil {
			return err
		}
		res = SpendResult{PermissionHash: id, RequestHash: requestHash, Cycle: c, Results: [][]byte{out}}
		return nil
	})
	if err != nil {
		return SpendResult{}, err
	}
	return res, nil
}

func (s *SpendService) spendBatch(ctx context.Context, caller *common.Address, req types.BatchRequest) (SpendResult, error) {
	p := req.Permission
	if len(req.Calls) == 0 {
		return SpendResult{}, fmt.Errorf("%w: empty batch", ErrSpendNotRegistered)
	}
	engine := s.registry.Domain().Engine
	if req.Calls[len(req.Calls)-1].Target != engine {
		return SpendResult{}, fmt.Errorf("%w: last call must target the engine", ErrSpendNotRegistered)
	}
	if err := checkUint("nonce", req.Nonce, types.MaxSalt); err != nil {
		return SpendResult{}, err
	}
	total := new(big.Int)
	for i, c := range req.Calls {
		if err := checkUint(fmt.Sprintf("calls[%d].value", i), c.Value, types.MaxSalt); err != nil {
			return SpendResult{}, err
		}
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}
	requestHash := s.BatchRequestHash(req)

	a := attempt{
		permission:     p,
		permissionHash: req.PermissionHash,
		account:        req.Account,
		caller:         caller,
		requestHash:    requestHash,
		action: types.Action{
			Kind:     types.ActionBatch,
			Engine:   engine,
			Account:  p.Account,
			Spender:  p.Spender,
			Resource: p.Resource,
			Amount:   total,
			Calls:    req.Calls,
		},
		approvalSig: req.ApprovalSignature,
		signerSig:   req.SignerSignature,
		overseerSig: req.OverseerSignature,
	}

	var res SpendResult
	err := s.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := consumeCallerProof(ctx, tx, s.registry.clock.Now()); err != nil {
			return err
		}
		id, err := validator{registry: s.registry}.authorize(ctx, tx, a)
		if err != nil {
			return err
		}

		out, err := s.dispatcher.ExecuteBatch(ctx, dispatch.Batch{
			Account: p.Account,
			Engine:  engine,
			Calls:   req.Calls,
			OnSelfCall: func(ctx context.Context, data []byte) error {
				amount, err := calldata.DecodeUseAllowance(data)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrSpendNotRegistered, err)
				}
				return s.registry.useAllowance(ctx, tx, id, p, amount)
			},
		})
		if err != nil {
			return err
		}

		c, err := s.registry.currentCycle(ctx, tx, id, p, s.registry.now())
		if err != nil {
			return err
		}
		res = SpendResult{PermissionHash: id, RequestHash: requestHash, Cycle: c, Results: out}
		return nil
	})
	if err != nil {
		return SpendResult{}, err
	}
	return res, nil
}

func requestAmount(v *big.Int) (*big.Int, error) {
	if v == nil {
		return new(big.Int), nil
	}
	if err := checkUint("amount", v, types.MaxAmount); err != nil {
		return nil, err
	}
	return v, nil
}
