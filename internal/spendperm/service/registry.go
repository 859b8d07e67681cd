package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/permhash"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/policy"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// Registry holds the approved/revoked state of permissions and their
// per-cycle usage. State is keyed by (permission hash, account) only.
type Registry struct {
	domain   types.Domain
	ledger   store.Ledger
	verifier *signature.Verifier
	policies *policy.Registry
	clock    clock.Clock
}

func NewRegistry(domain types.Domain, ledger store.Ledger, verifier *signature.Verifier, policies *policy.Registry, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		domain:   domain,
		ledger:   ledger,
		verifier: verifier,
		policies: policies,
		clock:    clk,
	}
}

func (r *Registry) Domain() types.Domain { return r.domain }

// Hash returns the identifier of p in this engine's domain.
func (r *Registry) Hash(p types.Permission) common.Hash {
	return permhash.Hash(r.domain, p)
}

// Approve marks p approved. Only the account itself may call it. Returns
// false, without error, for a revoked permission.
func (r *Registry) Approve(ctx context.Context, caller common.Address, p types.Permission) (bool, error) {
	if err := r.ValidatePermission(p); err != nil {
		return false, err
	}
	if caller != p.Account {
		return false, fmt.Errorf("%w: approve must be called by the account", ErrInvalidSender)
	}

	var ok bool
	err := r.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := consumeCallerProof(ctx, tx, r.clock.Now()); err != nil {
			return err
		}
		var err error
		ok, err = r.approve(ctx, tx, r.Hash(p), p)
		return err
	})
	return ok, err
}

// ApproveWithSignature approves p on behalf of its account, given the
// account's signature over the permission hash.
func (r *Registry) ApproveWithSignature(ctx context.Context, p types.Permission, sig []byte) (bool, error) {
	if err := r.ValidatePermission(p); err != nil {
		return false, err
	}
	id := r.Hash(p)
	if err := r.checkApprovalSignature(ctx, id, p, sig); err != nil {
		return false, err
	}

	var ok bool
	err := r.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = r.approve(ctx, tx, id, p)
		return err
	})
	return ok, err
}

// Revoke permanently disables p. Revoking a permission that was never
// approved blocks any later approval.
func (r *Registry) Revoke(ctx context.Context, caller common.Address, p types.Permission) error {
	if err := checkRanges(p); err != nil {
		return err
	}
	if caller != p.Account {
		return fmt.Errorf("%w: revoke must be called by the account", ErrInvalidSender)
	}

	id := r.Hash(p)
	return r.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := consumeCallerProof(ctx, tx, r.clock.Now()); err != nil {
			return err
		}
		st, err := tx.PermissionState(ctx, id, p.Account)
		if err != nil {
			return err
		}
		if st.Revoked {
			return nil
		}
		st.Revoked = true
		if err := tx.PutPermissionState(ctx, id, p.Account, st); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, store.EventRecord{
			Kind:           store.EventRevoked,
			PermissionHash: id,
			Account:        p.Account,
			Spender:        p.Spender,
			RecordedAt:     r.clock.Now(),
		})
	})
}

// IsAuthorized reports approved && !revoked for p.
func (r *Registry) IsAuthorized(ctx context.Context, p types.Permission) (bool, error) {
	if err := checkRanges(p); err != nil {
		return false, err
	}
	id := r.Hash(p)

	var st types.PermissionState
	err := r.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		st, err = tx.PermissionState(ctx, id, p.Account)
		return err
	})
	return st.Authorized(), err
}

// Events returns the audit trail of one permission for one account.
func (r *Registry) Events(ctx context.Context, id common.Hash, account common.Address) ([]store.EventRecord, error) {
	return r.ledger.Events(ctx, id, account)
}

// ValidatePermission checks the invariants every approved permission must
// satisfy.
func (r *Registry) ValidatePermission(p types.Permission) error {
	if err := checkRanges(p); err != nil {
		return err
	}
	if p.Start >= p.End {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidTimeRange, p.Start, p.End)
	}
	if p.Period == 0 {
		return ErrZeroPeriod
	}
	if p.CapOrZero().Sign() == 0 {
		return ErrZeroCap
	}
	if len(p.Signer) > 0 {
		if _, err := signature.DecodeIdentity(p.Signer); err != nil {
			return err
		}
	}
	return r.policies.CheckConfig(p.PolicyName(), p.PolicyConfig)
}

// approve runs inside a ledger transaction. Revoked permissions stay dead;
// an already approved one is left as is.
func (r *Registry) approve(ctx context.Context, tx store.Tx, id common.Hash, p types.Permission) (bool, error) {
	st, err := tx.PermissionState(ctx, id, p.Account)
	if err != nil {
		return false, err
	}
	if st.Revoked {
		return false, nil
	}
	if st.Approved {
		return true, nil
	}

	st.Approved = true
	if err := tx.PutPermissionState(ctx, id, p.Account, st); err != nil {
		return false, err
	}
	if err := tx.AppendEvent(ctx, store.EventRecord{
		Kind:           store.EventApproved,
		PermissionHash: id,
		Account:        p.Account,
		Spender:        p.Spender,
		RecordedAt:     r.clock.Now(),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) checkApprovalSignature(ctx context.Context, id common.Hash, p types.Permission, sig []byte) error {
	ok, err := r.verifier.VerifyAddress(ctx, id, sig, p.Account)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invalid approval signature", ErrUnauthorizedPermission)
	}
	return nil
}

// checkRanges bounds every field to the width it is hashed with.
func checkRanges(p types.Permission) error {
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"start", p.Start},
		{"end", p.End},
		{"period", p.Period},
	} {
		if f.v > types.MaxTimestamp {
			return fmt.Errorf("%w: %s exceeds 48 bits", ErrValueOutOfRange, f.name)
		}
	}
	if err := checkUint("cap", p.Cap, types.MaxAmount); err != nil {
		return err
	}
	return checkUint("salt", p.Salt, types.MaxSalt)
}

func checkUint(name string, v, limit *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 || v.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s", ErrValueOutOfRange, name)
	}
	return nil
}
