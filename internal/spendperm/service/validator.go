package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// attempt is one use of a permission, built fresh for every request and
// never persisted.
type attempt struct {
	permission     types.Permission
	permissionHash *common.Hash
	account        *common.Address

	// caller is set for direct requests, nil for signature-authorized ones.
	caller *common.Address

	requestHash common.Hash
	action      types.Action

	approvalSig []byte
	signerSig   []byte
	overseerSig []byte
}

// validator walks an attempt through the ordered checks:
//
//	fields → time → not revoked → approved → signer → [overseer] → policy
//
// followed by the replay check for signature-authorized requests. The first failing check ends the attempt.
// Everything runs inside the caller's ledger transaction, so a
// just-in-time approval is undone along with any later failure.
type validator struct {
	registry *Registry
}

func (v validator) authorize(ctx context.Context, tx store.Tx, a attempt) (common.Hash, error) {
	p := a.permission
	r := v.registry

	// Fields.
	if err := r.ValidatePermission(p); err != nil {
		return common.Hash{}, err
	}
	if a.account != nil && *a.account != p.Account {
		return common.Hash{}, ErrAccountMismatch
	}
	id := r.Hash(p)
	if a.permissionHash != nil && *a.permissionHash != id {
		return common.Hash{}, fmt.Errorf("%w: got %s, computed %s", ErrPermissionHashMismatch, a.permissionHash.Hex(), id.Hex())
	}
	if a.caller != nil && *a.caller != p.Spender {
		return common.Hash{}, fmt.Errorf("%w: caller %s is not the spender", ErrInvalidSender, a.caller.Hex())
	}

	// Time.
	if err := checkLifetime(p, r.now()); err != nil {
		return common.Hash{}, err
	}

	// Revocation, then approval (possibly just in time).
	st, err := tx.PermissionState(ctx, id, p.Account)
	if err != nil {
		return common.Hash{}, err
	}
	if st.Revoked {
		return common.Hash{}, ErrPermissionRevoked
	}
	if !st.Approved {
		if len(a.approvalSig) == 0 {
			return common.Hash{}, ErrPermissionNotApproved
		}
		if err := r.checkApprovalSignature(ctx, id, p, a.approvalSig); err != nil {
			return common.Hash{}, err
		}
		if _, err := r.approve(ctx, tx, id, p); err != nil {
			return common.Hash{}, err
		}
	}

	if err := v.proveSigner(ctx, a); err != nil {
		return common.Hash{}, err
	}
	if err := v.proveOverseer(ctx, tx, a); err != nil {
		return common.Hash{}, err
	}

	// Policy.
	pol, err := r.policies.Lookup(p.PolicyName())
	if err != nil {
		return common.Hash{}, err
	}
	action := a.action
	action.PermissionHash = id
	if err := pol.Validate(ctx, p.PolicyConfig, action); err != nil {
		return common.Hash{}, err
	}

	// Replay. Only signature-authorized requests are single use; a direct
	// call is authorized by the spender's own caller proof each time.
	if a.caller == nil {
		fresh, err := tx.ConsumeRequest(ctx, store.ConsumedRequest{
			RequestHash:    a.requestHash,
			PermissionHash: id,
			Account:        p.Account,
			PermissionEnd:  p.End,
			ConsumedAt:     r.clock.Now(),
		})
		if err != nil {
			return common.Hash{}, err
		}
		if !fresh {
			return common.Hash{}, fmt.Errorf("%w: %s", ErrRequestReplayed, a.requestHash.Hex())
		}
	}

	return id, nil
}

// proveSigner accepts a direct call from the spender when the spender is
// also the signer. Anything else needs the signer's proof over the request
// hash.
func (v validator) proveSigner(ctx context.Context, a attempt) error {
	p := a.permission

	identity := p.Signer
	if len(identity) == 0 {
		identity = signature.ForAddress(p.Spender)
	}
	id, err := signature.DecodeIdentity(identity)
	if err != nil {
		return err
	}

	if a.caller != nil {
		if addr, ok := id.(signature.AddressIdentity); ok && addr.Address == *a.caller {
			return nil
		}
	}

	if len(a.signerSig) == 0 {
		return fmt.Errorf("%w: missing signer signature", ErrInvalidSignerProof)
	}
	ok, err := v.registry.verifier.Verify(ctx, a.requestHash, a.signerSig, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignerProof, err)
	}
	if !ok {
		return ErrInvalidSignerProof
	}
	return nil
}

// proveOverseer checks the second factor when the policy asks for one.
// Both the current and the pending overseer are accepted.
func (v validator) proveOverseer(ctx context.Context, tx store.Tx, a attempt) error {
	p := a.permission
	need, err := v.registry.policies.RequiresSecondFactor(p.PolicyName(), p.PolicyConfig)
	if err != nil {
		return err
	}
	if !need {
		return nil
	}
	if len(a.overseerSig) == 0 {
		return fmt.Errorf("%w: missing overseer signature", ErrInvalidOverseerProof)
	}

	st, err := tx.Overseer(ctx)
	if err != nil {
		return err
	}
	for _, addr := range []common.Address{st.Current, st.Pending} {
		if !st.Valid(addr) {
			continue
		}
		ok, err := v.registry.verifier.VerifyAddress(ctx, a.requestHash, a.overseerSig, addr)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOverseerProof, err)
		}
		if ok {
			return nil
		}
	}
	return ErrInvalidOverseerProof
}
