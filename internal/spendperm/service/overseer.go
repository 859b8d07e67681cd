package service

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// OverseerService manages the second-factor signer. Rotation is two-step:
// the owner nominates a pending overseer, then promotes it. Until promotion
// both are accepted, so requests already signed by the outgoing overseer
// stay valid.
type OverseerService struct {
	ledger store.Ledger
	owner  common.Address
	logger *log.Logger
	clock  clock.Clock
}

func NewOverseerService(ledger store.Ledger, owner common.Address, logger *log.Logger) *OverseerService {
	return &OverseerService{ledger: ledger, owner: owner, logger: logger, clock: clock.Real()}
}

func (s *OverseerService) Overseer(ctx context.Context) (types.OverseerState, error) {
	var st types.OverseerState
	err := s.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		st, err = tx.Overseer(ctx)
		return err
	})
	return st, err
}

// Bootstrap installs addr as the current overseer if none is set yet.
func (s *OverseerService) Bootstrap(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return nil
	}
	return s.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.Overseer(ctx)
		if err != nil {
			return err
		}
		if st.Current != (common.Address{}) {
			return nil
		}
		st.Current = addr
		s.logger.Printf("overseer bootstrapped: %s", addr.Hex())
		return tx.PutOverseer(ctx, st)
	})
}

func (s *OverseerService) SetPending(ctx context.Context, caller, pending common.Address) (types.OverseerState, error) {
	if caller != s.owner {
		return types.OverseerState{}, ErrNotOwner
	}
	if pending == (common.Address{}) {
		return types.OverseerState{}, ErrZeroOverseer
	}
	return s.update(ctx, func(st *types.OverseerState) error {
		st.Pending = pending
		s.logger.Printf("overseer pending: %s", pending.Hex())
		return nil
	})
}

func (s *OverseerService) ResetPending(ctx context.Context, caller common.Address) (types.OverseerState, error) {
	if caller != s.owner {
		return types.OverseerState{}, ErrNotOwner
	}
	return s.update(ctx, func(st *types.OverseerState) error {
		st.Pending = common.Address{}
		return nil
	})
}

// Promote makes the pending overseer current. expected guards against
// promoting a nomination the owner did not intend.
func (s *OverseerService) Promote(ctx context.Context, caller, expected common.Address) (types.OverseerState, error) {
	if caller != s.owner {
		return types.OverseerState{}, ErrNotOwner
	}
	return s.update(ctx, func(st *types.OverseerState) error {
		if st.Pending == (common.Address{}) || st.Pending != expected {
			return ErrPendingMismatch
		}
		s.logger.Printf("overseer promoted: %s -> %s", st.Current.Hex(), st.Pending.Hex())
		st.Current = st.Pending
		st.Pending = common.Address{}
		return nil
	})
}

func (s *OverseerService) update(ctx context.Context, fn func(st *types.OverseerState) error) (types.OverseerState, error) {
	var out types.OverseerState
	err := s.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := consumeCallerProof(ctx, tx, s.clock.Now()); err != nil {
			return err
		}
		st, err := tx.Overseer(ctx)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		out = st
		return tx.PutOverseer(ctx, st)
	})
	if err != nil {
		return types.OverseerState{}, err
	}
	return out, nil
}
