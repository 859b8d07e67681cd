package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// ComputeCycle returns the window of p containing now, with nothing spent.
// It depends only on (start, period, now). now must not be before start.
func ComputeCycle(p types.Permission, now uint64) types.Cycle {
	elapsed := now - p.Start
	start := p.Start + (elapsed/p.Period)*p.Period

	end := start + p.Period
	if end > types.MaxTimestamp || end < start {
		end = types.MaxTimestamp
	}
	return types.Cycle{Start: start, End: end, Spent: new(big.Int)}
}

// GetCurrentCycle returns the usage of the window containing now.
func (r *Registry) GetCurrentCycle(ctx context.Context, p types.Permission) (types.Cycle, error) {
	if err := r.ValidatePermission(p); err != nil {
		return types.Cycle{}, err
	}
	id := r.Hash(p)
	now := r.now()

	var c types.Cycle
	err := r.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = r.currentCycle(ctx, tx, id, p, now)
		return err
	})
	return c, err
}

func (r *Registry) currentCycle(ctx context.Context, tx store.Tx, id common.Hash, p types.Permission, now uint64) (types.Cycle, error) {
	if err := checkLifetime(p, now); err != nil {
		return types.Cycle{}, err
	}

	stored, ok, err := tx.Cycle(ctx, id, p.Account)
	if err != nil {
		return types.Cycle{}, err
	}
	if ok && stored.Contains(now) {
		if stored.Spent == nil {
			stored.Spent = new(big.Int)
		}
		return stored, nil
	}
	return ComputeCycle(p, now), nil
}

// useAllowance adds amount to the current cycle of p. Runs inside the
// attempt's transaction so a later failure voids it.
func (r *Registry) useAllowance(ctx context.Context, tx store.Tx, id common.Hash, p types.Permission, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrValueOutOfRange)
	}

	st, err := tx.PermissionState(ctx, id, p.Account)
	if err != nil {
		return err
	}
	if !st.Authorized() {
		return ErrUnauthorizedPermission
	}

	now := r.now()
	c, err := r.currentCycle(ctx, tx, id, p, now)
	if err != nil {
		return err
	}

	total := new(big.Int).Add(c.Spent, amount)
	if total.Cmp(types.MaxAmount) > 0 {
		return fmt.Errorf("%w: spent=%s amount=%s", ErrAmountOverflow, c.Spent, amount)
	}
	if total.Cmp(p.CapOrZero()) > 0 {
		return fmt.Errorf("%w: attempted %s, cap %s", ErrExceededAllowance, total, p.CapOrZero())
	}

	c.Spent = total
	if err := tx.PutCycle(ctx, id, p.Account, c, p.End); err != nil {
		return err
	}
	return tx.AppendEvent(ctx, store.EventRecord{
		Kind:           store.EventUsed,
		PermissionHash: id,
		Account:        p.Account,
		Spender:        p.Spender,
		CycleStart:     c.Start,
		CycleEnd:       c.End,
		Amount:         new(big.Int).Set(amount),
		RecordedAt:     r.clock.Now(),
	})
}

// checkLifetime enforces start <= now <= end.
func checkLifetime(p types.Permission, now uint64) error {
	if now < p.Start {
		return fmt.Errorf("%w: now=%d start=%d", ErrBeforeWindowStart, now, p.Start)
	}
	if now > p.End {
		return fmt.Errorf("%w: now=%d end=%d", ErrAfterWindowEnd, now, p.End)
	}
	return nil
}

func (r *Registry) now() uint64 {
	return clock.UnixNow(r.clock)
}
