package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
)

// consumeCallerProof marks the caller proof carried by ctx as used inside
// tx, so the operation and the consumption commit or roll back together.
// In-process calls carry no proof and pass through.
func consumeCallerProof(ctx context.Context, tx store.Tx, now time.Time) error {
	p, ok := callerauth.ProofFromContext(ctx)
	if !ok {
		return nil
	}
	fresh, err := tx.ConsumeCallerProof(ctx, store.CallerProof{
		Digest:     p.Digest,
		Caller:     p.Caller,
		ExpiresAt:  p.Expires,
		ConsumedAt: now,
	})
	if err != nil {
		return err
	}
	if !fresh {
		return callerauth.ErrReplayed
	}
	return nil
}
