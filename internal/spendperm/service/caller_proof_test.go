package service_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

func withProof(caller common.Address, digest string) context.Context {
	return callerauth.WithProof(context.Background(), callerauth.Proof{
		Caller:  caller,
		Digest:  common.HexToHash(digest),
		Expires: 1060,
	})
}

func TestCallerProof_OwnerCommandCannotBeReplayedAfterReset(t *testing.T) {
	f := newFixture(t)
	attacker := common.HexToAddress("0xbad")

	setCtx := withProof(owner, "0x01")
	_, err := f.overseers.SetPending(setCtx, owner, attacker)
	require.NoError(t, err)

	st, err := f.overseers.ResetPending(withProof(owner, "0x02"), owner)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, st.Pending)

	_, err = f.overseers.SetPending(setCtx, owner, attacker)
	require.ErrorIs(t, err, callerauth.ErrReplayed)

	st, err = f.overseers.Overseer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, st.Pending)
}

func TestCallerProof_FailedOperationLeavesProofUnused(t *testing.T) {
	f := newFixture(t)
	p := f.permission()
	ctx := withProof(f.spender.Address, "0x03")
	req := types.SpendRequest{Permission: p, Recipient: recipient, Amount: big.NewInt(10)}

	_, err := f.spends.Spend(ctx, f.spender.Address, req)
	require.ErrorIs(t, err, service.ErrPermissionNotApproved)

	f.approve(t, p)
	_, err = f.spends.Spend(ctx, f.spender.Address, req)
	require.NoError(t, err)

	_, err = f.spends.Spend(ctx, f.spender.Address, req)
	require.ErrorIs(t, err, callerauth.ErrReplayed)
	assert.Equal(t, int64(10), f.dispatcher.Balance(recipient).Int64())
}

func TestCallerProof_ConsumedByRegistryOperations(t *testing.T) {
	f := newFixture(t)
	p := f.permission()

	ctx := withProof(f.account.Address, "0x04")
	ok, err := f.registry.Approve(ctx, f.account.Address, p)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.registry.Approve(ctx, f.account.Address, p)
	require.ErrorIs(t, err, callerauth.ErrReplayed)

	require.ErrorIs(t, f.registry.Revoke(ctx, f.account.Address, p), callerauth.ErrReplayed)

	authorized, err := f.registry.IsAuthorized(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, authorized)
}
