package service_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store/memory"
)

var (
	overseerA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	overseerB = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

func TestOverseer_OwnerOnly(t *testing.T) {
	svc := service.NewOverseerService(memory.New(), owner, silentLogger())
	ctx := context.Background()

	_, err := svc.SetPending(ctx, overseerA, overseerB)
	require.ErrorIs(t, err, service.ErrNotOwner)
	_, err = svc.ResetPending(ctx, overseerA)
	require.ErrorIs(t, err, service.ErrNotOwner)
	_, err = svc.Promote(ctx, overseerA, overseerB)
	require.ErrorIs(t, err, service.ErrNotOwner)
}

func TestOverseer_TwoStepRotation(t *testing.T) {
	svc := service.NewOverseerService(memory.New(), owner, silentLogger())
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx, overseerA))

	st, err := svc.SetPending(ctx, owner, overseerB)
	require.NoError(t, err)
	assert.Equal(t, overseerA, st.Current)
	assert.Equal(t, overseerB, st.Pending)
	assert.True(t, st.Valid(overseerA))
	assert.True(t, st.Valid(overseerB))

	_, err = svc.Promote(ctx, owner, overseerA)
	require.ErrorIs(t, err, service.ErrPendingMismatch)

	st, err = svc.Promote(ctx, owner, overseerB)
	require.NoError(t, err)
	assert.Equal(t, overseerB, st.Current)
	assert.Equal(t, common.Address{}, st.Pending)
	assert.False(t, st.Valid(overseerA))

	got, err := svc.Overseer(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestOverseer_ResetPending(t *testing.T) {
	svc := service.NewOverseerService(memory.New(), owner, silentLogger())
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx, overseerA))

	_, err := svc.SetPending(ctx, owner, overseerB)
	require.NoError(t, err)
	st, err := svc.ResetPending(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, st.Pending)

	_, err = svc.Promote(ctx, owner, common.Address{})
	require.ErrorIs(t, err, service.ErrPendingMismatch)
}

func TestOverseer_Validation(t *testing.T) {
	svc := service.NewOverseerService(memory.New(), owner, silentLogger())
	ctx := context.Background()

	_, err := svc.SetPending(ctx, owner, common.Address{})
	require.ErrorIs(t, err, service.ErrZeroOverseer)

	// Bootstrap never replaces an existing overseer.
	require.NoError(t, svc.Bootstrap(ctx, overseerA))
	require.NoError(t, svc.Bootstrap(ctx, overseerB))
	st, err := svc.Overseer(ctx)
	require.NoError(t, err)
	assert.Equal(t, overseerA, st.Current)
}
