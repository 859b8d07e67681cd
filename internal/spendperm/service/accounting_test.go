package service_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// ── Cycle computation ────────────────────────────────────────────────────────

func TestComputeCycle_WindowsAnchoredAtStart(t *testing.T) {
	p := types.Permission{Start: 1000, Period: 100}

	tests := []struct {
		now        uint64
		start, end uint64
	}{
		{1000, 1000, 1100},
		{1099, 1000, 1100},
		{1100, 1100, 1200},
		{1550, 1500, 1600},
	}
	for _, tt := range tests {
		c := service.ComputeCycle(p, tt.now)
		assert.Equal(t, tt.start, c.Start, "now=%d", tt.now)
		assert.Equal(t, tt.end, c.End, "now=%d", tt.now)
		assert.Zero(t, c.Spent.Sign())
	}
}

func TestComputeCycle_SaturatesEnd(t *testing.T) {
	p := types.Permission{Start: types.MaxTimestamp - 10, Period: types.MaxTimestamp}

	c := service.ComputeCycle(p, types.MaxTimestamp-5)
	assert.Equal(t, types.MaxTimestamp-10, c.Start)
	assert.Equal(t, types.MaxTimestamp, c.End)
}

func TestComputeCycle_SameWindowSameBoundaries(t *testing.T) {
	p := types.Permission{Start: 7, Period: 86400}
	for now := uint64(86407); now < 86407+86400; now += 3001 {
		a := service.ComputeCycle(p, 86407)
		b := service.ComputeCycle(p, now)
		assert.Equal(t, a.Start, b.Start)
		assert.Equal(t, a.End, b.End)
	}
}

// ── GetCurrentCycle ──────────────────────────────────────────────────────────

func TestGetCurrentCycle_LifetimeBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.permission()

	f.clock.SetUnix(int64(p.Start) - 1)
	_, err := f.registry.GetCurrentCycle(ctx, p)
	require.ErrorIs(t, err, service.ErrBeforeWindowStart)

	f.clock.SetUnix(int64(p.End))
	_, err = f.registry.GetCurrentCycle(ctx, p)
	require.NoError(t, err, "end is inclusive")

	f.clock.SetUnix(int64(p.End) + 1)
	_, err = f.registry.GetCurrentCycle(ctx, p)
	require.ErrorIs(t, err, service.ErrAfterWindowEnd)
}

func TestGetCurrentCycle_ReturnsStoredUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.permission()
	f.approve(t, p)

	_, err := f.spend(p, 250, 1)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	c, err := f.registry.GetCurrentCycle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), c.Start)
	assert.Equal(t, uint64(87400), c.End)
	assert.Equal(t, int64(250), c.Spent.Int64())

	f.clock.SetUnix(87400)
	c, err = f.registry.GetCurrentCycle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(87400), c.Start)
	assert.Zero(t, c.Spent.Sign())
}

// ── Allowance ────────────────────────────────────────────────────────────────

// Day-long windows from t=1000 with a cap of 1_000_000. The window reset is
// checked at t=87400, the first second of the second window.
func TestAllowance_DailyCapScenario(t *testing.T) {
	f := newFixture(t)
	p := f.permission()
	f.approve(t, p)

	res, err := f.spend(p, 600_000, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), res.Cycle.Spent.Int64())

	_, err = f.spend(p, 500_000, 2)
	require.ErrorIs(t, err, service.ErrExceededAllowance)
	assert.Contains(t, err.Error(), "1100000")

	f.clock.SetUnix(87000)
	_, err = f.spend(p, 500_000, 3)
	require.ErrorIs(t, err, service.ErrExceededAllowance, "87000 is still inside the first window")

	f.clock.SetUnix(87400)
	res, err = f.spend(p, 500_000, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(87400), res.Cycle.Start)
	assert.Equal(t, int64(500_000), res.Cycle.Spent.Int64())
}

func TestAllowance_SpendsAccumulateWithinWindow(t *testing.T) {
	for _, amounts := range [][2]int64{{0, 0}, {1, 999_999}, {400_000, 600_000}, {0, 1_000_000}, {123, 456}} {
		f := newFixture(t)
		p := f.permission()
		f.approve(t, p)

		_, err := f.spend(p, amounts[0], 1)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		res, err := f.spend(p, amounts[1], 2)
		require.NoError(t, err)

		assert.Equal(t, amounts[0]+amounts[1], res.Cycle.Spent.Int64())
	}
}

func TestAllowance_AboveCapAlwaysRejected(t *testing.T) {
	for _, amount := range []int64{1_000_001, 5_000_000} {
		f := newFixture(t)
		p := f.permission()
		f.approve(t, p)

		_, err := f.spend(p, amount, 1)
		require.ErrorIs(t, err, service.ErrExceededAllowance)

		c, err := f.registry.GetCurrentCycle(context.Background(), p)
		require.NoError(t, err)
		assert.Zero(t, c.Spent.Sign())

		for _, ev := range f.events(t, p) {
			assert.NotEqual(t, store.EventUsed, ev.Kind)
		}
	}
}

func TestAllowance_OverflowCheckedBeforeCap(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Fund(f.account.Address, new(big.Int).Lsh(big.NewInt(1), 200))
	p := f.permission()
	p.Cap = new(big.Int).Set(types.MaxAmount)
	f.approve(t, p)

	_, err := f.spends.Spend(context.Background(), f.spender.Address, types.SpendRequest{
		Permission: p, Recipient: recipient, Amount: types.MaxAmount, Nonce: big.NewInt(1),
	})
	require.NoError(t, err)

	_, err = f.spend(p, 1, 2)
	require.ErrorIs(t, err, service.ErrAmountOverflow)
}

func TestAllowance_UsedEventCarriesWindow(t *testing.T) {
	f := newFixture(t)
	p := f.permission()
	f.approve(t, p)

	_, err := f.spend(p, 42, 1)
	require.NoError(t, err)

	events := f.events(t, p)
	require.Len(t, events, 2)
	used := events[1]
	assert.Equal(t, store.EventUsed, used.Kind)
	assert.Equal(t, uint64(1000), used.CycleStart)
	assert.Equal(t, uint64(87400), used.CycleEnd)
	assert.Equal(t, int64(42), used.Amount.Int64())
}
