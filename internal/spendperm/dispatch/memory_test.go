package dispatch_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/calldata"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

var (
	account = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	engine  = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func TestExecute_NativeTransfer(t *testing.T) {
	m := dispatch.NewMemory()
	m.Fund(account, big.NewInt(100))

	_, err := m.Execute(context.Background(), account, types.Call{Target: bob, Value: big.NewInt(40)})
	require.NoError(t, err)

	assert.Equal(t, int64(60), m.Balance(account).Int64())
	assert.Equal(t, int64(40), m.Balance(bob).Int64())
	require.Len(t, m.Calls(), 1)
}

func TestExecute_InsufficientFunds(t *testing.T) {
	m := dispatch.NewMemory()
	m.Fund(account, big.NewInt(10))

	_, err := m.Execute(context.Background(), account, types.Call{Target: bob, Value: big.NewInt(11)})
	require.ErrorIs(t, err, dispatch.ErrInsufficientFunds)
	assert.Equal(t, int64(10), m.Balance(account).Int64())
	assert.Empty(t, m.Calls())
}

func TestExecute_TokenTransfer(t *testing.T) {
	m := dispatch.NewMemory()
	m.FundToken(token, account, big.NewInt(500))

	data, err := calldata.Transfer(bob, big.NewInt(125))
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), account, types.Call{Target: token, Data: data})
	require.NoError(t, err)

	assert.Equal(t, int64(375), m.TokenBalance(token, account).Int64())
	assert.Equal(t, int64(125), m.TokenBalance(token, bob).Int64())
}

func TestExecuteBatch_SelfCallInvokesCallback(t *testing.T) {
	m := dispatch.NewMemory()
	m.Fund(account, big.NewInt(100))

	var got []byte
	_, err := m.ExecuteBatch(context.Background(), dispatch.Batch{
		Account: account,
		Engine:  engine,
		Calls: []types.Call{
			{Target: bob, Value: big.NewInt(30)},
			{Target: engine, Data: []byte{0xde, 0xad}},
		},
		OnSelfCall: func(_ context.Context, data []byte) error {
			got = data
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{0xde, 0xad}, got)
	assert.Equal(t, int64(30), m.Balance(bob).Int64())
	assert.Len(t, m.Calls(), 1, "self-calls are not executed as calls")
}

func TestExecuteBatch_FailureUndoesEarlierCalls(t *testing.T) {
	m := dispatch.NewMemory()
	m.Fund(account, big.NewInt(100))

	boom := errors.New("boom")
	_, err := m.ExecuteBatch(context.Background(), dispatch.Batch{
		Account: account,
		Engine:  engine,
		Calls: []types.Call{
			{Target: bob, Value: big.NewInt(30)},
			{Target: engine},
		},
		OnSelfCall: func(context.Context, []byte) error { return boom },
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(100), m.Balance(account).Int64())
	assert.Equal(t, int64(0), m.Balance(bob).Int64())
	assert.Empty(t, m.Calls())
}

func TestExecuteBatch_FailingTarget(t *testing.T) {
	m := dispatch.NewMemory()
	m.Fund(account, big.NewInt(100))
	m.FailCallsTo(token, errors.New("reverted"))

	_, err := m.ExecuteBatch(context.Background(), dispatch.Batch{
		Account: account,
		Engine:  engine,
		Calls: []types.Call{
			{Target: bob, Value: big.NewInt(1)},
			{Target: token},
		},
	})
	require.ErrorIs(t, err, dispatch.ErrCallFailed)
	assert.Equal(t, int64(100), m.Balance(account).Int64())
}

func TestExecuteBatch_SelfCallWithoutCallback(t *testing.T) {
	m := dispatch.NewMemory()

	_, err := m.ExecuteBatch(context.Background(), dispatch.Batch{
		Account: account,
		Engine:  engine,
		Calls:   []types.Call{{Target: engine}},
	})
	require.ErrorIs(t, err, dispatch.ErrSelfCallRejected)
}
