package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

func TestRecorder_ExecuteNeedsNoBalance(t *testing.T) {
	var buf bytes.Buffer
	r := dispatch.NewRecorder(log.New(&buf, "", 0))

	_, err := r.Execute(context.Background(), account, types.Call{Target: bob, Value: big.NewInt(1_000_000)})
	require.NoError(t, err)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, account, calls[0].Account)
	assert.Equal(t, int64(1_000_000), calls[0].Call.Value.Int64())
	assert.Contains(t, buf.String(), "value=1000000")
}

func TestRecorder_BatchSelfCall(t *testing.T) {
	r := dispatch.NewRecorder(log.New(&bytes.Buffer{}, "", 0))
	var registered []byte

	out, err := r.ExecuteBatch(context.Background(), dispatch.Batch{
		Account: account,
		Engine:  engine,
		Calls: []types.Call{
			{Target: bob, Value: big.NewInt(5)},
			{Target: engine, Data: []byte{0xaa}},
		},
		OnSelfCall: func(_ context.Context, data []byte) error {
			registered = data
			return nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, []byte{0xaa}, registered)
	require.Len(t, r.Calls(), 1, "the self-call is not recorded as an effect")
}

func TestRecorder_FailedBatchRecordsNothing(t *testing.T) {
	r := dispatch.NewRecorder(log.New(&bytes.Buffer{}, "", 0))
	_, err := r.Execute(context.Background(), account, types.Call{Target: bob})
	require.NoError(t, err)

	boom := errors.New("over cap")
	_, err = r.ExecuteBatch(context.Background(), dispatch.Batch{
		Account:    account,
		Engine:     engine,
		Calls:      []types.Call{{Target: bob, Value: big.NewInt(5)}, {Target: engine}},
		OnSelfCall: func(context.Context, []byte) error { return boom },
	})
	require.ErrorIs(t, err, boom)
	assert.Len(t, r.Calls(), 1)

	_, err = r.ExecuteBatch(context.Background(), dispatch.Batch{
		Account: account,
		Engine:  engine,
		Calls:   []types.Call{{Target: bob}, {Target: engine}},
	})
	require.ErrorIs(t, err, dispatch.ErrSelfCallRejected)
	assert.Len(t, r.Calls(), 1)
}
