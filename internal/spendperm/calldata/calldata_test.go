package calldata_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/calldata"
)

func TestUseAllowance_Layout(t *testing.T) {
	data, err := calldata.UseAllowance(big.NewInt(600_000))
	require.NoError(t, err)
	require.Len(t, data, 36)

	amount, err := calldata.DecodeUseAllowance(data)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), amount.Int64())
}

func TestDecodeUseAllowance_RejectsOtherSelectors(t *testing.T) {
	data, err := calldata.Transfer(common.HexToAddress("0xb0b"), big.NewInt(1))
	require.NoError(t, err)

	_, err = calldata.DecodeUseAllowance(data)
	assert.ErrorIs(t, err, calldata.ErrUnexpectedSelector)
}

func TestDecodeUseAllowance_RejectsTrailingBytes(t *testing.T) {
	data, err := calldata.UseAllowance(big.NewInt(1))
	require.NoError(t, err)

	_, err = calldata.DecodeUseAllowance(append(data, 0))
	assert.ErrorIs(t, err, calldata.ErrMalformed)
}

func TestTransfer_Layout(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	data, err := calldata.Transfer(to, big.NewInt(42))
	require.NoError(t, err)

	// ERC-20 transfer selector.
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, data[:4])
	require.Len(t, data, 68)

	gotTo, gotAmount, err := calldata.DecodeTransfer(data)
	require.NoError(t, err)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, int64(42), gotAmount.Int64())
}
