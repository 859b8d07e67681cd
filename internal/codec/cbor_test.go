package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/codec"
)

type sample struct {
	B string `cbor:"2,keyasint"`
	A uint64 `cbor:"1,keyasint"`
}

func TestMarshal_Deterministic(t *testing.T) {
	first, err := codec.Marshal(map[string]int{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := codec.Marshal(map[string]int{"m": 3, "z": 1, "a": 2})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRoundTrip_Struct(t *testing.T) {
	data, err := codec.Marshal(sample{A: 7, B: "x"})
	require.NoError(t, err)

	var got sample
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, sample{A: 7, B: "x"}, got)
}

func TestUnmarshal_RejectsDuplicateKeys(t *testing.T) {
	// {1: 1, 1: 2}
	data := []byte{0xa2, 0x01, 0x01, 0x01, 0x02}
	var got map[int]int
	assert.Error(t, codec.Unmarshal(data, &got))
}
