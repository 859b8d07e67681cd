// Package calldata encodes and decodes the two call shapes the engine cares
// about: a token transfer and the self-call that registers a batch spend.
package calldata

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnexpectedSelector = errors.New("calldata: unexpected function selector")
	ErrMalformed          = errors.New("calldata: malformed arguments")
)

var (
	useAllowanceSelector = crypto.Keccak256([]byte("useAllowance(uint256)"))[:4]
	transferSelector     = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

	useAllowanceArgs abi.Arguments
	transferArgs     abi.Arguments
)

func init() {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic("calldata: uint256 type: " + err.Error())
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic("calldata: address type: " + err.Error())
	}
	useAllowanceArgs = abi.Arguments{{Name: "amount", Type: uint256Ty}}
	transferArgs = abi.Arguments{{Name: "to", Type: addressTy}, {Name: "amount", Type: uint256Ty}}
}

// UseAllowance encodes useAllowance(amount).
func UseAllowance(amount *big.Int) ([]byte, error) {
	packed, err := useAllowanceArgs.Pack(amount)
	if err != nil {
		return nil, fmt.Errorf("pack useAllowance: %w", err)
	}
	return append(append([]byte{}, useAllowanceSelector...), packed...), nil
}

// DecodeUseAllowance returns the amount of a useAllowance(uint256) call.
func DecodeUseAllowance(data []byte) (*big.Int, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], useAllowanceSelector) {
		return nil, ErrUnexpectedSelector
	}
	if len(data) != 4+32 {
		return nil, fmt.Errorf("%w: useAllowance takes one word, got %d bytes", ErrMalformed, len(data)-4)
	}
	vals, err := useAllowanceArgs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: amount has type %T", ErrMalformed, vals[0])
	}
	return amount, nil
}

// Transfer encodes transfer(to, amount).
func Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	packed, err := transferArgs.Pack(to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return append(append([]byte{}, transferSelector...), packed...), nil
}

// DecodeTransfer returns the arguments of a transfer(address,uint256) call.
func DecodeTransfer(data []byte) (common.Address, *big.Int, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], transferSelector) {
		return common.Address{}, nil, ErrUnexpectedSelector
	}
	vals, err := transferArgs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	to, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: to has type %T", ErrMalformed, vals[0])
	}
	amount, ok := vals[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: amount has type %T", ErrMalformed, vals[1])
	}
	return to, amount, nil
}
