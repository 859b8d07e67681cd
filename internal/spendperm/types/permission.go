package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTimestamp is the largest representable point in time (uint48 seconds).
// Cycle ends saturate here instead of overflowing.
const MaxTimestamp uint64 = 1<<48 - 1

// NativeToken is the resource address that stands for the chain's native asset.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// MaxAmount is the largest value the per-cycle accumulator can hold (uint160).
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// MaxSalt bounds Permission.Salt to 256 bits.
var MaxSalt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// DefaultPolicy is used when a permission does not name one.
const DefaultPolicy = "transfer"

// Permission is an account's grant to a spender of up to Cap units of
// Resource per Period, between Start and End (Unix seconds).
//
// A Permission is a value: any change to a field changes its hash and
// therefore needs a fresh approval.
type Permission struct {
	Account  common.Address
	Spender  common.Address
	Resource common.Address

	// Signer is an encoded signer identity for the delegated signer. Empty
	// means the spender address signs for itself.
	Signer []byte

	Start  uint64
	End    uint64
	Period uint64
	Cap    *big.Int
	Salt   *big.Int

	Policy       string
	PolicyConfig []byte
}

// PolicyName returns the policy module governing p.
func (p Permission) PolicyName() string {
	if p.Policy == "" {
		return DefaultPolicy
	}
	return p.Policy
}

// CapOrZero never returns nil.
func (p Permission) CapOrZero() *big.Int {
	if p.Cap == nil {
		return new(big.Int)
	}
	return p.Cap
}

// SaltOrZero never returns nil.
func (p Permission) SaltOrZero() *big.Int {
	if p.Salt == nil {
		return new(big.Int)
	}
	return p.Salt
}

// Domain carries the salts mixed into every permission hash: the network
// (chain id) and the engine instance (its address).
type Domain struct {
	ChainID uint64
	Engine  common.Address
}
