// Package permhash derives permission identifiers and request digests.
//
// All digests are EIP-712 typed-data hashes:
//
//	keccak256(0x19 || 0x01 || domainSeparator || structHash)
//
// The domain binds the network (chain id) and the engine instance (its
// address), so an identical permission hashes differently on another network
// or under another engine. The 0x1901 prefix can never collide with the
// personal-message format ("\x19Ethereum Signed Message:\n"), so a signature
// over an unrelated message cannot be replayed as an approval.
package permhash

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

const (
	DomainName    = "Spend Permission Manager"
	DomainVersion = "1"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	permissionTypeHash = crypto.Keccak256Hash([]byte(
		"SpendPermission(address account,address spender,address resource,bytes signer," +
			"uint48 start,uint48 end,uint48 period,uint160 cap,uint256 salt," +
			"string policy,bytes policyConfig)"))

	spendRequestTypeHash = crypto.Keccak256Hash([]byte(
		"SpendRequest(bytes32 permissionHash,address target,address recipient,uint160 amount,uint256 nonce)"))

	batchRequestTypeHash = crypto.Keccak256Hash([]byte(
		"BatchRequest(bytes32 permissionHash,bytes32 calls,uint256 nonce)"))

	callTypeHash = crypto.Keccak256Hash([]byte(
		"Call(address target,uint256 value,bytes data)"))

	callerRequestTypeHash = crypto.Keccak256Hash([]byte(
		"CallerRequest(bytes32 payload,uint64 nonce,uint64 expires)"))
)

// DomainSeparator hashes the EIP-712 domain for d.
func DomainSeparator(d types.Domain) common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(DomainName)),
		crypto.Keccak256([]byte(DomainVersion)),
		u64Word(d.ChainID),
		addrWord(d.Engine),
	)
}

// Hash returns the identifier of p under domain d. Every party that refers
// to p (holder, validator, indexers) computes the same value.
func Hash(d types.Domain, p types.Permission) common.Hash {
	structHash := crypto.Keccak256Hash(
		permissionTypeHash.Bytes(),
		addrWord(p.Account),
		addrWord(p.Spender),
		addrWord(p.Resource),
		crypto.Keccak256(p.Signer),
		u64Word(p.Start),
		u64Word(p.End),
		u64Word(p.Period),
		uintWord(p.Cap),
		uintWord(p.Salt),
		crypto.Keccak256([]byte(p.Policy)),
		crypto.Keccak256(p.PolicyConfig),
	)
	return typedDataHash(d, structHash)
}

// SpendRequestHash is the digest the delegated signer (and overseer) sign
// for a single spend. It binds the exact target, recipient and amount, so a
// proof for one action cannot be replayed against another.
func SpendRequestHash(d types.Domain, permissionHash common.Hash, target, recipient common.Address, amount, nonce *big.Int) common.Hash {
	structHash := crypto.Keccak256Hash(
		spendRequestTypeHash.Bytes(),
		permissionHash.Bytes(),
		addrWord(target),
		addrWord(recipient),
		uintWord(amount),
		uintWord(nonce),
	)
	return typedDataHash(d, structHash)
}

// BatchRequestHash is the digest signed for a batch of calls.
func BatchRequestHash(d types.Domain, permissionHash common.Hash, calls []types.Call, nonce *big.Int) common.Hash {
	structHash := crypto.Keccak256Hash(
		batchRequestTypeHash.Bytes(),
		permissionHash.Bytes(),
		callsHash(calls).Bytes(),
		uintWord(nonce),
	)
	return typedDataHash(d, structHash)
}

// CallerRequestHash is the digest a caller signs to authenticate one
// request. payload is the keccak256 of the request body; nonce and expires
// (Unix seconds) make every authenticated request single use.
func CallerRequestHash(d types.Domain, payload common.Hash, nonce, expires uint64) common.Hash {
	structHash := crypto.Keccak256Hash(
		callerRequestTypeHash.Bytes(),
		payload.Bytes(),
		u64Word(nonce),
		u64Word(expires),
	)
	return typedDataHash(d, structHash)
}

func callsHash(calls []types.Call) common.Hash {
	encoded := make([][]byte, 0, len(calls))
	for _, c := range calls {
		encoded = append(encoded, crypto.Keccak256(
			callTypeHash.Bytes(),
			addrWord(c.Target),
			uintWord(c.Value),
			crypto.Keccak256(c.Data),
		))
	}
	return crypto.Keccak256Hash(encoded...)
}

func typedDataHash(d types.Domain, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		DomainSeparator(d).Bytes(),
		structHash.Bytes(),
	)
}

func addrWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func u64Word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

// uintWord encodes a non-negative value of at most 256 bits. Callers bound
// their inputs before hashing; nil encodes as zero.
func uintWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}
