package signature

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const ecdsaSignatureLen = 65

// ContractSigner checks signatures for an address that is not a raw key,
// such as a smart account or a threshold signer.
type ContractSigner interface {
	IsValidSignature(ctx context.Context, hash common.Hash, sig []byte) (bool, error)
}

// ContractSigners resolves addresses that delegate verification to their own
// check routine. Addresses it does not know are treated as raw keys.
type ContractSigners interface {
	Lookup(addr common.Address) (ContractSigner, bool)
}

// StaticContracts is a fixed address -> ContractSigner table.
type StaticContracts map[common.Address]ContractSigner

func (s StaticContracts) Lookup(addr common.Address) (ContractSigner, bool) {
	c, ok := s[addr]
	return c, ok
}

// Verifier checks a signature against a signer identity.
type Verifier struct {
	contracts ContractSigners
}

// NewVerifier returns a Verifier. contracts may be nil, in which case every
// address is verified as a raw secp256k1 key.
func NewVerifier(contracts ContractSigners) *Verifier {
	return &Verifier{contracts: contracts}
}

// IsValidSignatureNow decodes identity and verifies sig over hash. A false
// result means the proof is well-formed but wrong; an error means the input
// could not be interpreted at all.
func (v *Verifier) IsValidSignatureNow(ctx context.Context, hash common.Hash, sig []byte, identity []byte) (bool, error) {
	id, err := DecodeIdentity(identity)
	if err != nil {
		return false, err
	}
	return v.Verify(ctx, hash, sig, id)
}

// Verify checks sig over hash for an already decoded identity.
func (v *Verifier) Verify(ctx context.Context, hash common.Hash, sig []byte, id Identity) (bool, error) {
	switch id := id.(type) {
	case AddressIdentity:
		return v.verifyAddress(ctx, hash, sig, id.Address)
	case CurveIdentity:
		return verifyWebAuthn(hash.Bytes(), sig, id)
	default:
		return false, fmt.Errorf("%w: %T", ErrInvalidSignerEncoding, id)
	}
}

// VerifyAddress checks sig over hash for addr.
func (v *Verifier) VerifyAddress(ctx context.Context, hash common.Hash, sig []byte, addr common.Address) (bool, error) {
	return v.verifyAddress(ctx, hash, sig, addr)
}

func (v *Verifier) verifyAddress(ctx context.Context, hash common.Hash, sig []byte, addr common.Address) (bool, error) {
	if v.contracts != nil {
		if c, ok := v.contracts.Lookup(addr); ok {
			return c.IsValidSignature(ctx, hash, sig)
		}
	}
	signer, ok := Recover(hash, sig)
	if !ok {
		return false, nil
	}
	return signer == addr, nil
}

// Recover returns the address whose key produced the 65-byte secp256k1
// signature sig over hash. The recovery id may be 0/1 or 27/28. High-s
// signatures are rejected.
func Recover(hash common.Hash, sig []byte) (common.Address, bool) {
	if len(sig) != ecdsaSignatureLen {
		return common.Address{}, false
	}
	normalized := make([]byte, ecdsaSignatureLen)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return common.Address{}, false
	}

	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}

// MultiSig is a threshold ContractSigner: sig is a concatenation of 65-byte
// owner signatures, of which at least Threshold distinct owners must verify.
type MultiSig struct {
	Owners    []common.Address
	Threshold int
}

func (m MultiSig) IsValidSignature(_ context.Context, hash common.Hash, sig []byte) (bool, error) {
	if m.Threshold <= 0 || len(sig)%ecdsaSignatureLen != 0 {
		return false, nil
	}

	owners := make(map[common.Address]struct{}, len(m.Owners))
	for _, o := range m.Owners {
		owners[o] = struct{}{}
	}

	seen := make(map[common.Address]struct{})
	for off := 0; off < len(sig); off += ecdsaSignatureLen {
		signer, ok := Recover(hash, sig[off:off+ecdsaSignatureLen])
		if !ok {
			return false, nil
		}
		if _, isOwner := owners[signer]; !isOwner {
			return false, nil
		}
		seen[signer] = struct{}{}
	}
	return len(seen) >= m.Threshold, nil
}
