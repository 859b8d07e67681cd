// Package signature verifies proofs against the two kinds of signer identity
// a permission can name: an address (key or contract backed) or a P-256
// public key used through WebAuthn.
package signature

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidSignerEncoding is returned for identities that are neither a
	// padded address nor a P-256 point. It is never folded into "invalid".
	ErrInvalidSignerEncoding = errors.New("signature: invalid signer identity encoding")

	// ErrMalformedSignature is returned when a signature cannot be decoded
	// for the identity it is checked against.
	ErrMalformedSignature = errors.New("signature: malformed signature")
)

const (
	addressIdentityLen = 32
	curveIdentityLen   = 64
)

// Identity is a signer identity: AddressIdentity or CurveIdentity.
type Identity interface {
	// Encode returns the canonical byte form accepted by DecodeIdentity.
	Encode() []byte
	identity()
}

// AddressIdentity is an account address. Encoded as a 32-byte word with the
// address right-aligned.
type AddressIdentity struct {
	Address common.Address
}

func (a AddressIdentity) Encode() []byte {
	return common.LeftPadBytes(a.Address.Bytes(), addressIdentityLen)
}

func (AddressIdentity) identity() {}

// CurveIdentity is an uncompressed P-256 public key, encoded as X || Y with
// each coordinate in 32 bytes.
type CurveIdentity struct {
	X *big.Int
	Y *big.Int
}

func (c CurveIdentity) Encode() []byte {
	out := make([]byte, 0, curveIdentityLen)
	out = append(out, common.LeftPadBytes(c.X.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(c.Y.Bytes(), 32)...)
	return out
}

func (CurveIdentity) identity() {}

// DecodeIdentity parses an encoded signer identity.
func DecodeIdentity(b []byte) (Identity, error) {
	switch len(b) {
	case addressIdentityLen:
		for _, x := range b[:12] {
			if x != 0 {
				return nil, fmt.Errorf("%w: address word has non-zero high bytes", ErrInvalidSignerEncoding)
			}
		}
		return AddressIdentity{Address: common.BytesToAddress(b[12:])}, nil

	case curveIdentityLen:
		point := make([]byte, 0, 65)
		point = append(point, 0x04)
		point = append(point, b...)
		if _, err := ecdh.P256().NewPublicKey(point); err != nil {
			return nil, fmt.Errorf("%w: not a P-256 point: %v", ErrInvalidSignerEncoding, err)
		}
		return CurveIdentity{
			X: new(big.Int).SetBytes(b[:32]),
			Y: new(big.Int).SetBytes(b[32:]),
		}, nil

	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignerEncoding, len(b))
	}
}

// ForAddress is shorthand for the encoded AddressIdentity of addr.
func ForAddress(addr common.Address) []byte {
	return AddressIdentity{Address: addr}.Encode()
}
