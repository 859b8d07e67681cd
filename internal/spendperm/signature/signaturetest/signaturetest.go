// Package signaturetest builds signatures for tests: secp256k1 keys and
// P-256 WebAuthn assertions.
package signaturetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
)

// Key is a secp256k1 test key and its address.
type Key struct {
	Private *ecdsa.PrivateKey
	Address common.Address
}

// NewKey generates a fresh secp256k1 key. It panics on failure.
func NewKey() Key {
	k, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return Key{Private: k, Address: crypto.PubkeyToAddress(k.PublicKey)}
}

// Sign signs hash and returns a 65-byte signature with v in {27, 28}.
func (k Key) Sign(hash common.Hash) []byte {
	sig, err := crypto.Sign(hash.Bytes(), k.Private)
	if err != nil {
		panic(err)
	}
	sig[64] += 27
	return sig
}

// Identity is the encoded AddressIdentity of k.
func (k Key) Identity() []byte {
	return signature.ForAddress(k.Address)
}

// Passkey is a P-256 key used through WebAuthn.
type Passkey struct {
	Private *ecdsa.PrivateKey
}

// NewPasskey generates a fresh P-256 key. It panics on failure.
func NewPasskey() Passkey {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return Passkey{Private: k}
}

// Identity is the encoded CurveIdentity of p.
func (p Passkey) Identity() []byte {
	return signature.CurveIdentity{X: p.Private.X, Y: p.Private.Y}.Encode()
}

// Sign produces a CBOR-encoded WebAuthn assertion over challenge, with the
// user-present and user-verified flags set.
func (p Passkey) Sign(challenge []byte) []byte {
	return p.SignWith(challenge, 0x05, "webauthn.get")
}

// SignWith lets tests vary the flags byte and the client data type.
func (p Passkey) SignWith(challenge []byte, flags byte, clientType string) []byte {
	clientData := fmt.Sprintf(`{"type":"%s","challenge":"%s","origin":"https://keys.example.test","crossOrigin":false}`,
		clientType, base64.RawURLEncoding.EncodeToString(challenge))

	authData := make([]byte, 37)
	rpID := sha256.Sum256([]byte("keys.example.test"))
	copy(authData, rpID[:])
	authData[32] = flags
	authData[36] = 1

	clientHash := sha256.Sum256([]byte(clientData))
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientHash[:]...))

	r, s, err := ecdsa.Sign(rand.Reader, p.Private, digest[:])
	if err != nil {
		panic(err)
	}
	halfN := new(big.Int).Rsh(elliptic.P256().Params().N, 1)
	if s.Cmp(halfN) > 0 {
		s = new(big.Int).Sub(elliptic.P256().Params().N, s)
	}

	sig, err := signature.EncodeAssertion(signature.Assertion{
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		ChallengeIndex:    uint64(strings.Index(clientData, `"challenge"`)),
		TypeIndex:         uint64(strings.Index(clientData, `"type"`)),
		R:                 r.Bytes(),
		S:                 s.Bytes(),
	})
	if err != nil {
		panic(err)
	}
	return sig
}
