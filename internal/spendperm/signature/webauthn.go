package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/BrandonDHaskell/spendperm/server/internal/codec"
)

// flagUserPresent is the UP bit of the authenticator data flags.
const flagUserPresent = 0x01

// Minimum authenticator data: rpIdHash (32) + flags (1) + signCount (4).
const minAuthenticatorDataLen = 37

var p256HalfN = new(big.Int).Rsh(elliptic.P256().Params().N, 1)

// Assertion is a WebAuthn authentication assertion, carried CBOR-encoded
// as the signature for a CurveIdentity. The indexes point at the "type" and
// "challenge" members inside ClientDataJSON.
type Assertion struct {
	AuthenticatorData []byte `cbor:"1,keyasint"`
	ClientDataJSON    string `cbor:"2,keyasint"`
	ChallengeIndex    uint64 `cbor:"3,keyasint"`
	TypeIndex         uint64 `cbor:"4,keyasint"`
	R                 []byte `cbor:"5,keyasint"`
	S                 []byte `cbor:"6,keyasint"`
}

// EncodeAssertion returns the signature bytes for a.
func EncodeAssertion(a Assertion) ([]byte, error) {
	return codec.Marshal(a)
}

// verifyWebAuthn checks that sig is an assertion over challenge by key.
func verifyWebAuthn(challenge []byte, sig []byte, key CurveIdentity) (bool, error) {
	var a Assertion
	if err := codec.Unmarshal(sig, &a); err != nil {
		return false, fmt.Errorf("%w: webauthn assertion: %v", ErrMalformedSignature, err)
	}

	if len(a.AuthenticatorData) < minAuthenticatorDataLen {
		return false, nil
	}
	flags := a.AuthenticatorData[32]
	if flags&flagUserPresent == 0 {
		return false, nil
	}

	if !hasAt(a.ClientDataJSON, a.TypeIndex, `"type":"webauthn.get"`) {
		return false, nil
	}
	wantChallenge := `"challenge":"` + base64.RawURLEncoding.EncodeToString(challenge) + `"`
	if !hasAt(a.ClientDataJSON, a.ChallengeIndex, wantChallenge) {
		return false, nil
	}

	r := new(big.Int).SetBytes(a.R)
	s := new(big.Int).SetBytes(a.S)
	if r.Sign() == 0 || s.Sign() == 0 || s.Cmp(p256HalfN) > 0 {
		return false, nil
	}

	clientDataHash := sha256.Sum256([]byte(a.ClientDataJSON))
	msg := make([]byte, 0, len(a.AuthenticatorData)+len(clientDataHash))
	msg = append(msg, a.AuthenticatorData...)
	msg = append(msg, clientDataHash[:]...)
	digest := sha256.Sum256(msg)

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: key.X, Y: key.Y}
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

func hasAt(s string, idx uint64, want string) bool {
	if idx > uint64(len(s)) {
		return false
	}
	return strings.HasPrefix(s[idx:], want)
}
