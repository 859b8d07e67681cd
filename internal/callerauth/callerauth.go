// Package callerauth establishes who is calling. A caller proves control of
// an address by signing a typed-data digest that binds the engine domain,
// the hash of the request payload, a nonce and an expiry. The recovered
// address is what the services see as the caller, and the digest is
// consumed by the ledger so each proof authorizes exactly one request.
package callerauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/permhash"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// HTTP headers.
const (
	Header        = "X-Caller-Signature"
	NonceHeader   = "X-Caller-Nonce"
	ExpiresHeader = "X-Caller-Expires"
)

// gRPC metadata keys.
const (
	MetadataKey        = "x-caller-signature"
	NonceMetadataKey   = "x-caller-nonce"
	ExpiresMetadataKey = "x-caller-expires"
)

// MaxLifetime bounds how far in the future a proof may expire.
const MaxLifetime = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("callerauth: missing caller signature")
	ErrInvalidSignature = errors.New("callerauth: invalid caller signature")
	ErrExpired          = errors.New("callerauth: caller signature expired")
	ErrReplayed         = errors.New("callerauth: caller signature already used")
)

// Credentials are the raw values a transport carries alongside a request.
type Credentials struct {
	Signature string
	Nonce     string
	Expires   string
}

// Proof is an authenticated, not yet consumed, caller signature.
type Proof struct {
	Caller  common.Address
	Digest  common.Hash
	Expires uint64
}

// Digest is the hash a caller signs for payload under domain d.
func Digest(d types.Domain, payload []byte, nonce, expires uint64) common.Hash {
	return permhash.CallerRequestHash(d, crypto.Keccak256Hash(payload), nonce, expires)
}

// Authenticator checks caller credentials for one engine domain.
type Authenticator struct {
	domain types.Domain
	clock  clock.Clock
}

func NewAuthenticator(domain types.Domain, clk clock.Clock) *Authenticator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Authenticator{domain: domain, clock: clk}
}

// Authenticate recovers the caller from c over payload. It does not consume
// the proof; that happens in the ledger unit of work of the operation.
func (a *Authenticator) Authenticate(payload []byte, c Credentials) (Proof, error) {
	if c.Signature == "" {
		return Proof{}, ErrMissingSignature
	}
	if c.Nonce == "" || c.Expires == "" {
		return Proof{}, fmt.Errorf("%w: nonce and expiry are required", ErrMissingSignature)
	}
	nonce, err := strconv.ParseUint(c.Nonce, 10, 64)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: nonce: %v", ErrInvalidSignature, err)
	}
	expires, err := strconv.ParseUint(c.Expires, 10, 64)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: expiry: %v", ErrInvalidSignature, err)
	}

	now := clock.UnixNow(a.clock)
	if expires < now {
		return Proof{}, ErrExpired
	}
	if expires > now+uint64(MaxLifetime/time.Second) {
		return Proof{}, fmt.Errorf("%w: expiry more than %s ahead", ErrInvalidSignature, MaxLifetime)
	}

	raw, err := hexutil.Decode(c.Signature)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	digest := Digest(a.domain, payload, nonce, expires)
	addr, ok := signature.Recover(digest, raw)
	if !ok {
		return Proof{}, ErrInvalidSignature
	}
	return Proof{Caller: addr, Digest: digest, Expires: expires}, nil
}

// Sign produces credentials for payload. Used by clients and tests.
func Sign(key *ecdsa.PrivateKey, d types.Domain, payload []byte, nonce, expires uint64) (Credentials, error) {
	sig, err := crypto.Sign(Digest(d, payload, nonce, expires).Bytes(), key)
	if err != nil {
		return Credentials{}, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return Credentials{
		Signature: hexutil.Encode(sig),
		Nonce:     strconv.FormatUint(nonce, 10),
		Expires:   strconv.FormatUint(expires, 10),
	}, nil
}

type ctxKey struct{}

// WithProof attaches an authenticated caller proof to ctx.
func WithProof(ctx context.Context, p Proof) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// ProofFromContext returns the proof attached by WithProof.
func ProofFromContext(ctx context.Context) (Proof, bool) {
	p, ok := ctx.Value(ctxKey{}).(Proof)
	return p, ok
}
