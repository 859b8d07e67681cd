package callerauth_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

var domain = types.Domain{ChainID: 8453, Engine: common.HexToAddress("0xe0")}

func newAuthenticator() *callerauth.Authenticator {
	return callerauth.NewAuthenticator(domain, clock.FakeUnix(1000))
}

func TestAuthenticate_RecoversCaller(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte(`{"permission":{}}`)

	creds, err := callerauth.Sign(key, domain, payload, 7, 1060)
	require.NoError(t, err)

	proof, err := newAuthenticator().Authenticate(payload, creds)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), proof.Caller)
	assert.Equal(t, callerauth.Digest(domain, payload, 7, 1060), proof.Digest)
	assert.Equal(t, uint64(1060), proof.Expires)

	other, err := newAuthenticator().Authenticate([]byte(`{}`), creds)
	require.NoError(t, err)
	assert.NotEqual(t, proof.Caller, other.Caller, "a signature over a different payload recovers someone else")
}

func TestAuthenticate_BoundToDomain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte(`{}`)

	foreign := types.Domain{ChainID: 1, Engine: domain.Engine}
	creds, err := callerauth.Sign(key, foreign, payload, 1, 1060)
	require.NoError(t, err)

	proof, err := newAuthenticator().Authenticate(payload, creds)
	require.NoError(t, err)
	assert.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), proof.Caller)
}

func TestAuthenticate_Expiry(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte(`{}`)

	creds, err := callerauth.Sign(key, domain, payload, 1, 999)
	require.NoError(t, err)
	_, err = newAuthenticator().Authenticate(payload, creds)
	require.ErrorIs(t, err, callerauth.ErrExpired)

	// Expiring exactly now is still accepted.
	creds, err = callerauth.Sign(key, domain, payload, 1, 1000)
	require.NoError(t, err)
	_, err = newAuthenticator().Authenticate(payload, creds)
	require.NoError(t, err)

	creds, err = callerauth.Sign(key, domain, payload, 1, 1000+301)
	require.NoError(t, err)
	_, err = newAuthenticator().Authenticate(payload, creds)
	require.ErrorIs(t, err, callerauth.ErrInvalidSignature)
}

func TestAuthenticate_Errors(t *testing.T) {
	a := newAuthenticator()

	_, err := a.Authenticate([]byte("x"), callerauth.Credentials{})
	require.ErrorIs(t, err, callerauth.ErrMissingSignature)

	_, err = a.Authenticate([]byte("x"), callerauth.Credentials{Signature: "0x12"})
	require.ErrorIs(t, err, callerauth.ErrMissingSignature)

	_, err = a.Authenticate([]byte("x"), callerauth.Credentials{Signature: "0x12", Nonce: "n", Expires: "1060"})
	require.ErrorIs(t, err, callerauth.ErrInvalidSignature)

	_, err = a.Authenticate([]byte("x"), callerauth.Credentials{Signature: "not-hex", Nonce: "1", Expires: "1060"})
	require.ErrorIs(t, err, callerauth.ErrInvalidSignature)

	_, err = a.Authenticate([]byte("x"), callerauth.Credentials{Signature: "0x1234", Nonce: "1", Expires: "1060"})
	require.ErrorIs(t, err, callerauth.ErrInvalidSignature)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	_, ok := callerauth.ProofFromContext(ctx)
	assert.False(t, ok)

	want := callerauth.Proof{Caller: common.HexToAddress("0xa11ce"), Digest: common.HexToHash("0x01"), Expires: 5}
	got, ok := callerauth.ProofFromContext(callerauth.WithProof(ctx, want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
