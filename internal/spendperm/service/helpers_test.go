package service_test

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/policy"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature/signaturetest"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store/memory"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

var (
	testDomain = types.Domain{
		ChainID: 8453,
		Engine:  common.HexToAddress("0x00000000000000000000000000000000000000e0"),
	}
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fixture struct {
	clock      *clock.FakeClock
	ledger     *memory.Ledger
	dispatcher *dispatch.Memory
	policies   *policy.Registry
	registry   *service.Registry
	spends     *service.SpendService
	overseers  *service.OverseerService

	account signaturetest.Key
	spender signaturetest.Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:      clock.FakeUnix(1000),
		ledger:     memory.New(),
		dispatcher: dispatch.NewMemory(),
		account:    signaturetest.NewKey(),
		spender:    signaturetest.NewKey(),
		policies:   policy.DefaultRegistry(),
	}
	f.registry = service.NewRegistry(testDomain, f.ledger, signature.NewVerifier(nil), f.policies, f.clock)
	f.spends = service.NewSpendService(f.registry, f.ledger, f.dispatcher)
	f.overseers = service.NewOverseerService(f.ledger, owner, silentLogger())

	f.dispatcher.Fund(f.account.Address, big.NewInt(10_000_000))
	return f
}

// permission is the Scenario A shape: cap 1_000_000 per day from t=1000.
func (f *fixture) permission() types.Permission {
	return types.Permission{
		Account:  f.account.Address,
		Spender:  f.spender.Address,
		Resource: types.NativeToken,
		Start:    1000,
		End:      1000 + 30*86400,
		Period:   86400,
		Cap:      big.NewInt(1_000_000),
		Salt:     big.NewInt(1),
	}
}

func (f *fixture) approve(t *testing.T, p types.Permission) {
	t.Helper()
	ok, err := f.registry.Approve(context.Background(), f.account.Address, p)
	require.NoError(t, err)
	require.True(t, ok)
}

// events returns the audit trail of p for the fixture account.
func (f *fixture) events(t *testing.T, p types.Permission) []store.EventRecord {
	t.Helper()
	events, err := f.registry.Events(context.Background(), f.registry.Hash(p), f.account.Address)
	require.NoError(t, err)
	return events
}

func (f *fixture) spend(p types.Permission, amount int64, nonce int64) (service.SpendResult, error) {
	return f.spends.Spend(context.Background(), f.spender.Address, types.SpendRequest{
		Permission: p,
		Recipient:  recipient,
		Amount:     big.NewInt(amount),
		Nonce:      big.NewInt(nonce),
	})
}
