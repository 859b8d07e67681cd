// Package dispatch performs the effects of an authorized request on behalf
// of the account. The core never calls back into itself except through the
// final self-call of a batch, which registers the spend with accounting.
package dispatch

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

var (
	ErrInsufficientFunds = errors.New("dispatch: insufficient funds")
	ErrCallFailed        = errors.New("dispatch: call failed")
	ErrSelfCallRejected  = errors.New("dispatch: self-call rejected")
)

// Batch is a sequence of calls run as the account. Calls whose target is
// Engine are not executed; their data is handed to OnSelfCall instead.
type Batch struct {
	Account    common.Address
	Engine     common.Address
	Calls      []types.Call
	OnSelfCall func(ctx context.Context, data []byte) error
}

// Dispatcher executes calls as an account. A failed batch must leave no
// trace of its earlier calls.
type Dispatcher interface {
	Execute(ctx context.Context, account common.Address, call types.Call) ([]byte, error)
	ExecuteBatch(ctx context.Context, b Batch) ([][]byte, error)
}
