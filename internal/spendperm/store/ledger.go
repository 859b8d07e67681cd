package store

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// ErrReadOnly is returned by write methods of a Tx obtained from View.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// ConsumedRequest marks a request hash as used so the same signed (or
// direct) request cannot be accepted twice.
type ConsumedRequest struct {
	RequestHash    common.Hash
	PermissionHash common.Hash
	Account        common.Address
	PermissionEnd  uint64
	ConsumedAt     time.Time
}

// CallerProof marks a transport-level caller signature as used. A captured
// signed request can then not be replayed while its proof is still fresh.
type CallerProof struct {
	Digest     common.Hash
	Caller     common.Address
	ExpiresAt  uint64 // Unix seconds
	ConsumedAt time.Time
}

// Tx is a view of the ledger inside one unit of work. All state is keyed by
// (permission hash, account); there is deliberately no way to enumerate
// permissions.
type Tx interface {
	PermissionState(ctx context.Context, id common.Hash, account common.Address) (types.PermissionState, error)
	PutPermissionState(ctx context.Context, id common.Hash, account common.Address, st types.PermissionState) error

	// Cycle returns the last stored cycle, if any.
	Cycle(ctx context.Context, id common.Hash, account common.Address) (types.Cycle, bool, error)
	// PutCycle stores c. permissionEnd lets the pruner find dead rows.
	PutCycle(ctx context.Context, id common.Hash, account common.Address, c types.Cycle, permissionEnd uint64) error

	// ConsumeRequest records rec and reports whether it was fresh.
	ConsumeRequest(ctx context.Context, rec ConsumedRequest) (bool, error)
	// ConsumeCallerProof records rec and reports whether it was fresh.
	ConsumeCallerProof(ctx context.Context, rec CallerProof) (bool, error)

	Overseer(ctx context.Context) (types.OverseerState, error)
	PutOverseer(ctx context.Context, st types.OverseerState) error

	AppendEvent(ctx context.Context, rec EventRecord) error
}

// Ledger runs units of work against persistent state. Update calls are
// serialized and all-or-nothing: if fn returns an error, none of its writes
// (including audit events) are kept.
type Ledger interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Events returns the audit trail of one (permission hash, account) pair
	// in the order it was written.
	Events(ctx context.Context, id common.Hash, account common.Address) ([]EventRecord, error)

	// PruneExpired deletes cycle rows and consumed requests of permissions
	// whose end is before cutoff (Unix seconds), and caller proofs that
	// expired before cutoff. Returns rows deleted.
	PruneExpired(ctx context.Context, cutoff uint64) (int64, error)
}
