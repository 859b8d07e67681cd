package store

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventKind string

const (
	EventApproved EventKind = "approved"
	EventRevoked  EventKind = "revoked"
	EventUsed     EventKind = "used"
)

// EventRecord is one append-only audit entry. CycleStart, CycleEnd and
// Amount are only set for EventUsed.
type EventRecord struct {
	ID             uuid.UUID
	Kind           EventKind
	PermissionHash common.Hash
	Account        common.Address
	Spender        common.Address
	CycleStart     uint64
	CycleEnd       uint64
	Amount         *big.Int
	RecordedAt     time.Time
}
