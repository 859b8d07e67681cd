package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PermissionState is the registry entry for one (permission hash, account).
type PermissionState struct {
	Approved bool
	Revoked  bool
}

// Authorized reports approved && !revoked. Revocation always wins.
func (s PermissionState) Authorized() bool {
	return s.Approved && !s.Revoked
}

// Cycle is the usage of one recurring window, [Start, End).
type Cycle struct {
	Start uint64
	End   uint64
	Spent *big.Int
}

// Contains reports whether now falls inside the window. A window that
// saturated at MaxTimestamp also contains MaxTimestamp itself.
func (c Cycle) Contains(now uint64) bool {
	if now < c.Start {
		return false
	}
	return now < c.End || c.End == MaxTimestamp
}

// OverseerState is the second-factor signer and its rotation candidate.
type OverseerState struct {
	Current common.Address
	Pending common.Address
}

// Valid reports whether addr may sign as overseer: the current overseer or
// the one pending promotion.
func (s OverseerState) Valid(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	return addr == s.Current || addr == s.Pending
}
