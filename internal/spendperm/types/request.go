package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is a single effect handed to the dispatcher.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// SpendRequest asks to move Amount of the permission's resource to Recipient.
type SpendRequest struct {
	Permission Permission

	// PermissionHash, when set, must match the recomputed hash of Permission.
	PermissionHash *common.Hash

	// Account, when set, must match Permission.Account.
	Account *common.Address

	Recipient common.Address
	Amount    *big.Int
	Nonce     *big.Int

	// ApprovalSignature lets first use double as approval.
	ApprovalSignature []byte

	// SignerSignature is the delegated signer's proof over the request hash.
	SignerSignature []byte

	// OverseerSignature is the second factor, required by some policies.
	OverseerSignature []byte
}

// BatchRequest asks to run Calls on behalf of the account. The last call
// must register the spend with the engine.
type BatchRequest struct {
	Permission     Permission
	PermissionHash *common.Hash
	Account        *common.Address

	Calls []Call
	Nonce *big.Int

	ApprovalSignature []byte
	SignerSignature   []byte
	OverseerSignature []byte
}

// ActionKind distinguishes single spends from call batches.
type ActionKind string

const (
	ActionSpend ActionKind = "spend"
	ActionBatch ActionKind = "batch"
)

// Action is what a policy module gets to inspect.
type Action struct {
	Kind           ActionKind
	Engine         common.Address
	PermissionHash common.Hash
	Account        common.Address
	Spender        common.Address
	Resource       common.Address
	Recipient      common.Address
	Amount         *big.Int
	Calls          []Call
}
