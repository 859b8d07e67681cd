package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Wire types. Addresses and hashes are 0x-hex strings; byte strings are
// 0x-hex; big integers accept decimal or 0x-hex and are rendered as
// decimal strings.

type Permission struct {
	Account      common.Address        `json:"account" validate:"required"`
	Spender      common.Address        `json:"spender" validate:"required"`
	Resource     common.Address        `json:"resource" validate:"required"`
	Signer       hexutil.Bytes         `json:"signer,omitempty" validate:"omitempty,len=32|len=64"`
	Start        uint64                `json:"start"`
	End          uint64                `json:"end"`
	Period       uint64                `json:"period"`
	Cap          *math.HexOrDecimal256 `json:"cap" validate:"required"`
	Salt         *math.HexOrDecimal256 `json:"salt,omitempty"`
	Policy       string                `json:"policy,omitempty" validate:"omitempty,max=64"`
	PolicyConfig hexutil.Bytes         `json:"policy_config,omitempty"`
}

type PermissionRequest struct {
	Permission Permission `json:"permission"`
}

type ApproveWithSignatureRequest struct {
	Permission Permission    `json:"permission"`
	Signature  hexutil.Bytes `json:"signature" validate:"required"`
}

type Call struct {
	Target common.Address        `json:"target"`
	Value  *math.HexOrDecimal256 `json:"value,omitempty"`
	Data   hexutil.Bytes         `json:"data,omitempty"`
}

type SpendRequest struct {
	Permission        Permission            `json:"permission"`
	PermissionHash    *common.Hash          `json:"permission_hash,omitempty"`
	Account           *common.Address       `json:"account,omitempty"`
	Recipient         common.Address        `json:"recipient"`
	Amount            *math.HexOrDecimal256 `json:"amount" validate:"required"`
	Nonce             *math.HexOrDecimal256 `json:"nonce,omitempty"`
	ApprovalSignature hexutil.Bytes         `json:"approval_signature,omitempty"`
	SignerSignature   hexutil.Bytes         `json:"signer_signature,omitempty"`
	OverseerSignature hexutil.Bytes         `json:"overseer_signature,omitempty"`
}

type BatchRequest struct {
	Permission        Permission            `json:"permission"`
	PermissionHash    *common.Hash          `json:"permission_hash,omitempty"`
	Account           *common.Address       `json:"account,omitempty"`
	Calls             []Call                `json:"calls" validate:"required,min=1,max=64,dive"`
	Nonce             *math.HexOrDecimal256 `json:"nonce,omitempty"`
	ApprovalSignature hexutil.Bytes         `json:"approval_signature,omitempty"`
	SignerSignature   hexutil.Bytes         `json:"signer_signature,omitempty"`
	OverseerSignature hexutil.Bytes         `json:"overseer_signature,omitempty"`
}

type OverseerAddressRequest struct {
	Address common.Address `json:"address" validate:"required"`
}

type PromoteOverseerRequest struct {
	Expected common.Address `json:"expected" validate:"required"`
}

type AuditRequest struct {
	PermissionHash common.Hash    `json:"permission_hash" validate:"required"`
	Account        common.Address `json:"account" validate:"required"`
}

type Empty struct{}

// ── Responses ────────────────────────────────────────────────────────────────

type HashResponse struct {
	PermissionHash common.Hash `json:"permission_hash"`
}

type RequestHashResponse struct {
	RequestHash common.Hash `json:"request_hash"`
}

type ApproveResponse struct {
	Approved bool `json:"approved"`
}

type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

type AuthorizedResponse struct {
	Authorized bool `json:"authorized"`
}

type Cycle struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	Spent string `json:"spent"`
}

type SpendResponse struct {
	PermissionHash common.Hash     `json:"permission_hash"`
	RequestHash    common.Hash     `json:"request_hash"`
	Cycle          Cycle           `json:"cycle"`
	Results        []hexutil.Bytes `json:"results"`
}

type OverseerResponse struct {
	Current common.Address `json:"current"`
	Pending common.Address `json:"pending"`
}

type AuditEvent struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	PermissionHash common.Hash    `json:"permission_hash"`
	Account        common.Address `json:"account"`
	Spender        common.Address `json:"spender"`
	CycleStart     uint64         `json:"cycle_start,omitempty"`
	CycleEnd       uint64         `json:"cycle_end,omitempty"`
	Amount         string         `json:"amount,omitempty"`
	RecordedAt     string         `json:"recorded_at"`
}

type AuditResponse struct {
	Events []AuditEvent `json:"events"`
}
