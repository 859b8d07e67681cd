package service

import (
	"errors"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/policy"
)

// Permission shape.
var (
	ErrInvalidTimeRange = errors.New("permission start must be before end")
	ErrZeroPeriod       = errors.New("permission period must be positive")
	ErrZeroCap          = errors.New("permission cap must be positive")
	ErrValueOutOfRange  = errors.New("value out of range")
)

// Authorization.
var (
	ErrUnauthorizedPermission = errors.New("unauthorized permission")
	ErrPermissionRevoked      = fmtKind(ErrUnauthorizedPermission, "permission revoked")
	ErrPermissionNotApproved  = fmtKind(ErrUnauthorizedPermission, "permission not approved")

	ErrInvalidSender          = errors.New("invalid sender")
	ErrAccountMismatch        = errors.New("request account does not match permission account")
	ErrPermissionHashMismatch = errors.New("permission hash does not match permission fields")
	ErrInvalidSignerProof     = errors.New("invalid signer proof")
	ErrInvalidOverseerProof   = errors.New("invalid overseer proof")
	ErrRequestReplayed        = errors.New("request already consumed")

	ErrUnknownPolicy   = policy.ErrUnknownPolicy
	ErrPolicyViolation = policy.ErrViolation
)

// Accounting.
var (
	ErrBeforeWindowStart  = errors.New("permission not yet active")
	ErrAfterWindowEnd     = errors.New("permission expired")
	ErrAmountOverflow     = errors.New("cycle spend overflows accumulator")
	ErrExceededAllowance  = errors.New("spend exceeds cycle allowance")
	ErrSpendNotRegistered = errors.New("batch did not register its spend")
)

// Overseer administration.
var (
	ErrNotOwner        = errors.New("caller is not the owner")
	ErrZeroOverseer    = errors.New("overseer address must be non-zero")
	ErrPendingMismatch = errors.New("pending overseer does not match expected")
)

// kindError is a sub-kind that also matches its parent with errors.Is.
type kindError struct {
	parent error
	msg    string
}

func fmtKind(parent error, msg string) error {
	return &kindError{parent: parent, msg: msg}
}

func (e *kindError) Error() string { return e.parent.Error() + ": " + e.msg }
func (e *kindError) Unwrap() error { return e.parent }
