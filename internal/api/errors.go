package api

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/calldata"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/policy"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
)

// Class is how an error is reported on the wire.
type Class struct {
	Code   string
	Status int
	GRPC   codes.Code
}

var internal = Class{Code: "internal_error", Status: http.StatusInternalServerError, GRPC: codes.Internal}

// Order matters: sub-kinds come before the kinds they wrap.
var classes = []struct {
	err   error
	class Class
}{
	{ErrBadRequest, Class{"bad_request", http.StatusBadRequest, codes.InvalidArgument}},
	{ErrInvalidRequest, Class{"invalid_request", http.StatusBadRequest, codes.InvalidArgument}},
	{ErrUnknownOp, Class{"unknown_operation", http.StatusNotFound, codes.Unimplemented}},

	{callerauth.ErrMissingSignature, Class{"missing_caller_signature", http.StatusUnauthorized, codes.Unauthenticated}},
	{callerauth.ErrInvalidSignature, Class{"invalid_caller_signature", http.StatusUnauthorized, codes.Unauthenticated}},
	{callerauth.ErrExpired, Class{"caller_signature_expired", http.StatusUnauthorized, codes.Unauthenticated}},
	{callerauth.ErrReplayed, Class{"caller_signature_replayed", http.StatusUnauthorized, codes.Unauthenticated}},

	{service.ErrInvalidTimeRange, Class{"invalid_time_range", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrZeroPeriod, Class{"zero_period", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrZeroCap, Class{"zero_cap", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrValueOutOfRange, Class{"value_out_of_range", http.StatusBadRequest, codes.InvalidArgument}},
	{signature.ErrInvalidSignerEncoding, Class{"invalid_signer_encoding", http.StatusBadRequest, codes.InvalidArgument}},
	{policy.ErrUnknownPolicy, Class{"unknown_policy", http.StatusBadRequest, codes.InvalidArgument}},
	{policy.ErrInvalidConfig, Class{"invalid_policy_config", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrAccountMismatch, Class{"account_mismatch", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrPermissionHashMismatch, Class{"permission_hash_mismatch", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrSpendNotRegistered, Class{"spend_not_registered", http.StatusBadRequest, codes.InvalidArgument}},
	{service.ErrZeroOverseer, Class{"zero_overseer", http.StatusBadRequest, codes.InvalidArgument}},

	{service.ErrInvalidSender, Class{"invalid_sender", http.StatusForbidden, codes.PermissionDenied}},
	{service.ErrNotOwner, Class{"not_owner", http.StatusForbidden, codes.PermissionDenied}},
	{service.ErrPermissionRevoked, Class{"permission_revoked", http.StatusForbidden, codes.PermissionDenied}},
	{service.ErrPermissionNotApproved, Class{"permission_not_approved", http.StatusForbidden, codes.PermissionDenied}},
	{service.ErrUnauthorizedPermission, Class{"unauthorized_permission", http.StatusForbidden, codes.PermissionDenied}},
	{service.ErrInvalidSignerProof, Class{"invalid_signer_proof", http.StatusForbidden, codes.PermissionDenied}},
	{service.ErrInvalidOverseerProof, Class{"invalid_overseer_proof", http.StatusForbidden, codes.PermissionDenied}},
	{signature.ErrMalformedSignature, Class{"malformed_signature", http.StatusBadRequest, codes.InvalidArgument}},

	{service.ErrBeforeWindowStart, Class{"before_window_start", http.StatusUnprocessableEntity, codes.FailedPrecondition}},
	{service.ErrAfterWindowEnd, Class{"after_window_end", http.StatusUnprocessableEntity, codes.FailedPrecondition}},
	{service.ErrAmountOverflow, Class{"amount_overflow", http.StatusUnprocessableEntity, codes.FailedPrecondition}},
	{service.ErrExceededAllowance, Class{"exceeded_allowance", http.StatusUnprocessableEntity, codes.ResourceExhausted}},
	{policy.ErrViolation, Class{"policy_violation", http.StatusUnprocessableEntity, codes.FailedPrecondition}},
	{calldata.ErrUnexpectedSelector, Class{"unexpected_selector", http.StatusUnprocessableEntity, codes.FailedPrecondition}},
	{calldata.ErrMalformed, Class{"malformed_calldata", http.StatusUnprocessableEntity, codes.FailedPrecondition}},

	{service.ErrRequestReplayed, Class{"request_replayed", http.StatusConflict, codes.AlreadyExists}},
	{service.ErrPendingMismatch, Class{"pending_mismatch", http.StatusConflict, codes.FailedPrecondition}},

	{dispatch.ErrInsufficientFunds, Class{"insufficient_funds", http.StatusBadGateway, codes.Aborted}},
	{dispatch.ErrCallFailed, Class{"call_failed", http.StatusBadGateway, codes.Aborted}},
	{dispatch.ErrSelfCallRejected, Class{"self_call_rejected", http.StatusBadGateway, codes.Aborted}},
}

// Classify maps err to its wire class. Unknown errors are internal.
func Classify(err error) (Class, bool) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.class, true
		}
	}
	return internal, false
}
