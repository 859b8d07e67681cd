// Package api is the transport-neutral surface of the server: wire types,
// request decoding and validation, the operation table both transports
// serve, and the mapping from domain errors to wire error codes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/permhash"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
)

var (
	ErrBadRequest     = errors.New("api: malformed request body")
	ErrInvalidRequest = errors.New("api: request failed validation")
	ErrUnknownOp      = errors.New("api: unknown operation")
)

// validate is a package-level singleton; building a validator is costly.
var validate = validator.New()

// Backend is what operations run against. Callers authenticates operations
// marked Caller.
type Backend struct {
	Registry  *service.Registry
	Spends    *service.SpendService
	Overseers *service.OverseerService
	Callers   *callerauth.Authenticator
}

// Op is one operation, served over HTTP at Method+Path and over gRPC as
// Name.
type Op struct {
	Name   string
	Method string
	Path   string

	// Caller reports whether the operation acts as an authenticated caller.
	Caller bool

	request  func() any
	response func() any
	handle   func(ctx context.Context, b *Backend, caller common.Address, body []byte) (any, error)
}

// Handle decodes body, validates it and runs the operation.
func (o Op) Handle(ctx context.Context, b *Backend, caller common.Address, body []byte) (any, error) {
	return o.handle(ctx, b, caller, body)
}

// RequestSample and ResponseSample return zero values for schema reflection.
func (o Op) RequestSample() any  { return o.request() }
func (o Op) ResponseSample() any { return o.response() }

func op[Req, Resp any](name, method, path string, caller bool, fn func(ctx context.Context, b *Backend, caller common.Address, req *Req) (Resp, error)) Op {
	return Op{
		Name:     name,
		Method:   method,
		Path:     path,
		Caller:   caller,
		request:  func() any { return new(Req) },
		response: func() any { return new(Resp) },
		handle: func(ctx context.Context, b *Backend, caller common.Address, body []byte) (any, error) {
			req := new(Req)
			if err := Decode(body, req); err != nil {
				return nil, err
			}
			return fn(ctx, b, caller, req)
		},
	}
}

// Decode strictly parses a JSON body into v and validates it. An empty body
// decodes as an empty object.
func Decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrBadRequest)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

var ops = []Op{
	op("HashPermission", "POST", "/v1/permissions/hash", false,
		func(_ context.Context, b *Backend, _ common.Address, req *PermissionRequest) (HashResponse, error) {
			return HashResponse{PermissionHash: permhash.Hash(b.Registry.Domain(), req.Permission.toDomain())}, nil
		}),
	op("ApprovePermission", "POST", "/v1/permissions/approve", true,
		func(ctx context.Context, b *Backend, caller common.Address, req *PermissionRequest) (ApproveResponse, error) {
			ok, err := b.Registry.Approve(ctx, caller, req.Permission.toDomain())
			return ApproveResponse{Approved: ok}, err
		}),
	op("ApprovePermissionWithSignature", "POST", "/v1/permissions/approve_with_signature", false,
		func(ctx context.Context, b *Backend, _ common.Address, req *ApproveWithSignatureRequest) (ApproveResponse, error) {
			ok, err := b.Registry.ApproveWithSignature(ctx, req.Permission.toDomain(), req.Signature)
			return ApproveResponse{Approved: ok}, err
		}),
	op("RevokePermission", "POST", "/v1/permissions/revoke", true,
		func(ctx context.Context, b *Backend, caller common.Address, req *PermissionRequest) (RevokeResponse, error) {
			if err := b.Registry.Revoke(ctx, caller, req.Permission.toDomain()); err != nil {
				return RevokeResponse{}, err
			}
			return RevokeResponse{Revoked: true}, nil
		}),
	op("IsAuthorized", "POST", "/v1/permissions/authorized", false,
		func(ctx context.Context, b *Backend, _ common.Address, req *PermissionRequest) (AuthorizedResponse, error) {
			ok, err := b.Registry.IsAuthorized(ctx, req.Permission.toDomain())
			return AuthorizedResponse{Authorized: ok}, err
		}),
	op("GetCurrentCycle", "POST", "/v1/permissions/cycle", false,
		func(ctx context.Context, b *Backend, _ common.Address, req *PermissionRequest) (Cycle, error) {
			c, err := b.Registry.GetCurrentCycle(ctx, req.Permission.toDomain())
			if err != nil {
				return Cycle{}, err
			}
			return cycleToWire(c), nil
		}),

	op("SpendRequestHash", "POST", "/v1/spend/hash", false,
		func(_ context.Context, b *Backend, _ common.Address, req *SpendRequest) (RequestHashResponse, error) {
			h, err := b.Spends.SpendRequestHash(req.toDomain())
			return RequestHashResponse{RequestHash: h}, err
		}),
	op("Spend", "POST", "/v1/spend", true,
		func(ctx context.Context, b *Backend, caller common.Address, req *SpendRequest) (SpendResponse, error) {
			res, err := b.Spends.Spend(ctx, caller, req.toDomain())
			if err != nil {
				return SpendResponse{}, err
			}
			return spendResultToWire(res), nil
		}),
	op("SpendWithSignature", "POST", "/v1/spend_with_signature", false,
		func(ctx context.Context, b *Backend, _ common.Address, req *SpendRequest) (SpendResponse, error) {
			res, err := b.Spends.SpendWithSignature(ctx, req.toDomain())
			if err != nil {
				return SpendResponse{}, err
			}
			return spendResultToWire(res), nil
		}),
	op("BatchRequestHash", "POST", "/v1/spend_batch/hash", false,
		func(_ context.Context, b *Backend, _ common.Address, req *BatchRequest) (RequestHashResponse, error) {
			return RequestHashResponse{RequestHash: b.Spends.BatchRequestHash(req.toDomain())}, nil
		}),
	op("SpendBatch", "POST", "/v1/spend_batch", true,
		func(ctx context.Context, b *Backend, caller common.Address, req *BatchRequest) (SpendResponse, error) {
			res, err := b.Spends.SpendBatch(ctx, caller, req.toDomain())
			if err != nil {
				return SpendResponse{}, err
			}
			return spendResultToWire(res), nil
		}),
	op("SpendBatchWithSignature", "POST", "/v1/spend_batch_with_signature", false,
		func(ctx context.Context, b *Backend, _ common.Address, req *BatchRequest) (SpendResponse, error) {
			res, err := b.Spends.SpendBatchWithSignature(ctx, req.toDomain())
			if err != nil {
				return SpendResponse{}, err
			}
			return spendResultToWire(res), nil
		}),

	op("GetOverseer", "GET", "/v1/overseer", false,
		func(ctx context.Context, b *Backend, _ common.Address, _ *Empty) (OverseerResponse, error) {
			st, err := b.Overseers.Overseer(ctx)
			return OverseerResponse{Current: st.Current, Pending: st.Pending}, err
		}),
	op("SetPendingOverseer", "POST", "/v1/overseer/pending", true,
		func(ctx context.Context, b *Backend, caller common.Address, req *OverseerAddressRequest) (OverseerResponse, error) {
			st, err := b.Overseers.SetPending(ctx, caller, req.Address)
			return OverseerResponse{Current: st.Current, Pending: st.Pending}, err
		}),
	op("ResetPendingOverseer", "POST", "/v1/overseer/reset", true,
		func(ctx context.Context, b *Backend, caller common.Address, _ *Empty) (OverseerResponse, error) {
			st, err := b.Overseers.ResetPending(ctx, caller)
			return OverseerResponse{Current: st.Current, Pending: st.Pending}, err
		}),
	op("PromoteOverseer", "POST", "/v1/overseer/promote", true,
		func(ctx context.Context, b *Backend, caller common.Address, req *PromoteOverseerRequest) (OverseerResponse, error) {
			st, err := b.Overseers.Promote(ctx, caller, req.Expected)
			return OverseerResponse{Current: st.Current, Pending: st.Pending}, err
		}),

	op("ListAuditEvents", "GET", "/v1/audit", false,
		func(ctx context.Context, b *Backend, _ common.Address, req *AuditRequest) (AuditResponse, error) {
			evs, err := b.Registry.Events(ctx, req.PermissionHash, req.Account)
			if err != nil {
				return AuditResponse{}, err
			}
			out := AuditResponse{Events: make([]AuditEvent, 0, len(evs))}
			for _, ev := range evs {
				out.Events = append(out.Events, eventToWire(ev))
			}
			return out, nil
		}),
}

// Ops returns every operation in a stable order.
func Ops() []Op {
	out := make([]Op, len(ops))
	copy(out, ops)
	return out
}

// Lookup finds an operation by name.
func Lookup(name string) (Op, error) {
	for _, o := range ops {
		if o.Name == name {
			return o, nil
		}
	}
	return Op{}, fmt.Errorf("%w: %s", ErrUnknownOp, name)
}
