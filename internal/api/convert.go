package api

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// ── Wire → domain ────────────────────────────────────────────────────────────

func (p Permission) toDomain() types.Permission {
	return types.Permission{
		Account:      p.Account,
		Spender:      p.Spender,
		Resource:     p.Resource,
		Signer:       p.Signer,
		Start:        p.Start,
		End:          p.End,
		Period:       p.Period,
		Cap:          bigOrNil(p.Cap),
		Salt:         bigOrNil(p.Salt),
		Policy:       p.Policy,
		PolicyConfig: p.PolicyConfig,
	}
}

func (r SpendRequest) toDomain() types.SpendRequest {
	return types.SpendRequest{
		Permission:        r.Permission.toDomain(),
		PermissionHash:    r.PermissionHash,
		Account:           r.Account,
		Recipient:         r.Recipient,
		Amount:            bigOrNil(r.Amount),
		Nonce:             bigOrNil(r.Nonce),
		ApprovalSignature: r.ApprovalSignature,
		SignerSignature:   r.SignerSignature,
		OverseerSignature: r.OverseerSignature,
	}
}

func (r BatchRequest) toDomain() types.BatchRequest {
	calls := make([]types.Call, len(r.Calls))
	for i, c := range r.Calls {
		calls[i] = types.Call{Target: c.Target, Value: bigOrNil(c.Value), Data: c.Data}
	}
	return types.BatchRequest{
		Permission:        r.Permission.toDomain(),
		PermissionHash:    r.PermissionHash,
		Account:           r.Account,
		Calls:             calls,
		Nonce:             bigOrNil(r.Nonce),
		ApprovalSignature: r.ApprovalSignature,
		SignerSignature:   r.SignerSignature,
		OverseerSignature: r.OverseerSignature,
	}
}

// FromDomain renders p in wire form.
func FromDomain(p types.Permission) Permission {
	return Permission{
		Account:      p.Account,
		Spender:      p.Spender,
		Resource:     p.Resource,
		Signer:       p.Signer,
		Start:        p.Start,
		End:          p.End,
		Period:       p.Period,
		Cap:          (*math.HexOrDecimal256)(p.Cap),
		Salt:         (*math.HexOrDecimal256)(p.Salt),
		Policy:       p.Policy,
		PolicyConfig: p.PolicyConfig,
	}
}

// ── Domain → wire ────────────────────────────────────────────────────────────

func cycleToWire(c types.Cycle) Cycle {
	spent := "0"
	if c.Spent != nil {
		spent = c.Spent.String()
	}
	return Cycle{Start: c.Start, End: c.End, Spent: spent}
}

func spendResultToWire(r service.SpendResult) SpendResponse {
	results := make([]hexutil.Bytes, len(r.Results))
	for i, out := range r.Results {
		results[i] = out
	}
	return SpendResponse{
		PermissionHash: r.PermissionHash,
		RequestHash:    r.RequestHash,
		Cycle:          cycleToWire(r.Cycle),
		Results:        results,
	}
}

func eventToWire(ev store.EventRecord) AuditEvent {
	out := AuditEvent{
		ID:             ev.ID.String(),
		Kind:           string(ev.Kind),
		PermissionHash: ev.PermissionHash,
		Account:        ev.Account,
		Spender:        ev.Spender,
		CycleStart:     ev.CycleStart,
		CycleEnd:       ev.CycleEnd,
		RecordedAt:     ev.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.Amount != nil {
		out.Amount = ev.Amount.String()
	}
	return out
}

func bigOrNil(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(v))
}
