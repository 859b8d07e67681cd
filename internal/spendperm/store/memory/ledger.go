package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

type key struct {
	id      common.Hash
	account common.Address
}

type cycleRow struct {
	cycle         types.Cycle
	permissionEnd uint64
}

// Ledger is an in-memory store.Ledger for tests and dev environments. A
// single mutex serializes every unit of work; writes are staged and only
// applied when the unit succeeds.
type Ledger struct {
	mu       sync.Mutex
	states   map[key]types.PermissionState
	cycles   map[key]cycleRow
	consumed map[common.Hash]store.ConsumedRequest
	proofs   map[common.Hash]store.CallerProof
	overseer types.OverseerState
	events   []store.EventRecord
}

func New() *Ledger {
	return &Ledger{
		states:   make(map[key]types.PermissionState),
		cycles:   make(map[key]cycleRow),
		consumed: make(map[common.Hash]store.ConsumedRequest),
		proofs:   make(map[common.Hash]store.CallerProof),
	}
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(l, false)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx, newTx(l, true))
}

func (l *Ledger) Events(_ context.Context, id common.Hash, account common.Address) ([]store.EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.EventRecord
	for _, ev := range l.events {
		if ev.PermissionHash == id && ev.Account == account {
			out = append(out, copyEvent(ev))
		}
	}
	return out, nil
}

func (l *Ledger) PruneExpired(_ context.Context, cutoff uint64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var deleted int64
	for k, row := range l.cycles {
		if row.permissionEnd < cutoff {
			delete(l.cycles, k)
			deleted++
		}
	}
	for h, rec := range l.consumed {
		if rec.PermissionEnd < cutoff {
			delete(l.consumed, h)
			deleted++
		}
	}
	for d, rec := range l.proofs {
		if rec.ExpiresAt < cutoff {
			delete(l.proofs, d)
			deleted++
		}
	}
	return deleted, nil
}

// tx overlays staged writes on the ledger's committed maps. Callers hold
// the ledger mutex for the lifetime of a tx.
type tx struct {
	l        *Ledger
	readOnly bool

	states   map[key]types.PermissionState
	cycles   map[key]cycleRow
	consumed map[common.Hash]store.ConsumedRequest
	proofs   map[common.Hash]store.CallerProof
	overseer *types.OverseerState
	events   []store.EventRecord
}

func newTx(l *Ledger, readOnly bool) *tx {
	return &tx{
		l:        l,
		readOnly: readOnly,
		states:   make(map[key]types.PermissionState),
		cycles:   make(map[key]cycleRow),
		consumed: make(map[common.Hash]store.ConsumedRequest),
		proofs:   make(map[common.Hash]store.CallerProof),
	}
}

func (t *tx) commit() {
	for k, v := range t.states {
		t.l.states[k] = v
	}
	for k, v := range t.cycles {
		t.l.cycles[k] = v
	}
	for k, v := range t.consumed {
		t.l.consumed[k] = v
	}
	for k, v := range t.proofs {
		t.l.proofs[k] = v
	}
	if t.overseer != nil {
		t.l.overseer = *t.overseer
	}
	t.l.events = append(t.l.events, t.events...)
}

func (t *tx) PermissionState(_ context.Context, id common.Hash, account common.Address) (types.PermissionState, error) {
	k := key{id, account}
	if st, ok := t.states[k]; ok {
		return st, nil
	}
	return t.l.states[k], nil
}

func (t *tx) PutPermissionState(_ context.Context, id common.Hash, account common.Address, st types.PermissionState) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	t.states[key{id, account}] = st
	return nil
}

func (t *tx) Cycle(_ context.Context, id common.Hash, account common.Address) (types.Cycle, bool, error) {
	k := key{id, account}
	row, ok := t.cycles[k]
	if !ok {
		row, ok = t.l.cycles[k]
	}
	if !ok {
		return types.Cycle{}, false, nil
	}
	return copyCycle(row.cycle), true, nil
}

func (t *tx) PutCycle(_ context.Context, id common.Hash, account common.Address, c types.Cycle, permissionEnd uint64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	t.cycles[key{id, account}] = cycleRow{cycle: copyCycle(c), permissionEnd: permissionEnd}
	return nil
}

func (t *tx) ConsumeRequest(_ context.Context, rec store.ConsumedRequest) (bool, error) {
	if t.readOnly {
		return false, store.ErrReadOnly
	}
	if _, ok := t.consumed[rec.RequestHash]; ok {
		return false, nil
	}
	if _, ok := t.l.consumed[rec.RequestHash]; ok {
		return false, nil
	}
	t.consumed[rec.RequestHash] = rec
	return true, nil
}

func (t *tx) ConsumeCallerProof(_ context.Context, rec store.CallerProof) (bool, error) {
	if t.readOnly {
		return false, store.ErrReadOnly
	}
	if _, ok := t.proofs[rec.Digest]; ok {
		return false, nil
	}
	if _, ok := t.l.proofs[rec.Digest]; ok {
		return false, nil
	}
	t.proofs[rec.Digest] = rec
	return true, nil
}

func (t *tx) Overseer(_ context.Context) (types.OverseerState, error) {
	if t.overseer != nil {
		return *t.overseer, nil
	}
	return t.l.overseer, nil
}

func (t *tx) PutOverseer(_ context.Context, st types.OverseerState) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	t.overseer = &st
	return nil
}

func (t *tx) AppendEvent(_ context.Context, rec store.EventRecord) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	t.events = append(t.events, copyEvent(rec))
	return nil
}

func copyCycle(c types.Cycle) types.Cycle {
	if c.Spent != nil {
		c.Spent = new(big.Int).Set(c.Spent)
	}
	return c
}

func copyEvent(ev store.EventRecord) store.EventRecord {
	if ev.Amount != nil {
		ev.Amount = new(big.Int).Set(ev.Amount)
	}
	return ev
}
