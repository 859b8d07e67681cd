package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	dbpkg "github.com/BrandonDHaskell/spendperm/server/internal/db"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// Ledger is the SQLite-backed store.Ledger. Writes go through the
// single-writer worker; reads use a throwaway transaction that is always
// rolled back.
type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedger(db *sql.DB, writer *dbpkg.Worker) *Ledger {
	return &Ledger{db: db, writer: writer}
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &sqlTx{tx: tx})
	})
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("View begin: %w", err)
	}
	defer tx.Rollback()
	return fn(ctx, &sqlTx{tx: tx, readOnly: true})
}

func (l *Ledger) Events(ctx context.Context, id common.Hash, account common.Address) ([]store.EventRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT event_id, kind, permission_hash, account, spender,
       cycle_start, cycle_end, amount, recorded_at_ms
FROM audit_events
WHERE permission_hash = ? AND account = ?
ORDER BY seq ASC;
`, id.Bytes(), account.Bytes())
	if err != nil {
		return nil, fmt.Errorf("Events query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			eventID, kind       string
			hash, acct, spender []byte
			cycleStart          sql.NullInt64
			cycleEnd            sql.NullInt64
			amount              sql.NullString
			recordedMs          int64
		)
		if err := rows.Scan(&eventID, &kind, &hash, &acct, &spender,
			&cycleStart, &cycleEnd, &amount, &recordedMs); err != nil {
			return nil, fmt.Errorf("Events scan: %w", err)
		}

		rec := store.EventRecord{
			Kind:           store.EventKind(kind),
			PermissionHash: common.BytesToHash(hash),
			Account:        common.BytesToAddress(acct),
			Spender:        common.BytesToAddress(spender),
			CycleStart:     uint64(cycleStart.Int64),
			CycleEnd:       uint64(cycleEnd.Int64),
			RecordedAt:     time.UnixMilli(recordedMs).UTC(),
		}
		if rec.ID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("Events event_id %q: %w", eventID, err)
		}
		if amount.Valid {
			if rec.Amount, err = parseAmount(amount.String); err != nil {
				return nil, fmt.Errorf("Events amount: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Events rows: %w", err)
	}
	return out, nil
}

func (l *Ledger) PruneExpired(ctx context.Context, cutoff uint64) (int64, error) {
	var total int64
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		total = 0
		for _, q := range []string{
			`DELETE FROM cycle_usage WHERE permission_end < ?;`,
			`DELETE FROM consumed_requests WHERE permission_end < ?;`,
			`DELETE FROM consumed_caller_proofs WHERE expires_at < ?;`,
		} {
			res, err := tx.ExecContext(ctx, q, int64(cutoff))
			if err != nil {
				return fmt.Errorf("PruneExpired: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("PruneExpired rows affected: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// sqlTx adapts *sql.Tx to store.Tx.
type sqlTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *sqlTx) PermissionState(ctx context.Context, id common.Hash, account common.Address) (types.PermissionState, error) {
	var approved, revoked int
	err := t.tx.QueryRowContext(ctx, `
SELECT approved, revoked FROM permission_states
WHERE permission_hash = ? AND account = ?;
`, id.Bytes(), account.Bytes()).Scan(&approved, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PermissionState{}, nil
	}
	if err != nil {
		return types.PermissionState{}, fmt.Errorf("PermissionState: %w", err)
	}
	return types.PermissionState{Approved: approved == 1, Revoked: revoked == 1}, nil
}

func (t *sqlTx) PutPermissionState(ctx context.Context, id common.Hash, account common.Address, st types.PermissionState) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO permission_states(permission_hash, account, approved, revoked, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(permission_hash, account) DO UPDATE SET
  approved      = excluded.approved,
  revoked       = excluded.revoked,
  updated_at_ms = excluded.updated_at_ms;
`, id.Bytes(), account.Bytes(), boolInt(st.Approved), boolInt(st.Revoked), nowMs()); err != nil {
		return fmt.Errorf("PutPermissionState: %w", err)
	}
	return nil
}

func (t *sqlTx) Cycle(ctx context.Context, id common.Hash, account common.Address) (types.Cycle, bool, error) {
	var (
		start, end int64
		spent      string
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT cycle_start, cycle_end, spent FROM cycle_usage
WHERE permission_hash = ? AND account = ?;
`, id.Bytes(), account.Bytes()).Scan(&start, &end, &spent)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Cycle{}, false, nil
	}
	if err != nil {
		return types.Cycle{}, false, fmt.Errorf("Cycle: %w", err)
	}
	amt, err := parseAmount(spent)
	if err != nil {
		return types.Cycle{}, false, fmt.Errorf("Cycle spent: %w", err)
	}
	return types.Cycle{Start: uint64(start), End: uint64(end), Spent: amt}, true, nil
}

func (t *sqlTx) PutCycle(ctx context.Context, id common.Hash, account common.Address, c types.Cycle, permissionEnd uint64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	spent := "0"
	if c.Spent != nil {
		spent = c.Spent.String()
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO cycle_usage(permission_hash, account, cycle_start, cycle_end, spent, permission_end, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(permission_hash, account) DO UPDATE SET
  cycle_start    = excluded.cycle_start,
  cycle_end      = excluded.cycle_end,
  spent          = excluded.spent,
  permission_end = excluded.permission_end,
  updated_at_ms  = excluded.updated_at_ms;
`, id.Bytes(), account.Bytes(), int64(c.Start), int64(c.End), spent, int64(permissionEnd), nowMs()); err != nil {
		return fmt.Errorf("PutCycle: %w", err)
	}
	return nil
}

func (t *sqlTx) ConsumeRequest(ctx context.Context, rec store.ConsumedRequest) (bool, error) {
	if t.readOnly {
		return false, store.ErrReadOnly
	}
	consumedAt := rec.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO consumed_requests(request_hash, permission_hash, account, permission_end, consumed_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.RequestHash.Bytes(), rec.PermissionHash.Bytes(), rec.Account.Bytes(),
		int64(rec.PermissionEnd), consumedAt.UTC().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("ConsumeRequest: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ConsumeRequest rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *sqlTx) ConsumeCallerProof(ctx context.Context, rec store.CallerProof) (bool, error) {
	if t.readOnly {
		return false, store.ErrReadOnly
	}
	consumedAt := rec.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO consumed_caller_proofs(digest, caller, expires_at, consumed_at_ms)
VALUES (?, ?, ?, ?);
`, rec.Digest.Bytes(), rec.Caller.Bytes(), int64(rec.ExpiresAt), consumedAt.UTC().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("ConsumeCallerProof: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ConsumeCallerProof rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *sqlTx) Overseer(ctx context.Context) (types.OverseerState, error) {
	var current, pending []byte
	err := t.tx.QueryRowContext(ctx, `
SELECT current, pending FROM overseer WHERE id = 1;
`).Scan(&current, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return types.OverseerState{}, nil
	}
	if err != nil {
		return types.OverseerState{}, fmt.Errorf("Overseer: %w", err)
	}
	return types.OverseerState{
		Current: common.BytesToAddress(current),
		Pending: common.BytesToAddress(pending),
	}, nil
}

func (t *sqlTx) PutOverseer(ctx context.Context, st types.OverseerState) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO overseer(id, current, pending, updated_at_ms)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  current       = excluded.current,
  pending       = excluded.pending,
  updated_at_ms = excluded.updated_at_ms;
`, nullableAddress(st.Current), nullableAddress(st.Pending), nowMs()); err != nil {
		return fmt.Errorf("PutOverseer: %w", err)
	}
	return nil
}

func (t *sqlTx) AppendEvent(ctx context.Context, rec store.EventRecord) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	var cycleStart, cycleEnd, amount any
	if rec.Kind == store.EventUsed {
		cycleStart = int64(rec.CycleStart)
		cycleEnd = int64(rec.CycleEnd)
		if rec.Amount != nil {
			amount = rec.Amount.String()
		}
	}

	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO audit_events(
  event_id, kind, permission_hash, account, spender,
  cycle_start, cycle_end, amount, recorded_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		rec.ID.String(), string(rec.Kind), rec.PermissionHash.Bytes(), rec.Account.Bytes(),
		nullableAddress(rec.Spender), cycleStart, cycleEnd, amount, rec.RecordedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("AppendEvent insert: %w", err)
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return v, nil
}

func nullableAddress(a common.Address) any {
	if a == (common.Address{}) {
		return nil
	}
	return a.Bytes()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowMs() int64 {
	return time.Now().UTC().UnixMilli()
}
