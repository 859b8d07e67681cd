package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/spendperm/server/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if _, err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := openTestDB(t)

	n, err := db.Migrate(context.Background(), conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 migrations on second run, got %d", n)
	}

	v, err := db.CurrentVersion(context.Background(), conn)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	boom := errors.New("boom")
	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO overseer(id, current, pending, updated_at_ms) VALUES (1, x'01', NULL, 0);`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM overseer`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to leave 0 rows, got %d", count)
	}
}

func TestWorker_SerializesJobs(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	if _, err := conn.Exec(`
INSERT INTO overseer(id, current, pending, updated_at_ms) VALUES (1, NULL, NULL, 0);`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Read-modify-write without SQL-level increments: only safe because
	// the worker runs one job at a time.
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
				var v int64
				if err := tx.QueryRowContext(ctx, `SELECT updated_at_ms FROM overseer WHERE id = 1`).Scan(&v); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `UPDATE overseer SET updated_at_ms = ? WHERE id = 1`, v+1)
				return err
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	var got int64
	if err := conn.QueryRow(`SELECT updated_at_ms FROM overseer WHERE id = 1`).Scan(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != n {
		t.Errorf("expected %d, got %d", n, got)
	}
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}

func TestWorker_CancelAfterStartStillReportsCommit(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
INSERT INTO overseer(id, current, pending, updated_at_ms) VALUES (1, NULL, NULL, 7);`)
			return err
		})
	}()

	<-started
	cancel()
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("expected the started job to commit, got %v", err)
	}

	var got int64
	if err := conn.QueryRow(`SELECT updated_at_ms FROM overseer WHERE id = 1`).Scan(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 7 {
		t.Errorf("expected committed row, got updated_at_ms=%d", got)
	}
}

func TestWorker_CancelledBeforeStartDoesNotRun(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := w.Do(ctx, func(context.Context, *sql.Tx) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("job ran despite a cancelled context")
	}
}
