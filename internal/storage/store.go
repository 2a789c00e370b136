package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"feeledger/internal/core"

	"golang.org/x/sync/semaphore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Options tunes the store. Zero values fall back to defaults.
type Options struct {
	// AcquireTimeout bounds how long a writer waits for the write gate.
	AcquireTimeout time.Duration
	// BusyTimeout is passed to SQLite as busy_timeout.
	BusyTimeout time.Duration
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

const (
	defaultAcquireTimeout = 5 * time.Second
	defaultBusyTimeout    = 5 * time.Second
)

// Store is the durable transactional store behind the ledger. All writes go
// through WithTx, which serializes writers in-process and maps lock
// contention to core.ErrStorageBusy.
type Store struct {
	db             *sql.DB
	gate           *semaphore.Weighted
	acquireTimeout time.Duration
	clock          func() time.Time
}

// Open creates (if needed) and migrates the SQLite database at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the main pool is opened
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("Ledger store opened", "path", dbPath, "acquire_timeout", opts.AcquireTimeout)

	return &Store{
		db:             db,
		gate:           semaphore.NewWeighted(1),
		acquireTimeout: opts.AcquireTimeout,
		clock:          opts.Clock,
	}, nil
}

func dsn(path string, busy time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		path, busy.Milliseconds())
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Now returns the store clock's current time in UTC.
func (s *Store) Now() time.Time {
	return s.clock().UTC()
}

// WithTx runs fn inside one write transaction. The transaction commits when
// fn returns nil and rolls back otherwise, so a failed write leaves no trace.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	wait, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	if err := s.gate.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("acquire write gate: %w", core.ErrStorageBusy)
	}
	defer s.gate.Release(1)

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(&Tx{q: sqlTx, clock: s.clock}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return mapBusy(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return mapBusy(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// View runs fn against the database outside any write transaction.
func (s *Store) View(ctx context.Context, fn func(q *Tx) error) error {
	return mapBusy(fn(&Tx{q: s.db, clock: s.clock}))
}

func mapBusy(err error) error {
	if err == nil || errors.Is(err, core.ErrStorageBusy) {
		return err
	}
	if isBusy(err) {
		return fmt.Errorf("%w: %w", core.ErrStorageBusy, err)
	}
	return err
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx exposes the ledger's queries. Inside WithTx it is bound to one
// transaction; inside View it reads from the pool.
type Tx struct {
	q     querier
	clock func() time.Time
}

// Now returns the current time in UTC.
func (t *Tx) Now() time.Time {
	return t.clock().UTC()
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func ptrTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullID(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrID(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
