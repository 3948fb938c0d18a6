package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/doss/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
    id              TEXT PRIMARY KEY,
    service         TEXT NOT NULL,
    handler         TEXT NOT NULL,
    object_key      TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    input           BLOB,
    output          BLOB,
    error           TEXT NOT NULL DEFAULT '',
    attempts        INTEGER NOT NULL DEFAULT 0,
    duration_ms     INTEGER,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    finished_at     DATETIME,
    finished_ms     INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invocations_idempotency
    ON invocations (service, handler, object_key, idempotency_key)
    WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_invocations_finished ON invocations (finished_ms);

CREATE TABLE IF NOT EXISTS journal (
    invocation_id TEXT NOT NULL,
    seq           INTEGER NOT NULL,
    name          TEXT NOT NULL,
    value         BLOB,
    created_at    DATETIME NOT NULL,
    PRIMARY KEY (invocation_id, name)
);

CREATE TABLE IF NOT EXISTS state (
    service    TEXT NOT NULL,
    object_key TEXT NOT NULL,
    state_key  TEXT NOT NULL,
    value      BLOB,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (service, object_key, state_key)
)`

const invocationColumns = `id, service, handler, object_key, idempotency_key, status,
	input, output, error, attempts, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when an invocation or journal entry is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction checks.
var (
	_ Store      = (*SQLiteStore)(nil)
	_ StateStore = (*SQLiteStore)(nil)
)

// SQLiteStore implements Store and StateStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// connParams are applied by the driver to every pooled connection. Write
// transactions begin IMMEDIATE so they wait on busy_timeout for the write
// lock instead of failing when a read lock cannot be upgraded.
const connParams = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" gets its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// dsn appends the connection parameters to dbPath, which may already carry
// a query string.
func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + connParams
	}
	return dbPath + "?" + connParams
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var durationMS sql.NullInt64
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&inv.ID, &inv.Service, &inv.Handler, &inv.ObjectKey, &inv.IdempotencyKey, &inv.Status,
		&inv.Input, &inv.Output, &inv.Error, &inv.Attempts, &durationMS,
		&inv.CreatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		inv.DurationMS = &d
	}
	if startedAt.Valid {
		t := startedAt.Time
		inv.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		inv.FinishedAt = &t
	}
	return inv, nil
}

// CreateInvocation inserts a new invocation record.
func (s *SQLiteStore) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (
			id, service, handler, object_key, idempotency_key, status,
			input, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Service, inv.Handler, inv.ObjectKey, inv.IdempotencyKey, inv.Status,
		inv.Input, inv.Attempts, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// GetInvocation retrieves an invocation by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// FindInvocation looks an invocation up by its idempotency key.
func (s *SQLiteStore) FindInvocation(ctx context.Context, service, handler, objectKey, idempotencyKey string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations
		WHERE service = ? AND handler = ? AND object_key = ? AND idempotency_key = ?`,
		service, handler, objectKey, idempotencyKey,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invocation: %w", err)
	}
	return inv, nil
}

// MarkRunning moves a pending or interrupted invocation to running, counts the
// attempt and returns the updated record.
func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) (*model.Invocation, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invocations
		SET status = ?, attempts = attempts + 1, started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN (?, ?)`,
		model.StatusRunning, time.Now().UTC(), id, model.StatusPending, model.StatusInterrupted,
	)
	if err != nil {
		return nil, fmt.Errorf("mark invocation running: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}

	inv, err := s.GetInvocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return inv, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, model.StatusRunning)
	}
	return inv, nil
}

// FinishInvocation records the outcome of an attempt: status, output, error and
// duration. Terminal statuses also set finished_at.
func (s *SQLiteStore) FinishInvocation(ctx context.Context, inv *model.Invocation) error {
	var finishedAt *time.Time
	var finishedMS *int64
	if model.Terminal(inv.Status) {
		now := time.Now().UTC()
		if inv.FinishedAt != nil {
			now = inv.FinishedAt.UTC()
		}
		ms := now.UnixMilli()
		finishedAt, finishedMS = &now, &ms
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invocations
		SET status = ?, output = ?, error = ?, duration_ms = ?, finished_at = ?, finished_ms = ?
		WHERE id = ?`,
		inv.Status, inv.Output, inv.Error, inv.DurationMS, finishedAt, finishedMS, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("finish invocation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InterruptUnfinished marks every pending or running invocation as interrupted.
// It is called at startup, when no attempt can still be in flight.
func (s *SQLiteStore) InterruptUnfinished(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE invocations SET status = ? WHERE status IN (?, ?)",
		model.StatusInterrupted, model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("interrupt unfinished invocations: %w", err)
	}
	return result.RowsAffected()
}

// GetInvocationStats returns aggregate counts and the average duration of
// completed invocations.
func (s *SQLiteStore) GetInvocationStats(ctx context.Context) (*InvocationStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &InvocationStats{
		CountByStatus:  make(map[string]int),
		CountByService: make(map[string]int),
	}

	if err := countBy(ctx, tx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "service", stats.CountByService); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM invocations WHERE status = ? AND duration_ms IS NOT NULL",
		model.StatusCompleted,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	return stats, nil
}

// countBy fills dst with invocation counts grouped by column, which must be a
// trusted identifier.
func countBy(ctx context.Context, tx *sql.Tx, column string, dst map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM invocations GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		dst[k] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate count by %s: %w", column, err)
	}
	return nil
}

// PruneInvocations deletes invocations that reached a terminal status before
// finishedBefore, together with their journals. It returns the number of
// invocations removed.
func (s *SQLiteStore) PruneInvocations(ctx context.Context, finishedBefore time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := finishedBefore.UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM journal WHERE invocation_id IN (
			SELECT id FROM invocations WHERE finished_ms IS NOT NULL AND finished_ms < ?
		)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM invocations WHERE finished_ms IS NOT NULL AND finished_ms < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}

// GetJournalEntry returns the recorded entry for name, or ErrNotFound.
func (s *SQLiteStore) GetJournalEntry(ctx context.Context, invocationID, name string) (*model.JournalEntry, error) {
	e := &model.JournalEntry{}
	err := s.db.QueryRowContext(ctx,
		"SELECT invocation_id, seq, name, value, created_at FROM journal WHERE invocation_id = ? AND name = ?",
		invocationID, name,
	).Scan(&e.InvocationID, &e.Seq, &e.Name, &e.Value, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry: %w", err)
	}
	return e, nil
}

// AppendJournalEntry records the result of a named action. Entries are never
// overwritten; a second append with the same name returns ErrDuplicateEntry.
func (s *SQLiteStore) AppendJournalEntry(ctx context.Context, invocationID, name string, value []byte) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (invocation_id, seq, name, value, created_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM journal WHERE invocation_id = ?
		ON CONFLICT (invocation_id, name) DO NOTHING`,
		invocationID, name, value, time.Now().UTC(), invocationID,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicateEntry
	}
	return nil
}

// ListJournal returns every entry of an invocation in recording order.
func (s *SQLiteStore) ListJournal(ctx context.Context, invocationID string) ([]model.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT invocation_id, seq, name, value, created_at FROM journal WHERE invocation_id = ? ORDER BY seq",
		invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		if err := rows.Scan(&e.InvocationID, &e.Seq, &e.Name, &e.Value, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// GetState reads one state entry.
func (s *SQLiteStore) GetState(ctx context.Context, service, objectKey, stateKey string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM state WHERE service = ? AND object_key = ? AND state_key = ?",
		service, objectKey, stateKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get state: %w", err)
	}
	return value, true, nil
}

// SetState writes one state entry, replacing any previous value.
func (s *SQLiteStore) SetState(ctx context.Context, service, objectKey, stateKey string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (service, object_key, state_key, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (service, object_key, state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		service, objectKey, stateKey, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// ClearState removes one state entry. Removing a missing entry is not an error.
func (s *SQLiteStore) ClearState(ctx context.Context, service, objectKey, stateKey string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM state WHERE service = ? AND object_key = ? AND state_key = ?",
		service, objectKey, stateKey,
	)
	if err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// ClearAllState removes every state entry of an object.
func (s *SQLiteStore) ClearAllState(ctx context.Context, service, objectKey string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM state WHERE service = ? AND object_key = ?",
		service, objectKey,
	)
	if err != nil {
		return fmt.Errorf("clear all state: %w", err)
	}
	return nil
}
