package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"payflow/pkg/payment"

	"github.com/bits-and-blooms/bloom/v3"
	_ "modernc.org/sqlite"
)

// SQLiteJournal persists the journal in a SQLite file so a restarted process
// keeps refusing conflicting reuse of old keys.
//
// A bloom filter of every stored key sits in front of the table: Lookup for a
// key the filter has never seen returns ErrEntryNotFound without a query.
type SQLiteJournal struct {
	db *sql.DB

	mu     sync.RWMutex
	filter *bloom.BloomFilter

	// stats
	lookups  uint64
	filtered uint64
}

// SQLiteJournalConfig configures a SQLiteJournal.
type SQLiteJournalConfig struct {
	// Path is the database file. ":memory:" keeps it in memory.
	Path string

	// ExpectedKeys sizes the bloom filter (default 100000)
	ExpectedKeys uint

	// FalsePositiveRate of the bloom filter (default 0.01)
	FalsePositiveRate float64
}

// OpenSQLiteJournal opens (or creates) the journal at config.Path and loads
// existing keys into the bloom filter.
func OpenSQLiteJournal(ctx context.Context, config SQLiteJournalConfig) (*SQLiteJournal, error) {
	if config.Path == "" {
		config.Path = "payflow-journal.db"
	}
	if config.ExpectedKeys == 0 {
		config.ExpectedKeys = 100000
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = 0.01
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			payment_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	j := &SQLiteJournal{
		db:     db,
		filter: bloom.NewWithEstimates(config.ExpectedKeys, config.FalsePositiveRate),
	}

	if err := j.loadFilter(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

func (j *SQLiteJournal) loadFilter(ctx context.Context) error {
	rows, err := j.db.QueryContext(ctx, "SELECT key FROM idempotency_keys")
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	defer rows.Close()

	j.mu.Lock()
	defer j.mu.Unlock()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("scan key: %w", err)
		}
		j.filter.AddString(key)
	}
	return rows.Err()
}

// Reserve implements Journal.
func (j *SQLiteJournal) Reserve(ctx context.Context, key, fingerprint string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (key, fingerprint, created_at) VALUES (?,?,?)`,
		key, fingerprint, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("reserve key: %w", err)
	}

	j.mu.Lock()
	j.filter.AddString(key)
	j.mu.Unlock()

	var stored string
	if err := j.db.QueryRowContext(ctx,
		"SELECT fingerprint FROM idempotency_keys WHERE key = ?", key,
	).Scan(&stored); err != nil {
		return fmt.Errorf("read reserved key: %w", err)
	}
	if stored != fingerprint {
		return fmt.Errorf("%w: key already used for a different request", payment.ErrIdempotencyConflict)
	}
	return nil
}

// Complete implements Journal.
func (j *SQLiteJournal) Complete(ctx context.Context, key, paymentID string) error {
	res, err := j.db.ExecContext(ctx,
		"UPDATE idempotency_keys SET payment_id = ? WHERE key = ?", paymentID, key,
	)
	if err != nil {
		return fmt.Errorf("complete key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Lookup implements Journal.
func (j *SQLiteJournal) Lookup(ctx context.Context, key string) (*Entry, error) {
	j.mu.Lock()
	j.lookups++
	if !j.filter.TestString(key) {
		j.filtered++
		j.mu.Unlock()
		return nil, ErrEntryNotFound
	}
	j.mu.Unlock()

	var (
		e       Entry
		created string
	)
	err := j.db.QueryRowContext(ctx,
		"SELECT key, fingerprint, payment_id, created_at FROM idempotency_keys WHERE key = ?", key,
	).Scan(&e.Key, &e.Fingerprint, &e.PaymentID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &e, nil
}

// FilterStats returns how many lookups were answered by the bloom filter alone.
func (j *SQLiteJournal) FilterStats() (lookups, filtered uint64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lookups, j.filtered
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
