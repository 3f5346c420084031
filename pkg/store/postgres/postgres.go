package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payflow/pkg/reconcile"
	"payflow/pkg/store"

	_ "github.com/lib/pq"
)

// PostgresStore keeps one row per session in reconciliation_sessions. The
// full snapshot lives in a JSONB column; the scalar columns exist for
// operators querying the table directly.
type PostgresStore struct {
	db   *sql.DB
	name string
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	// DSN overrides the individual fields when set.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "payflow",
		SSLMode:  "disable",
	}
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewPostgresStore opens a connection pool and creates the table if needed.
func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, name: "postgres"}
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_sessions (
			session_id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			active BOOLEAN NOT NULL,
			snapshot JSONB NOT NULL,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_sessions_payment_id ON reconciliation_sessions(payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_sessions_started_at ON reconciliation_sessions(started_at DESC)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// Save implements store.Store. Older snapshots never overwrite newer rows.
func (p *PostgresStore) Save(ctx context.Context, snap reconcile.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres save: failed to marshal: %w", err)
	}

	query := `
		INSERT INTO reconciliation_sessions
			(session_id, payment_id, status, attempts, active, snapshot, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			active = EXCLUDED.active,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
		WHERE reconciliation_sessions.updated_at <= EXCLUDED.updated_at
	`
	_, err = p.db.ExecContext(ctx, query,
		snap.SessionID,
		snap.PaymentID,
		string(snap.Status),
		snap.Attempts,
		snap.Active,
		data,
		snap.StartedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres save: %w", err)
	}
	return nil
}

// Load implements store.Store.
func (p *PostgresStore) Load(ctx context.Context, sessionID string) (*reconcile.Snapshot, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT snapshot FROM reconciliation_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres load: %w", err)
	}

	var snap reconcile.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("postgres load: failed to unmarshal: %w", err)
	}
	return &snap, nil
}

// List implements store.Store.
func (p *PostgresStore) List(ctx context.Context) ([]reconcile.Snapshot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT snapshot FROM reconciliation_sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()

	out := []reconcile.Snapshot{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres list: %w", err)
		}
		var snap reconcile.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("postgres list: failed to unmarshal: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Delete implements store.Store.
func (p *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM reconciliation_sessions WHERE session_id = $1`, sessionID,
	); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// PurgeStopped removes stopped sessions last updated before cutoff.
func (p *PostgresStore) PurgeStopped(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM reconciliation_sessions WHERE active = FALSE AND updated_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return res.RowsAffected()
}

// Name implements store.Store.
func (p *PostgresStore) Name() string {
	return p.name
}

// Close implements store.Store.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
