package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the interview_sessions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
    session_key  TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL,
    stage        TEXT NOT NULL,
    profile      JSONB NOT NULL DEFAULT '{}',
    scores       JSONB NOT NULL DEFAULT '{}',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interview_sessions_stage ON interview_sessions(stage);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Each session is one row;
// profile and scores are stored as JSONB.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Pinger = (*PostgresStore)(nil)
)

// NewPostgresStore creates a [PostgresStore] on an existing connection or
// pool. The caller owns db and must call [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres creates a connection pool for dsn, pings it and migrates the
// schema. The returned store owns the pool and closes it in Close.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context, key string) (*Snapshot, error) {
	const query = `
		SELECT session_key, session_id, stage, profile, scores, updated_at
		FROM interview_sessions
		WHERE session_key = $1`

	var (
		snap                    Snapshot
		profileJSON, scoresJSON []byte
	)
	err := s.db.QueryRow(ctx, query, key).Scan(
		&snap.Key, &snap.SessionID, &snap.Stage, &profileJSON, &scoresJSON, &snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load %q: %w", key, err)
	}

	if err := json.Unmarshal(profileJSON, &snap.Profile); err != nil {
		return nil, fmt.Errorf("store: unmarshal profile: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &snap.Scores); err != nil {
		return nil, fmt.Errorf("store: unmarshal scores: %w", err)
	}
	if snap.Scores == nil {
		snap.Scores = map[string]float64{}
	}
	return &snap, nil
}

// Save implements [Store] as an upsert on session_key.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}

	profileJSON, err := json.Marshal(snap.Profile)
	if err != nil {
		return fmt.Errorf("store: marshal profile: %w", err)
	}
	scores := snap.Scores
	if scores == nil {
		scores = map[string]float64{}
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("store: marshal scores: %w", err)
	}

	const query = `
		INSERT INTO interview_sessions (session_key, session_id, stage, profile, scores, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (session_key) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			stage      = EXCLUDED.stage,
			profile    = EXCLUDED.profile,
			scores     = EXCLUDED.scores,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		snap.Key, snap.SessionID, snap.Stage, profileJSON, scoresJSON,
	); err != nil {
		return fmt.Errorf("store: save %q: %w", snap.Key, err)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM interview_sessions WHERE session_key = $1`
	if _, err := s.db.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// Ping runs a trivial query to check connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close closes the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
