// Package store provides storage backends for TaskPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TaskPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) HasUser(senderID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT sender_id FROM known_users WHERE sender_id = $1`, senderID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore HasUser failed", "error", err, "sender", senderID)
		return false, fmt.Errorf("failed to look up user %s: %w", senderID, err)
	}
	return true, nil
}

func (s *PostgresStore) AddUser(senderID string) error {
	_, err := s.db.Exec(`INSERT INTO known_users (sender_id, first_seen_at) VALUES ($1, $2) ON CONFLICT (sender_id) DO NOTHING`,
		senderID, time.Now())
	if err != nil {
		slog.Error("PostgresStore AddUser failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to register user %s: %w", senderID, err)
	}
	slog.Debug("PostgresStore AddUser succeeded", "sender", senderID)
	return nil
}

func (s *PostgresStore) SaveCredential(senderID string, token []byte) error {
	query := `
		INSERT INTO oauth_credentials (sender_id, token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (sender_id)
		DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(query, senderID, token, time.Now()); err != nil {
		slog.Error("PostgresStore SaveCredential failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to save credential for %s: %w", senderID, err)
	}
	slog.Debug("PostgresStore SaveCredential succeeded", "sender", senderID)
	return nil
}

func (s *PostgresStore) GetCredential(senderID string) ([]byte, error) {
	var token []byte
	err := s.db.QueryRow(`SELECT token FROM oauth_credentials WHERE sender_id = $1`, senderID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCredential failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to load credential for %s: %w", senderID, err)
	}
	return token, nil
}

func (s *PostgresStore) DeleteCredential(senderID string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM oauth_credentials WHERE sender_id = $1`, senderID)
	if err != nil {
		slog.Error("PostgresStore DeleteCredential failed", "error", err, "sender", senderID)
		return false, fmt.Errorf("failed to delete credential for %s: %w", senderID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credential rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) AppendHistory(senderID string, entries ...models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	for _, e := range entries {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.Exec(`INSERT INTO chat_history (sender_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
			senderID, string(e.Role), e.Content, created); err != nil {
			tx.Rollback()
			slog.Error("PostgresStore AppendHistory failed", "error", err, "sender", senderID)
			return fmt.Errorf("failed to append history for %s: %w", senderID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetHistory(senderID string, limit int) ([]models.HistoryEntry, error) {
	// LIMIT NULL means no limit in Postgres.
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(`SELECT role, content, created_at FROM chat_history WHERE sender_id = $1 ORDER BY id DESC LIMIT $2`,
		senderID, lim)
	if err != nil {
		slog.Error("PostgresStore GetHistory query failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (s *PostgresStore) ClearHistory(senderID string) error {
	if _, err := s.db.Exec(`DELETE FROM chat_history WHERE sender_id = $1`, senderID); err != nil {
		slog.Error("PostgresStore ClearHistory failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to clear history for %s: %w", senderID, err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
