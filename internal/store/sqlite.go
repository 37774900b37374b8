// Package store provides storage backends for TaskPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/TaskPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection avoids "database is locked" between concurrent turns.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) HasUser(senderID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT sender_id FROM known_users WHERE sender_id = ?`, senderID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore HasUser failed", "error", err, "sender", senderID)
		return false, fmt.Errorf("failed to look up user %s: %w", senderID, err)
	}
	return true, nil
}

func (s *SQLiteStore) AddUser(senderID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO known_users (sender_id, first_seen_at) VALUES (?, ?)`, senderID, time.Now())
	if err != nil {
		slog.Error("SQLiteStore AddUser failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to register user %s: %w", senderID, err)
	}
	slog.Debug("SQLiteStore AddUser succeeded", "sender", senderID)
	return nil
}

func (s *SQLiteStore) SaveCredential(senderID string, token []byte) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO oauth_credentials (sender_id, token, updated_at) VALUES (?, ?, ?)`,
		senderID, token, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveCredential failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to save credential for %s: %w", senderID, err)
	}
	slog.Debug("SQLiteStore SaveCredential succeeded", "sender", senderID)
	return nil
}

func (s *SQLiteStore) GetCredential(senderID string) ([]byte, error) {
	var token []byte
	err := s.db.QueryRow(`SELECT token FROM oauth_credentials WHERE sender_id = ?`, senderID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCredential failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to load credential for %s: %w", senderID, err)
	}
	return token, nil
}

func (s *SQLiteStore) DeleteCredential(senderID string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM oauth_credentials WHERE sender_id = ?`, senderID)
	if err != nil {
		slog.Error("SQLiteStore DeleteCredential failed", "error", err, "sender", senderID)
		return false, fmt.Errorf("failed to delete credential for %s: %w", senderID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credential rows affected check failed: %w", err)
	}
	slog.Debug("SQLiteStore DeleteCredential succeeded", "sender", senderID, "existed", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) AppendHistory(senderID string, entries ...models.HistoryEntry) error {
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
		if _, err := tx.Exec(`INSERT INTO chat_history (sender_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			senderID, string(e.Role), e.Content, created); err != nil {
			tx.Rollback()
			slog.Error("SQLiteStore AppendHistory failed", "error", err, "sender", senderID)
			return fmt.Errorf("failed to append history for %s: %w", senderID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetHistory(senderID string, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(`SELECT role, content, created_at FROM chat_history WHERE sender_id = ? ORDER BY id DESC LIMIT ?`,
		senderID, historyLimit(limit))
	if err != nil {
		slog.Error("SQLiteStore GetHistory query failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (s *SQLiteStore) ClearHistory(senderID string) error {
	if _, err := s.db.Exec(`DELETE FROM chat_history WHERE sender_id = ?`, senderID); err != nil {
		slog.Error("SQLiteStore ClearHistory failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to clear history for %s: %w", senderID, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
