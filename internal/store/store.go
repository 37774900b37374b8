// Package store provides storage backends for TaskPipe.
//
// It persists the state that must survive a restart: the returning-user registry, OAuth
// credentials, chat history and the inbound message dedup table. An in-memory store is
// provided for tests and for running without a database.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
)

// UserRegistry records which senders have talked to the assistant before.
type UserRegistry interface {
	// HasUser reports whether the sender has interacted before.
	HasUser(senderID string) (bool, error)
	// AddUser registers the sender. Adding an existing sender is a no-op.
	AddUser(senderID string) error
}

// CredentialRepo stores the serialized OAuth token of each connected sender.
type CredentialRepo interface {
	SaveCredential(senderID string, token []byte) error
	// GetCredential returns nil, nil when the sender has no stored credential.
	GetCredential(senderID string) ([]byte, error)
	// DeleteCredential removes the credential and reports whether one existed.
	DeleteCredential(senderID string) (bool, error)
}

// HistoryRepo keeps the chat history sent to the model as context.
type HistoryRepo interface {
	AppendHistory(senderID string, entries ...models.HistoryEntry) error
	// GetHistory returns at most limit entries, oldest first.
	GetHistory(senderID string, limit int) ([]models.HistoryEntry, error)
	ClearHistory(senderID string) error
}

// Store is the full persistence contract implemented by every backend.
type Store interface {
	UserRegistry
	CredentialRepo
	HistoryRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the backend matching dsn, or an in-memory store when dsn is empty.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Debug("store.Open: no DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore is a process-local Store. Nothing survives a restart.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[string]time.Time
	credentials map[string][]byte
	history     map[string][]models.HistoryEntry
	inbound     map[string]DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:       make(map[string]time.Time),
		credentials: make(map[string][]byte),
		history:     make(map[string][]models.HistoryEntry),
		inbound:     make(map[string]DedupRecord),
	}
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) HasUser(senderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[senderID]
	return ok, nil
}

func (s *InMemoryStore) AddUser(senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[senderID]; !ok {
		s.users[senderID] = time.Now()
	}
	return nil
}

// UserCount returns the number of registered senders.
func (s *InMemoryStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// ListUsers returns registered senders sorted by id.
func (s *InMemoryStore) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *InMemoryStore) SaveCredential(senderID string, token []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[senderID] = append([]byte(nil), token...)
	return nil
}

func (s *InMemoryStore) GetCredential(senderID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.credentials[senderID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), tok...), nil
}

func (s *InMemoryStore) DeleteCredential(senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.credentials[senderID]
	delete(s.credentials, senderID)
	return ok, nil
}

func (s *InMemoryStore) AppendHistory(senderID string, entries ...models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[senderID] = append(s.history[senderID], entries...)
	return nil
}

func (s *InMemoryStore) GetHistory(senderID string, limit int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[senderID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]models.HistoryEntry(nil), h...), nil
}

func (s *InMemoryStore) ClearHistory(senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, senderID)
	return nil
}

func (s *InMemoryStore) RecordInbound(messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, SenderID: senderID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
