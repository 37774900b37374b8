// Package flow holds the per-sender conversation state and the action dispatcher.
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
)

// Registry holds at most one pending entry per sender.
// It is the single source of truth for what the sender's next message should resolve.
type Registry[T any] interface {
	Get(senderID string) (T, bool)
	// Take returns the entry and removes it in one step.
	Take(senderID string) (T, bool)
	Set(senderID string, entry T)
	Clear(senderID string)
}

// PendingMediaRegistry tracks attachments waiting for a prompt.
type PendingMediaRegistry = Registry[models.PendingMedia]

// PendingDeletionRegistry tracks task lists waiting for a deletion choice.
type PendingDeletionRegistry = Registry[models.PendingDeletion]

type registryEntry[T any] struct {
	value T
	setAt time.Time
}

// MemoryRegistry is a process-local Registry guarded by a mutex.
type MemoryRegistry[T any] struct {
	name    string
	mu      sync.RWMutex
	entries map[string]registryEntry[T]
	now     func() time.Time
}

// NewMemoryRegistry creates an empty registry. name is only used in logs.
func NewMemoryRegistry[T any](name string) *MemoryRegistry[T] {
	return &MemoryRegistry[T]{
		name:    name,
		entries: make(map[string]registryEntry[T]),
		now:     time.Now,
	}
}

// NewPendingMediaRegistry creates the in-memory pending media registry.
func NewPendingMediaRegistry() *MemoryRegistry[models.PendingMedia] {
	return NewMemoryRegistry[models.PendingMedia]("pending_media")
}

// NewPendingDeletionRegistry creates the in-memory pending deletion registry.
func NewPendingDeletionRegistry() *MemoryRegistry[models.PendingDeletion] {
	return NewMemoryRegistry[models.PendingDeletion]("pending_deletion")
}

func (r *MemoryRegistry[T]) Get(senderID string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[senderID]
	return e.value, ok
}

func (r *MemoryRegistry[T]) Take(senderID string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[senderID]
	if ok {
		delete(r.entries, senderID)
		slog.Debug("MemoryRegistry.Take", "registry", r.name, "sender", senderID)
	}
	return e.value, ok
}

func (r *MemoryRegistry[T]) Set(senderID string, entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[senderID] = registryEntry[T]{value: entry, setAt: r.now()}
	slog.Debug("MemoryRegistry.Set", "registry", r.name, "sender", senderID)
}

func (r *MemoryRegistry[T]) Clear(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[senderID]; ok {
		delete(r.entries, senderID)
		slog.Debug("MemoryRegistry.Clear", "registry", r.name, "sender", senderID)
	}
}

// Len returns the number of pending entries.
func (r *MemoryRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Expire removes and returns every entry set more than maxAge ago.
func (r *MemoryRegistry[T]) Expire(maxAge time.Duration) map[string]T {
	cutoff := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := make(map[string]T)
	for sender, e := range r.entries {
		if e.setAt.Before(cutoff) {
			expired[sender] = e.value
			delete(r.entries, sender)
		}
	}
	if len(expired) > 0 {
		slog.Info("MemoryRegistry.Expire: dropped stale entries", "registry", r.name, "count", len(expired))
	}
	return expired
}

// Snapshot returns a copy of the current entries keyed by sender.
func (r *MemoryRegistry[T]) Snapshot() map[string]T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]T, len(r.entries))
	for sender, e := range r.entries {
		out[sender] = e.value
	}
	return out
}
