package tasks

import (
	"sync"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/google/uuid"
)

// DefaultStateTTL is how long an authorization link stays valid.
const DefaultStateTTL = 10 * time.Minute

type pendingState struct {
	senderID string
	expires  time.Time
}

// stateCache maps one-time OAuth state tokens to the sender that requested them.
type stateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]pendingState
	now     func() time.Time
}

func newStateCache(ttl time.Duration) *stateCache {
	return &stateCache{ttl: ttl, entries: make(map[string]pendingState), now: time.Now}
}

// issue creates a new state token for senderID.
func (c *stateCache) issue(senderID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	state := uuid.NewString()
	c.entries[state] = pendingState{senderID: senderID, expires: now.Add(c.ttl)}
	return state
}

// consume returns the sender for state and invalidates it.
func (c *stateCache) consume(state string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[state]
	if !ok {
		return "", models.ErrInvalidOAuthState
	}
	delete(c.entries, state)
	if c.now().After(e.expires) {
		return "", models.ErrInvalidOAuthState
	}
	return e.senderID, nil
}
