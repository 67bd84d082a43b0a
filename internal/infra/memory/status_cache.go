package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// StatusCache keeps the latest status snapshot per session in process.
type StatusCache struct {
	mu    sync.RWMutex
	snaps map[int64]domain.StatusSnapshot
}

func NewStatusCache() *StatusCache {
	return &StatusCache{snaps: make(map[int64]domain.StatusSnapshot)}
}

// Put stores snap. Snapshots of closed sessions are dropped so the next read goes to the store.
func (c *StatusCache) Put(_ context.Context, snap domain.StatusSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !snap.Open {
		delete(c.snaps, snap.SessionID)
		return nil
	}
	c.snaps[snap.SessionID] = snap
	return nil
}

func (c *StatusCache) Get(_ context.Context, sessionID int64) (domain.StatusSnapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snaps[sessionID]
	return snap, ok, nil
}
