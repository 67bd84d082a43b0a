package memory

import (
	"context"
	"sync"
)

// AnonymousIDs hands out negative synthetic ids, one per login session.
type AnonymousIDs struct {
	mu   sync.Mutex
	last int64
	ids  map[string]int64
}

func NewAnonymousIDs() *AnonymousIDs {
	return &AnonymousIDs{ids: make(map[string]int64)}
}

func (a *AnonymousIDs) For(_ context.Context, loginSession string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.ids[loginSession]; ok {
		return id, nil
	}
	a.last--
	a.ids[loginSession] = a.last
	return a.last, nil
}
