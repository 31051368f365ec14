package relay

import (
	"context"
	"sync"
	"time"
)

// Claimer records keys that may be used only once within a TTL.
type Claimer interface {
	// Claim returns true if key was not claimed yet and is now claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryClaims is an in-process Claimer. Expired keys are pruned lazily.
type MemoryClaims struct {
	mu        sync.Mutex
	keys      map[string]time.Time
	now       func() time.Time
	nextPrune time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{keys: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.After(m.nextPrune) {
		for k, exp := range m.keys {
			if now.After(exp) {
				delete(m.keys, k)
			}
		}
		m.nextPrune = now.Add(time.Minute)
	}

	if exp, ok := m.keys[key]; ok && !now.After(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	return true, nil
}
