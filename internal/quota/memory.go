package quota

import (
	"context"
	"sync"
	"time"
)

// memoryBucket is one key's token-bucket state.
type memoryBucket struct {
	tokens     float64
	lastRefill time.Time
}

// InMemory is a single-process token-bucket Oracle, used in tests and for
// standalone deployments that don't need the distributed Redis adapter.
type InMemory struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

// NewInMemory constructs a ready-to-use in-memory quota oracle.
func NewInMemory() *InMemory {
	return &InMemory{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

var _ Oracle = (*InMemory)(nil)

// Check implements Oracle.
func (m *InMemory) Check(_ context.Context, key string, maxBurst int, perPeriod time.Duration) (Result, error) {
	if maxBurst <= 0 {
		return Result{Decision: Allowed}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	now := m.now()
	if !ok {
		b = &memoryBucket{tokens: float64(maxBurst - 1), lastRefill: now}
		m.buckets[key] = b
		return Result{Decision: Allowed}, nil
	}

	elapsed := now.Sub(b.lastRefill)
	if perPeriod > 0 {
		refill := elapsed.Seconds() / perPeriod.Seconds() * float64(maxBurst)
		b.tokens += refill
		if b.tokens > float64(maxBurst) {
			b.tokens = float64(maxBurst)
		}
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return Result{Decision: Allowed}, nil
	}

	// Time until at least one token is available.
	var wait time.Duration
	if perPeriod > 0 {
		missing := 1 - b.tokens
		wait = time.Duration(missing / float64(maxBurst) * float64(perPeriod))
	}
	return Result{Decision: RetryAfter, After: wait}, nil
}
