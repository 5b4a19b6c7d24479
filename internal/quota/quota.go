// Package quota defines the soft-limit quota oracle interface from spec §6
// ("Quota oracle (interface only)") plus concrete adapters: an in-memory
// token bucket for tests/single-process deployments, and a Redis-backed
// adapter for the distributed case proxyd's go.mod implies.
package quota

import (
	"context"
	"time"
)

// Decision is the result of a quota check.
type Decision int

const (
	// Allowed means a token was granted; the caller may proceed.
	Allowed Decision = iota
	// RetryAfter means the quota is momentarily exhausted but expected to
	// recover; the caller should retry after the given duration.
	RetryAfter
)

// Result is returned by Oracle.Check.
type Result struct {
	Decision Decision
	After    time.Duration
}

// Oracle is the quota oracle interface consulted by internal/backend before
// issuing a request handle. Implementations must be safe for concurrent use.
type Oracle interface {
	// Check consumes one token for key if available. maxBurst bounds the
	// instantaneous burst size; perPeriod is the steady-state refill rate
	// (tokens per period, i.e. the backend's soft request-rate limit).
	Check(ctx context.Context, key string, maxBurst int, perPeriod time.Duration) (Result, error)
}
