package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	goredislib "github.com/redis/go-redis/v9"
)

// Redis is a distributed token-bucket Oracle backed by Redis, guarded by a
// redsync distributed lock so concurrent proxy instances agree on bucket
// state. Grounded on proxyd's go.mod (redis/go-redis/v9 + go-redsync/redsync/v4),
// the pack's only candidate for the "Redis-backed distributed rate limiter"
// spec §6 calls out as an external collaborator.
type Redis struct {
	client *goredislib.Client
	rs     *redsync.Redsync
}

// NewRedis constructs a distributed quota oracle against the given Redis
// client.
func NewRedis(client *goredislib.Client) *Redis {
	pool := goredis.NewPool(client)
	return &Redis{
		client: client,
		rs:     redsync.New(pool),
	}
}

var _ Oracle = (*Redis)(nil)

const bucketTTL = 10 * time.Minute

// Check implements Oracle using a Lua-free read/modify/write under a
// short-lived distributed mutex: acceptable here because the quota oracle
// is consulted once per request, not on a hot inner loop.
func (r *Redis) Check(ctx context.Context, key string, maxBurst int, perPeriod time.Duration) (Result, error) {
	if maxBurst <= 0 {
		return Result{Decision: Allowed}, nil
	}

	lockKey := "quota-lock:" + key
	mu := r.rs.NewMutex(lockKey, redsync.WithExpiry(2*time.Second), redsync.WithTries(8))
	if err := mu.LockContext(ctx); err != nil {
		return Result{}, errors.Wrapf(err, "acquiring distributed lock for %q", key)
	}
	defer mu.UnlockContext(ctx) //nolint:errcheck

	tokensKey := "quota-tokens:" + key
	refillKey := "quota-refill:" + key

	tokens, err := r.client.Get(ctx, tokensKey).Float64()
	if err != nil && !errors.Is(err, goredislib.Nil) {
		return Result{}, errors.Wrap(err, "reading quota tokens")
	}
	if errors.Is(err, goredislib.Nil) {
		tokens = float64(maxBurst)
	}

	lastRefillUnix, err := r.client.Get(ctx, refillKey).Int64()
	now := time.Now()
	if err != nil {
		lastRefillUnix = now.Unix()
	}
	lastRefill := time.Unix(lastRefillUnix, 0)

	if perPeriod > 0 {
		elapsed := now.Sub(lastRefill)
		refill := elapsed.Seconds() / perPeriod.Seconds() * float64(maxBurst)
		tokens += refill
		if tokens > float64(maxBurst) {
			tokens = float64(maxBurst)
		}
	}

	if tokens < 1 {
		wait := time.Duration(0)
		if perPeriod > 0 {
			missing := 1 - tokens
			wait = time.Duration(missing / float64(maxBurst) * float64(perPeriod))
		}
		if err := r.persist(ctx, tokensKey, refillKey, tokens, now); err != nil {
			return Result{}, err
		}
		return Result{Decision: RetryAfter, After: wait}, nil
	}

	tokens--
	if err := r.persist(ctx, tokensKey, refillKey, tokens, now); err != nil {
		return Result{}, err
	}
	return Result{Decision: Allowed}, nil
}

func (r *Redis) persist(ctx context.Context, tokensKey, refillKey string, tokens float64, at time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokensKey, fmt.Sprintf("%f", tokens), bucketTTL)
	pipe.Set(ctx, refillKey, at.Unix(), bucketTTL)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "persisting quota bucket")
}
