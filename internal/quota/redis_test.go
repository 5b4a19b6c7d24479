package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisOracle(t *testing.T) *Redis {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "miniredis.Run()")
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(client)
}

func TestRedisOracleGrantsThenThrottles(t *testing.T) {
	q := newTestRedisOracle(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := q.Check(ctx, "b1", 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, Allowed, res.Decision)
	}

	res, err := q.Check(ctx, "b1", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, RetryAfter, res.Decision)
}

func TestRedisOracleKeysAreIndependent(t *testing.T) {
	q := newTestRedisOracle(t)
	ctx := context.Background()

	res, err := q.Check(ctx, "b1", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Decision)

	res, err = q.Check(ctx, "b2", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Decision, "distinct keys must not share a bucket")
}
