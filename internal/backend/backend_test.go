package backend

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/internal/quota"
)

func newTestBackend(cfg Config) *Backend {
	if cfg.ID == "" {
		cfg.ID = "test"
	}
	return New(cfg, quota.NewInMemory(), nil)
}

func header(number uint64) *types.Header {
	return &types.Header{Number: new(big.Int).SetUint64(number)}
}

func TestOpenHandleHardLimitGating(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 1})

	res1 := b.OpenHandle(context.Background(), nil)
	require.Equal(t, Acquired, res1.Decision)
	assert.EqualValues(t, 1, b.ActiveRequests())

	res2 := b.OpenHandle(context.Background(), nil)
	assert.Equal(t, DecisionRetryAt, res2.Decision)
	assert.False(t, res2.RetryAt.IsZero())

	res1.Handle.Release()
	assert.EqualValues(t, 0, b.ActiveRequests(), "active_requests must return to 0 once the only handle is released")

	res3 := b.OpenHandle(context.Background(), nil)
	assert.Equal(t, Acquired, res3.Decision, "releasing the handle must free capacity for the next caller")
	res3.Handle.Release()
}

func TestOpenHandleRejectsBelowMinBlock(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 10})
	b.onHeader(header(5))

	minBlock := uint64(10)
	res := b.OpenHandle(context.Background(), &minBlock)
	assert.Equal(t, DecisionRetryNever, res.Decision, "a backend behind minBlock can never serve this request")

	minBlock = 5
	res2 := b.OpenHandle(context.Background(), &minBlock)
	assert.Equal(t, Acquired, res2.Decision)
	res2.Handle.Release()
}

func TestOpenHandleRejectsWhenUnhealthy(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 10})
	b.health.Set(Unhealthy)

	res := b.OpenHandle(context.Background(), nil)
	assert.Equal(t, DecisionRetryNever, res.Decision)
}

func TestOpenHandleRetriesAfterQuotaExhausted(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 10, SoftLimit: 1})

	res1 := b.OpenHandle(context.Background(), nil)
	require.Equal(t, Acquired, res1.Decision)
	res1.Handle.Release()

	res2 := b.OpenHandle(context.Background(), nil)
	assert.Equal(t, DecisionRetryAt, res2.Decision, "a second request within the same window should be throttled by the quota oracle")
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 1})

	res := b.OpenHandle(context.Background(), nil)
	require.Equal(t, Acquired, res.Decision)

	res.Handle.Release()
	res.Handle.Release()
	res.Handle.Release()

	assert.EqualValues(t, 0, b.ActiveRequests(), "repeated Release must decrement active_requests exactly once")
}

// TestHandleConservation exercises testable property #2: active_requests
// always equals the number of issued-but-unreleased handles, and returns to
// 0 once every handle issued has been released.
func TestHandleConservation(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 4})

	var handles []*Handle
	for i := 0; i < 4; i++ {
		res := b.OpenHandle(context.Background(), nil)
		require.Equal(t, Acquired, res.Decision)
		handles = append(handles, res.Handle)
	}
	assert.EqualValues(t, 4, b.ActiveRequests())

	blocked := b.OpenHandle(context.Background(), nil)
	assert.Equal(t, DecisionRetryAt, blocked.Decision, "hard limit reached, no more handles should be issued")

	for i, h := range handles {
		h.Release()
		assert.EqualValues(t, len(handles)-i-1, b.ActiveRequests())
	}
	assert.EqualValues(t, 0, b.ActiveRequests())
}

func TestHealthStateMachineTransitions(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 10, StallTimeout: time.Minute})
	require.Equal(t, New, b.Health())

	b.markHealthTransition(New, Syncing)
	require.Equal(t, Syncing, b.Health())

	b.onHeader(header(100))
	b.UpdateSyncStatus(100, 0)
	require.Equal(t, Synced, b.Health(), "a backend within maxLag of the consensus head should become Synced")

	for i := 0; i < b.cfg.MaxConsecutiveFailures; i++ {
		b.recordFailure()
	}
	require.Equal(t, Unhealthy, b.Health(), "N consecutive failures must mark the backend Unhealthy")

	b.lastSeenHead()
	b.UpdateSyncStatus(100, 0)
	require.Equal(t, Syncing, b.Health(), "a recently-seen, within-lag backend recovers to Syncing")
}

func TestUpdateSyncStatusLeavesLaggingBackendSyncing(t *testing.T) {
	b := newTestBackend(Config{HardLimit: 10})
	b.markHealthTransition(New, Syncing)
	b.onHeader(header(1))

	b.UpdateSyncStatus(1000, 5)
	assert.Equal(t, Syncing, b.Health(), "a backend far behind the consensus head must not become Synced")
}

func TestSaveRevertsPolicyDispatch(t *testing.T) {
	var sink fakeRevertSink
	b := newTestBackend(Config{HardLimit: 10})

	pseudoRand = func() float64 { return 0 } // always within any nonzero probability
	defer func() { pseudoRand = defaultRand }()

	b.classifyError("eth_call", []any{"0xdead"}, assertErr{}, SaveRevertsPolicy{Probability: 1}, &sink, "key-1")
	require.Len(t, sink.calls, 1, "a call-like method with probability 1 must always record the revert")

	sink.calls = nil
	b.classifyError("eth_call", []any{"0xdead"}, assertErr{}, SaveRevertsPolicy{Probability: 0}, &sink, "key-1")
	require.Empty(t, sink.calls, "probability 0 must never record")

	sink.calls = nil
	b.classifyError("eth_getBalance", []any{"0xdead"}, assertErr{}, SaveRevertsPolicy{Probability: 1}, &sink, "key-1")
	require.Empty(t, sink.calls, "SaveRevertsPolicy only applies to call-like methods")
}

type fakeRevertSink struct {
	calls []string
}

func (f *fakeRevertSink) RecordRevert(userKeyID, method, to, callData string, at time.Time) {
	f.calls = append(f.calls, method)
}

type assertErr struct{}

func (assertErr) Error() string { return "execution reverted" }
