// Package backend implements spec §4.1: per-upstream connection state,
// health tracking, head observation, and request-handle issuance.
//
// Grounded on the teacher's libevm/rpcroute package (backend.go, server.go):
// the same pattern of a long-running head-tracking goroutine feeding an
// atomically-published height, generalized here to a full HeadSnapshot, a
// four-state health machine, quota-gated handle issuance, and error-policy
// dispatch, none of which the teacher snippet covers.
package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/sambacha/web3-proxy/internal/quota"
)

// Config describes one backend's static configuration (spec §3 "Backend").
type Config struct {
	ID           string
	Transport    Transport
	SoftLimit    int // requests/sec the backend tolerates
	HardLimit    int // max concurrent requests
	Weight       float64
	Capabilities Capabilities

	// StallTimeout is the head-observation gap after which a Synced
	// backend is marked Unhealthy (spec §4.1).
	StallTimeout time.Duration
	// MaxConsecutiveFailures is N in "N consecutive request failures"
	// (spec §4.1).
	MaxConsecutiveFailures int
}

// Backend is one upstream JSON-RPC node (spec §3 "Backend").
type Backend struct {
	cfg   Config
	oracle quota.Oracle

	health healthState

	activeRequests atomic.Int64
	totalRequests  atomic.Int64
	consecFailures atomic.Int64

	head atomic.Pointer[HeadSnapshot]

	mu       sync.Mutex
	client   *ethclient.Client
	lastSeen time.Time
	reorg    ReorgNotifier
	txSink   PendingTxSink

	headFeed *event.FeedOf[HeadUpdate]

	quit chan struct{}
	done sync.WaitGroup
}

// New constructs a Backend in state New. Call Start to begin head tracking.
func New(cfg Config, oracle quota.Oracle, headFeed *event.FeedOf[HeadUpdate]) *Backend {
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	b := &Backend{
		cfg:      cfg,
		oracle:   oracle,
		headFeed: headFeed,
		quit:     make(chan struct{}),
	}
	return b
}

// ID returns the backend's stable, URL-derived identifier.
func (b *Backend) ID() string { return b.cfg.ID }

// Weight is used by the Pool's weighted selection.
func (b *Backend) Weight() float64 { return b.cfg.Weight }

// Capabilities reports the backend's declared capability flags.
func (b *Backend) Capabilities() Capabilities { return b.cfg.Capabilities }

// Health reports the current health state.
func (b *Backend) Health() Health { return b.health.Get() }

// ActiveRequests reports the current number of issued-but-unreleased handles.
func (b *Backend) ActiveRequests() int64 { return b.activeRequests.Load() }

// HardLimit reports the configured max-concurrent-requests ceiling, used by
// the Pool's weighted selection to bias draws away from busy backends.
func (b *Backend) HardLimit() int { return b.cfg.HardLimit }

// TotalRequests reports the monotonically increasing lifetime request count.
func (b *Backend) TotalRequests() int64 { return b.totalRequests.Load() }

// Head returns the last observed head snapshot, or the zero value if none.
func (b *Backend) Head() HeadSnapshot {
	if h := b.head.Load(); h != nil {
		return *h
	}
	return HeadSnapshot{}
}

// Start launches the backend's head-tracking goroutine and blocks until the
// first successful subscription/poll (or ctx is done), matching the
// teacher's trackHeight/NewServer synchronous-readiness pattern.
func (b *Backend) Start(ctx context.Context) error {
	ready := make(chan error, 1)
	b.done.Add(1)
	go b.headTrackerLoop(ctx, ready)

	if b.pendingTxSink() != nil {
		b.done.Add(1)
		go b.pendingTxLoop(ctx)
	}

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the backend's background goroutines and waits for them to exit.
func (b *Backend) Close() {
	close(b.quit)
	b.done.Wait()
}

func (b *Backend) markHealthTransition(from, to Health) {
	if b.health.CompareAndSwap(from, to) {
		log.Info("backend health transition", "backend", b.cfg.ID, "from", from, "to", to)
	}
}

// UpdateSyncStatus is called by the Pool on every consensus-head
// recomputation. It drives the Syncing->Synced and Unhealthy->Syncing
// transitions of spec §4.1's health state machine.
func (b *Backend) UpdateSyncStatus(consensusHead uint64, maxLag uint64) {
	head := b.Head()
	withinLag := consensusHead == 0 || head.Number+maxLag >= consensusHead

	switch b.health.Get() {
	case Syncing:
		if withinLag {
			b.markHealthTransition(Syncing, Synced)
		}
	case Unhealthy:
		if time.Since(b.lastSeenAt()) < b.cfg.StallTimeout && withinLag {
			b.markHealthTransition(Unhealthy, Syncing)
		}
	}
}

func (b *Backend) lastSeenAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen
}

// RetryDecision is the result of OpenHandle.
type RetryDecision int

const (
	// Acquired means a Handle was returned.
	Acquired RetryDecision = iota
	// DecisionRetryAt means the caller should retry after the given time.
	DecisionRetryAt
	// DecisionRetryNever means this backend cannot serve this request at all.
	DecisionRetryNever
)

// OpenHandleResult is the outcome of OpenHandle.
type OpenHandleResult struct {
	Decision RetryDecision
	Handle   *Handle
	RetryAt  time.Time
}

// OpenHandle implements spec §4.1 open_handle: returns a Handle only if
// active < hard limit and the quota oracle grants a token.
func (b *Backend) OpenHandle(ctx context.Context, minBlock *uint64) OpenHandleResult {
	if b.health.Get() == Unhealthy {
		return OpenHandleResult{Decision: DecisionRetryNever}
	}
	if minBlock != nil && b.Head().Number < *minBlock {
		return OpenHandleResult{Decision: DecisionRetryNever}
	}
	if int(b.activeRequests.Load()) >= b.cfg.HardLimit {
		return OpenHandleResult{Decision: DecisionRetryAt, RetryAt: time.Now().Add(10 * time.Millisecond)}
	}

	res, err := b.oracle.Check(ctx, b.cfg.ID, b.cfg.SoftLimit, time.Second)
	if err != nil {
		log.Warn("quota oracle error, failing open", "backend", b.cfg.ID, "err", err)
	} else if res.Decision == quota.RetryAfter {
		return OpenHandleResult{Decision: DecisionRetryAt, RetryAt: time.Now().Add(res.After)}
	}

	b.activeRequests.Add(1)
	b.totalRequests.Add(1)
	return OpenHandleResult{
		Decision: Acquired,
		Handle:   &Handle{backend: b},
	}
}

// Handle is the OpenRequestHandle of spec §3: a scoped token representing
// one outstanding request against one Backend.
type Handle struct {
	backend  *Backend
	released atomic.Bool
}

// Backend returns the Handle's owning backend.
func (h *Handle) Backend() *Backend { return h.backend }

// Release decrements active_requests exactly once; safe to call multiple
// times, but a handle that is never released stays counted — spec §3 guarantees
// the decrement happens on drop, which Go doesn't have, so callers MUST
// defer Release() immediately after a successful OpenHandle.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.backend.activeRequests.Add(-1)
	}
}

// ErrorPolicy controls how request() classifies and logs upstream errors,
// per spec §4.1. It is a closed sum type dispatched via a type switch,
// matching the teacher's preference for small sealed interfaces.
type ErrorPolicy interface{ isErrorPolicy() }

type (
	DebugLogPolicy   struct{}
	WarnLogPolicy    struct{}
	ErrorLogPolicy   struct{}
	SaveRevertsPolicy struct{ Probability float64 }
)

func (DebugLogPolicy) isErrorPolicy()    {}
func (WarnLogPolicy) isErrorPolicy()     {}
func (ErrorLogPolicy) isErrorPolicy()    {}
func (SaveRevertsPolicy) isErrorPolicy() {}

// RevertSink receives fire-and-forget revert records; see internal/recordsink.
type RevertSink interface {
	RecordRevert(userKeyID, method, to, callData string, at time.Time)
}

// Request implements spec §4.1 request(): forwards the call and classifies
// any error per errPolicy. The handle is consumed by this call regardless
// of outcome.
func (b *Backend) Request(ctx context.Context, h *Handle, method string, params []any, errPolicy ErrorPolicy, sink RevertSink, userKeyID string) (result any, callErr error) {
	defer h.Release()

	cl, err := b.dialedClient(ctx)
	if err != nil {
		b.recordFailure()
		return nil, errors.Wrapf(err, "dialing backend %q", b.cfg.ID)
	}

	var raw any
	callErr = cl.Client().CallContext(ctx, &raw, method, params...)
	if callErr == nil {
		b.consecFailures.Store(0)
		return raw, nil
	}

	b.classifyError(method, params, callErr, errPolicy, sink, userKeyID)
	return nil, callErr
}

func (b *Backend) classifyError(method string, params []any, err error, policy ErrorPolicy, sink RevertSink, userKeyID string) {
	isCallLike := method == "eth_call" || method == "eth_estimateGas"

	switch p := policy.(type) {
	case SaveRevertsPolicy:
		if isCallLike && sink != nil && withinProbability(p.Probability) {
			var to, callData string
			if len(params) > 0 {
				if tx, ok := params[0].(map[string]any); ok {
					to, _ = tx["to"].(string)
					if callData, _ = tx["data"].(string); callData == "" {
						callData, _ = tx["input"].(string)
					}
				}
			}
			sink.RecordRevert(userKeyID, method, to, callData, time.Now())
			return
		}
		log.Debug("backend call error", "backend", b.cfg.ID, "method", method, "err", err)
	case ErrorLogPolicy:
		log.Error("backend call error", "backend", b.cfg.ID, "method", method, "err", err)
		b.recordFailure()
	case WarnLogPolicy:
		log.Warn("backend call error", "backend", b.cfg.ID, "method", method, "err", err)
		b.recordFailure()
	default:
		log.Debug("backend call error", "backend", b.cfg.ID, "method", method, "err", err)
	}
}

func (b *Backend) recordFailure() {
	n := b.consecFailures.Add(1)
	if int(n) >= b.cfg.MaxConsecutiveFailures {
		b.markHealthTransition(Synced, Unhealthy)
	}
}

func withinProbability(p float64) bool {
	if p >= 1 {
		return true
	}
	if p <= 0 {
		return false
	}
	return pseudoRand() < p
}

// pseudoRand is swappable in tests; defaults to a real random source.
var pseudoRand = defaultRand

func (b *Backend) dialedClient(ctx context.Context) (*ethclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	cl, err := b.cfg.Transport.Dial(ctx)
	if err != nil {
		return nil, err
	}
	b.client = cl
	return cl, nil
}
