package pool

import (
	"context"
	"time"

	"github.com/xaionaro-go/weightedshuffle"

	"github.com/sambacha/web3-proxy/internal/backend"
)

// BackendHandle pairs a backend with an acquired handle, for fan-out callers
// that issue a Request against several backends at once.
type BackendHandle struct {
	Backend *backend.Backend
	Handle  *backend.Handle
}

// eligible returns the registered backends that are Synced, carry the
// requested capabilities, and (if minBlock is set) have observed at least
// that block, per spec §4.2 best_backend's filtering step.
func (p *Pool) eligible(minBlock *uint64, want backend.Capabilities) []*backend.Backend {
	out := make([]*backend.Backend, 0)
	for _, b := range p.Backends() {
		if b.Health() != backend.Synced {
			continue
		}
		if !b.Capabilities().Has(want) {
			continue
		}
		if minBlock != nil && b.Head().Number < *minBlock {
			continue
		}
		out = append(out, b)
	}
	return out
}

// weightedOrder draws backends without replacement, biased by weight ×
// (1 − active_requests/hard_limit) per spec §4.2 best_backend step 3, via
// weightedshuffle (proxyd's go.mod dependency for this exact step).
func weightedOrder(backends []*backend.Backend) []*backend.Backend {
	ordered := make([]*backend.Backend, len(backends))
	copy(ordered, backends)
	weightedshuffle.Shuffle(len(ordered), func(i int) float64 {
		return drawWeight(ordered[i])
	}, func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}

// drawWeight computes one backend's weighted-draw probability mass: its
// configured weight scaled down by how saturated it currently is. A backend
// at or past its hard limit draws zero weight rather than a negative one.
func drawWeight(b *backend.Backend) float64 {
	hardLimit := b.HardLimit()
	if hardLimit <= 0 {
		return b.Weight()
	}
	headroom := 1 - float64(b.ActiveRequests())/float64(hardLimit)
	if headroom < 0 {
		headroom = 0
	}
	return b.Weight() * headroom
}

// BestBackend implements spec §4.2 best_backend: a weighted-without-
// replacement draw over eligible backends, skipping any backend whose
// open_handle reports it can never serve this request and stopping at the
// first backend that either grants a handle or reports a retry delay.
func (p *Pool) BestBackend(ctx context.Context, minBlock *uint64, want backend.Capabilities) (b *backend.Backend, h *backend.Handle, retryAt time.Time, ok bool) {
	for _, cand := range weightedOrder(p.eligible(minBlock, want)) {
		res := cand.OpenHandle(ctx, minBlock)
		switch res.Decision {
		case backend.Acquired:
			return cand, res.Handle, time.Time{}, true
		case backend.DecisionRetryAt:
			return cand, nil, res.RetryAt, false
		case backend.DecisionRetryNever:
			continue
		}
	}
	return nil, nil, time.Time{}, false
}

// TrySendAll opens a handle against every eligible backend, for the
// private-transaction and race-fan-out dispatch classes (spec §4.1 design
// notes, "coroutine fan-out"). Backends that cannot presently serve the
// request are silently skipped; callers should treat an empty result the
// same as ErrNoBackendsAvailable.
func (p *Pool) TrySendAll(ctx context.Context, minBlock *uint64, want backend.Capabilities) []BackendHandle {
	eligible := p.eligible(minBlock, want)
	out := make([]BackendHandle, 0, len(eligible))
	for _, cand := range eligible {
		res := cand.OpenHandle(ctx, minBlock)
		if res.Decision != backend.Acquired {
			continue
		}
		out = append(out, BackendHandle{Backend: cand, Handle: res.Handle})
	}
	return out
}
