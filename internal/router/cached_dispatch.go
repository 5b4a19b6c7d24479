package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sambacha/web3-proxy/internal/cache"
	"github.com/sambacha/web3-proxy/internal/inflight"
	wire "github.com/sambacha/web3-proxy/internal/rpc"
)

// dispatchCached implements spec §4.3's cached-dispatch sequence for the
// default "Balanced, cached" class.
func (r *Router) dispatchCached(ctx context.Context, method string, params []any) (any, error) {
	heads := r.headNumbers()
	mb := ComputeMinBlock(method, params, heads)

	if !mb.Cacheable {
		return r.dispatchBalancedWithRetries(ctx, method, params, mb.Number)
	}

	blockHash, ok := r.balanced.BlockHash(mb.Number)
	if !ok {
		// Step 1: "If block_hash cannot be determined -> skip cache
		// (direct dispatch)".
		return r.dispatchBalancedWithRetries(ctx, method, params, mb.Number)
	}

	key := cache.Key{BlockHash: blockHash, Method: method, Params: canonicalParams(params)}
	if raw, ok := r.cache.Get(key); ok {
		return decodeCachedResult(raw)
	}

	return r.leadOrFollow(ctx, key, method, params, mb.Number)
}

// leadOrFollow implements spec §4.3 steps 3-6: compare-and-insert a
// notifier; the inserting task leads (dispatches, caches, signals), every
// other task follows (waits, re-reads the cache, or becomes a new leader
// if the leader's attempt turned out uncacheable or failed).
func (r *Router) leadOrFollow(ctx context.Context, key cache.Key, method string, params []any, minBlock uint64) (any, error) {
	ticket, waiter := r.inflight.TryLead(key.String())
	if waiter != nil {
		select {
		case <-waiter.Done():
		case <-ctx.Done():
			return nil, wire.ErrRequestTimeout
		}

		if waiter.Outcome().Cached {
			if raw, ok := r.cache.Get(key); ok {
				return decodeCachedResult(raw)
			}
		}
		return r.leadOrFollow(ctx, key, method, params, minBlock)
	}

	result, err := r.dispatchBalancedWithRetries(ctx, method, params, minBlock)
	if err != nil {
		ticket.Signal(inflight.Outcome{Cached: false})
		return nil, err
	}

	raw, marshalErr := json.Marshal(result)
	if marshalErr == nil && r.cache.Insert(key, raw) {
		ticket.Signal(inflight.Outcome{Cached: true})
		return result, nil
	}
	ticket.Signal(inflight.Outcome{Cached: false})
	return result, nil
}

func decodeCachedResult(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Router) headNumbers() HeadNumbers {
	n := r.balanced.HeadBlockNumber()
	return HeadNumbers{Consensus: n, Safe: n, Finalized: n}
}

func canonicalParams(params []any) string {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(b)
}
