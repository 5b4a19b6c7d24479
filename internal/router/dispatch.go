package router

import (
	"context"
	"time"

	wire "github.com/sambacha/web3-proxy/internal/rpc"
)

// dispatchBalancedWithRetries implements spec §4.3 step 4: dispatch via
// best_backend(min_block) with up to max_retries retries on RetryAt
// (sleep the indicated duration, then retry with a different backend).
func (r *Router) dispatchBalancedWithRetries(ctx context.Context, method string, params []any, minBlock uint64) (any, error) {
	want := capabilitiesFor(method)
	var minBlockPtr *uint64
	if minBlock > 0 {
		minBlockPtr = &minBlock
	}

	maxRetries := r.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		b, h, retryAt, ok := r.balanced.BestBackend(ctx, minBlockPtr, want)
		if !ok {
			if b == nil {
				return nil, wire.ErrNoBackendsAvailable
			}
			wait := time.Until(retryAt)
			if wait < 0 {
				wait = 0
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, wire.ErrRequestTimeout
			}
			continue
		}

		result, err := b.Request(ctx, h, method, params, r.cfg.ErrorPolicy, r.revertSink, "")
		if err != nil {
			lastErr = wire.NewBackendError(b.ID(), err)
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, wire.ErrRequestTimeout
}
