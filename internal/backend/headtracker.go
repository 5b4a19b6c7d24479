package backend

import (
	"context"
	"math/big"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// ReorgNotifier is implemented by the pending-tx registry (spec §4.5): a
// reorg at a backend marks previously-Confirmed transactions at the
// replaced hash as Orphaned.
type ReorgNotifier interface {
	NotifyReorg(backendID string, atOrAfter uint64)
}

// reorgNotifier may be nil; Start-time wiring sets it via SetReorgNotifier.
func (b *Backend) SetReorgNotifier(n ReorgNotifier) {
	b.mu.Lock()
	b.reorg = n
	b.mu.Unlock()
}

// withBackoff retries fn, sleeping bo.Duration() between attempts; bo itself
// owns the exponential growth and cap, the same cloudflare/backoff duration
// computation the teacher's backend.go uses for its dial retry loop.
func withBackoff[T any](ctx context.Context, tries int, fn func() (T, error)) (T, error) {
	var zero T
	bo := backoff.New(30*time.Second, 250*time.Millisecond)

	var err error
	for i := 0; i < tries; i++ {
		var res T
		res, err = fn()
		if err == nil {
			return res, nil
		}
		select {
		case <-time.After(bo.Duration()):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, err
}

// headTrackerLoop runs for the lifetime of the backend. It is grounded on
// libevm/rpcroute/backend.go's heightLoop + withDefaultBackoff, generalized
// to: (a) HTTP polling as an alternative to WS subscription, (b) full
// HeadSnapshot construction, (c) reorg detection via parent-hash mismatch.
func (b *Backend) headTrackerLoop(ctx context.Context, ready chan<- error) {
	defer b.done.Done()

	if b.cfg.Transport.Kind == KindWS {
		b.wsHeadTrackerLoop(ctx, ready)
		return
	}
	b.pollHeadTrackerLoop(ctx, ready)
}

func (b *Backend) wsHeadTrackerLoop(ctx context.Context, ready chan<- error) {
	headers := make(chan *types.Header, 16)

	subscribe := func() (ethSubscription, error) {
		cl, err := b.dialedClient(ctx)
		if err != nil {
			return nil, err
		}
		return subscribeNewHeads(ctx, cl, headers)
	}

	sub, err := withBackoff(ctx, 8, subscribe)
	if err != nil {
		ready <- err
		return
	}
	ready <- nil
	b.markHealthTransition(New, Syncing)

	for {
		select {
		case <-b.quit:
			sub.Unsubscribe()
			return
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			if err != nil {
				log.Warn("backend head subscription error, reconnecting", "backend", b.cfg.ID, "err", err)
			}
			sub, err = withBackoff(ctx, 8, subscribe)
			if err != nil {
				return
			}
		case hdr := <-headers:
			b.onHeader(hdr)
		}
	}
}

func (b *Backend) pollHeadTrackerLoop(ctx context.Context, ready chan<- error) {
	interval := b.cfg.Transport.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	poll := func() (*types.Header, error) {
		cl, err := b.dialedClient(ctx)
		if err != nil {
			return nil, err
		}
		num, err := cl.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		return cl.HeaderByNumber(ctx, new(big.Int).SetUint64(num))
	}

	first, err := withBackoff(ctx, 8, poll)
	if err != nil {
		ready <- err
		return
	}
	ready <- nil
	b.markHealthTransition(New, Syncing)
	b.onHeader(first)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSeen := time.Now()
	for {
		select {
		case <-b.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			hdr, err := poll()
			if err != nil {
				log.Debug("backend poll error", "backend", b.cfg.ID, "err", err)
				if time.Since(lastSeen) > b.cfg.StallTimeout {
					b.markHealthTransition(Synced, Unhealthy)
				}
				continue
			}
			lastSeen = time.Now()
			b.onHeader(hdr)
		}
	}
}

// onHeader updates the backend's head snapshot, detects reorgs, and
// publishes the new snapshot on the shared head feed.
func (b *Backend) onHeader(hdr *types.Header) {
	if hdr == nil {
		return
	}

	next := HeadSnapshot{
		Hash:       hdr.Hash(),
		Number:     hdr.Number.Uint64(),
		ParentHash: hdr.ParentHash,
		Timestamp:  hdr.Time,
	}

	prev := b.head.Load()
	reorged := prev != nil && ((prev.Number == next.Number && prev.Hash != next.Hash) ||
		(next.Number > prev.Number && next.ParentHash != prev.Hash))

	if reorged {
		// Either the backend re-reported the same height with a new hash,
		// or it jumped straight to a new height whose parent isn't the
		// head we last reported: both are a parent-hash mismatch against
		// the previously reported head (spec's reorg-detection rule).
		b.mu.Lock()
		n := b.reorg
		b.mu.Unlock()
		if n != nil {
			n.NotifyReorg(b.cfg.ID, prev.Number)
		}
		log.Warn("backend reorg detected", "backend", b.cfg.ID, "prevNumber", prev.Number, "prevHash", prev.Hash, "number", next.Number, "hash", next.Hash, "parent", next.ParentHash)
	} else {
		go b.publishConfirmed(next)
	}

	b.head.Store(&next)
	b.lastSeenHead()

	if b.headFeed != nil {
		b.headFeed.Send(HeadUpdate{BackendID: b.cfg.ID, Snapshot: next})
	}
}

func (b *Backend) lastSeenHead() {
	b.mu.Lock()
	b.lastSeen = time.Now()
	b.mu.Unlock()
}
