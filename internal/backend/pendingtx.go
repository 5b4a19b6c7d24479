package backend

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sambacha/web3-proxy/internal/pendingtx"
)

// PendingTxSink is the producer-facing half of spec §4.5's pending-tx bus:
// a Backend calls Publish for every pending transaction its own mempool
// listener observes, and RecordConfirmed for every transaction included in
// a head it has just accepted (which doubles as this backend's record of
// what to re-emit Orphaned if that height is later reorged away).
// *pendingtx.ReorgTracker implements this.
type PendingTxSink interface {
	Publish(ev pendingtx.Event)
	RecordConfirmed(backendID string, height uint64, hash pendingtx.TxHash)
}

// SetPendingTxSink wires the sink this backend's pending-tx listener and
// head tracker publish into. Call before Start; nil (the default) makes
// pending-tx production a no-op.
func (b *Backend) SetPendingTxSink(sink PendingTxSink) {
	b.mu.Lock()
	b.txSink = sink
	b.mu.Unlock()
}

func (b *Backend) pendingTxSink() PendingTxSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txSink
}

// publishConfirmed fetches the block this backend just accepted as head and
// reports every one of its transactions Confirmed. Run in its own goroutine
// from onHeader so a slow block fetch never stalls head tracking.
func (b *Backend) publishConfirmed(snap HeadSnapshot) {
	sink := b.pendingTxSink()
	if sink == nil {
		return
	}
	cl, err := b.dialedClient(context.Background())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blk, err := cl.BlockByHash(ctx, snap.Hash)
	if err != nil {
		log.Debug("backend pending-tx: fetching confirmed block failed", "backend", b.cfg.ID, "number", snap.Number, "err", err)
		return
	}
	for _, tx := range blk.Transactions() {
		sink.RecordConfirmed(b.cfg.ID, snap.Number, pendingtx.TxHash(tx.Hash()))
	}
}

// pendingTxLoop runs for the lifetime of the backend once a sink is wired,
// mirroring headTrackerLoop's WS-subscribe/HTTP-poll split.
func (b *Backend) pendingTxLoop(ctx context.Context) {
	defer b.done.Done()

	sink := b.pendingTxSink()
	if sink == nil {
		return
	}

	if b.cfg.Transport.Kind == KindWS {
		b.wsPendingTxLoop(ctx, sink)
		return
	}
	b.pollPendingTxLoop(ctx, sink)
}

func (b *Backend) wsPendingTxLoop(ctx context.Context, sink PendingTxSink) {
	hashes := make(chan common.Hash, 64)

	subscribe := func() (ethSubscription, error) {
		cl, err := b.dialedClient(ctx)
		if err != nil {
			return nil, err
		}
		return gethclient.New(cl.Client()).SubscribePendingTransactions(ctx, hashes)
	}

	sub, err := withBackoff(ctx, 8, subscribe)
	if err != nil {
		log.Debug("backend pending-tx subscription failed, giving up", "backend", b.cfg.ID, "err", err)
		return
	}

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
				log.Warn("backend pending-tx subscription error, reconnecting", "backend", b.cfg.ID, "err", err)
			}
			sub, err = withBackoff(ctx, 8, subscribe)
			if err != nil {
				return
			}
		case h := <-hashes:
			sink.Publish(pendingtx.Event{Kind: pendingtx.Pending, Hash: pendingtx.TxHash(h), Backend: b.cfg.ID})
		}
	}
}

// pollPendingTxLoop uses the standard eth_newPendingTransactionFilter /
// eth_getFilterChanges pair for HTTP backends that have no push channel.
func (b *Backend) pollPendingTxLoop(ctx context.Context, sink PendingTxSink) {
	interval := b.cfg.Transport.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	newFilter := func() (string, error) {
		cl, err := b.dialedClient(ctx)
		if err != nil {
			return "", err
		}
		var id string
		if err := cl.Client().CallContext(ctx, &id, "eth_newPendingTransactionFilter"); err != nil {
			return "", err
		}
		return id, nil
	}

	filterID, err := withBackoff(ctx, 8, newFilter)
	if err != nil {
		log.Debug("backend pending-tx filter setup failed, giving up", "backend", b.cfg.ID, "err", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cl, err := b.dialedClient(ctx)
			if err != nil {
				continue
			}
			var hashes []common.Hash
			if err := cl.Client().CallContext(ctx, &hashes, "eth_getFilterChanges", filterID); err != nil {
				log.Debug("backend pending-tx filter poll error, recreating filter", "backend", b.cfg.ID, "err", err)
				filterID, err = withBackoff(ctx, 8, newFilter)
				if err != nil {
					return
				}
				continue
			}
			for _, h := range hashes {
				sink.Publish(pendingtx.Event{Kind: pendingtx.Pending, Hash: pendingtx.TxHash(h), Backend: b.cfg.ID})
			}
		}
	}
}
