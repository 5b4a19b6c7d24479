// Package subscription implements spec §4.6: the eth_subscribe engine.
//
// Built directly on go-ethereum's own rpc.Notifier/rpc.Subscription
// mechanism — the same one go-ethereum's eth/filters.PublicFilterAPI uses:
// each exported method below is registered under the "eth" namespace and
// dispatched automatically by *rpc.Server when a client calls
// eth_subscribe("newHeads"), eth_subscribe("newPendingTransactions"), and
// so on. Spec §4.6's "parses params[0] as the subscription kind" is
// therefore the rpc package's own reflection-based dispatch, not
// reimplemented here — the teacher's ecosystem already owns this concern.
package subscription

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/sambacha/web3-proxy/internal/pendingtx"
	"github.com/sambacha/web3-proxy/internal/pool"
)

// Engine is the RPC service object exposing spec §4.6's subscription
// kinds. Register it under the "eth" namespace on an *rpc.Server.
type Engine struct {
	pool *pool.Pool
	txs  *pendingtx.Bus
}

// New constructs an Engine reading consensus heads from pool and pending
// transactions from txs.
func New(p *pool.Pool, txs *pendingtx.Bus) *Engine {
	return &Engine{pool: p, txs: txs}
}

// NewHeads implements the `newHeads` kind: consensus-head watch channel ->
// block-header notifications.
func (e *Engine) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()

	heads := make(chan pool.ConsensusHead, 16)
	headSub := e.pool.SubscribeConsensusHead(heads)

	go func() {
		defer headSub.Unsubscribe()
		for {
			select {
			case h := <-heads:
				notifier.Notify(rpcSub.ID, consensusHeadHeader(h))
			case <-rpcSub.Err():
				return
			case <-notifier.Closed():
				return
			}
		}
	}()
	return rpcSub, nil
}

// consensusHeadHeader projects a pool.ConsensusHead into the minimal
// block-header shape newHeads subscribers expect.
func consensusHeadHeader(h pool.ConsensusHead) map[string]any {
	return map[string]any{
		"hash":       h.Hash,
		"number":     h.Number,
		"parentHash": h.ParentHash,
	}
}

// NewPendingTransactions implements the `newPendingTransactions` kind:
// bare transaction hashes.
func (e *Engine) NewPendingTransactions(ctx context.Context) (*rpc.Subscription, error) {
	return e.subscribePending(ctx, func(ev pendingtx.Event) (any, bool) {
		return ev.Hash, true
	})
}

// NewPendingFullTransactions implements the `newPendingFullTransactions`
// kind: the decoded transaction object.
func (e *Engine) NewPendingFullTransactions(ctx context.Context) (*rpc.Subscription, error) {
	return e.subscribePending(ctx, func(ev pendingtx.Event) (any, bool) {
		if len(ev.Raw) == 0 {
			return nil, false
		}
		var tx types.Transaction
		if err := tx.UnmarshalBinary(ev.Raw); err != nil {
			return nil, false
		}
		return &tx, true
	})
}

// NewPendingRawTransactions implements the `newPendingRawTransactions`
// kind: the RLP-encoded transaction bytes.
func (e *Engine) NewPendingRawTransactions(ctx context.Context) (*rpc.Subscription, error) {
	return e.subscribePending(ctx, func(ev pendingtx.Event) (any, bool) {
		if len(ev.Raw) == 0 {
			return nil, false
		}
		return ev.Raw, true
	})
}

// subscribePending is shared by the three newPending* kinds (spec §4.6's
// table: all three read the same bus, filtered to Pending/Orphaned, and
// differ only in payload projection).
func (e *Engine) subscribePending(ctx context.Context, project func(pendingtx.Event) (any, bool)) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()
	sub := e.txs.Subscribe()

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				ev, ok := v.(pendingtx.Event)
				if !ok {
					continue // Lagged marker; subscriptions tolerate gaps.
				}
				if ev.Kind != pendingtx.Pending && ev.Kind != pendingtx.Orphaned {
					continue
				}
				payload, ok := project(ev)
				if !ok {
					continue
				}
				notifier.Notify(rpcSub.ID, payload)
			case <-rpcSub.Err():
				return
			case <-notifier.Closed():
				return
			}
		}
	}()
	return rpcSub, nil
}
