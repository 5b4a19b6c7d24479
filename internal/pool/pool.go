// Package pool implements spec §4.2: the backend registry, consensus-head
// computation, and weighted backend selection.
//
// Grounded on libevm/rpcroute/backends.go's add/remove-under-mutex pattern,
// generalized here with a dedicated consensus-recomputation goroutine fed by
// every backend's head feed (event.FeedOf, the teacher's own fan-out
// primitive) instead of the teacher's single best-height scalar.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sambacha/web3-proxy/internal/backend"
	"github.com/sambacha/web3-proxy/internal/quota"
)

// Config holds the Pool's static tunables (spec §4.2).
type Config struct {
	// MinQuorumWeight is the cumulative backend weight that must agree on
	// a block height for it to become (part of) the consensus head.
	MinQuorumWeight float64
	// MaxSyncLag is the number of blocks a backend may trail the
	// consensus head by and still be considered Synced.
	MaxSyncLag uint64
	// BlockIndexSize bounds the block_number->hash index (default 256).
	BlockIndexSize int
	// SyncStatusInterval is how often backend health is re-evaluated
	// against the consensus head (default 2s).
	SyncStatusInterval time.Duration
}

// Pool owns the set of backends, the derived consensus head, and the
// bounded block index (spec §3 "Block index").
type Pool struct {
	cfg Config

	mu       sync.RWMutex
	backends map[string]*backend.Backend
	lastHead map[string]backend.HeadSnapshot

	headFeed *event.FeedOf[backend.HeadUpdate]
	headSub  event.Subscription
	heads    chan backend.HeadUpdate

	consensusFeed *event.FeedOf[ConsensusHead]

	consensusMu sync.RWMutex
	consensus   ConsensusHead
	have        bool

	index *blockIndex

	quit chan struct{}
	done sync.WaitGroup
}

// New constructs an empty Pool. Call AddBackend then Start.
func New(cfg Config) *Pool {
	if cfg.BlockIndexSize <= 0 {
		cfg.BlockIndexSize = 256
	}
	if cfg.SyncStatusInterval <= 0 {
		cfg.SyncStatusInterval = 2 * time.Second
	}

	heads := make(chan backend.HeadUpdate, 64)
	p := &Pool{
		cfg:           cfg,
		backends:      map[string]*backend.Backend{},
		lastHead:      map[string]backend.HeadSnapshot{},
		headFeed:      new(event.FeedOf[backend.HeadUpdate]),
		heads:         heads,
		consensusFeed: new(event.FeedOf[ConsensusHead]),
		index:         newBlockIndex(cfg.BlockIndexSize),
		quit:          make(chan struct{}),
	}
	p.headSub = p.headFeed.Subscribe(heads)
	return p
}

// AddBackend constructs and registers a new Backend wired to this Pool's
// head feed. The caller still owns calling Start on the Pool afterward.
func (p *Pool) AddBackend(cfg backend.Config, oracle quota.Oracle) *backend.Backend {
	b := backend.New(cfg, oracle, p.headFeed)

	p.mu.Lock()
	p.backends[cfg.ID] = b
	p.mu.Unlock()

	return b
}

// RemoveBackend stops and unregisters a backend by ID. Safe to call on an
// unknown ID (a no-op).
func (p *Pool) RemoveBackend(id string) {
	p.mu.Lock()
	b, ok := p.backends[id]
	delete(p.backends, id)
	delete(p.lastHead, id)
	p.mu.Unlock()

	if ok {
		b.Close()
	}
}

// Backend looks up a registered backend by ID.
func (p *Pool) Backend(id string) (*backend.Backend, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.backends[id]
	return b, ok
}

// Backends returns a snapshot slice of all registered backends.
func (p *Pool) Backends() []*backend.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*backend.Backend, 0, len(p.backends))
	for _, b := range p.backends {
		out = append(out, b)
	}
	return out
}

// Start starts every registered backend's head tracker and the Pool's own
// consensus/sync-status goroutines.
func (p *Pool) Start(ctx context.Context) error {
	for _, b := range p.Backends() {
		if err := b.Start(ctx); err != nil {
			log.Warn("backend failed to start", "backend", b.ID(), "err", err)
		}
	}

	p.done.Add(2)
	go p.consensusLoop(ctx)
	go p.syncStatusLoop(ctx)
	return nil
}

// Close stops the consensus/sync-status goroutines and every backend.
func (p *Pool) Close() {
	close(p.quit)
	p.headSub.Unsubscribe()
	for _, b := range p.Backends() {
		b.Close()
	}
	p.done.Wait()
}

// SubscribeConsensusHead subscribes ch to consensus-head changes (spec §4.2
// "emitted on a watch channel"). Every change is delivered to every
// subscriber: the feed's Send blocks until each subscribed channel accepts
// the value, and values are neither coalesced to the latest one nor dropped.
func (p *Pool) SubscribeConsensusHead(ch chan<- ConsensusHead) event.Subscription {
	return p.consensusFeed.Subscribe(ch)
}

// HeadBlockHash returns the current consensus head's hash.
func (p *Pool) HeadBlockHash() [32]byte {
	p.consensusMu.RLock()
	defer p.consensusMu.RUnlock()
	return p.consensus.Hash
}

// HeadBlockNumber returns the current consensus head's number.
func (p *Pool) HeadBlockNumber() uint64 {
	p.consensusMu.RLock()
	defer p.consensusMu.RUnlock()
	return p.consensus.Number
}

// BlockHash resolves a block number to its hash via the bounded index,
// populated only as consensus heads advance through it (spec §3).
func (p *Pool) BlockHash(number uint64) ([32]byte, bool) {
	return p.index.get(number)
}

// NumSyncedBackends reports how many registered backends are currently
// Synced, per spec §4.2's num_synced_backends().
func (p *Pool) NumSyncedBackends() int {
	n := 0
	for _, b := range p.Backends() {
		if b.Health() == backend.Synced {
			n++
		}
	}
	return n
}

func (p *Pool) consensusLoop(ctx context.Context) {
	defer p.done.Done()
	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case u := <-p.heads:
			p.mu.Lock()
			p.lastHead[u.BackendID] = u.Snapshot
			p.mu.Unlock()
			p.recomputeConsensus()
		}
	}
}

func (p *Pool) recomputeConsensus() {
	p.mu.RLock()
	snaps := make([]backendSnapshot, 0, len(p.backends))
	for id, b := range p.backends {
		h, ok := p.lastHead[id]
		if !ok || h.IsZero() {
			continue
		}
		snaps = append(snaps, backendSnapshot{id: id, weight: b.Weight(), head: h})
	}
	p.mu.RUnlock()

	p.consensusMu.Lock()
	prev := p.consensus
	hadPrev := p.have
	next, ok := computeConsensus(snaps, p.cfg.MinQuorumWeight, prev)
	if !ok {
		p.consensusMu.Unlock()
		return
	}
	changed := !hadPrev || next != prev
	p.consensus = next
	p.have = true
	p.consensusMu.Unlock()

	if !changed {
		return
	}

	p.index.set(next.Number, next.Hash)
	if hadPrev && next.Number < prev.Number {
		// The consensus head itself moved backward: a reorg at the
		// aggregate level, not just at one backend.
		p.index.invalidateFrom(next.Number)
	}
	p.consensusFeed.Send(next)
	log.Info("consensus head updated", "number", next.Number, "hash", next.Hash)
}

func (p *Pool) syncStatusLoop(ctx context.Context) {
	defer p.done.Done()
	t := time.NewTicker(p.cfg.SyncStatusInterval)
	defer t.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			head := p.HeadBlockNumber()
			for _, b := range p.Backends() {
				b.UpdateSyncStatus(head, p.cfg.MaxSyncLag)
			}
		}
	}
}
