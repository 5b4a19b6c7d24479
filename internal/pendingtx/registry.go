package pendingtx

import (
	"sync"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

type registryEntry struct {
	hash  TxHash
	state StateKind
}

// Registry is the FIFO-bounded pending-tx registry of spec §4.5's
// "Registry upkeep", backed by the same doublylinkedlist used by
// internal/cache for eviction order.
type Registry struct {
	mu      sync.Mutex
	order   *doublylinkedlist.List
	byHash  map[TxHash]*registryEntry
	maxSize int
}

// NewRegistry constructs a Registry bounded to maxSize entries (0 means
// unbounded).
func NewRegistry(maxSize int) *Registry {
	return &Registry{
		order:   doublylinkedlist.New(),
		byHash:  map[TxHash]*registryEntry{},
		maxSize: maxSize,
	}
}

// Pending inserts hash if absent, per "on Pending(tx), insert if absent".
// An existing entry in state Orphaned transitions back to Pending (spec §3's
// "Pending -> Orphaned -> Pending on a reorg"); an existing Pending entry is
// left untouched.
func (r *Registry) Pending(hash TxHash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byHash[hash]; ok {
		if e.state == Pending {
			return
		}
		e.state = Pending
		if idx := r.order.IndexOf(e); idx != -1 {
			r.order.Remove(idx)
		}
		r.order.Add(e)
		return
	}
	e := &registryEntry{hash: hash, state: Pending}
	r.order.Add(e)
	r.byHash[hash] = e

	for r.maxSize > 0 && r.order.Size() > r.maxSize {
		v, ok := r.order.Get(0)
		if !ok {
			break
		}
		r.order.Remove(0)
		delete(r.byHash, v.(*registryEntry).hash)
	}
}

// Confirmed removes hash, per "on Confirmed, remove".
func (r *Registry) Confirmed(hash TxHash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHash[hash]
	if !ok {
		return
	}
	if idx := r.order.IndexOf(e); idx != -1 {
		r.order.Remove(idx)
	}
	delete(r.byHash, hash)
}

// Orphaned marks hash for re-emission, per "on Orphaned, mark for
// re-emission".
func (r *Registry) Orphaned(hash TxHash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byHash[hash]; ok {
		e.state = Orphaned
	}
}

// State reports the tracked state of hash, if present.
func (r *Registry) State(hash TxHash) (StateKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHash[hash]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Len reports the current number of tracked transactions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Size()
}

// Consume applies every Event observed on sub to the registry until sub's
// channel is closed or quit fires; Lagged markers are accepted silently,
// matching spec §4.5's "the core treats this as acceptable".
func (r *Registry) Consume(sub *Subscription, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case v, ok := <-sub.C():
			if !ok {
				return
			}
			ev, ok := v.(Event)
			if !ok {
				continue // Lagged marker; nothing to apply.
			}
			switch ev.Kind {
			case Pending:
				r.Pending(ev.Hash)
			case Confirmed:
				r.Confirmed(ev.Hash)
			case Orphaned:
				r.Orphaned(ev.Hash)
			}
		}
	}
}
