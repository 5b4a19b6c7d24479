package pendingtx

import "sync"

// maxTrackedHeightsPerBackend bounds ReorgTracker's per-backend memory: only
// confirmations at the most recent heights seen for that backend are kept
// available for Orphaned replay.
const maxTrackedHeightsPerBackend = 1024

type backendConfirmations struct {
	heights []uint64           // insertion order, oldest first
	byHash  map[uint64][]TxHash
}

// ReorgTracker is the bus-side half of spec §4.5's producers: it receives
// per-height Confirmed notifications from every backend's head tracker,
// publishes them onto the bus, and remembers them long enough to re-emit
// Orphaned for any reorg that invalidates that height. It also satisfies
// backend.ReorgNotifier, so a Backend can call NotifyReorg directly without
// this package importing internal/backend.
type ReorgTracker struct {
	bus *Bus

	mu       sync.Mutex
	backends map[string]*backendConfirmations
}

// NewReorgTracker constructs a ReorgTracker that publishes onto bus.
func NewReorgTracker(bus *Bus) *ReorgTracker {
	return &ReorgTracker{bus: bus, backends: map[string]*backendConfirmations{}}
}

// RecordConfirmed publishes a Confirmed event for hash, attributing it to
// backendID's head at height so a later reorg at or after that height can
// re-emit it as Orphaned.
func (t *ReorgTracker) RecordConfirmed(backendID string, height uint64, hash TxHash) {
	t.mu.Lock()
	bc, ok := t.backends[backendID]
	if !ok {
		bc = &backendConfirmations{byHash: map[uint64][]TxHash{}}
		t.backends[backendID] = bc
	}
	if _, seen := bc.byHash[height]; !seen {
		bc.heights = append(bc.heights, height)
	}
	bc.byHash[height] = append(bc.byHash[height], hash)

	for len(bc.heights) > maxTrackedHeightsPerBackend {
		oldest := bc.heights[0]
		bc.heights = bc.heights[1:]
		delete(bc.byHash, oldest)
	}
	t.mu.Unlock()

	t.bus.Publish(Event{Kind: Confirmed, Hash: hash, Backend: backendID})
}

// NotifyReorg implements backend.ReorgNotifier: every tx hash previously
// recorded Confirmed by backendID at or after atOrAfter is re-emitted
// Orphaned on the bus, per spec §8 scenario 5.
func (t *ReorgTracker) NotifyReorg(backendID string, atOrAfter uint64) {
	t.mu.Lock()
	bc, ok := t.backends[backendID]
	var hashes []TxHash
	if ok {
		remaining := bc.heights[:0]
		for _, h := range bc.heights {
			if h >= atOrAfter {
				hashes = append(hashes, bc.byHash[h]...)
				delete(bc.byHash, h)
				continue
			}
			remaining = append(remaining, h)
		}
		bc.heights = remaining
	}
	t.mu.Unlock()

	for _, hash := range hashes {
		t.bus.Publish(Event{Kind: Orphaned, Hash: hash, Backend: backendID})
	}
}

// Publish implements backend.PendingTxSink's other half: a per-backend
// pending-tx listener calls this directly to emit Pending events.
func (t *ReorgTracker) Publish(ev Event) {
	t.bus.Publish(ev)
}
