package pool

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// blockIndex is the bounded block_number -> block_hash mapping of spec §3
// ("Block index"), backed by an LRU cache (proxyd's go.mod dependency) for
// the bound and explicit key removal for reorg invalidation, since a plain
// LRU has no notion of "evict everything after this point".
type blockIndex struct {
	mu    sync.RWMutex
	cache *lru.Cache[uint64, [32]byte]
}

func newBlockIndex(size int) *blockIndex {
	c, _ := lru.New[uint64, [32]byte](size)
	return &blockIndex{cache: c}
}

func (bi *blockIndex) get(number uint64) ([32]byte, bool) {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.cache.Get(number)
}

func (bi *blockIndex) set(number uint64, hash [32]byte) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	bi.cache.Add(number, hash)
}

// invalidateFrom removes all entries at or after forkPoint, per spec §3:
// "Reorgs invalidate entries at and after the fork point."
func (bi *blockIndex) invalidateFrom(forkPoint uint64) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	for _, k := range bi.cache.Keys() {
		if k >= forkPoint {
			bi.cache.Remove(k)
		}
	}
}
