package pool

import "github.com/sambacha/web3-proxy/internal/backend"

// ConsensusHead is the derived canonical head described in spec §3.
type ConsensusHead struct {
	Hash       [32]byte
	Number     uint64
	ParentHash [32]byte
}

// backendSnapshot pairs a backend's weight with its last-observed head, used
// only for consensus computation.
type backendSnapshot struct {
	id     string
	weight float64
	head   backend.HeadSnapshot
}

type candidate struct {
	hash       [32]byte
	number     uint64
	parentHash [32]byte
	weight     float64
}

// computeConsensus implements spec §4.2's consensus-head recomputation: the
// block at the greatest number H <= H_max such that backends reporting
// blocks at height >= H have cumulative weight >= minQuorumWeight, with
// hash tie-breaks by cumulative weight then by chain continuity.
func computeConsensus(snaps []backendSnapshot, minQuorumWeight float64, prev ConsensusHead) (ConsensusHead, bool) {
	if len(snaps) == 0 {
		return ConsensusHead{}, false
	}

	var hMax uint64
	for _, s := range snaps {
		if s.head.Number > hMax {
			hMax = s.head.Number
		}
	}

	for h := hMax; ; h-- {
		byHash := map[[32]byte]*candidate{}
		var totalAtOrAbove float64
		for _, s := range snaps {
			if s.head.Number < h {
				continue
			}
			totalAtOrAbove += s.weight
			// Only a snapshot whose own height equals h names a candidate
			// hash at h; backends strictly above h still contribute to
			// quorum weight for h (they necessarily built on some ancestor
			// at height h) but don't name a hash at h.
			if s.head.Number == h {
				c, ok := byHash[s.head.Hash]
				if !ok {
					c = &candidate{hash: s.head.Hash, number: h, parentHash: s.head.ParentHash}
					byHash[s.head.Hash] = c
				}
				c.weight += s.weight
			}
		}

		if totalAtOrAbove >= minQuorumWeight && len(byHash) > 0 {
			best := pickBest(byHash, prev)
			return ConsensusHead{Hash: best.hash, Number: best.number, ParentHash: best.parentHash}, true
		}

		if h == 0 {
			break
		}
	}
	return ConsensusHead{}, false
}

func pickBest(byHash map[[32]byte]*candidate, prev ConsensusHead) *candidate {
	var best *candidate
	for _, c := range byHash {
		switch {
		case best == nil:
			best = c
		case c.weight > best.weight:
			best = c
		case c.weight == best.weight && c.parentHash == prev.Hash && best.parentHash != prev.Hash:
			// Tie-break: prefer continuity with the previous consensus head.
			best = c
		}
	}
	return best
}
