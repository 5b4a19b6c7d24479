package backend

import "github.com/ethereum/go-ethereum/common"

// HeadSnapshot is the immutable tuple produced by a backend's head-tracker
// and consumed by the Pool (spec §3 "Head snapshot").
type HeadSnapshot struct {
	Hash       common.Hash
	Number     uint64
	ParentHash common.Hash
	Timestamp  uint64
}

// HeadUpdate is published on a backend's shared head feed so that the Pool's
// consensus computation can attribute each snapshot to its source backend.
type HeadUpdate struct {
	BackendID string
	Snapshot  HeadSnapshot
}

// IsZero reports whether the snapshot has never been populated.
func (h HeadSnapshot) IsZero() bool {
	return h.Hash == (common.Hash{}) && h.Number == 0
}
