package backend

import "sync/atomic"

// Health is the backend health state machine from spec §4.1.
type Health int32

const (
	New Health = iota
	Syncing
	Synced
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case New:
		return "New"
	case Syncing:
		return "Syncing"
	case Synced:
		return "Synced"
	case Unhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// healthState is an atomically-updated Health, reported to callers via Get
// and mutated only by the backend's own head-tracker / request-outcome
// logic (spec §4.1's four transitions).
type healthState struct {
	v atomic.Int32
}

func (h *healthState) Get() Health {
	return Health(h.v.Load())
}

// Set unconditionally stores the new state and reports whether it changed.
func (h *healthState) Set(newState Health) (changed bool) {
	old := Health(h.v.Swap(int32(newState)))
	return old != newState
}

// CompareAndSwap stores newState only if the current value is oldState.
func (h *healthState) CompareAndSwap(oldState, newState Health) bool {
	return h.v.CompareAndSwap(int32(oldState), int32(newState))
}
