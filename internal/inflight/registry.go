// Package inflight implements spec §3's "In-flight registry" and the
// single-flight leader/follower sequence of spec §4.3 step 3: at most one
// notifier per cache key, inserted before upstream dispatch begins and
// removed strictly after the cache write (if any) and before waking
// waiters.
//
// Grounded on the teacher's compare-and-swap-guarded map pattern
// (libevm/rpcroute/backends.go's mutex-guarded registry), generalized here
// to a compare-and-insert entry API over a broadcast-once notifier instead
// of a plain value map.
package inflight

import "sync"

// Outcome is what a follower observes when a notifier fires.
type Outcome struct {
	// Cached is true if the leader wrote a cache entry the follower
	// should re-read; false means the leader failed or the response was
	// uncacheable, and the follower should become a new leader.
	Cached bool
}

// notifier is a single-shot broadcast signal: any number of followers may
// wait on done, and exactly one leader closes it exactly once.
type notifier struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

func newNotifier() *notifier {
	return &notifier{done: make(chan struct{})}
}

func (n *notifier) signal(o Outcome) {
	n.once.Do(func() {
		n.outcome = o
		close(n.done)
	})
}

// Registry is the concurrent cache_key -> notifier map of spec §3.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*notifier
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: map[string]*notifier{}}
}

// Ticket is returned to the leader that successfully inserted a notifier.
// It must be resolved exactly once via Signal.
type Ticket struct {
	registry *Registry
	key      string
	n        *notifier
}

// TryLead attempts a compare-and-insert under key. If it succeeds, the
// caller is the leader and receives a Ticket to signal on completion. If a
// notifier already exists, the caller is a follower and receives a Waiter
// to block on instead.
func (r *Registry) TryLead(key string) (*Ticket, *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		return nil, &Waiter{n: existing}
	}

	n := newNotifier()
	r.entries[key] = n
	return &Ticket{registry: r, key: key, n: n}, nil
}

// Signal removes the notifier from the registry and wakes every follower
// with the given outcome, per spec §4.3 steps 5-6 ("remove the notifier,
// signal followers"). Safe to call exactly once; a Ticket must not be
// reused.
func (t *Ticket) Signal(o Outcome) {
	t.registry.mu.Lock()
	if t.registry.entries[t.key] == t.n {
		delete(t.registry.entries, t.key)
	}
	t.registry.mu.Unlock()
	t.n.signal(o)
}

// Waiter is held by a follower task.
type Waiter struct {
	n *notifier
}

// Done returns a channel that is closed when the leader signals; callers
// typically select on it alongside a context's Done channel.
func (w *Waiter) Done() <-chan struct{} { return w.n.done }

// Outcome is only meaningful after Done() has fired.
func (w *Waiter) Outcome() Outcome { return w.n.outcome }
