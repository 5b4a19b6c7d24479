// Package pendingtx implements spec §4.5: the pending-transaction broadcast
// bus and the pending-tx registry it feeds.
//
// The bus cannot be grounded on go-ethereum's event.Feed directly — Feed's
// Send blocks until every subscriber channel accepts, which contradicts
// spec §4.5's "producer never blocks on a slow consumer" / lossy-broadcast
// requirement. It is instead a small hand-rolled fan-out over per-
// subscriber buffered channels with non-blocking sends, in the teacher's
// idiom of preferring plain channels over a framework (c.f. rpcroute's
// heightCh/quit channels) where the off-the-shelf primitive doesn't fit.
package pendingtx

import "sync"

// StateKind is the TxState event kind of spec §4.5.
type StateKind int

const (
	Pending StateKind = iota
	Confirmed
	Orphaned
)

func (k StateKind) String() string {
	switch k {
	case Pending:
		return "Pending"
	case Confirmed:
		return "Confirmed"
	case Orphaned:
		return "Orphaned"
	default:
		return "Unknown"
	}
}

// TxHash is a 32-byte transaction hash, kept untyped-from-go-ethereum here
// so this package has no dependency beyond what it actually broadcasts.
type TxHash [32]byte

// Event is one TxState broadcast: Pending carries Raw (the RLP-encoded
// transaction, for newPendingRawTransactions); Confirmed and Orphaned
// carry only the hash.
type Event struct {
	Kind    StateKind
	Hash    TxHash
	Raw     []byte
	Backend string
}

// Lagged is delivered to a subscriber in place of events it missed because
// its channel was full, per spec §4.5's lossy-broadcast semantics.
type Lagged struct{ Missed uint64 }

type subscriber struct {
	ch chan any
}

// Bus is the broadcast channel of spec §4.5, default capacity 256.
type Bus struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	capacity int
}

// NewBus constructs a Bus with the given per-subscriber buffer capacity
// (spec default: 256).
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{subs: map[*subscriber]struct{}{}, capacity: capacity}
}

// Subscription is a live feed of Event and Lagged values.
type Subscription struct {
	bus *Bus
	sub *subscriber
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	s := &subscriber{ch: make(chan any, b.capacity)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return &Subscription{bus: b, sub: s}
}

// C returns the channel to range/select over; values are Event or Lagged.
func (s *Subscription) C() <-chan any { return s.sub.ch }

// Unsubscribe removes the subscription from the bus. Safe to call once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
}

// Publish fans ev out to every current subscriber without blocking. A
// subscriber whose channel is full receives a best-effort Lagged marker
// instead (itself dropped if even that can't be enqueued); the producer
// never waits on a slow consumer.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			select {
			case s.ch <- Lagged{Missed: 1}:
			default:
			}
		}
	}
}
