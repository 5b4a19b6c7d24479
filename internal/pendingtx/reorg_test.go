package pendingtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drainEvents(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case v := <-sub.C():
			if ev, ok := v.(Event); ok {
				out = append(out, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestRecordConfirmedPublishesConfirmed(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe()
	tr := NewReorgTracker(bus)

	tr.RecordConfirmed("backend-a", 100, TxHash{1})

	evs := drainEvents(t, sub, 1)
	require.Equal(t, Confirmed, evs[0].Kind)
	require.Equal(t, TxHash{1}, evs[0].Hash)
	require.Equal(t, "backend-a", evs[0].Backend)
}

func TestNotifyReorgReemitsOrphanedAtOrAfterHeight(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe()
	tr := NewReorgTracker(bus)

	tr.RecordConfirmed("backend-a", 99, TxHash{1})
	tr.RecordConfirmed("backend-a", 100, TxHash{2})
	tr.RecordConfirmed("backend-a", 101, TxHash{3})
	drainEvents(t, sub, 3) // the three Confirmed events above

	tr.NotifyReorg("backend-a", 100)

	evs := drainEvents(t, sub, 2)
	got := map[TxHash]bool{}
	for _, ev := range evs {
		require.Equal(t, Orphaned, ev.Kind)
		got[ev.Hash] = true
	}
	require.True(t, got[TxHash{2}])
	require.True(t, got[TxHash{3}])
	require.False(t, got[TxHash{1}], "height below the reorg point must not be re-emitted")
}

func TestNotifyReorgForgetsReemittedHashes(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe()
	tr := NewReorgTracker(bus)

	tr.RecordConfirmed("backend-a", 100, TxHash{1})
	drainEvents(t, sub, 1)

	tr.NotifyReorg("backend-a", 100)
	drainEvents(t, sub, 1)

	tr.NotifyReorg("backend-a", 100)
	select {
	case v := <-sub.C():
		t.Fatalf("expected no further events, got %+v", v)
	default:
	}
}

func TestNotifyReorgIgnoresOtherBackends(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe()
	tr := NewReorgTracker(bus)

	tr.RecordConfirmed("backend-a", 100, TxHash{1})
	drainEvents(t, sub, 1)

	tr.NotifyReorg("backend-b", 0)

	select {
	case v := <-sub.C():
		t.Fatalf("expected no events for an unrelated backend, got %+v", v)
	default:
	}
}
