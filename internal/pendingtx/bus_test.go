package pendingtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus(4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Publish(Event{Kind: Pending, Hash: TxHash{1}})

	for _, s := range []*Subscription{s1, s2} {
		select {
		case v := <-s.C():
			ev, ok := v.(Event)
			require.True(t, ok)
			assert.Equal(t, Pending, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("expected event delivery")
		}
	}
}

func TestPublishDropsWithLaggedMarkerWhenFull(t *testing.T) {
	b := NewBus(1)
	s := b.Subscribe()

	b.Publish(Event{Kind: Pending, Hash: TxHash{1}})
	b.Publish(Event{Kind: Pending, Hash: TxHash{2}}) // channel already full

	v := <-s.C()
	if ev, ok := v.(Event); ok {
		assert.Equal(t, TxHash{1}, ev.Hash)
	}

	select {
	case v2 := <-s.C():
		_, isLagged := v2.(Lagged)
		assert.True(t, isLagged, "second slot should carry a Lagged marker")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	s := b.Subscribe()
	s.Unsubscribe()

	b.Publish(Event{Kind: Confirmed, Hash: TxHash{9}})

	select {
	case <-s.C():
		t.Fatal("unsubscribed subscriber must not receive further events")
	default:
	}
}
