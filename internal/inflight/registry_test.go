package inflight

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLeadSecondCallerBecomesFollower(t *testing.T) {
	r := New()

	ticket, waiter := r.TryLead("k1")
	require.NotNil(t, ticket)
	require.Nil(t, waiter)

	ticket2, waiter2 := r.TryLead("k1")
	assert.Nil(t, ticket2)
	require.NotNil(t, waiter2)

	select {
	case <-waiter2.Done():
		t.Fatal("follower must not observe completion before the leader signals")
	default:
	}
}

func TestSignalWakesFollowersWithOutcome(t *testing.T) {
	r := New()
	ticket, _ := r.TryLead("k1")

	var followers []*Waiter
	for i := 0; i < 3; i++ {
		_, w := r.TryLead("k1")
		require.NotNil(t, w)
		followers = append(followers, w)
	}

	var wg sync.WaitGroup
	results := make([]bool, len(followers))
	for i, w := range followers {
		wg.Add(1)
		go func(i int, w *Waiter) {
			defer wg.Done()
			<-w.Done()
			results[i] = w.Outcome().Cached
		}(i, w)
	}

	ticket.Signal(Outcome{Cached: true})
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
}

func TestSignalRemovesEntryAllowingNewLeader(t *testing.T) {
	r := New()
	ticket, _ := r.TryLead("k1")
	ticket.Signal(Outcome{Cached: false})

	ticket2, waiter2 := r.TryLead("k1")
	assert.NotNil(t, ticket2, "after signal, the key is free for a new leader")
	assert.Nil(t, waiter2)
}

func TestSignalDoesNotBlock(t *testing.T) {
	r := New()
	ticket, _ := r.TryLead("k1")

	done := make(chan struct{})
	go func() {
		ticket.Signal(Outcome{Cached: true})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signal should not block")
	}
}
