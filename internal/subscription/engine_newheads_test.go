package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/internal/pendingtx"
	"github.com/sambacha/web3-proxy/internal/pool"
	"github.com/sambacha/web3-proxy/libevm/ethtest"
)

// TestNewHeadsDeliversConsensusHead exercises the full path from a stub
// backend's mined block through Pool's consensus computation to an
// eth_subscribe("newHeads") notification, closing the gap left by the
// other tests in this package (which only drive the pendingtx bus
// directly).
func TestNewHeadsDeliversConsensusHead(t *testing.T) {
	h := ethtest.NewHarness(t, pool.Config{MinQuorumWeight: 1}, 1)

	bus := pendingtx.NewBus(8)
	engine := New(h.Pool, bus)
	client := newInProcClient(t, engine)

	ch := make(chan map[string]any, 1)
	sub, err := client.EthSubscribe(context.Background(), ch, "newHeads")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	h.Backends[0].Chain.Advance()

	select {
	case head := <-ch:
		require.EqualValues(t, 1, head["number"])
	case err := <-sub.Err():
		t.Fatalf("subscription error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for newHeads notification")
	}
}
