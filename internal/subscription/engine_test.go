package subscription

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/internal/pendingtx"
	"github.com/sambacha/web3-proxy/internal/pool"
)

func newInProcClient(t *testing.T, engine *Engine) *rpc.Client {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", engine))
	t.Cleanup(srv.Stop)

	client := rpc.DialInProc(srv)
	t.Cleanup(client.Close)
	return client
}

func TestNewPendingTransactionsDeliversHash(t *testing.T) {
	bus := pendingtx.NewBus(8)
	engine := New(pool.New(pool.Config{}), bus)
	client := newInProcClient(t, engine)

	ch := make(chan pendingtx.TxHash, 1)
	sub, err := client.EthSubscribe(context.Background(), ch, "newPendingTransactions")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	bus.Publish(pendingtx.Event{Kind: pendingtx.Pending, Hash: pendingtx.TxHash{1}})

	select {
	case h := <-ch:
		require.Equal(t, pendingtx.TxHash{1}, h)
	case err := <-sub.Err():
		t.Fatalf("subscription error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNewPendingTransactionsIgnoresConfirmed(t *testing.T) {
	bus := pendingtx.NewBus(8)
	engine := New(pool.New(pool.Config{}), bus)
	client := newInProcClient(t, engine)

	ch := make(chan pendingtx.TxHash, 1)
	sub, err := client.EthSubscribe(context.Background(), ch, "newPendingTransactions")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	bus.Publish(pendingtx.Event{Kind: pendingtx.Confirmed, Hash: pendingtx.TxHash{2}})
	bus.Publish(pendingtx.Event{Kind: pendingtx.Pending, Hash: pendingtx.TxHash{3}})

	select {
	case h := <-ch:
		require.Equal(t, pendingtx.TxHash{3}, h, "Confirmed events must not be forwarded")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNewPendingFullTransactionsDecodesRLP(t *testing.T) {
	bus := pendingtx.NewBus(8)
	engine := New(pool.New(pool.Config{}), bus)
	client := newInProcClient(t, engine)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       nil,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	ch := make(chan *types.Transaction, 1)
	sub, err := client.EthSubscribe(context.Background(), ch, "newPendingFullTransactions")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	bus.Publish(pendingtx.Event{Kind: pendingtx.Pending, Hash: pendingtx.TxHash{1}, Raw: raw})

	select {
	case got := <-ch:
		require.Equal(t, tx.Hash(), got.Hash())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNewPendingRawTransactionsDeliversBytes(t *testing.T) {
	bus := pendingtx.NewBus(8)
	engine := New(pool.New(pool.Config{}), bus)
	client := newInProcClient(t, engine)

	raw := []byte{0xde, 0xad, 0xbe, 0xef}

	var got []byte
	ch := make(chan []byte, 1)
	sub, err := client.EthSubscribe(context.Background(), ch, "newPendingRawTransactions")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	bus.Publish(pendingtx.Event{Kind: pendingtx.Pending, Hash: pendingtx.TxHash{1}, Raw: raw})

	select {
	case got = <-ch:
		require.Equal(t, raw, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
