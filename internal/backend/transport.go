package backend

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Kind distinguishes how a Backend is reached.
type Kind int

const (
	// KindHTTP backends are polled for new heads.
	KindHTTP Kind = iota
	// KindWS backends push new heads via eth_subscribe("newHeads").
	KindWS
)

func (k Kind) String() string {
	if k == KindWS {
		return "ws"
	}
	return "http"
}

// Transport abstracts dialing and issuing calls against one upstream node,
// grounded on the teacher's (*ethclient.Client)-based dialing in
// libevm/rpcroute/backend.go, generalized to cover both HTTP and WS.
type Transport struct {
	Kind Kind
	URL  string

	// PollInterval is used only by KindHTTP backends: for the head tracker
	// and for the pending-transaction filter poll.
	PollInterval time.Duration

	// DialFunc overrides the default URL-based dial when set, for tests
	// that wire a backend straight to an in-process *rpc.Server via
	// rpc.DialInProc instead of a real listener — grounded on
	// libevm/rpcroute/server_test.go's stubBackend.DialWS, which does
	// exactly this for the teacher's own test harness.
	DialFunc func(ctx context.Context) (*ethclient.Client, error)
}

// Dial establishes (or re-establishes) the underlying RPC client.
func (t *Transport) Dial(ctx context.Context) (*ethclient.Client, error) {
	if t.DialFunc != nil {
		return t.DialFunc(ctx)
	}
	rc, err := rpc.DialContext(ctx, t.URL)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rc), nil
}

// subscribeNewHeads is only valid for KindWS transports.
func subscribeNewHeads(ctx context.Context, cl *ethclient.Client, ch chan<- *types.Header) (ethSubscription, error) {
	return cl.SubscribeNewHead(ctx, ch)
}

// ethSubscription is the subset of ethereum.Subscription used here, named
// locally so callers don't need to import go-ethereum's root package just
// for the interface.
type ethSubscription interface {
	Unsubscribe()
	Err() <-chan error
}
