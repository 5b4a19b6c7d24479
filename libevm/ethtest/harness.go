package ethtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/internal/backend"
	"github.com/sambacha/web3-proxy/internal/pool"
	"github.com/sambacha/web3-proxy/internal/quota"
)

// StubBackend pairs a StubChain with the in-process *rpc.Server serving
// it, grounded on libevm/rpcroute/server_test.go's stubBackend (which
// pairs a bufconn-backed httptest server with an *rpc.Server); this
// harness dials in-process instead, since internal/backend.Transport
// exposes DialFunc for exactly that purpose.
type StubBackend struct {
	Chain *StubChain
	RPC   *rpc.Server
}

// NewStubBackend registers a fresh StubChain under the "eth" namespace
// of a new in-process *rpc.Server.
func NewStubBackend(tb testing.TB) *StubBackend {
	tb.Helper()
	chain := NewStubChain()
	srv := rpc.NewServer()
	tb.Cleanup(srv.Stop)
	require.NoError(tb, srv.RegisterName("eth", chain))
	return &StubBackend{Chain: chain, RPC: srv}
}

// Config returns an internal/backend.Config wired to dial this stub
// in-process, for the given id/kind/weight/capabilities.
func (s *StubBackend) Config(id string, kind backend.Kind, weight float64, caps backend.Capabilities) backend.Config {
	return backend.Config{
		ID:           id,
		Weight:       weight,
		HardLimit:    1000,
		Capabilities: caps,
		Transport: backend.Transport{
			Kind: kind,
			DialFunc: func(ctx context.Context) (*ethclient.Client, error) {
				return ethclient.NewClient(rpc.DialInProc(s.RPC)), nil
			},
			PollInterval: 20 * time.Millisecond,
		},
		StallTimeout:           time.Second,
		MaxConsecutiveFailures: 5,
	}
}

// Harness bundles a running Pool with the stub backends behind it, for
// internal/router and internal/subscription integration tests.
type Harness struct {
	Pool    *pool.Pool
	Oracle  quota.Oracle
	Backends []*StubBackend
}

// NewHarness builds and starts a Pool with numBackends stub WS backends.
// tb.Cleanup tears everything down.
func NewHarness(tb testing.TB, cfg pool.Config, numBackends int) *Harness {
	tb.Helper()
	p := pool.New(cfg)
	oracle := quota.NewInMemory()

	stubs := make([]*StubBackend, numBackends)
	for i := 0; i < numBackends; i++ {
		s := NewStubBackend(tb)
		stubs[i] = s
		p.AddBackend(s.Config(fmt.Sprintf("stub-%d", i), backend.KindWS, 1, 0), oracle)
	}

	require.NoError(tb, p.Start(context.Background()))
	tb.Cleanup(p.Close)
	return &Harness{Pool: p, Oracle: oracle, Backends: stubs}
}
