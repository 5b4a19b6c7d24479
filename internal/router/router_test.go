package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambacha/web3-proxy/internal/cache"
	"github.com/sambacha/web3-proxy/internal/inflight"
	"github.com/sambacha/web3-proxy/internal/pool"
	wire "github.com/sambacha/web3-proxy/internal/rpc"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	p := pool.New(pool.Config{})
	return New(Config{UserAgent: "web3-proxy-test/1.0"}, p, nil, cache.New(100, 1<<20), inflight.New(), nil)
}

func req(t *testing.T, method string, params ...any) *wire.Request {
	t.Helper()
	var raw json.RawMessage
	if len(params) > 0 {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	return &wire.Request{JSONRPC: "2.0", ID: wire.NewID(1), Method: method, Params: raw}
}

func TestDispatchBlockedMethodReturnsMethodNotFound(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "admin_addPeer"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchNotImplementedMethod(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "eth_newFilter"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchLocalEthAccounts(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "eth_accounts"))

	require.Nil(t, resp.Error)
	var v []string
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Empty(t, v)
}

func TestDispatchLocalWeb3Sha3(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "web3_sha3", "0x68656c6c6f20776f726c64"))

	require.Nil(t, resp.Error)
	var v string
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Equal(t, "0x47173285a8d7341e5e972fc677286384f802f8ef42a5ec5f03bbfa254cb01fad", v)
}

func TestDispatchLocalEthBlockNumberNoBackendsIsError(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "eth_blockNumber"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeInternal, resp.Error.Code)
}

func TestDispatchLocalNetPeerCountWithNoBackends(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "net_peerCount"))

	require.Nil(t, resp.Error)
	var v string
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Equal(t, "0x0", v)
}

func TestDispatchBalancedCachedWithNoBackendsReturnsNoBackendsError(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Dispatch(context.Background(), req(t, "eth_getBalance", "0xabc", "latest"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeInternal, resp.Error.Code)
}

func TestDispatchBatchPreservesOrder(t *testing.T) {
	r := newTestRouter(t)
	reqs := []*wire.Request{
		req(t, "eth_accounts"),
		req(t, "eth_mining"),
		req(t, "net_listening"),
	}
	resps := r.DispatchBatch(context.Background(), reqs)
	require.Len(t, resps, 3)
	for _, resp := range resps {
		assert.Nil(t, resp.Error)
	}

	var accounts []string
	require.NoError(t, json.Unmarshal(resps[0].Result, &accounts))
	assert.Empty(t, accounts)
	var mining, listening bool
	require.NoError(t, json.Unmarshal(resps[1].Result, &mining))
	require.NoError(t, json.Unmarshal(resps[2].Result, &listening))
	assert.False(t, mining)
	assert.True(t, listening)
}
