package proxymetrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	m := New()
	require.NotNil(t, m)

	m.RequestsTotal.WithLabelValues("eth_getBalance", "ok").Inc()
	m.RequestDuration.WithLabelValues("eth_getBalance").Observe(0.01)
	m.CacheHitsTotal.WithLabelValues("eth_getBalance").Inc()
	m.CacheMissesTotal.WithLabelValues("eth_getBalance").Inc()
	m.BackendHealth.WithLabelValues("primary-1").Set(2)
	m.BackendTokens.WithLabelValues("primary-1").Set(42)
	m.InflightLeaders.WithLabelValues("eth_getLogs").Set(1)
	m.RevertsTotal.WithLabelValues("eth_call").Inc()
}

func TestHandlerServesExpositionFormat(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("eth_call", "ok").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "web3_proxy_requests_total")
}

func TestMethodCostReturnsHigherCostForExpensiveMethods(t *testing.T) {
	assert.Greater(t, MethodCost("eth_getLogs"), MethodCost("eth_sendRawTransaction"))
	assert.Equal(t, 1, MethodCost("unknown_method"))
}
