package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorwave/deployer/internal/shell/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	limiter := ratelimit.New(srv.Client(), ratelimit.Config{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, nil, nil)
	t.Cleanup(limiter.Close)
	return New(srv.URL, limiter, nil)
}

func writeResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	resp := map[string]any{"jsonrpc": "2.0", "id": "1", "result": json.RawMessage(raw)}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestGetHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "getHealth", req.Method)
		assert.NotEmpty(t, req.ID)

		writeResult(t, w, Health{Status: "healthy", LatestLedger: 123456})
	})

	h, err := c.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())
	assert.Equal(t, uint32(123456), h.LatestLedger)
}

func TestGetLatestLedger(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, LatestLedger{ID: "abc", ProtocolVersion: 22, Sequence: 99})
	})

	l, err := c.GetLatestLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(99), l.Sequence)
	assert.Equal(t, uint32(22), l.ProtocolVersion)
}

func TestCall_RPCError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      "1",
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := c.GetHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestCall_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestCall_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		// Replayed request must still carry a readable body.
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getHealth", req.Method)
		writeResult(t, w, Health{Status: "healthy"})
	})

	h, err := c.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())
	assert.Equal(t, int64(2), calls.Load())
}

func TestCall_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeResult(t, w, Health{Status: "healthy"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetHealth(ctx)
	require.Error(t, err)
}

func TestEndpointFor(t *testing.T) {
	url, ok := EndpointFor("testnet")
	assert.True(t, ok)
	assert.Contains(t, url, "testnet")

	_, ok = EndpointFor("standalone")
	assert.False(t, ok)
}
