// Package rpc is a minimal Soroban RPC client used for network preflight
// checks. All requests flow through the shared rate limiter so the client
// backs off cleanly when the RPC endpoint throttles.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anchorwave/deployer/internal/shell/ratelimit"
)

// DefaultTimeout bounds a single RPC call.
const DefaultTimeout = 10 * time.Second

// Known network endpoints, keyed by the network names the deploy CLI accepts.
var wellKnownEndpoints = map[string]string{
	"testnet":   "https://soroban-testnet.stellar.org",
	"futurenet": "https://rpc-futurenet.stellar.org",
	"mainnet":   "https://mainnet.sorobanrpc.com",
}

// EndpointFor resolves a network name to its public RPC URL. Unknown names
// return false so callers can require an explicit URL.
func EndpointFor(network string) (string, bool) {
	url, ok := wellKnownEndpoints[network]
	return url, ok
}

// =============================================================================
// Wire Types
// =============================================================================

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Health is the getHealth result.
type Health struct {
	Status                string `json:"status"`
	LatestLedger          uint32 `json:"latestLedger"`
	OldestLedger          uint32 `json:"oldestLedger"`
	LedgerRetentionWindow uint32 `json:"ledgerRetentionWindow"`
}

// Healthy reports whether the node considers itself serviceable.
func (h Health) Healthy() bool { return h.Status == "healthy" }

// LatestLedger is the getLatestLedger result.
type LatestLedger struct {
	ID              string `json:"id"`
	ProtocolVersion uint32 `json:"protocolVersion"`
	Sequence        uint32 `json:"sequence"`
}

// =============================================================================
// Client
// =============================================================================

// Client issues JSON-RPC calls against a Soroban RPC endpoint.
type Client struct {
	url     string
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a client. limiter must not be nil; logger may be.
func New(url string, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		limiter: limiter,
		logger:  logger.With("component", "rpc", "endpoint", url),
		timeout: DefaultTimeout,
	}
}

// GetHealth calls getHealth.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, "getHealth", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLatestLedger calls getLatestLedger.
func (c *Client) GetLatestLedger(ctx context.Context) (*LatestLedger, error) {
	var out LatestLedger
	if err := c.call(ctx, "getLatestLedger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	// GetBody lets the rate limiter replay the request after a 429 window.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.limiter.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	c.logger.Debug("rpc call ok", "method", method)
	return nil
}
