package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"lendwatch/internal/metrics"
	"lendwatch/logger"
)

// MaxMultipleAccounts is the node-side cap on keys per getMultipleAccounts call.
const MaxMultipleAccounts = 100

// ErrHTTPStatus is wrapped when the endpoint answers with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected http status")

// Config holds connection settings for a ledger RPC endpoint.
type Config struct {
	RPCURL            string
	Commitment        string
	Timeout           time.Duration
	RequestsPerSecond float64
	BurstSize         int
}

// Client is a rate-limited JSON-RPC client for a ledger node.
type Client struct {
	rpcURL     string
	commitment string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Uint64
	log        *logger.Log
}

// NewClient creates a ledger RPC client.
func NewClient(cfg Config) *Client {
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		commitment: cfg.Commitment,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
		log:        logger.GetLogger(),
	}
}

// Call makes an RPC call and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (result json.RawMessage, err error) {
	if params == nil {
		params = []any{}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", method, err)
	}

	start := time.Now()
	defer func() {
		metrics.ObserveRPC(method, err, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w %d: %s", method, ErrHTTPStatus, resp.StatusCode, truncate(respBody, 256))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal response: %w", method, err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	c.log.WithComponent("rpc").WithFields(logger.Fields{
		"method":   method,
		"bytes":    len(respBody),
		"duration": time.Since(start).String(),
	}).Debug("rpc call complete")

	return rpcResp.Result, nil
}

// GetProgramAccounts lists every account owned by program that matches all filters.
func (c *Client) GetProgramAccounts(ctx context.Context, program string, filters ...MemcmpFilter) ([]KeyedAccount, error) {
	opts := map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	}
	if len(filters) > 0 {
		wrapped := make([]map[string]MemcmpFilter, 0, len(filters))
		for _, f := range filters {
			wrapped = append(wrapped, map[string]MemcmpFilter{"memcmp": f})
		}
		opts["filters"] = wrapped
	}

	result, err := c.Call(ctx, "getProgramAccounts", program, opts)
	if err != nil {
		return nil, err
	}

	var accounts []KeyedAccount
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, fmt.Errorf("getProgramAccounts: unmarshal result: %w", err)
	}
	return accounts, nil
}

// GetMultipleAccounts fetches up to MaxMultipleAccounts addresses in one call.
// The returned slice is positionally aligned with keys; missing accounts are nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, keys []string) ([]*Account, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > MaxMultipleAccounts {
		return nil, fmt.Errorf("getMultipleAccounts: %d keys exceeds limit of %d", len(keys), MaxMultipleAccounts)
	}

	result, err := c.Call(ctx, "getMultipleAccounts", keys, map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	})
	if err != nil {
		return nil, err
	}

	var parsed multipleAccountsResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: unmarshal result: %w", err)
	}
	if len(parsed.Value) != len(keys) {
		return nil, fmt.Errorf("getMultipleAccounts: requested %d keys, got %d values", len(keys), len(parsed.Value))
	}
	return parsed.Value, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
