package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samuelhorjet/solana-forge/internal/metrics"
	"github.com/samuelhorjet/solana-forge/internal/solana/ratelimit"
)

// LedgerClient abstracts the Solana JSON-RPC interface for testing.
type LedgerClient interface {
	GetSlot(ctx context.Context, commitment string) (int64, error)
	GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*TransactionResult, error)
	GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error)
	GetProgramAccounts(ctx context.Context, programID string, filters []MemcmpFilter) ([]ProgramAccount, error)
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

var _ LedgerClient = (*Client)(nil)

func NewClient(rpcURL string, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rpcURL:  rpcURL,
		limiter: limiter,
		logger:  logger,
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	id := int(c.requestID.Add(1))
	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RPCCallErrors.Inc()
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RPCCallErrors.Inc()
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		metrics.RPCCallErrors.Inc()
		c.logger.Warn("rpc error",
			"method", method,
			"code", rpcResp.Error.Code,
			"message", rpcResp.Error.Message,
		)
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}
