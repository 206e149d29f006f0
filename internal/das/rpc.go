package das

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultURL is the Helius mainnet DAS endpoint.
const DefaultURL = "https://mainnet.helius-rpc.com/"

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Index lists the token accounts of a mint one page at a time. Pages are
// 1-indexed and have no guaranteed ordering relative to each other.
type Index interface {
	TokenAccounts(ctx context.Context, mint string, page, limit int) ([]TokenAccount, error)
}

// Client implements Index against a Helius-compatible DAS JSON-RPC endpoint.
type Client struct {
	url    string
	client *http.Client
	idSeq  atomic.Int64
}

// NewClient creates a DAS client. The API key is sent as the api-key query
// parameter.
func NewClient(endpoint, apiKey string, timeout time.Duration) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse DAS url: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("api-key", apiKey)
		u.RawQuery = q.Encode()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    u.String(),
		client: &http.Client{Timeout: timeout},
	}, nil
}

// call makes a JSON-RPC call and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      "holder-scan-" + strconv.FormatInt(c.idSeq.Add(1), 10),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &StatusError{Code: httpResp.StatusCode, Body: string(respBody)}
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, fmt.Errorf("%s: empty result", method)
	}

	return rpcResp.Result, nil
}

// TokenAccounts returns one page of token accounts for mint.
func (c *Client) TokenAccounts(ctx context.Context, mint string, page, limit int) ([]TokenAccount, error) {
	result, err := c.call(ctx, "getTokenAccounts", TokenAccountsParams{
		Mint:  mint,
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("getTokenAccounts: %w", err)
	}

	var res TokenAccountsResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("unmarshal token accounts: %w", err)
	}

	return res.TokenAccounts, nil
}
