package das

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// TokenAccount is one SPL token account returned by getTokenAccounts.
type TokenAccount struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Amount  Amount `json:"amount"`
}

// Amount is a raw token amount. The indexer sends it either as a JSON number
// or as a numeric string; both decode without going through float64.
type Amount struct {
	big.Int
}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	var a Amount
	a.SetUint64(v)
	return a
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		a.SetInt64(0)
		return nil
	}
	if _, ok := a.SetString(string(data), 10); !ok {
		return fmt.Errorf("invalid token amount %q", data)
	}
	if a.Sign() < 0 {
		return fmt.Errorf("negative token amount %q", data)
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// TokenAccountsParams are the named params of a getTokenAccounts call.
type TokenAccountsParams struct {
	Mint  string `json:"mint"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// TokenAccountsResult is the result object of a getTokenAccounts call.
type TokenAccountsResult struct {
	Total         int            `json:"total"`
	Limit         int            `json:"limit"`
	Page          int            `json:"page"`
	TokenAccounts []TokenAccount `json:"token_accounts"`
}

// RPCRequest represents a JSON-RPC 2.0 request with named params.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCResponse represents a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// StatusError is returned when the indexer answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int {
	return e.Code
}
