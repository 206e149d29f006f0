package das

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler func(req RPCRequest, params TokenAccountsParams, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api-key"); got != "test-key" {
			t.Errorf("api-key = %q, want test-key", got)
		}
		body, _ := io.ReadAll(r.Body)
		var raw struct {
			RPCRequest
			Params TokenAccountsParams `json:"params"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		handler(raw.RPCRequest, raw.Params, w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_TokenAccounts(t *testing.T) {
	srv := newTestServer(t, func(req RPCRequest, params TokenAccountsParams, w http.ResponseWriter) {
		if req.Method != "getTokenAccounts" {
			t.Errorf("method = %s, want getTokenAccounts", req.Method)
		}
		if req.JSONRPC != "2.0" {
			t.Errorf("jsonrpc = %s, want 2.0", req.JSONRPC)
		}
		if params.Mint != "MintA" || params.Page != 2 || params.Limit != 1000 {
			t.Errorf("params = %+v", params)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"total":2,"limit":1000,"page":2,"token_accounts":[
			{"address":"acct1","owner":"OwnerA","amount":"340282366920938463463374607431768211455"},
			{"address":"acct2","owner":"OwnerB","amount":42}
		]}}`))
	})

	client, err := NewClient(srv.URL, "test-key", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	accounts, err := client.TokenAccounts(context.Background(), "MintA", 2, 1000)
	if err != nil {
		t.Fatalf("TokenAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
	if accounts[0].Amount.String() != "340282366920938463463374607431768211455" {
		t.Errorf("amount = %s, want 2^128-1", accounts[0].Amount.String())
	}
	if accounts[1].Owner != "OwnerB" || accounts[1].Amount.Int64() != 42 {
		t.Errorf("account = %+v", accounts[1])
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := newTestServer(t, func(_ RPCRequest, _ TokenAccountsParams, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})

	client, _ := NewClient(srv.URL, "test-key", 5*time.Second)
	_, err := client.TokenAccounts(context.Background(), "MintA", 1, 1000)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.StatusCode() != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", se.StatusCode())
	}
}

func TestClient_RPCError(t *testing.T) {
	srv := newTestServer(t, func(_ RPCRequest, _ TokenAccountsParams, w http.ResponseWriter) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32602,"message":"invalid mint"}}`))
	})

	client, _ := NewClient(srv.URL, "test-key", 5*time.Second)
	_, err := client.TokenAccounts(context.Background(), "bad", 1, 1000)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want RPCError", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("code = %d, want -32602", rpcErr.Code)
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := newTestServer(t, func(_ RPCRequest, _ TokenAccountsParams, w http.ResponseWriter) {
		w.Write([]byte(`{"jsonrpc":"2.0","result":{"token_accounts":[{"owner":"A","amount":"12abc"}]}}`))
	})

	client, _ := NewClient(srv.URL, "test-key", 5*time.Second)
	if _, err := client.TokenAccounts(context.Background(), "MintA", 1, 1000); err == nil {
		t.Fatal("expected error for unparseable amount")
	}
}

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -1, Message: "test error"}
	if err.Error() != "RPC error -1: test error" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestMockIndex_PageErrConsumedOnce(t *testing.T) {
	mock := NewMockIndex([]TokenAccount{{Owner: "A", Amount: NewAmount(1)}})
	mock.PageErrs[1] = errors.New("connection refused")
	ctx := context.Background()

	if _, err := mock.TokenAccounts(ctx, "m", 1, 10); err == nil {
		t.Fatal("expected error, got nil")
	}
	accounts, err := mock.TokenAccounts(ctx, "m", 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("got %d accounts, want 1", len(accounts))
	}
	if mock.Calls() != 2 {
		t.Errorf("calls = %d, want 2", mock.Calls())
	}
}
