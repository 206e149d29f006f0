package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/djkazic/creatorsplit/internal/retry"
)

func TestClassifySendError(t *testing.T) {
	tx := &solana.Transaction{Signatures: []solana.Signature{{1, 2, 3}}}

	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"preflight rejection", &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}, true},
		{"wrapped rejection", fmt.Errorf("send: %w", &jsonrpc.RPCError{Code: -32003}), true},
		{"deadline", context.DeadlineExceeded, false},
		{"transport", errors.New("read tcp: connection reset by peer"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySendError(tx, tt.err)
			var rejected *RejectedError
			if got := errors.As(err, &rejected); got != tt.rejected {
				t.Errorf("rejected = %v, want %v (err: %v)", got, tt.rejected, err)
			}
			if IsOutcomeUnknown(err) == tt.rejected {
				t.Errorf("unknown = %v, want %v", !tt.rejected, !tt.rejected)
			}
			if !tt.rejected && !strings.Contains(err.Error(), tx.Signatures[0].String()) {
				t.Errorf("unknown outcome should name the signature: %v", err)
			}
		})
	}
}

func TestNewSolanaClient_Endpoints(t *testing.T) {
	signer := solana.NewWallet().PrivateKey

	c, err := NewSolanaClient(SolanaConfig{
		RPCURL:       "http://primary:8899",
		BackupRPCURL: "http://backup:8899",
		Signer:       signer,
	})
	if err != nil {
		t.Fatalf("NewSolanaClient: %v", err)
	}
	if len(c.endpoints) != 2 {
		t.Errorf("endpoints = %d, want 2", len(c.endpoints))
	}
	if !c.Payer().Equals(signer.PublicKey()) {
		t.Error("payer does not match signer")
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", c.timeout, DefaultTimeout)
	}

	same, err := NewSolanaClient(SolanaConfig{
		RPCURL:       "http://primary:8899",
		BackupRPCURL: "http://primary:8899",
		Signer:       signer,
	})
	if err != nil {
		t.Fatalf("NewSolanaClient: %v", err)
	}
	if len(same.endpoints) != 1 {
		t.Errorf("duplicate backup endpoints = %d, want 1", len(same.endpoints))
	}
}

func TestGetBalance_FallsBackToBackup(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "getBalance" {
			t.Errorf("method = %q, want getBalance", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"context": map[string]any{"slot": 1}, "value": 4_000_000},
		})
	}))
	defer backup.Close()

	c, err := NewSolanaClient(SolanaConfig{
		RPCURL:       primary.URL,
		BackupRPCURL: backup.URL,
		Signer:       solana.NewWallet().PrivateKey,
		Retry:        retry.Config{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("NewSolanaClient: %v", err)
	}

	balance, err := c.GetBalance(context.Background(), solana.SystemProgramID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 4_000_000 {
		t.Errorf("balance = %d, want 4000000", balance)
	}
	if primaryCalls.Load() != 1 {
		t.Errorf("primary calls = %d, want 1", primaryCalls.Load())
	}
}
