package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/retry"
)

// DefaultTimeout bounds every RPC call.
const DefaultTimeout = 30 * time.Second

// SolanaConfig configures a SolanaClient.
type SolanaConfig struct {
	RPCURL       string
	BackupRPCURL string
	Signer       solana.PrivateKey
	Timeout      time.Duration
	Commitment   rpc.CommitmentType
	Retry        retry.Config
	Logger       *zap.Logger
}

// Validate checks the configuration.
func (c *SolanaConfig) Validate() error {
	if c.RPCURL == "" && c.BackupRPCURL == "" {
		return errors.New("at least one RPC URL is required")
	}
	if len(c.Signer) != 64 {
		return fmt.Errorf("signer must be a 64-byte secret key, got %d bytes", len(c.Signer))
	}
	return nil
}

type endpoint struct {
	name string
	rpc  *rpc.Client
}

// SolanaClient implements Client over Solana JSON-RPC. Reads fall back to the
// backup endpoint and are retried. Submissions go to the first endpoint only
// and are never retried.
type SolanaClient struct {
	endpoints  []endpoint
	signer     solana.PrivateKey
	timeout    time.Duration
	commitment rpc.CommitmentType
	retry      retry.Config
	logger     *zap.Logger
}

// NewSolanaClient creates a SolanaClient.
func NewSolanaClient(cfg SolanaConfig) (*SolanaClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var endpoints []endpoint
	if cfg.RPCURL != "" {
		endpoints = append(endpoints, endpoint{name: "primary", rpc: rpc.New(cfg.RPCURL)})
	}
	if cfg.BackupRPCURL != "" && cfg.BackupRPCURL != cfg.RPCURL {
		endpoints = append(endpoints, endpoint{name: "backup", rpc: rpc.New(cfg.BackupRPCURL)})
	}

	return &SolanaClient{
		endpoints:  endpoints,
		signer:     cfg.Signer,
		timeout:    cfg.Timeout,
		commitment: cfg.Commitment,
		retry:      cfg.Retry,
		logger:     cfg.Logger.Named("ledger"),
	}, nil
}

// Payer returns the signer's public key.
func (c *SolanaClient) Payer() solana.PublicKey {
	return c.signer.PublicKey()
}

// read runs fn against each endpoint in turn until one succeeds.
func (c *SolanaClient) read(ctx context.Context, operation string, fn func(ctx context.Context, client *rpc.Client) error) error {
	var lastErr error
	for i, ep := range c.endpoints {
		err := retry.Do(ctx, c.retry, c.logger, operation, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return fn(callCtx, ep.rpc)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
		lastErr = err
		if i < len(c.endpoints)-1 {
			c.logger.Warn("RPC read failed, trying next endpoint",
				zap.String("operation", operation),
				zap.String("endpoint", ep.name),
				zap.Error(err),
			)
		}
	}
	return fmt.Errorf("%s: %w", operation, lastErr)
}

// GetBalance returns the lamport balance of account.
func (c *SolanaClient) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.read(ctx, "getBalance", func(ctx context.Context, client *rpc.Client) error {
		res, err := client.GetBalance(ctx, account, c.commitment)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	return balance, err
}

// RecentPriorityFees returns the recent prioritization fee samples.
func (c *SolanaClient) RecentPriorityFees(ctx context.Context) ([]uint64, error) {
	var fees []uint64
	err := c.read(ctx, "getRecentPrioritizationFees", func(ctx context.Context, client *rpc.Client) error {
		res, err := client.GetRecentPrioritizationFees(ctx, nil)
		if err != nil {
			return err
		}
		fees = make([]uint64, 0, len(res))
		for _, f := range res {
			fees = append(fees, f.PrioritizationFee)
		}
		return nil
	})
	return fees, err
}

// Simulate returns the compute units ixs consume. The transaction is not
// signed; the node substitutes a recent blockhash.
func (c *SolanaClient) Simulate(ctx context.Context, payer solana.PublicKey, ixs []solana.Instruction) (uint64, error) {
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		return 0, fmt.Errorf("build simulation transaction: %w", err)
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	var units uint64
	err = c.read(ctx, "simulateTransaction", func(ctx context.Context, client *rpc.Client) error {
		res, err := client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			SigVerify:              false,
			Commitment:             c.commitment,
			ReplaceRecentBlockhash: true,
		})
		if err != nil {
			return err
		}
		if res.Value == nil {
			return errors.New("empty simulation result")
		}
		if res.Value.Err != nil {
			return fmt.Errorf("simulation failed: %v", res.Value.Err)
		}
		if res.Value.UnitsConsumed == nil {
			return errors.New("simulation reported no compute units")
		}
		units = *res.Value.UnitsConsumed
		return nil
	})
	return units, err
}

// Submit signs tx with a fresh blockhash and sends it once.
func (c *SolanaClient) Submit(ctx context.Context, tx *Transaction) (string, error) {
	var blockhash solana.Hash
	err := c.read(ctx, "getLatestBlockhash", func(ctx context.Context, client *rpc.Client) error {
		res, err := client.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		blockhash = res.Value.Blockhash
		return nil
	})
	if err != nil {
		return "", err
	}

	signed, err := solana.NewTransaction(tx.Instructions, blockhash, solana.TransactionPayer(tx.FeePayer))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	if _, err := signed.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if c.signer.PublicKey().Equals(key) {
			return &c.signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sig, err := c.endpoints[0].rpc.SendTransactionWithOpts(callCtx, signed, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return "", classifySendError(signed, err)
	}
	return sig.String(), nil
}

// classifySendError separates definite rejections from sends whose fate is
// unknown. The transaction's own signature is reported in the latter case so
// an operator can look it up.
func classifySendError(tx *solana.Transaction, err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return &RejectedError{Err: err}
	}

	sig := ""
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0].String()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: send timed out (signature %s): %v", ErrSubmissionOutcomeUnknown, sig, err)
	}
	return fmt.Errorf("%w: send failed in transport (signature %s): %v", ErrSubmissionOutcomeUnknown, sig, err)
}
