package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrSubmissionOutcomeUnknown is wrapped by Submit when the transaction may
// or may not have reached the cluster: the call timed out or the transport
// failed after the request was sent. Such a submission must not be retried.
var ErrSubmissionOutcomeUnknown = errors.New("submission outcome unknown")

// Transaction is an unsigned set of instructions paid for by FeePayer. The
// client fetches a blockhash and signs it at submission time.
type Transaction struct {
	FeePayer     solana.PublicKey
	Instructions []solana.Instruction
}

// Client is the ledger surface the distribution engine needs.
type Client interface {
	// Payer returns the public key of the signing wallet.
	Payer() solana.PublicKey

	// GetBalance returns the lamport balance of account.
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// RecentPriorityFees returns recent per-slot prioritization fees in
	// micro-lamports per compute unit.
	RecentPriorityFees(ctx context.Context) ([]uint64, error)

	// Simulate runs ixs against current state and returns the compute units
	// consumed.
	Simulate(ctx context.Context, payer solana.PublicKey, ixs []solana.Instruction) (uint64, error)

	// Submit signs and sends tx without waiting for confirmation and returns
	// its signature.
	Submit(ctx context.Context, tx *Transaction) (string, error)
}

// RejectedError is returned by Submit when the endpoint definitely refused
// the transaction, for example on a failed preflight.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return "transaction rejected: " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsOutcomeUnknown reports whether err leaves the submission's fate open.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrSubmissionOutcomeUnknown)
}
