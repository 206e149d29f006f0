package types

import "time"

// FeeEstimate is the priority fee and compute budget attached to one transaction.
// It is recomputed per transaction and never persisted.
type FeeEstimate struct {
	MicroLamportsPerUnit uint64
	ComputeUnitLimit     uint32
}

// ClaimRecord describes the most recent accepted creator-fee claim.
type ClaimRecord struct {
	Signature       string
	ClaimedLamports uint64
	Timestamp       time.Time
}

// LogKind distinguishes audit log entries.
type LogKind string

const (
	LogKindClaim        LogKind = "claim"
	LogKindDisbursement LogKind = "disbursement"
)

// Recipient is one transfer inside a submitted batch.
type Recipient struct {
	Owner        string
	LamportsSent uint64
}

// DisbursementLogEntry is an append-only audit record keyed by transaction signature.
type DisbursementLogEntry struct {
	Kind      LogKind
	Signature string
	Timestamp time.Time

	// Set for claim entries.
	ClaimedLamports uint64

	// Set for disbursement entries.
	Recipients []Recipient
}

// TotalSent returns the lamports transferred by a disbursement entry.
func (e DisbursementLogEntry) TotalSent() uint64 {
	var total uint64
	for _, r := range e.Recipients {
		total += r.LamportsSent
	}
	return total
}

// RunMetrics summarizes the last completed distribution cycle.
type RunMetrics struct {
	Timestamp        time.Time
	HoldersProcessed int
	BatchesSent      int
	SubRequestsUsed  int
}
