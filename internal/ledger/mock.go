package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MockClient implements Client for testing.
type MockClient struct {
	mu sync.Mutex

	PayerKey      solana.PublicKey
	Balances      map[solana.PublicKey]uint64
	Fees          []uint64
	UnitsConsumed uint64
	Submitted     []*Transaction

	// Signatures are handed out in order by Submit; once exhausted Submit
	// generates "sig-N".
	Signatures []string

	// Error overrides
	GetBalanceErr error
	FeesErr       error
	SimulateErr   error
	SubmitErr     error
	// SubmitErrs is consumed one entry per Submit call before SubmitErr applies.
	// A nil entry lets that call succeed.
	SubmitErrs []error

	submits int
}

// NewMockClient creates a mock ledger client paid for by payer.
func NewMockClient(payer solana.PublicKey) *MockClient {
	return &MockClient{
		PayerKey:      payer,
		Balances:      make(map[solana.PublicKey]uint64),
		UnitsConsumed: 150_000,
	}
}

func (m *MockClient) Payer() solana.PublicKey {
	return m.PayerKey
}

func (m *MockClient) SetBalance(account solana.PublicKey, lamports uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Balances[account] = lamports
}

func (m *MockClient) GetBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBalanceErr != nil {
		return 0, m.GetBalanceErr
	}
	return m.Balances[account], nil
}

func (m *MockClient) RecentPriorityFees(_ context.Context) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FeesErr != nil {
		return nil, m.FeesErr
	}
	return append([]uint64(nil), m.Fees...), nil
}

func (m *MockClient) Simulate(_ context.Context, _ solana.PublicKey, _ []solana.Instruction) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SimulateErr != nil {
		return 0, m.SimulateErr
	}
	return m.UnitsConsumed, nil
}

func (m *MockClient) Submit(_ context.Context, tx *Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++

	if len(m.SubmitErrs) > 0 {
		err := m.SubmitErrs[0]
		m.SubmitErrs = m.SubmitErrs[1:]
		if err != nil {
			return "", err
		}
	} else if m.SubmitErr != nil {
		return "", m.SubmitErr
	}

	m.Submitted = append(m.Submitted, tx)
	if len(m.Signatures) > 0 {
		sig := m.Signatures[0]
		m.Signatures = m.Signatures[1:]
		return sig, nil
	}
	return fmt.Sprintf("sig-%d", m.submits), nil
}

// SubmitCalls returns how many times Submit was called, including failures.
func (m *MockClient) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

// SubmittedTransactions returns a copy of the accepted transactions.
func (m *MockClient) SubmittedTransactions() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Transaction(nil), m.Submitted...)
}
