package das

import (
	"context"
	"sync"
)

// MockIndex implements Index for testing. Pages holds page N at index N-1;
// requests past the end return an empty page.
type MockIndex struct {
	mu sync.Mutex

	Pages     [][]TokenAccount
	Requested []int

	// Error overrides. PageErrs is keyed by page number and consumed once.
	Err      error
	PageErrs map[int]error
}

// NewMockIndex creates a mock index serving the given pages.
func NewMockIndex(pages ...[]TokenAccount) *MockIndex {
	return &MockIndex{
		Pages:    pages,
		PageErrs: make(map[int]error),
	}
}

func (m *MockIndex) TokenAccounts(_ context.Context, _ string, page, _ int) ([]TokenAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requested = append(m.Requested, page)
	if m.Err != nil {
		return nil, m.Err
	}
	if err, ok := m.PageErrs[page]; ok {
		delete(m.PageErrs, page)
		return nil, err
	}
	if page < 1 || page > len(m.Pages) {
		return nil, nil
	}
	return m.Pages[page-1], nil
}

// Calls returns the number of page requests served so far.
func (m *MockIndex) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requested)
}
