package types

import (
	"math/big"
	"testing"
)

func TestPayoutPlan_Total(t *testing.T) {
	plan := &PayoutPlan{
		Entries: []PayoutEntry{
			{Owner: "A", Lamports: 100},
			{Owner: "B", Lamports: 250},
		},
	}
	if plan.Total() != 350 {
		t.Errorf("total = %d, want 350", plan.Total())
	}
}

func TestPayoutPlan_Check(t *testing.T) {
	valid := &PayoutPlan{
		Distributable: 20000,
		Entries: []PayoutEntry{
			{Owner: "A", Lamports: 6000},
			{Owner: "B", Lamports: 9000},
		},
		Leftover: 5000,
	}
	if err := valid.Check(nil, 5000); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	tests := []struct {
		name      string
		plan      *PayoutPlan
		blacklist map[string]struct{}
	}{
		{
			name: "conservation broken",
			plan: &PayoutPlan{
				Distributable: 20000,
				Entries:       []PayoutEntry{{Owner: "A", Lamports: 6000}},
				Leftover:      1,
			},
		},
		{
			name: "dust entry",
			plan: &PayoutPlan{
				Distributable: 10000,
				Entries:       []PayoutEntry{{Owner: "A", Lamports: 4999}},
				Leftover:      5001,
			},
		},
		{
			name: "blacklisted owner",
			plan: &PayoutPlan{
				Distributable: 10000,
				Entries:       []PayoutEntry{{Owner: "Pool", Lamports: 10000}},
			},
			blacklist: map[string]struct{}{"pool": {}},
		},
		{
			name: "blacklisted owner, mixed-case key",
			plan: &PayoutPlan{
				Distributable: 10000,
				Entries:       []PayoutEntry{{Owner: "AbcOwner", Lamports: 10000}},
			},
			blacklist: map[string]struct{}{"AbcOwner": {}},
		},
		{
			name: "unsorted",
			plan: &PayoutPlan{
				Distributable: 20000,
				Entries: []PayoutEntry{
					{Owner: "B", Lamports: 10000},
					{Owner: "A", Lamports: 10000},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.plan.Check(tt.blacklist, 5000); err == nil {
				t.Error("expected invariant violation")
			}
		})
	}
}

func TestTotalBalance(t *testing.T) {
	holders := []HolderBalance{
		NewHolderBalance("A", 100),
		{Owner: "B"},
		NewHolderBalance("C", 900),
	}
	total := TotalBalance(holders)
	if total.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("total = %s, want 1000", total)
	}
	if !holders[1].IsZero() {
		t.Error("nil balance should be zero")
	}
}

func TestDisbursementLogEntry_TotalSent(t *testing.T) {
	e := DisbursementLogEntry{
		Kind: LogKindDisbursement,
		Recipients: []Recipient{
			{Owner: "A", LamportsSent: 7000},
			{Owner: "B", LamportsSent: 8000},
		},
	}
	if e.TotalSent() != 15000 {
		t.Errorf("total sent = %d, want 15000", e.TotalSent())
	}
}
