package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseCandidateKind(t *testing.T) {
	tests := []struct {
		input    string
		expected CandidateKind
		wantErr  bool
	}{
		{"po-line", KindPOLine, false},
		{"PO_LINE", KindPOLine, false},
		{"po", KindPOHeader, false},
		{"ap-invoice", KindInvoice, false},
		{" expense ", KindExpense, false},
		{"receipt", KindReceipt, false},
		{"credit-note", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCandidateKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCandidateKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseCandidateKind(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTarget_Validate(t *testing.T) {
	valid := Target{
		ID:     "BM-1",
		Kind:   TargetBankMovement,
		Amount: decimal.NewFromInt(-100),
		Date:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		mutate  func(*Target)
		wantErr bool
	}{
		{"valid", func(*Target) {}, false},
		{"empty id", func(t *Target) { t.ID = " " }, true},
		{"unknown kind", func(t *Target) { t.Kind = "statement" }, true},
		{"zero date", func(t *Target) { t.Date = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := valid
			tt.mutate(&target)
			if err := target.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if !valid.AbsAmount().Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected absolute amount 100, got %s", valid.AbsAmount())
	}
}

func TestCandidate_ReferenceAmount(t *testing.T) {
	c := Candidate{ID: "L1", Amount: decimal.NewFromInt(500)}
	if !c.ReferenceAmount().Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected document amount without remaining, got %s", c.ReferenceAmount())
	}

	c.RemainingAmount = DecimalPtr(decimal.NewFromInt(120))
	if !c.ReferenceAmount().Equal(decimal.NewFromInt(120)) {
		t.Errorf("expected remaining amount, got %s", c.ReferenceAmount())
	}
}

func TestProposedLink_LineKey(t *testing.T) {
	p := ProposedLink{CandidateID: "PO-1"}
	if p.LineKey() != "PO-1" {
		t.Errorf("expected candidate id fallback, got %s", p.LineKey())
	}
	p.LineID = "PO-1-L2"
	if p.LineKey() != "PO-1-L2" {
		t.Errorf("expected explicit line id, got %s", p.LineKey())
	}

	link := Link{CandidateID: "PO-1", LineID: "PO-1-L2", Amount: decimal.NewFromInt(7)}
	if link.Proposed().LineKey() != "PO-1-L2" || !link.Proposed().Amount.Equal(link.Amount) {
		t.Errorf("unexpected proposed link %+v", link.Proposed())
	}
}

func TestViolationKinds(t *testing.T) {
	violations := []Violation{
		{Kind: ViolationAmountExceedsRemaining, Key: "L1"},
		{Kind: ViolationLinksExceedTotal, Key: "PO-1"},
		{Kind: ViolationAmountExceedsRemaining, Key: "L2"},
	}

	kinds := ViolationKinds(violations)
	if len(kinds) != 2 {
		t.Fatalf("expected 2 distinct kinds, got %v", kinds)
	}
	if kinds[0] != string(ViolationAmountExceedsRemaining) || kinds[1] != string(ViolationLinksExceedTotal) {
		t.Errorf("expected first-seen order, got %v", kinds)
	}
}

func TestSuggestion_CandidateIDs(t *testing.T) {
	s := Suggestion{Candidates: []Candidate{{ID: "A"}, {ID: "B"}}}
	ids := s.CandidateIDs()
	if len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Errorf("unexpected ids %v", ids)
	}
}
