// Package models holds the records the matching engine reads and writes.
//
// Targets and candidates are tagged unions: a Kind field plus the optional
// per-kind attributes, resolved once at the store boundary. Amounts use
// decimal.Decimal throughout; scoring converts to float64 only where the
// formulas are defined on floats.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TargetKind identifies what is being matched.
type TargetKind string

const (
	TargetBankMovement TargetKind = "bank-movement"
	TargetInvoice      TargetKind = "invoice"
)

// IsValid checks if the target kind is known
func (k TargetKind) IsValid() bool {
	return k == TargetBankMovement || k == TargetInvoice
}

// CandidateKind identifies the document type of a matchable record.
type CandidateKind string

const (
	KindPOHeader CandidateKind = "po-header"
	KindPOLine   CandidateKind = "po-line"
	KindInvoice  CandidateKind = "invoice"
	KindExpense  CandidateKind = "expense"
	KindReceipt  CandidateKind = "receipt"
)

// ParseCandidateKind accepts the canonical names plus a few common spellings.
func ParseCandidateKind(s string) (CandidateKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "po-header", "po_header", "po":
		return KindPOHeader, nil
	case "po-line", "po_line", "line":
		return KindPOLine, nil
	case "invoice", "ap-invoice", "ar-invoice":
		return KindInvoice, nil
	case "expense":
		return KindExpense, nil
	case "receipt":
		return KindReceipt, nil
	default:
		return "", fmt.Errorf("unknown candidate kind: %q", s)
	}
}

// IsValid checks if the candidate kind is known
func (k CandidateKind) IsValid() bool {
	_, err := ParseCandidateKind(string(k))
	return err == nil
}

// Target is the record being matched: a bank movement or an invoice.
// Amount is signed (outgoing bank movements are negative).
type Target struct {
	ID               string          `json:"id"`
	Kind             TargetKind      `json:"kind"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Date             time.Time       `json:"date"`
	CounterpartyName string          `json:"counterparty_name,omitempty"`
	CounterpartyID   string          `json:"counterparty_id,omitempty"`
	ProjectID        string          `json:"project_id,omitempty"`
}

// AbsAmount returns the unsigned amount matching operates on.
func (t Target) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// Validate performs basic validation on the Target
func (t Target) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("target ID cannot be empty")
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("invalid target kind: %q", t.Kind)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("target date cannot be zero")
	}
	return nil
}

// Candidate is a matchable record. RemainingAmount and RemainingQty are set
// for partially allocatable documents (PO lines); GroupKey is the parent
// document, e.g. the PO id for a line.
type Candidate struct {
	ID               string           `json:"id"`
	Kind             CandidateKind    `json:"kind"`
	Amount           decimal.Decimal  `json:"amount"`
	RemainingAmount  *decimal.Decimal `json:"remaining_amount,omitempty"`
	RemainingQty     *decimal.Decimal `json:"remaining_qty,omitempty"`
	Date             time.Time        `json:"date"`
	CounterpartyName string           `json:"counterparty_name,omitempty"`
	CounterpartyID   string           `json:"counterparty_id,omitempty"`
	GroupKey         string           `json:"group_key,omitempty"`
	ProjectID        string           `json:"project_id,omitempty"`
}

// ReferenceAmount is the amount a candidate can still absorb: the remaining
// amount when the store tracks one, the document amount otherwise.
func (c Candidate) ReferenceAmount() decimal.Decimal {
	if c.RemainingAmount != nil {
		return *c.RemainingAmount
	}
	return c.Amount
}

// LineKey identifies the allocatable unit of a candidate.
func (c Candidate) LineKey() string {
	return c.ID
}

// String returns a string representation of the Candidate
func (c Candidate) String() string {
	return fmt.Sprintf("Candidate{ID: %s, Kind: %s, Amount: %s, Group: %s}",
		c.ID, c.Kind, c.ReferenceAmount().String(), c.GroupKey)
}

// GroupBalance is the open (not yet linked) total of a grouping document.
type GroupBalance struct {
	GroupKey string          `json:"group_key"`
	Total    decimal.Decimal `json:"total"`
}

// LineBalance is the open amount and quantity of one allocatable line.
type LineBalance struct {
	LineKey         string           `json:"line_key"`
	GroupKey        string           `json:"group_key,omitempty"`
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	RemainingQty    *decimal.Decimal `json:"remaining_qty,omitempty"`
}

// ThreeWayStatus carries ordered, received and already invoiced quantities of a line.
type ThreeWayStatus struct {
	LineKey     string          `json:"line_key"`
	OrderedQty  decimal.Decimal `json:"ordered_qty"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	InvoicedQty decimal.Decimal `json:"invoiced_qty"`
}

// Balances is the reference data a proposed allocation is validated against.
// Missing entries mean "cannot validate", not "zero".
type Balances struct {
	Groups   map[string]GroupBalance   `json:"groups"`
	Lines    map[string]LineBalance    `json:"lines"`
	ThreeWay map[string]ThreeWayStatus `json:"three_way"`
}

// NewBalances returns an empty Balances with initialised maps.
func NewBalances() Balances {
	return Balances{
		Groups:   make(map[string]GroupBalance),
		Lines:    make(map[string]LineBalance),
		ThreeWay: make(map[string]ThreeWayStatus),
	}
}

// ProposedLink is one allocation a caller asks to persist.
type ProposedLink struct {
	CandidateID string           `json:"candidate_id"`
	LineID      string           `json:"line_id,omitempty"`
	GroupKey    string           `json:"group_key,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
}

// LineKey is the line the allocation draws from: the explicit line id when
// given, the candidate itself otherwise.
func (p ProposedLink) LineKey() string {
	if p.LineID != "" {
		return p.LineID
	}
	return p.CandidateID
}

// Link is a persisted allocation. Links are immutable once written.
type Link struct {
	ID          string           `json:"id"`
	TargetID    string           `json:"target_id"`
	CandidateID string           `json:"candidate_id"`
	LineID      string           `json:"line_id,omitempty"`
	GroupKey    string           `json:"group_key,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
}

// LineKey mirrors ProposedLink.LineKey for persisted links.
func (l Link) LineKey() string {
	if l.LineID != "" {
		return l.LineID
	}
	return l.CandidateID
}

// Proposed returns the link as the allocation it was created from.
func (l Link) Proposed() ProposedLink {
	return ProposedLink{
		CandidateID: l.CandidateID,
		LineID:      l.LineID,
		GroupKey:    l.GroupKey,
		Amount:      l.Amount,
		Quantity:    l.Quantity,
	}
}

// MatchEvent is the append-only audit record of a match attempt.
type MatchEvent struct {
	ID           string            `json:"id"`
	TargetID     string            `json:"target_id"`
	CandidateIDs []string          `json:"candidate_ids"`
	ChosenIDs    []string          `json:"chosen_ids"`
	Confidence   float64           `json:"confidence"`
	Reasons      []string          `json:"reasons"`
	Accepted     bool              `json:"accepted"`
	Actor        string            `json:"actor"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// LinkBatch is what one confirm persists: its links and the accepted event.
type LinkBatch struct {
	Links []Link     `json:"links"`
	Event MatchEvent `json:"event"`
}

// ProposedLinks returns the batch's links as allocations for validation.
func (b LinkBatch) ProposedLinks() []ProposedLink {
	out := make([]ProposedLink, len(b.Links))
	for i, l := range b.Links {
		out[i] = l.Proposed()
	}
	return out
}

// Strategy names how a suggestion was produced.
type Strategy string

const (
	StrategySingle      Strategy = "single"
	StrategySubset      Strategy = "subset"
	StrategyCombination Strategy = "combination"
)

// MatchType classifies a suggestion for review routing.
type MatchType string

const (
	MatchRule  MatchType = "rule"
	MatchFuzzy MatchType = "fuzzy"
)

// Suggestion is an ephemeral scored proposal.
type Suggestion struct {
	Strategy        Strategy        `json:"strategy"`
	Candidates      []Candidate     `json:"candidates"`
	Coverage        decimal.Decimal `json:"coverage"`
	CoveragePercent float64         `json:"coverage_percent"`
	Confidence      float64         `json:"confidence"`
	MatchType       MatchType       `json:"match_type"`
	Reasons         []string        `json:"reasons"`
}

// CandidateIDs lists the ids of the suggested candidates in order.
func (s Suggestion) CandidateIDs() []string {
	ids := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		ids[i] = c.ID
	}
	return ids
}

// ViolationKind names a failed allocation check.
type ViolationKind string

const (
	ViolationLinksExceedTotal       ViolationKind = "links_exceed_total"
	ViolationAmountExceedsRemaining ViolationKind = "amount_exceeds_remaining"
	ViolationQtyExceedsRemaining    ViolationKind = "qty_exceeds_remaining"
	ViolationInvoiceOverReceipt     ViolationKind = "invoice_over_receipt"
)

// Violation describes one failed allocation check.
type Violation struct {
	Kind    ViolationKind   `json:"kind"`
	Key     string          `json:"key"`
	Limit   decimal.Decimal `json:"limit"`
	Actual  decimal.Decimal `json:"actual"`
	Message string          `json:"message"`
}

// ViolationKinds returns the distinct kinds in first-seen order.
func ViolationKinds(violations []Violation) []string {
	seen := make(map[ViolationKind]bool)
	var kinds []string
	for _, v := range violations {
		if !seen[v.Kind] {
			seen[v.Kind] = true
			kinds = append(kinds, string(v.Kind))
		}
	}
	return kinds
}

// DecimalPtr is a convenience for optional decimal fields.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Dataset is a bulk load of reference data into a store.
type Dataset struct {
	Targets    []Target         `json:"targets,omitempty"`
	Candidates []Candidate      `json:"candidates,omitempty"`
	Groups     []GroupBalance   `json:"groups,omitempty"`
	Lines      []LineBalance    `json:"lines,omitempty"`
	ThreeWay   []ThreeWayStatus `json:"three_way,omitempty"`
}
