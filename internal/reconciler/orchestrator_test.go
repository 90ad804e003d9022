package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/matcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/storage"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
	"golang-reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

var baseDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func bankTarget(id, value string) models.Target {
	return models.Target{
		ID:               id,
		Kind:             models.TargetBankMovement,
		Amount:           amount(value),
		Currency:         "EUR",
		Date:             baseDate,
		CounterpartyName: "Acme Supplies GmbH",
		CounterpartyID:   "V-100",
	}
}

// purchaseOrderData seeds one PO of 10000 split into three lines.
func purchaseOrderData() models.Dataset {
	line := func(id, value string, offset int) models.Candidate {
		return models.Candidate{
			ID:               id,
			Kind:             models.KindPOLine,
			Amount:           amount(value),
			Date:             baseDate.AddDate(0, 0, offset),
			CounterpartyName: "Acme Supplies GmbH",
			CounterpartyID:   "V-100",
			GroupKey:         "PO-1",
		}
	}
	return models.Dataset{
		Targets: []models.Target{bankTarget("BM-1", "-10000")},
		Candidates: []models.Candidate{
			line("L1", "4000", 0),
			line("L2", "3000", 1),
			line("L3", "3000", 2),
		},
		Groups: []models.GroupBalance{{GroupKey: "PO-1", Total: amount("10000")}},
		Lines: []models.LineBalance{
			{LineKey: "L1", GroupKey: "PO-1", RemainingAmount: amount("4000")},
			{LineKey: "L2", GroupKey: "PO-1", RemainingAmount: amount("3000")},
			{LineKey: "L3", GroupKey: "PO-1", RemainingAmount: amount("3000")},
		},
	}
}

// scatteredInvoiceData has no single document near the target and no PO lines.
func scatteredInvoiceData() models.Dataset {
	invoice := func(id, value, cp string, offset int) models.Candidate {
		return models.Candidate{
			ID:               id,
			Kind:             models.KindInvoice,
			Amount:           amount(value),
			Date:             baseDate.AddDate(0, 0, offset),
			CounterpartyName: cp,
			CounterpartyID:   cp,
		}
	}
	return models.Dataset{
		Candidates: []models.Candidate{
			invoice("INV-A", "600", "Northwind", 0),
			invoice("INV-B", "395", "Contoso", 3),
			invoice("INV-C", "700", "Fabrikam", 5),
		},
	}
}

func newTestOrchestrator(t *testing.T, data models.Dataset) (*ReconciliationOrchestrator, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.Seed(context.Background(), data); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	o := NewReconciliationOrchestrator(Dependencies{
		Tolerances: store,
		Records:    store,
		Links:      store,
	}, nil, nil)
	o.WithClock(func() time.Time { return baseDate.Add(9 * time.Hour) })
	return o, store
}

func strategies(suggestions []models.Suggestion) map[models.Strategy]int {
	out := make(map[models.Strategy]int)
	for _, s := range suggestions {
		out[s.Strategy]++
	}
	return out
}

func TestSuggest_SubsetOfPurchaseOrderLines(t *testing.T) {
	o, _ := newTestOrchestrator(t, purchaseOrderData())

	resp, err := o.Suggest(context.Background(), SuggestRequest{Target: bankTarget("BM-1", "-10000")})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}

	wantTrace := []State{StateResolvingTolerance, StateFetchingCandidates, StateScoring, StateAllocating, StateRanked}
	if fmt.Sprint(resp.Trace) != fmt.Sprint(wantTrace) {
		t.Errorf("Expected trace %v, got %v", wantTrace, resp.Trace)
	}
	if resp.Candidates != 3 {
		t.Errorf("Expected 3 candidates, got %d", resp.Candidates)
	}

	var subset *models.Suggestion
	for i := range resp.Suggestions {
		if resp.Suggestions[i].Strategy == models.StrategySubset {
			subset = &resp.Suggestions[i]
		}
	}
	if subset == nil {
		t.Fatalf("Expected a subset suggestion, got %v", strategies(resp.Suggestions))
	}
	if len(subset.Candidates) != 3 {
		t.Errorf("Expected all three lines picked, got %v", subset.CandidateIDs())
	}
	if !subset.Coverage.Equal(amount("10000")) || subset.CoveragePercent != 100 {
		t.Errorf("Expected full coverage, got %s (%.2f%%)", subset.Coverage, subset.CoveragePercent)
	}
	if resp.Suggestions[0].Strategy != models.StrategySubset {
		t.Errorf("Expected subset ranked first, got %s", resp.Suggestions[0].Strategy)
	}
	if strategies(resp.Suggestions)[models.StrategyCombination] != 0 {
		t.Error("Combination search must not run when a subset is feasible")
	}
}

func TestSuggest_RankingAndReasons(t *testing.T) {
	o, _ := newTestOrchestrator(t, purchaseOrderData())

	resp, err := o.Suggest(context.Background(), SuggestRequest{Target: bankTarget("BM-1", "-10000")})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}

	for i, s := range resp.Suggestions {
		if i > 0 && s.Confidence > resp.Suggestions[i-1].Confidence {
			t.Errorf("Suggestions not sorted by confidence at %d: %.4f > %.4f", i, s.Confidence, resp.Suggestions[i-1].Confidence)
		}
		if s.Confidence > matcher.MaxConfidence {
			t.Errorf("Confidence %.4f exceeds cap", s.Confidence)
		}
		if !strings.HasPrefix(s.Reasons[0], "strategy=") {
			t.Errorf("First reason should name the strategy, got %q", s.Reasons[0])
		}
		last := s.Reasons[len(s.Reasons)-1]
		if last != "tolerance_layers=defaults amount_tolerance=0.0200" {
			t.Errorf("Unexpected tolerance reason %q", last)
		}
	}
}

func TestSuggest_CombinationFallback(t *testing.T) {
	o, _ := newTestOrchestrator(t, scatteredInvoiceData())

	resp, err := o.Suggest(context.Background(), SuggestRequest{Target: bankTarget("BM-9", "-1000")})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}

	var combos []models.Suggestion
	for _, s := range resp.Suggestions {
		if s.Strategy == models.StrategyCombination {
			combos = append(combos, s)
		}
	}
	if len(combos) != 2 {
		t.Fatalf("Expected 2 combinations (995 and 1095), got %d: %v", len(combos), strategies(resp.Suggestions))
	}

	best := combos[0]
	if fmt.Sprint(best.CandidateIDs()) != "[INV-A INV-B]" {
		t.Errorf("Expected INV-A+INV-B ranked first, got %v", best.CandidateIDs())
	}
	if !best.Coverage.Equal(amount("995")) {
		t.Errorf("Expected coverage 995, got %s", best.Coverage)
	}
	if best.MatchType != models.MatchFuzzy {
		t.Errorf("Combinations are always fuzzy, got %s", best.MatchType)
	}
	if best.Confidence <= combos[1].Confidence {
		t.Errorf("Closer sum should score higher: %.4f vs %.4f", best.Confidence, combos[1].Confidence)
	}
}

func TestSuggest_NoCombinationsWhenSingleWithinTolerance(t *testing.T) {
	data := scatteredInvoiceData()
	data.Candidates = append(data.Candidates, models.Candidate{
		ID: "INV-EXACT", Kind: models.KindInvoice, Amount: amount("1010"), Date: baseDate,
		CounterpartyName: "Acme Supplies GmbH", CounterpartyID: "V-100",
	})
	o, _ := newTestOrchestrator(t, data)

	resp, err := o.Suggest(context.Background(), SuggestRequest{Target: bankTarget("BM-9", "-1000")})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if n := strategies(resp.Suggestions)[models.StrategyCombination]; n != 0 {
		t.Errorf("Expected no combinations, got %d", n)
	}
	if resp.Suggestions[0].CandidateIDs()[0] != "INV-EXACT" {
		t.Errorf("Expected INV-EXACT first, got %v", resp.Suggestions[0].CandidateIDs())
	}
}

func TestSuggest_ToleranceLayers(t *testing.T) {
	o, store := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()

	if err := store.PutTolerances(ctx, []tolerance.ScopeOverride{
		{Scope: tolerance.ScopeVendor, Key: "V-100", Override: tolerance.Override{AmountTolerance: tolerance.Float(0.05)}},
	}); err != nil {
		t.Fatalf("PutTolerances failed: %v", err)
	}

	resp, err := o.Suggest(ctx, SuggestRequest{Target: bankTarget("BM-1", "-10000")})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if resp.Tolerance.Layers() != "defaults,vendor" || resp.Tolerance.AmountTolerance != 0.05 {
		t.Errorf("Expected vendor layer at 0.05, got %s at %.4f", resp.Tolerance.Layers(), resp.Tolerance.AmountTolerance)
	}

	override := 0.1
	resp, err = o.Suggest(ctx, SuggestRequest{Target: bankTarget("BM-1", "-10000"), AmountToleranceOverride: &override})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	want := "tolerance_layers=defaults,vendor,request amount_tolerance=0.1000"
	for _, s := range resp.Suggestions {
		if got := s.Reasons[len(s.Reasons)-1]; got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

func TestSuggest_ScopeFilter(t *testing.T) {
	data := purchaseOrderData()
	data.Candidates = append(data.Candidates, models.Candidate{
		ID: "EXP-1", Kind: models.KindExpense, Amount: amount("10000"), Date: baseDate, CounterpartyID: "V-200",
	})
	o, _ := newTestOrchestrator(t, data)

	resp, err := o.Suggest(context.Background(), SuggestRequest{
		Target: bankTarget("BM-1", "-10000"),
		Scope:  fetcher.ScopeFilter{Kinds: []models.CandidateKind{models.KindExpense}},
	})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if resp.Candidates != 1 {
		t.Fatalf("Expected only the expense, got %d candidates", resp.Candidates)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].CandidateIDs()[0] != "EXP-1" {
		t.Errorf("Unexpected suggestions %v", resp.Suggestions)
	}
}

func TestSuggest_InvalidInput(t *testing.T) {
	o, _ := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()

	if _, err := o.Suggest(ctx, SuggestRequest{Target: models.Target{Kind: models.TargetBankMovement, Date: baseDate}}); !errors.IsInvalidInput(err) {
		t.Errorf("Expected invalid input for missing id, got %v", err)
	}

	bad := 1.5
	if _, err := o.Suggest(ctx, SuggestRequest{Target: bankTarget("BM-1", "-10000"), AmountToleranceOverride: &bad}); !errors.IsInvalidInput(err) {
		t.Errorf("Expected invalid input for tolerance override, got %v", err)
	}
}

func TestSuggest_Cancelled(t *testing.T) {
	o, _ := newTestOrchestrator(t, purchaseOrderData())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := o.Suggest(ctx, SuggestRequest{Target: bankTarget("BM-1", "-10000")})
	if !errors.IsCancelled(err) {
		t.Fatalf("Expected cancelled error, got %v", err)
	}
	if resp != nil {
		t.Error("Cancelled suggest must not return a partial response")
	}
}

func TestSuggest_StateCallbacks(t *testing.T) {
	o, _ := newTestOrchestrator(t, purchaseOrderData())

	var mu sync.Mutex
	var seen []State
	o.AddStateCallback(func(tr StateTransition) {
		mu.Lock()
		defer mu.Unlock()
		if tr.TargetID != "BM-1" {
			t.Errorf("Unexpected target in transition: %s", tr.TargetID)
		}
		seen = append(seen, tr.State)
	})

	if _, err := o.Suggest(context.Background(), SuggestRequest{Target: bankTarget("BM-1", "-10000")}); err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(seen) != 5 || seen[len(seen)-1] != StateRanked {
		t.Errorf("Expected five transitions ending in ranked, got %v", seen)
	}
}

func TestConfirm_PersistsLinksAndEvent(t *testing.T) {
	o, store := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()
	target := bankTarget("BM-1", "-10000")

	result, err := o.Confirm(ctx, ConfirmRequest{
		Target: target,
		Links: []models.ProposedLink{
			{CandidateID: "L1", Amount: amount("4000")},
			{CandidateID: "L2", Amount: amount("3000")},
			{CandidateID: "L3", Amount: amount("3000")},
		},
		Actor:      "alice",
		Confidence: 0.93,
		Reasons:    []string{"strategy=subset"},
		Metadata:   map[string]string{"ticket": "AP-42"},
	})
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !result.OK || result.State != StatePersisted {
		t.Fatalf("Expected persisted result, got %+v", result)
	}
	wantTrace := []State{StateResolvingTolerance, StateValidating, StatePersisting, StatePersisted}
	if fmt.Sprint(result.Trace) != fmt.Sprint(wantTrace) {
		t.Errorf("Expected trace %v, got %v", wantTrace, result.Trace)
	}

	links, _ := store.Links(ctx, "BM-1")
	if len(links) != 3 {
		t.Fatalf("Expected 3 persisted links, got %d", len(links))
	}
	for _, l := range links {
		if l.GroupKey != "PO-1" || l.CreatedBy != "alice" {
			t.Errorf("Unexpected link %+v", l)
		}
	}

	events, _ := store.Events(ctx, "BM-1")
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if !e.Accepted || e.ID != result.EventID || e.Metadata["ticket"] != "AP-42" {
		t.Errorf("Unexpected event %+v", e)
	}
	if fmt.Sprint(e.CandidateIDs) != "[L1 L2 L3]" || fmt.Sprint(e.ChosenIDs) != "[L1 L2 L3]" {
		t.Errorf("Unexpected event ids %v / %v", e.CandidateIDs, e.ChosenIDs)
	}

	resp, err := o.Suggest(ctx, SuggestRequest{Target: target})
	if err != nil {
		t.Fatalf("Suggest after confirm failed: %v", err)
	}
	if resp.Candidates != 0 {
		t.Errorf("Fully allocated lines must not be offered again, got %d candidates", resp.Candidates)
	}
}

func TestConfirm_RefusesOverAllocation(t *testing.T) {
	o, store := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()

	result, err := o.Confirm(ctx, ConfirmRequest{
		Target: bankTarget("BM-1", "-3100"),
		Links:  []models.ProposedLink{{CandidateID: "L2", Amount: amount("3100")}},
	})
	if !errors.IsValidationFailed(err) {
		t.Fatalf("Expected validation failure, got %v", err)
	}
	if result == nil || result.OK || result.State != StateRejected {
		t.Fatalf("Expected rejected result, got %+v", result)
	}
	if len(result.Violations) != 1 || result.Violations[0].Kind != models.ViolationAmountExceedsRemaining {
		t.Errorf("Unexpected violations %+v", result.Violations)
	}
	if !result.Violations[0].Limit.Equal(amount("3060")) {
		t.Errorf("Expected limit 3060, got %s", result.Violations[0].Limit)
	}

	links, _ := store.Links(ctx, "")
	events, _ := store.Events(ctx, "")
	if len(links) != 0 || len(events) != 0 {
		t.Errorf("Refused confirm must write nothing, got %d links and %d events", len(links), len(events))
	}
}

func TestConfirm_ConcurrentAtMostOneSucceeds(t *testing.T) {
	o, store := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := o.Confirm(ctx, ConfirmRequest{
				Target: bankTarget(fmt.Sprintf("BM-%d", i), "-2000"),
				Links:  []models.ProposedLink{{CandidateID: "L2", Amount: amount("2000")}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && result.OK:
				ok++
			case errors.IsValidationFailed(err):
				refused++
			default:
				t.Errorf("Unexpected outcome: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || refused != workers-1 {
		t.Errorf("Expected exactly one success, got %d ok and %d refused", ok, refused)
	}
	links, _ := store.Links(ctx, "")
	if len(links) != 1 {
		t.Errorf("Expected one persisted link, got %d", len(links))
	}
}

// invoiceOnlyData seeds a single invoice with no balance rows.
func invoiceOnlyData() models.Dataset {
	return models.Dataset{
		Targets: []models.Target{bankTarget("BM-1", "-5000")},
		Candidates: []models.Candidate{{
			ID:               "INV-1",
			Kind:             models.KindInvoice,
			Amount:           amount("5000"),
			Date:             baseDate,
			CounterpartyName: "Acme Supplies GmbH",
			CounterpartyID:   "V-100",
		}},
	}
}

func TestConfirm_InvoiceWithoutBalanceRowsIsBounded(t *testing.T) {
	o, store := newTestOrchestrator(t, invoiceOnlyData())
	ctx := context.Background()

	result, err := o.Confirm(ctx, ConfirmRequest{
		Target: bankTarget("BM-1", "-5000"),
		Links:  []models.ProposedLink{{CandidateID: "INV-1", Amount: amount("1000000")}},
	})
	if !errors.IsValidationFailed(err) {
		t.Fatalf("Expected validation failure, got %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Kind != models.ViolationAmountExceedsRemaining {
		t.Errorf("Unexpected violations %+v", result.Violations)
	}

	if _, err := o.Confirm(ctx, ConfirmRequest{
		Target: bankTarget("BM-1", "-5000"),
		Links:  []models.ProposedLink{{CandidateID: "INV-1", Amount: amount("5000")}},
	}); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	_, err = o.Confirm(ctx, ConfirmRequest{
		Target: bankTarget("BM-2", "-5000"),
		Links:  []models.ProposedLink{{CandidateID: "INV-1", Amount: amount("5000")}},
	})
	if !errors.IsValidationFailed(err) {
		t.Errorf("Expected second confirm against the same invoice to be refused, got %v", err)
	}

	links, _ := store.Links(ctx, "")
	if len(links) != 1 {
		t.Errorf("Expected one persisted link, got %d", len(links))
	}
}

func TestConfirm_ConcurrentInvoiceConfirms(t *testing.T) {
	o, store := newTestOrchestrator(t, invoiceOnlyData())
	ctx := context.Background()

	const workers = 4
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := o.Confirm(ctx, ConfirmRequest{
				Target: bankTarget(fmt.Sprintf("BM-%d", i), "-5000"),
				Links:  []models.ProposedLink{{CandidateID: "INV-1", Amount: amount("5000")}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && result.OK:
				ok++
			case errors.IsValidationFailed(err):
			default:
				t.Errorf("Unexpected outcome: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("Expected exactly one success, got %d", ok)
	}
	links, _ := store.Links(ctx, "")
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.Amount)
	}
	if !total.Equal(amount("5000")) {
		t.Errorf("Expected 5000 linked against the invoice, got %s", total)
	}
}

func TestConfirm_InvalidInput(t *testing.T) {
	o, _ := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()
	target := bankTarget("BM-1", "-10000")

	tests := []struct {
		name  string
		links []models.ProposedLink
	}{
		{"no links", nil},
		{"missing candidate", []models.ProposedLink{{Amount: amount("1")}}},
		{"zero amount", []models.ProposedLink{{CandidateID: "L1", Amount: decimal.Zero}}},
		{"negative quantity", []models.ProposedLink{{CandidateID: "L1", Amount: amount("1"), Quantity: models.DecimalPtr(amount("-1"))}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.Confirm(ctx, ConfirmRequest{Target: target, Links: tt.links}); !errors.IsInvalidInput(err) {
				t.Errorf("Expected invalid input, got %v", err)
			}
		})
	}
}

func TestReject_WritesDismissedEvent(t *testing.T) {
	o, store := newTestOrchestrator(t, purchaseOrderData())
	ctx := context.Background()

	event, err := o.Reject(ctx, RejectRequest{
		Target:       bankTarget("BM-1", "-10000"),
		CandidateIDs: []string{"L1"},
		Confidence:   0.41,
	})
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if event.Accepted || event.Actor != DefaultActor {
		t.Errorf("Unexpected event %+v", event)
	}

	events, _ := store.Events(ctx, "BM-1")
	if len(events) != 1 || events[0].ID != event.ID {
		t.Errorf("Expected the rejection to be stored, got %+v", events)
	}
	links, _ := store.Links(ctx, "BM-1")
	if len(links) != 0 {
		t.Errorf("Reject must not write links, got %d", len(links))
	}

	if _, err := o.Reject(ctx, RejectRequest{Target: bankTarget("BM-1", "-10000")}); !errors.IsInvalidInput(err) {
		t.Errorf("Expected invalid input without candidate ids, got %v", err)
	}
}

// failingStore fails every call with the same error.
type failingStore struct {
	err error
}

func (f failingStore) GetTolerance(context.Context, tolerance.Scope, string) (tolerance.Override, bool, error) {
	return tolerance.Override{}, false, f.err
}

func (f failingStore) FetchCandidates(context.Context, fetcher.CandidateFilter) ([]models.Candidate, error) {
	return nil, f.err
}

func (f failingStore) FetchBalances(context.Context, []string, []string) (models.Balances, error) {
	return models.Balances{}, f.err
}

func (f failingStore) FetchThreeWay(context.Context, []string) (map[string]models.ThreeWayStatus, error) {
	return nil, f.err
}

func (f failingStore) WriteLinksTransactional(context.Context, models.LinkBatch, validator.CheckFunc) (bool, []models.Violation, error) {
	return false, nil, f.err
}

func (f failingStore) WriteEvent(context.Context, models.MatchEvent) error {
	return f.err
}

func TestStoreFailures(t *testing.T) {
	down := failingStore{err: stderrors.New("connection refused")}
	o := NewReconciliationOrchestrator(Dependencies{Tolerances: down, Records: down, Links: down}, nil, nil)
	ctx := context.Background()
	target := bankTarget("BM-1", "-10000")

	if _, err := o.Suggest(ctx, SuggestRequest{Target: target}); !errors.IsStoreUnavailable(err) {
		t.Errorf("Suggest: expected store unavailable, got %v", err)
	}

	_, err := o.Confirm(ctx, ConfirmRequest{Target: target, Links: []models.ProposedLink{{CandidateID: "L1", Amount: amount("1")}}})
	if !errors.IsStoreUnavailable(err) {
		t.Errorf("Confirm: expected store unavailable, got %v", err)
	}

	if _, err := o.Reject(ctx, RejectRequest{Target: target, CandidateIDs: []string{"L1"}}); !errors.IsStoreUnavailable(err) {
		t.Errorf("Reject: expected store unavailable, got %v", err)
	}
}

func TestConfirm_LinkStoreFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Seed(context.Background(), purchaseOrderData()); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	o := NewReconciliationOrchestrator(Dependencies{
		Tolerances: store,
		Records:    store,
		Links:      failingStore{err: stderrors.New("disk full")},
	}, nil, nil)

	result, err := o.Confirm(context.Background(), ConfirmRequest{
		Target: bankTarget("BM-1", "-4000"),
		Links:  []models.ProposedLink{{CandidateID: "L1", Amount: amount("4000")}},
	})
	if !errors.IsStoreUnavailable(err) {
		t.Fatalf("Expected store unavailable, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected no result on store failure, got %+v", result)
	}
}

func TestNilStores(t *testing.T) {
	o := NewReconciliationOrchestrator(Dependencies{}, matcher.DefaultMatchingConfig(), nil)
	ctx := context.Background()

	resp, err := o.Suggest(ctx, SuggestRequest{Target: bankTarget("BM-1", "-10000")})
	if err != nil {
		t.Fatalf("Suggest without stores failed: %v", err)
	}
	if len(resp.Suggestions) != 0 || resp.Tolerance.Layers() != tolerance.LayerDefaults {
		t.Errorf("Expected empty suggestions on defaults, got %+v", resp)
	}

	_, err = o.Confirm(ctx, ConfirmRequest{
		Target: bankTarget("BM-1", "-1"),
		Links:  []models.ProposedLink{{CandidateID: "L1", Amount: amount("1")}},
	})
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Category != errors.CategoryConfiguration {
		t.Errorf("Expected configuration error without a link store, got %v", err)
	}
}
