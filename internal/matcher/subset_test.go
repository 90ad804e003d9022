package matcher

import (
	"testing"

	"golang-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

func poLines(amounts ...float64) []models.Candidate {
	lines := make([]models.Candidate, len(amounts))
	for i, a := range amounts {
		lines[i] = createTestCandidate(string(rune('A'+i)), models.KindPOLine, a, 0)
		lines[i].GroupKey = "PO-1"
	}
	return lines
}

func pickedIDs(picked []models.Candidate) []string {
	ids := make([]string, len(picked))
	for i, c := range picked {
		ids[i] = c.ID
	}
	return ids
}

func TestAllocateFullCoverage(t *testing.T) {
	allocator := NewSubsetSumAllocator()
	target := decimal.NewFromInt(10000)

	alloc := allocator.Allocate(poLines(4000, 3000, 3000), target, 0.02)

	if !alloc.Feasible {
		t.Fatal("Expected a feasible allocation")
	}
	if len(alloc.Picked) != 3 {
		t.Errorf("Expected all three lines picked, got %v", pickedIDs(alloc.Picked))
	}
	if !alloc.Achieved.Equal(target) {
		t.Errorf("Expected achieved 10000, got %s", alloc.Achieved)
	}
	if coverage := Coverage(alloc.Achieved, target); coverage != 100 {
		t.Errorf("Expected coverage 100%%, got %.2f", coverage)
	}
}

func TestAllocateBelowLowerBound(t *testing.T) {
	allocator := NewSubsetSumAllocator()

	alloc := allocator.Allocate(poLines(5000, 4500), decimal.NewFromInt(10000), 0.02)

	if alloc.Feasible {
		t.Fatal("Expected no feasible allocation when lines sum to 9500")
	}
	if len(alloc.Picked) != 0 {
		t.Errorf("Expected empty picked set, got %v", pickedIDs(alloc.Picked))
	}
	if !alloc.Achieved.IsZero() {
		t.Errorf("Expected zero achieved, got %s", alloc.Achieved)
	}
}

func TestAllocateOrdering(t *testing.T) {
	allocator := NewSubsetSumAllocator()

	tests := []struct {
		name     string
		amounts  []float64
		target   int64
		expected []string
	}{
		{"stable tie-break", []float64{3000, 3000, 4000}, 10000, []string{"C", "A", "B"}},
		{"skips oversized", []float64{1500, 600, 400}, 1000, []string{"B", "C"}},
		{"stops at lower bound", []float64{990, 500, 10}, 1000, []string{"A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := allocator.Allocate(poLines(tt.amounts...), decimal.NewFromInt(tt.target), 0.02)
			got := pickedIDs(alloc.Picked)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Expected %v, got %v", tt.expected, got)
					break
				}
			}
		})
	}
}

func TestAllocateStaysInBand(t *testing.T) {
	allocator := NewSubsetSumAllocator()
	inputs := [][]float64{
		{100, 200, 300, 400, 500},
		{999, 1},
		{333, 333, 333, 2},
		{50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		{2000},
	}
	target := decimal.NewFromInt(1000)
	lower := decimal.NewFromInt(980)
	upper := decimal.NewFromInt(1020)

	for _, amounts := range inputs {
		alloc := allocator.Allocate(poLines(amounts...), target, 0.02)
		if !alloc.Feasible {
			if len(alloc.Picked) != 0 || !alloc.Achieved.IsZero() {
				t.Errorf("Infeasible allocation must be empty/zero for %v", amounts)
			}
			continue
		}
		if alloc.Achieved.LessThan(lower) || alloc.Achieved.GreaterThan(upper) {
			t.Errorf("Achieved %s outside band for %v", alloc.Achieved, amounts)
		}
	}
}

func TestAllocateNonPositiveTarget(t *testing.T) {
	allocator := NewSubsetSumAllocator()

	for _, target := range []int64{0, -500} {
		alloc := allocator.Allocate(poLines(100, 200), decimal.NewFromInt(target), 0.02)
		if alloc.Feasible || len(alloc.Picked) != 0 {
			t.Errorf("Expected empty result for target %d", target)
		}
	}
}

func TestAllocateUsesRemainingAmount(t *testing.T) {
	allocator := NewSubsetSumAllocator()
	lines := poLines(5000, 5000)
	lines[0].RemainingAmount = models.DecimalPtr(decimal.NewFromInt(1000))

	alloc := allocator.Allocate(lines, decimal.NewFromInt(6000), 0.0)

	if !alloc.Feasible || !alloc.Achieved.Equal(decimal.NewFromInt(6000)) {
		t.Errorf("Expected remaining amount to be allocated, got feasible=%v achieved=%s", alloc.Feasible, alloc.Achieved)
	}
}

func TestCoverage(t *testing.T) {
	if got := Coverage(decimal.NewFromInt(9800), decimal.NewFromInt(10000)); got != 98 {
		t.Errorf("Expected 98, got %f", got)
	}
	if got := Coverage(decimal.NewFromInt(1), decimal.NewFromInt(3)); got != 33.33 {
		t.Errorf("Expected 33.33, got %f", got)
	}
	if got := Coverage(decimal.NewFromInt(1), decimal.Zero); got != 0 {
		t.Errorf("Expected 0 for zero target, got %f", got)
	}
}
