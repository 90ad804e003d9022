package matcher

import (
	"sort"

	"golang-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Allocation is the result of a subset-sum attempt. Feasible=false is the
// explicit "no feasible allocation" outcome: Picked is empty and Achieved zero.
type Allocation struct {
	Picked   []models.Candidate
	Achieved decimal.Decimal
	Feasible bool
}

// SubsetSumAllocator greedily picks candidates, largest remaining amount
// first, until the accumulated sum enters [target*(1-tol), target*(1+tol)].
// It runs in O(n log n) and does not search for an exact subset; inputs
// where a different order would fit can come back infeasible.
type SubsetSumAllocator struct{}

// NewSubsetSumAllocator creates an allocator.
func NewSubsetSumAllocator() *SubsetSumAllocator {
	return &SubsetSumAllocator{}
}

// Allocate selects a subset of candidates for targetAmount within tolerance.
// Ties on amount keep the input (fetch) order.
func (a *SubsetSumAllocator) Allocate(candidates []models.Candidate, targetAmount decimal.Decimal, tolerance float64) Allocation {
	if !targetAmount.IsPositive() || len(candidates) == 0 {
		return Allocation{Achieved: decimal.Zero}
	}

	tol := decimal.NewFromFloat(tolerance)
	upper := targetAmount.Mul(decimal.NewFromInt(1).Add(tol))
	lower := targetAmount.Mul(decimal.NewFromInt(1).Sub(tol))

	ordered := make([]models.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReferenceAmount().GreaterThan(ordered[j].ReferenceAmount())
	})

	accumulated := decimal.Zero
	var picked []models.Candidate
	for _, c := range ordered {
		amount := c.ReferenceAmount()
		if !amount.IsPositive() {
			continue
		}
		if accumulated.Add(amount).LessThanOrEqual(upper) {
			accumulated = accumulated.Add(amount)
			picked = append(picked, c)
		}
		if accumulated.GreaterThanOrEqual(lower) {
			break
		}
	}

	if len(picked) == 0 || accumulated.LessThan(lower) {
		return Allocation{Achieved: decimal.Zero}
	}

	return Allocation{
		Picked:   picked,
		Achieved: accumulated,
		Feasible: true,
	}
}

// Coverage returns achieved/target as a percentage, 0 for a non-positive target.
func Coverage(achieved, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	return achieved.Div(target).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}
