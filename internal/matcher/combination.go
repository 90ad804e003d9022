package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// Combination is a group of 2-4 candidates whose summed amount approximates the target.
type Combination struct {
	Members           []models.Candidate `json:"members"`
	Sum               decimal.Decimal    `json:"sum"`
	Diff              decimal.Decimal    `json:"diff"`
	AmountScore       float64            `json:"amount_score"`
	AvgDateScore      float64            `json:"avg_date_score"`
	ComplexityPenalty float64            `json:"complexity_penalty"`
	Score             float64            `json:"score"`
}

// Reasons describes how the combination was scored.
func (c Combination) Reasons(expandedTolerance float64) []string {
	return []string{
		fmt.Sprintf("combination_size=%d", len(c.Members)),
		fmt.Sprintf("combination_sum=%s diff=%s", c.Sum.StringFixed(2), c.Diff.StringFixed(2)),
		fmt.Sprintf("expanded_tolerance=%.4f", expandedTolerance),
		fmt.Sprintf("amount_score=%.4f avg_date_score=%.4f complexity_penalty=%.2f",
			c.AmountScore, c.AvgDateScore, c.ComplexityPenalty),
	}
}

// CombinationMatcher searches small combinations of heterogeneous candidates.
// It is only meant for targets no single candidate or subset can cover.
type CombinationMatcher struct {
	config *MatchingConfig
}

// NewCombinationMatcher creates a matcher; nil config means defaults.
func NewCombinationMatcher(config *MatchingConfig) *CombinationMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &CombinationMatcher{config: config}
}

// FindCombinations enumerates combinations of size MinComboSize..MaxComboSize
// whose sum lies within target*expandedTolerance of the target. Each size tier
// stops after maxCombos accepted combinations; results across tiers are
// ranked by score and truncated to maxCombos. The context is checked before
// each tier and a cancelled search returns no partial results.
func (cm *CombinationMatcher) FindCombinations(
	ctx context.Context,
	target models.Target,
	candidates []models.Candidate,
	baseTolerance float64,
	maxCombos int,
) ([]Combination, error) {
	targetAmount := target.AbsAmount()
	if !targetAmount.IsPositive() || maxCombos <= 0 {
		return nil, nil
	}

	expanded := cm.config.ExpandedTolerance(baseTolerance)
	allowed := targetAmount.Mul(decimal.NewFromFloat(expanded))
	ceiling := targetAmount.Add(allowed)

	pool := cm.buildPool(target, candidates, ceiling)

	var results []Combination
	for size := cm.config.MinComboSize; size <= cm.config.MaxComboSize && size <= len(pool); size++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Cancelled("combination_search", err)
		}

		s := &comboSearch{
			pool:    pool,
			size:    size,
			target:  targetAmount,
			allowed: allowed,
			ceiling: ceiling,
			limit:   maxCombos,
			indexes: make([]int, 0, size),
		}
		s.walk(0, decimal.Zero)

		for _, idx := range s.accepted {
			members := make([]models.Candidate, len(idx))
			for i, j := range idx {
				members[i] = pool[j]
			}
			results = append(results, cm.ScoreCombination(target, members))
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxCombos {
		results = results[:maxCombos]
	}
	return results, nil
}

// buildPool keeps candidates with a positive amount no larger than the
// ceiling, capped to the pool limit by date proximity to the target.
func (cm *CombinationMatcher) buildPool(target models.Target, candidates []models.Candidate, ceiling decimal.Decimal) []models.Candidate {
	pool := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		amount := c.ReferenceAmount()
		if amount.IsPositive() && amount.LessThanOrEqual(ceiling) {
			pool = append(pool, c)
		}
	}

	if len(pool) > cm.config.CombinationPoolLimit {
		sort.SliceStable(pool, func(i, j int) bool {
			return DaysApart(target.Date, pool[i].Date) < DaysApart(target.Date, pool[j].Date)
		})
		pool = pool[:cm.config.CombinationPoolLimit]
	}
	return pool
}

// ScoreCombination applies 0.6*amount + 0.2*avgDate + 0.2*complexity to a member set.
func (cm *CombinationMatcher) ScoreCombination(target models.Target, members []models.Candidate) Combination {
	targetAmount := target.AbsAmount()
	sum := decimal.Zero
	dateTotal := 0.0
	for _, m := range members {
		sum = sum.Add(m.ReferenceAmount().Abs())
		days := float64(DaysApart(target.Date, m.Date))
		dateTotal += math.Max(0, 1-days/cm.config.ComboDateDecayDays)
	}
	diff := sum.Sub(targetAmount).Abs()

	amountScore := 0.0
	if targetAmount.IsPositive() {
		amountScore = 1 - diff.Div(targetAmount).InexactFloat64()
	}
	avgDate := 0.0
	if len(members) > 0 {
		avgDate = dateTotal / float64(len(members))
	}
	penalty := math.Max(0.5, 1-float64(len(members)-2)*0.1)

	return Combination{
		Members:           members,
		Sum:               sum,
		Diff:              diff,
		AmountScore:       amountScore,
		AvgDateScore:      avgDate,
		ComplexityPenalty: penalty,
		Score:             0.6*amountScore + 0.2*avgDate + 0.2*penalty,
	}
}

// comboSearch enumerates index combinations in lexicographic order. Amounts
// are positive, so a prefix whose sum already exceeds the ceiling is pruned.
type comboSearch struct {
	pool     []models.Candidate
	size     int
	target   decimal.Decimal
	allowed  decimal.Decimal
	ceiling  decimal.Decimal
	limit    int
	indexes  []int
	accepted [][]int
}

func (s *comboSearch) walk(start int, sum decimal.Decimal) {
	if len(s.accepted) >= s.limit {
		return
	}
	if len(s.indexes) == s.size {
		if sum.Sub(s.target).Abs().LessThanOrEqual(s.allowed) {
			s.accepted = append(s.accepted, append([]int(nil), s.indexes...))
		}
		return
	}

	remaining := s.size - len(s.indexes)
	for i := start; i <= len(s.pool)-remaining; i++ {
		next := sum.Add(s.pool[i].ReferenceAmount().Abs())
		if next.GreaterThan(s.ceiling) {
			continue
		}
		s.indexes = append(s.indexes, i)
		s.walk(i+1, next)
		s.indexes = s.indexes[:len(s.indexes)-1]
		if len(s.accepted) >= s.limit {
			return
		}
	}
}
