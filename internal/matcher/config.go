// Package matcher provides the scoring and allocation algorithms of the
// reconciliation engine.
//
// This package contains three independent pieces, all pure functions of
// their inputs:
//   - ScoringEngine: amount, counterparty and date similarity combined into
//     a confidence value with human-readable reasons
//   - SubsetSumAllocator: greedy selection of same-document lines whose sum
//     falls inside a tolerance band around the target amount
//   - CombinationMatcher: bounded search of 2-4 heterogeneous candidates whose
//     sum approximates the target within a widened tolerance
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	scorer := matcher.NewScoringEngine(config)
//	score := scorer.Score(target, candidate, tolerance.DefaultWeights())
//
//	alloc := matcher.NewSubsetSumAllocator().Allocate(lines, target.AbsAmount(), 0.02)
//	if !alloc.Feasible {
//		combos, err := matcher.NewCombinationMatcher(config).FindCombinations(ctx, target, pool, 0.02, 5)
//	}
package matcher

import (
	"fmt"
	"math"
)

// MatchingConfig holds the tuning parameters of the engine. Tolerances are
// not part of it: they are resolved per request by the tolerance package.
type MatchingConfig struct {
	// WindowDays is the default candidate date window on each side of the target date
	WindowDays int `json:"window_days" mapstructure:"window_days"`

	// MinConfidence drops single-candidate suggestions scoring below it
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`

	// MaxSuggestions truncates the ranked suggestion list
	MaxSuggestions int `json:"max_suggestions" mapstructure:"max_suggestions"`

	// MaxCombos bounds the number of combination suggestions
	MaxCombos int `json:"max_combos" mapstructure:"max_combos"`

	// CombinationExpansionFactor multiplies the base amount tolerance for the combination search
	CombinationExpansionFactor float64 `json:"combination_expansion_factor" mapstructure:"combination_expansion_factor"`

	// CombinationToleranceCap is the upper bound of the expanded tolerance
	CombinationToleranceCap float64 `json:"combination_tolerance_cap" mapstructure:"combination_tolerance_cap"`

	// MinComboSize and MaxComboSize bound the combination sizes tried (2..4)
	MinComboSize int `json:"min_combo_size" mapstructure:"min_combo_size"`
	MaxComboSize int `json:"max_combo_size" mapstructure:"max_combo_size"`

	// CombinationPoolLimit caps how many candidates enter the combination search
	CombinationPoolLimit int `json:"combination_pool_limit" mapstructure:"combination_pool_limit"`

	// DateDecayDays and DateCutoffDays shape the single-candidate date score
	DateDecayDays  float64 `json:"date_decay_days" mapstructure:"date_decay_days"`
	DateCutoffDays float64 `json:"date_cutoff_days" mapstructure:"date_cutoff_days"`

	// ComboDateDecayDays shapes the per-member date score of combinations
	ComboDateDecayDays float64 `json:"combo_date_decay_days" mapstructure:"combo_date_decay_days"`
}

// Hard limits on the combination search.
const (
	minComboSizeFloor   = 2
	maxComboSizeCeiling = 4
)

// DefaultMatchingConfig returns a configuration with the engine's standard behaviour
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		WindowDays:                 30,
		MinConfidence:              0.3,
		MaxSuggestions:             10,
		MaxCombos:                  5,
		CombinationExpansionFactor: 10,
		CombinationToleranceCap:    0.5,
		MinComboSize:               minComboSizeFloor,
		MaxComboSize:               maxComboSizeCeiling,
		CombinationPoolLimit:       40,
		DateDecayDays:              7,
		DateCutoffDays:             30,
		ComboDateDecayDays:         365,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.WindowDays < 0 {
		return fmt.Errorf("window days cannot be negative: %d", mc.WindowDays)
	}
	if mc.MinConfidence < 0 || mc.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0.0 and 1.0: %f", mc.MinConfidence)
	}
	if mc.MaxSuggestions <= 0 {
		return fmt.Errorf("max suggestions must be positive: %d", mc.MaxSuggestions)
	}
	if mc.MaxCombos < 0 {
		return fmt.Errorf("max combos cannot be negative: %d", mc.MaxCombos)
	}
	if mc.CombinationExpansionFactor < 1 {
		return fmt.Errorf("combination expansion factor must be at least 1: %f", mc.CombinationExpansionFactor)
	}
	if mc.CombinationToleranceCap <= 0 || mc.CombinationToleranceCap > 1 {
		return fmt.Errorf("combination tolerance cap must be in (0, 1]: %f", mc.CombinationToleranceCap)
	}
	if mc.MinComboSize < minComboSizeFloor || mc.MaxComboSize > maxComboSizeCeiling || mc.MinComboSize > mc.MaxComboSize {
		return fmt.Errorf("combination sizes must satisfy %d <= min <= max <= %d: %d..%d",
			minComboSizeFloor, maxComboSizeCeiling, mc.MinComboSize, mc.MaxComboSize)
	}
	if mc.CombinationPoolLimit < mc.MaxComboSize {
		return fmt.Errorf("combination pool limit must be at least the max combo size: %d", mc.CombinationPoolLimit)
	}
	if mc.DateDecayDays <= 0 || mc.ComboDateDecayDays <= 0 {
		return fmt.Errorf("date decay days must be positive")
	}
	if mc.DateCutoffDays < 0 {
		return fmt.Errorf("date cutoff days cannot be negative: %f", mc.DateCutoffDays)
	}
	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// ExpandedTolerance is the widened tolerance used by the combination search:
// min(cap, base * factor).
func (mc *MatchingConfig) ExpandedTolerance(base float64) float64 {
	return math.Min(mc.CombinationToleranceCap, base*mc.CombinationExpansionFactor)
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Window: %d days, MinConfidence: %.2f, MaxSuggestions: %d, Combos: %d..%d x%d, Expansion: x%.0f cap %.2f}",
		mc.WindowDays, mc.MinConfidence, mc.MaxSuggestions, mc.MinComboSize, mc.MaxComboSize, mc.MaxCombos,
		mc.CombinationExpansionFactor, mc.CombinationToleranceCap)
}
