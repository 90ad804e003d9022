package matcher

import (
	"fmt"
	"math"
	"time"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"

	"github.com/shopspring/decimal"
)

// Variant selects the confidence formula.
type Variant string

const (
	// VariantBankToDocument: weighted amount, counterparty and date signals.
	VariantBankToDocument Variant = "bank_to_document"
	// VariantInvoiceToPO: base 0.4 plus counterparty bonus plus amount signal.
	VariantInvoiceToPO Variant = "invoice_to_po"
)

// Confidence bounds shared by every strategy.
const (
	MaxConfidence      = 0.99
	confidenceDecimals = 4

	invoiceToPOBase       = 0.4
	invoiceToPOCounterpty = 0.2
	invoiceToPOAmount     = 0.3

	ruleAmountThreshold       = 0.98
	ruleCounterpartyThreshold = 0.9
	ruleDateThreshold         = 0.8
	sameCounterpartyThreshold = 0.9
)

// Score is the outcome of comparing a target with one candidate (or with a group of lines).
type Score struct {
	Confidence        float64          `json:"confidence"`
	AmountScore       float64          `json:"amount_score"`
	CounterpartyScore float64          `json:"counterparty_score"`
	DateScore         float64          `json:"date_score"`
	AmountDelta       decimal.Decimal  `json:"amount_delta"`
	DaysApart         int              `json:"days_apart"`
	Variant           Variant          `json:"variant"`
	MatchType         models.MatchType `json:"match_type"`
	Reasons           []string         `json:"reasons"`
}

// ScoringEngine computes similarity signals. It is safe for concurrent use.
type ScoringEngine struct {
	config *MatchingConfig
}

// NewScoringEngine creates a scoring engine; nil config means defaults.
func NewScoringEngine(config *MatchingConfig) *ScoringEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &ScoringEngine{config: config}
}

// Score compares a target with a single candidate.
func (se *ScoringEngine) Score(target models.Target, candidate models.Candidate, weights tolerance.Weights) Score {
	reference := candidate.ReferenceAmount()
	days := DaysApart(target.Date, candidate.Date)

	return se.combine(
		target,
		variantFor(target, candidate.Kind),
		reference,
		AmountScore(target.AbsAmount(), reference),
		se.counterpartyScore(target, candidate),
		se.DateScore(days),
		days,
		weights,
	)
}

// ScoreGroup scores a set of lines allocated together against the target:
// the amount signal uses the achieved sum, counterparty and date signals are
// averaged across members.
func (se *ScoringEngine) ScoreGroup(target models.Target, members []models.Candidate, achieved decimal.Decimal, weights tolerance.Weights) Score {
	if len(members) == 0 {
		return se.combine(target, VariantBankToDocument, decimal.Zero, 0, 0, 0, 0, weights)
	}

	var cpSum, dateSum float64
	maxDays := 0
	for _, m := range members {
		cpSum += se.counterpartyScore(target, m)
		days := DaysApart(target.Date, m.Date)
		dateSum += se.DateScore(days)
		if days > maxDays {
			maxDays = days
		}
	}
	n := float64(len(members))

	return se.combine(
		target,
		variantFor(target, members[0].Kind),
		achieved,
		AmountScore(target.AbsAmount(), achieved),
		cpSum/n,
		dateSum/n,
		maxDays,
		weights,
	)
}

func variantFor(target models.Target, kind models.CandidateKind) Variant {
	if target.Kind == models.TargetInvoice && (kind == models.KindPOHeader || kind == models.KindPOLine) {
		return VariantInvoiceToPO
	}
	return VariantBankToDocument
}

func (se *ScoringEngine) combine(
	target models.Target,
	variant Variant,
	reference decimal.Decimal,
	amountScore, cpScore, dateScore float64,
	days int,
	weights tolerance.Weights,
) Score {
	var confidence float64
	switch variant {
	case VariantInvoiceToPO:
		bonus := 0.0
		if cpScore > sameCounterpartyThreshold {
			bonus = 1.0
		}
		confidence = invoiceToPOBase + invoiceToPOCounterpty*bonus + invoiceToPOAmount*amountScore
	default:
		confidence = weights.Amount*amountScore + weights.Counterparty*cpScore + weights.Date*dateScore
	}

	matchType := models.MatchFuzzy
	if amountScore > ruleAmountThreshold && cpScore > ruleCounterpartyThreshold && dateScore > ruleDateThreshold {
		matchType = models.MatchRule
	}

	targetAmount := target.AbsAmount()
	delta := targetAmount.Sub(reference).Abs()
	deltaPct := 0.0
	if targetAmount.IsPositive() {
		deltaPct = delta.Div(targetAmount).InexactFloat64() * 100
	}

	return Score{
		Confidence:        RoundConfidence(confidence),
		AmountScore:       amountScore,
		CounterpartyScore: cpScore,
		DateScore:         dateScore,
		AmountDelta:       delta,
		DaysApart:         days,
		Variant:           variant,
		MatchType:         matchType,
		Reasons: []string{
			fmt.Sprintf("match_type=%s", matchType),
			fmt.Sprintf("variant=%s", variant),
			fmt.Sprintf("amount_delta=%s (%.2f%%) score=%.4f", delta.StringFixed(2), deltaPct, amountScore),
			fmt.Sprintf("counterparty_similarity=%.4f", cpScore),
			fmt.Sprintf("date_delta_days=%d score=%.4f", days, dateScore),
		},
	}
}

// counterpartyScore trusts matching identifiers first, then falls back to name similarity.
func (se *ScoringEngine) counterpartyScore(target models.Target, candidate models.Candidate) float64 {
	if target.CounterpartyID != "" && target.CounterpartyID == candidate.CounterpartyID {
		return 1.0
	}
	return NameSimilarity(target.CounterpartyName, candidate.CounterpartyName)
}

// DateScore is max(0, 1 - days/decay) within the cutoff, 0 beyond it.
func (se *ScoringEngine) DateScore(days int) float64 {
	if float64(days) > se.config.DateCutoffDays {
		return 0
	}
	return math.Max(0, 1-float64(days)/se.config.DateDecayDays)
}

// AmountScore is exp(-4 * |target - reference| / max(target, 1e-6)).
// A zero target or a non-positive reference scores 0.
func AmountScore(target, reference decimal.Decimal) float64 {
	target = target.Abs()
	if target.IsZero() || !reference.IsPositive() {
		return 0
	}
	delta := target.Sub(reference).Abs()
	if delta.IsZero() {
		return 1.0
	}
	denominator := math.Max(target.InexactFloat64(), 1e-6)
	score := math.Exp(-4 * delta.InexactFloat64() / denominator)
	// exp can round to exactly 1 for deltas that are tiny relative to the target
	if score >= 1.0 {
		return math.Nextafter(1.0, 0)
	}
	return score
}

// DaysApart counts whole calendar days between two dates, ignoring time of day.
func DaysApart(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// RoundConfidence clamps to [0, 0.99] and rounds to four decimals.
func RoundConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > MaxConfidence {
		c = MaxConfidence
	}
	scale := math.Pow(10, confidenceDecimals)
	return math.Round(c*scale) / scale
}
