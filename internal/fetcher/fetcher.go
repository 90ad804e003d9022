// Package fetcher retrieves match candidates for a target from a record store.
package fetcher

import (
	"context"
	stderrors "errors"
	"time"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// ErrUnexpectedShape is returned (wrapped) by stores whose rows cannot be
// decoded into a candidate. The fetcher degrades it to an empty result.
var ErrUnexpectedShape = stderrors.New("unexpected record shape")

// CandidateFilter is what a store is asked for. From is inclusive, To exclusive.
type CandidateFilter struct {
	From           time.Time              `json:"from"`
	To             time.Time              `json:"to"`
	CounterpartyID string                 `json:"counterparty_id,omitempty"`
	Kinds          []models.CandidateKind `json:"kinds,omitempty"`
	MaxAmount      *decimal.Decimal       `json:"max_amount,omitempty"`
}

// Matches reports whether c satisfies the filter.
func (f CandidateFilter) Matches(c models.Candidate) bool {
	if c.Date.Before(f.From) || !c.Date.Before(f.To) {
		return false
	}
	if f.CounterpartyID != "" && c.CounterpartyID != f.CounterpartyID {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if c.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MaxAmount != nil && c.ReferenceAmount().GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}

// ScopeFilter narrows a fetch beyond the date window. The zero value means no filter.
type ScopeFilter struct {
	CounterpartyID string                 `json:"counterparty_id,omitempty"`
	Kinds          []models.CandidateKind `json:"kinds,omitempty"`
	MaxAmount      *decimal.Decimal       `json:"max_amount,omitempty"`
}

// Source is the candidate half of the record store.
type Source interface {
	FetchCandidates(ctx context.Context, filter CandidateFilter) ([]models.Candidate, error)
}

// CandidateFetcher applies the date window and scope filter to a Source.
type CandidateFetcher struct {
	source Source
	logger logger.Logger
}

// New creates a CandidateFetcher.
func New(source Source, log logger.Logger) *CandidateFetcher {
	return &CandidateFetcher{
		source: source,
		logger: logger.OrNop(log).WithComponent("candidate_fetcher"),
	}
}

// Window returns the filter for [date-windowDays, date+windowDays] in whole days.
func Window(target models.Target, windowDays int, scope ScopeFilter) CandidateFilter {
	if windowDays < 0 {
		windowDays = 0
	}
	d := target.Date.UTC()
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return CandidateFilter{
		From:           day.AddDate(0, 0, -windowDays),
		To:             day.AddDate(0, 0, windowDays+1),
		CounterpartyID: scope.CounterpartyID,
		Kinds:          scope.Kinds,
		MaxAmount:      scope.MaxAmount,
	}
}

// Fetch returns the candidates inside the window. No ordering is guaranteed.
// An undecodable store shape yields an empty slice; cancellation and other
// store failures are returned as errors.
func (f *CandidateFetcher) Fetch(ctx context.Context, target models.Target, windowDays int, scope ScopeFilter) ([]models.Candidate, error) {
	filter := Window(target, windowDays, scope)
	log := f.logger.WithFields(logger.Fields{
		"target_id":   target.ID,
		"window_days": windowDays,
	})

	if f.source == nil {
		log.Warn("No record store configured, returning no candidates")
		return []models.Candidate{}, nil
	}

	raw, err := f.source.FetchCandidates(ctx, filter)
	if err != nil {
		if stderrors.Is(err, ErrUnexpectedShape) {
			log.WithError(err).Warn("Record store returned an unexpected shape, returning no candidates")
			return []models.Candidate{}, nil
		}
		return nil, errors.StoreUnavailable("fetch_candidates", err)
	}

	candidates := make([]models.Candidate, 0, len(raw))
	for _, c := range raw {
		if filter.Matches(c) {
			candidates = append(candidates, c)
		}
	}

	log.WithField("candidates", len(candidates)).Debug("Fetched candidates")
	return candidates, nil
}
