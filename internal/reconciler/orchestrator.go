// Package reconciler sequences the matching engine into its two calls.
//
// Suggest resolves tolerances, fetches candidates, scores them and runs the
// allocation strategies, returning a ranked list of suggestions. Confirm
// validates a chosen allocation and persists its links and audit event in
// one atomic unit. Reject records that a suggestion was dismissed.
//
// The orchestrator keeps no per-request state between calls; every request
// carries its own state trace. Cross-request consistency is enforced by the
// LinkStore transaction, not here.
//
// Example usage:
//
//	orchestrator := reconciler.NewReconciliationOrchestrator(reconciler.Dependencies{
//		Tolerances: store,
//		Records:    store,
//		Links:      store,
//	}, matcher.DefaultMatchingConfig(), log)
//
//	resp, err := orchestrator.Suggest(ctx, reconciler.SuggestRequest{Target: target})
//	if err != nil {
//		return err
//	}
//	for _, s := range resp.Suggestions {
//		fmt.Printf("%s %.2f %v\n", s.Strategy, s.Confidence, s.CandidateIDs())
//	}
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/matcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is a step of the suggestion or confirm state machine.
type State string

const (
	StateResolvingTolerance State = "resolving-tolerance"
	StateFetchingCandidates State = "fetching-candidates"
	StateScoring            State = "scoring"
	StateAllocating         State = "allocating"
	StateRanked             State = "ranked"
	StateValidating         State = "validating"
	StateRejected           State = "rejected"
	StatePersisting         State = "persisting"
	StatePersisted          State = "persisted"
)

// StateTransition is reported to state callbacks on every state entry.
type StateTransition struct {
	TargetID string    `json:"target_id"`
	State    State     `json:"state"`
	At       time.Time `json:"at"`
}

// StateCallback observes state transitions. It must not block.
type StateCallback func(StateTransition)

// SuggestRequest asks for ranked suggestions for one target.
type SuggestRequest struct {
	Target models.Target `json:"target"`
	// WindowDays overrides the configured date window when positive
	WindowDays int `json:"window_days,omitempty"`
	// AmountToleranceOverride replaces the resolved amount tolerance
	AmountToleranceOverride *float64            `json:"amount_tolerance_override,omitempty"`
	Scope                   fetcher.ScopeFilter `json:"scope,omitempty"`
}

// SuggestResponse is the ranked outcome of a suggestion call.
type SuggestResponse struct {
	TargetID    string              `json:"target_id"`
	Suggestions []models.Suggestion `json:"suggestions"`
	Tolerance   tolerance.Config    `json:"tolerance"`
	Candidates  int                 `json:"candidates"`
	Trace       []State             `json:"trace"`
}

// ConfirmRequest asks to persist a chosen allocation.
type ConfirmRequest struct {
	Target models.Target         `json:"target"`
	Links  []models.ProposedLink `json:"links"`
	Actor  string                `json:"actor"`
	// CandidateIDs is the candidate set that was suggested, for the audit event
	CandidateIDs []string          `json:"candidate_ids,omitempty"`
	Confidence   float64           `json:"confidence"`
	Reasons      []string          `json:"reasons,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ConfirmResult reports the outcome of a confirm call.
type ConfirmResult struct {
	OK         bool               `json:"ok"`
	State      State              `json:"state"`
	Violations []models.Violation `json:"violations,omitempty"`
	Links      []models.Link      `json:"links,omitempty"`
	EventID    string             `json:"event_id,omitempty"`
	Trace      []State            `json:"trace"`
}

// RejectRequest records that a suggestion was dismissed.
type RejectRequest struct {
	Target       models.Target     `json:"target"`
	CandidateIDs []string          `json:"candidate_ids"`
	Actor        string            `json:"actor"`
	Confidence   float64           `json:"confidence"`
	Reasons      []string          `json:"reasons,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DefaultActor is recorded when a request names no actor.
const DefaultActor = "system"

// ReconciliationOrchestrator coordinates tolerance resolution, candidate
// fetching, scoring, allocation and persistence. It is safe for concurrent use.
type ReconciliationOrchestrator struct {
	config      *matcher.MatchingConfig
	resolver    *tolerance.Resolver
	fetcher     *fetcher.CandidateFetcher
	scorer      *matcher.ScoringEngine
	allocator   *matcher.SubsetSumAllocator
	combination *matcher.CombinationMatcher
	validator   *validator.AllocationValidator
	records     RecordStore
	links       LinkStore
	logger      logger.Logger

	now   func() time.Time
	newID func() string

	callbacks     []StateCallback
	callbackMutex sync.RWMutex
}

// NewReconciliationOrchestrator wires the engine components over deps.
// A nil config uses matcher.DefaultMatchingConfig.
func NewReconciliationOrchestrator(deps Dependencies, config *matcher.MatchingConfig, log logger.Logger) *ReconciliationOrchestrator {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	log = logger.OrNop(log)

	var source fetcher.Source
	if deps.Records != nil {
		source = deps.Records
	}

	return &ReconciliationOrchestrator{
		config:      config,
		resolver:    tolerance.NewResolver(deps.Tolerances, log),
		fetcher:     fetcher.New(source, log),
		scorer:      matcher.NewScoringEngine(config),
		allocator:   matcher.NewSubsetSumAllocator(),
		combination: matcher.NewCombinationMatcher(config),
		validator:   validator.New(),
		records:     deps.Records,
		links:       deps.Links,
		logger:      log.WithComponent("reconciliation_orchestrator"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithClock replaces the time source used for links and events.
func (o *ReconciliationOrchestrator) WithClock(now func() time.Time) *ReconciliationOrchestrator {
	o.now = now
	return o
}

// AddStateCallback registers an observer of state transitions.
func (o *ReconciliationOrchestrator) AddStateCallback(callback StateCallback) {
	o.callbackMutex.Lock()
	defer o.callbackMutex.Unlock()
	o.callbacks = append(o.callbacks, callback)
}

// GetMatchingConfig returns a copy of the matching configuration in use.
func (o *ReconciliationOrchestrator) GetMatchingConfig() *matcher.MatchingConfig {
	return o.config.Clone()
}

// run is the per-request state trace.
type run struct {
	o        *ReconciliationOrchestrator
	targetID string
	trace    []State
}

func (o *ReconciliationOrchestrator) newRun(targetID string) *run {
	return &run{o: o, targetID: targetID}
}

// enter records a state and fails if the caller has already cancelled.
func (r *run) enter(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return errors.Cancelled(string(state), err)
	}
	r.mark(state)
	return nil
}

// mark records a terminal state without a cancellation check.
func (r *run) mark(state State) {
	r.trace = append(r.trace, state)
	r.o.logger.WithFields(logger.Fields{
		"target_id": r.targetID,
		"state":     string(state),
	}).Debug("State transition")

	r.o.callbackMutex.RLock()
	callbacks := make([]StateCallback, len(r.o.callbacks))
	copy(callbacks, r.o.callbacks)
	r.o.callbackMutex.RUnlock()

	transition := StateTransition{TargetID: r.targetID, State: state, At: r.o.now()}
	for _, cb := range callbacks {
		cb(transition)
	}
}

// Suggest returns ranked suggestions for a target. Single-candidate and
// subset strategies always run; the combination search runs only when no
// single candidate is within amount tolerance and no subset is feasible.
// A cancelled call returns an error, never a partial list.
func (o *ReconciliationOrchestrator) Suggest(ctx context.Context, req SuggestRequest) (*SuggestResponse, error) {
	target := req.Target
	if err := target.Validate(); err != nil {
		return nil, errors.InvalidInput("target", err.Error())
	}
	if req.AmountToleranceOverride != nil {
		if v := *req.AmountToleranceOverride; v < 0 || v > 1 {
			return nil, errors.InvalidInput("amount_tolerance_override", v)
		}
	}

	r := o.newRun(target.ID)
	log := o.logger.WithField("target_id", target.ID)

	if err := r.enter(ctx, StateResolvingTolerance); err != nil {
		return nil, err
	}
	cfg := o.resolveTolerance(ctx, target)
	if req.AmountToleranceOverride != nil {
		cfg = cfg.WithAmountTolerance(*req.AmountToleranceOverride)
	}

	if err := r.enter(ctx, StateFetchingCandidates); err != nil {
		return nil, err
	}
	window := o.config.WindowDays
	if req.WindowDays > 0 {
		window = req.WindowDays
	}
	candidates, err := o.fetcher.Fetch(ctx, target, window, req.Scope)
	if err != nil {
		log.WithError(err).Error("Candidate fetch failed")
		return nil, err
	}

	if err := r.enter(ctx, StateScoring); err != nil {
		return nil, err
	}
	singles, withinTolerance := o.scoreSingles(target, candidates, cfg)

	if err := r.enter(ctx, StateAllocating); err != nil {
		return nil, err
	}
	subsets := o.allocateSubsets(target, candidates, cfg)

	var combos []models.Suggestion
	if !withinTolerance && len(subsets) == 0 && o.config.MaxCombos > 0 {
		combos, err = o.findCombinations(ctx, target, candidates, cfg)
		if err != nil {
			log.WithError(err).Warn("Combination search aborted")
			return nil, err
		}
	}

	suggestions := make([]models.Suggestion, 0, len(singles)+len(subsets)+len(combos))
	suggestions = append(suggestions, singles...)
	suggestions = append(suggestions, subsets...)
	suggestions = append(suggestions, combos...)

	if err := r.enter(ctx, StateRanked); err != nil {
		return nil, err
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > o.config.MaxSuggestions {
		suggestions = suggestions[:o.config.MaxSuggestions]
	}

	log.WithFields(logger.Fields{
		"candidates":   len(candidates),
		"singles":      len(singles),
		"subsets":      len(subsets),
		"combinations": len(combos),
		"returned":     len(suggestions),
	}).Debug("Suggestions ranked")

	return &SuggestResponse{
		TargetID:    target.ID,
		Suggestions: suggestions,
		Tolerance:   cfg,
		Candidates:  len(candidates),
		Trace:       r.trace,
	}, nil
}

func (o *ReconciliationOrchestrator) resolveTolerance(ctx context.Context, target models.Target) tolerance.Config {
	return o.resolver.Resolve(ctx, target.CounterpartyID, target.ProjectID)
}

// scoreSingles scores every candidate alone and reports whether any of them
// lies within the amount tolerance of the target.
func (o *ReconciliationOrchestrator) scoreSingles(target models.Target, candidates []models.Candidate, cfg tolerance.Config) ([]models.Suggestion, bool) {
	targetAmount := target.AbsAmount()
	allowed := targetAmount.Mul(decimal.NewFromFloat(cfg.AmountTolerance))
	layers := toleranceReason(cfg)

	withinTolerance := false
	var out []models.Suggestion
	for _, c := range candidates {
		reference := c.ReferenceAmount()
		if reference.IsPositive() && reference.Sub(targetAmount).Abs().LessThanOrEqual(allowed) {
			withinTolerance = true
		}

		score := o.scorer.Score(target, c, cfg.Weights)
		if score.Confidence < o.config.MinConfidence {
			continue
		}

		reasons := append([]string{"strategy=" + string(models.StrategySingle)}, score.Reasons...)
		out = append(out, models.Suggestion{
			Strategy:        models.StrategySingle,
			Candidates:      []models.Candidate{c},
			Coverage:        reference,
			CoveragePercent: matcher.Coverage(reference, targetAmount),
			Confidence:      score.Confidence,
			MatchType:       score.MatchType,
			Reasons:         append(reasons, layers),
		})
	}
	return out, withinTolerance
}

// allocateSubsets runs the subset-sum allocator over the po-lines of each
// purchase order, in order of first appearance.
func (o *ReconciliationOrchestrator) allocateSubsets(target models.Target, candidates []models.Candidate, cfg tolerance.Config) []models.Suggestion {
	groups := make(map[string][]models.Candidate)
	var order []string
	for _, c := range candidates {
		if c.Kind != models.KindPOLine || c.GroupKey == "" {
			continue
		}
		if _, seen := groups[c.GroupKey]; !seen {
			order = append(order, c.GroupKey)
		}
		groups[c.GroupKey] = append(groups[c.GroupKey], c)
	}

	targetAmount := target.AbsAmount()
	layers := toleranceReason(cfg)

	var out []models.Suggestion
	for _, key := range order {
		alloc := o.allocator.Allocate(groups[key], targetAmount, cfg.AmountTolerance)
		// a single picked line is already proposed by the single strategy
		if !alloc.Feasible || len(alloc.Picked) < 2 {
			continue
		}

		score := o.scorer.ScoreGroup(target, alloc.Picked, alloc.Achieved, cfg.Weights)
		reasons := []string{
			"strategy=" + string(models.StrategySubset),
			fmt.Sprintf("group=%s lines=%d achieved=%s", key, len(alloc.Picked), alloc.Achieved.StringFixed(2)),
		}
		reasons = append(reasons, score.Reasons...)

		out = append(out, models.Suggestion{
			Strategy:        models.StrategySubset,
			Candidates:      alloc.Picked,
			Coverage:        alloc.Achieved,
			CoveragePercent: matcher.Coverage(alloc.Achieved, targetAmount),
			Confidence:      score.Confidence,
			MatchType:       score.MatchType,
			Reasons:         append(reasons, layers),
		})
	}
	return out
}

func (o *ReconciliationOrchestrator) findCombinations(ctx context.Context, target models.Target, candidates []models.Candidate, cfg tolerance.Config) ([]models.Suggestion, error) {
	combos, err := o.combination.FindCombinations(ctx, target, candidates, cfg.AmountTolerance, o.config.MaxCombos)
	if err != nil {
		return nil, err
	}

	targetAmount := target.AbsAmount()
	expanded := o.config.ExpandedTolerance(cfg.AmountTolerance)
	layers := toleranceReason(cfg)

	out := make([]models.Suggestion, 0, len(combos))
	for _, c := range combos {
		reasons := append([]string{
			"strategy=" + string(models.StrategyCombination),
			"match_type=" + string(models.MatchFuzzy),
		}, c.Reasons(expanded)...)

		out = append(out, models.Suggestion{
			Strategy:        models.StrategyCombination,
			Candidates:      c.Members,
			Coverage:        c.Sum,
			CoveragePercent: matcher.Coverage(c.Sum, targetAmount),
			Confidence:      matcher.RoundConfidence(c.Score),
			MatchType:       models.MatchFuzzy,
			Reasons:         append(reasons, layers),
		})
	}
	return out, nil
}

func toleranceReason(cfg tolerance.Config) string {
	return fmt.Sprintf("tolerance_layers=%s amount_tolerance=%.4f", cfg.Layers(), cfg.AmountTolerance)
}

// Confirm validates the proposed links and persists them with an accepted
// event. It either writes everything or nothing. A refused allocation
// returns the violations together with a validation_failed error.
func (o *ReconciliationOrchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if err := o.validateConfirm(req); err != nil {
		return nil, err
	}

	target := req.Target
	r := o.newRun(target.ID)
	log := o.logger.WithFields(logger.Fields{"target_id": target.ID, "links": len(req.Links)})

	if err := r.enter(ctx, StateResolvingTolerance); err != nil {
		return nil, err
	}
	cfg := o.resolveTolerance(ctx, target)

	if err := r.enter(ctx, StateValidating); err != nil {
		return nil, err
	}
	balances, err := o.readBalances(ctx, req.Links, cfg)
	if err != nil {
		log.WithError(err).Error("Balance read failed")
		return nil, err
	}
	if violations := o.validator.Validate(req.Links, balances, cfg); len(violations) > 0 {
		return o.refuse(r, target.ID, violations, log), errors.ValidationFailed(target.ID, len(violations), models.ViolationKinds(violations))
	}

	if err := r.enter(ctx, StatePersisting); err != nil {
		return nil, err
	}
	batch := o.buildBatch(req)
	ok, violations, err := o.links.WriteLinksTransactional(ctx, batch, o.validator.Bind(cfg))
	if err != nil {
		log.WithError(err).Error("Link write failed")
		return nil, errors.StoreUnavailable("write_links", err)
	}
	if !ok {
		return o.refuse(r, target.ID, violations, log), errors.ValidationFailed(target.ID, len(violations), models.ViolationKinds(violations))
	}

	r.mark(StatePersisted)
	log.WithFields(logger.Fields{
		"event_id": batch.Event.ID,
		"actor":    batch.Event.Actor,
	}).Info("Allocation confirmed")

	return &ConfirmResult{
		OK:      true,
		State:   StatePersisted,
		Links:   batch.Links,
		EventID: batch.Event.ID,
		Trace:   r.trace,
	}, nil
}

func (o *ReconciliationOrchestrator) refuse(r *run, targetID string, violations []models.Violation, log logger.Logger) *ConfirmResult {
	r.mark(StateRejected)
	log.WithField("violations", models.ViolationKinds(violations)).Info("Allocation refused")
	return &ConfirmResult{
		OK:         false,
		State:      StateRejected,
		Violations: violations,
		Trace:      r.trace,
	}
}

func (o *ReconciliationOrchestrator) validateConfirm(req ConfirmRequest) error {
	if err := req.Target.Validate(); err != nil {
		return errors.InvalidInput("target", err.Error())
	}
	if len(req.Links) == 0 {
		return errors.InvalidInput("links", nil)
	}
	for i, l := range req.Links {
		if l.CandidateID == "" {
			return errors.InvalidInput(fmt.Sprintf("links[%d].candidate_id", i), nil)
		}
		if !l.Amount.IsPositive() {
			return errors.InvalidInput(fmt.Sprintf("links[%d].amount", i), l.Amount.String())
		}
		if l.Quantity != nil && l.Quantity.IsNegative() {
			return errors.InvalidInput(fmt.Sprintf("links[%d].quantity", i), l.Quantity.String())
		}
	}
	if o.links == nil {
		return errors.InvalidConfig("link_store", nil, fmt.Errorf("no link store configured"))
	}
	return nil
}

// readBalances is the fast pre-check read; the store re-reads inside its transaction.
func (o *ReconciliationOrchestrator) readBalances(ctx context.Context, links []models.ProposedLink, cfg tolerance.Config) (models.Balances, error) {
	if o.records == nil {
		return models.NewBalances(), nil
	}
	lineKeys := validator.LineKeys(links)
	balances, err := o.records.FetchBalances(ctx, validator.GroupKeys(links), lineKeys)
	if err != nil {
		return models.Balances{}, errors.StoreUnavailable("fetch_balances", err)
	}
	if balances.ThreeWay == nil {
		balances.ThreeWay = make(map[string]models.ThreeWayStatus)
	}
	if cfg.ReceiptRequired {
		threeWay, err := o.records.FetchThreeWay(ctx, lineKeys)
		if err != nil {
			return models.Balances{}, errors.StoreUnavailable("fetch_three_way", err)
		}
		for k, v := range threeWay {
			balances.ThreeWay[k] = v
		}
	}
	return balances, nil
}

func (o *ReconciliationOrchestrator) buildBatch(req ConfirmRequest) models.LinkBatch {
	now := o.now().UTC()
	actor := req.Actor
	if actor == "" {
		actor = DefaultActor
	}

	links := make([]models.Link, len(req.Links))
	chosen := make([]string, 0, len(req.Links))
	seen := make(map[string]bool)
	for i, p := range req.Links {
		links[i] = models.Link{
			ID:          o.newID(),
			TargetID:    req.Target.ID,
			CandidateID: p.CandidateID,
			LineID:      p.LineID,
			GroupKey:    p.GroupKey,
			Amount:      p.Amount,
			Quantity:    p.Quantity,
			CreatedBy:   actor,
			CreatedAt:   now,
		}
		if !seen[p.CandidateID] {
			seen[p.CandidateID] = true
			chosen = append(chosen, p.CandidateID)
		}
	}

	candidateIDs := req.CandidateIDs
	if len(candidateIDs) == 0 {
		candidateIDs = chosen
	}

	return models.LinkBatch{
		Links: links,
		Event: models.MatchEvent{
			ID:           o.newID(),
			TargetID:     req.Target.ID,
			CandidateIDs: candidateIDs,
			ChosenIDs:    chosen,
			Confidence:   req.Confidence,
			Reasons:      req.Reasons,
			Accepted:     true,
			Actor:        actor,
			Metadata:     req.Metadata,
			CreatedAt:    now,
		},
	}
}

// Reject persists an accepted=false event for a dismissed suggestion.
func (o *ReconciliationOrchestrator) Reject(ctx context.Context, req RejectRequest) (*models.MatchEvent, error) {
	if err := req.Target.Validate(); err != nil {
		return nil, errors.InvalidInput("target", err.Error())
	}
	if len(req.CandidateIDs) == 0 {
		return nil, errors.InvalidInput("candidate_ids", nil)
	}
	if o.links == nil {
		return nil, errors.InvalidConfig("link_store", nil, fmt.Errorf("no link store configured"))
	}

	r := o.newRun(req.Target.ID)
	if err := r.enter(ctx, StateRejected); err != nil {
		return nil, err
	}

	actor := req.Actor
	if actor == "" {
		actor = DefaultActor
	}
	event := models.MatchEvent{
		ID:           o.newID(),
		TargetID:     req.Target.ID,
		CandidateIDs: req.CandidateIDs,
		Confidence:   req.Confidence,
		Reasons:      req.Reasons,
		Accepted:     false,
		Actor:        actor,
		Metadata:     req.Metadata,
		CreatedAt:    o.now().UTC(),
	}

	if err := o.links.WriteEvent(ctx, event); err != nil {
		return nil, errors.StoreUnavailable("write_event", err)
	}

	o.logger.WithFields(logger.Fields{
		"target_id": req.Target.ID,
		"event_id":  event.ID,
		"actor":     actor,
	}).Info("Suggestion rejected")
	return &event, nil
}
