// Package storage provides the record, configuration and link stores the
// reconciliation engine runs against.
//
// Three implementations share one behaviour:
//   - MemoryStore: in-process maps guarded by a mutex, for tests and CSV runs
//   - SQLiteStore: database/sql over mattn/go-sqlite3 with immediate transactions
//   - PostgresStore: pgx connection pool with row locks taken by SELECT ... FOR UPDATE
//
// Every store reports open balances, i.e. base balances net of the links it
// has persisted, and refuses a link batch whose check fails against the
// balances read inside the write transaction. A candidate without a seeded
// line row is its own line, holding the candidate amount.
package storage

import (
	"context"
	"sort"
	"sync"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
	"golang-reconciliation-engine/pkg/errors"
)

type scopeKey struct {
	scope tolerance.Scope
	key   string
}

// MemoryStore keeps everything in memory. It is safe for concurrent use;
// WriteLinksTransactional holds the write lock across check and write.
type MemoryStore struct {
	mu         sync.RWMutex
	tolerances map[scopeKey]tolerance.Override
	targets    map[string]models.Target
	candidates []models.Candidate
	groups     map[string]models.GroupBalance
	lines      map[string]models.LineBalance
	threeWay   map[string]models.ThreeWayStatus
	links      []models.Link
	events     []models.MatchEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tolerances: make(map[scopeKey]tolerance.Override),
		targets:    make(map[string]models.Target),
		groups:     make(map[string]models.GroupBalance),
		lines:      make(map[string]models.LineBalance),
		threeWay:   make(map[string]models.ThreeWayStatus),
	}
}

// Seed loads reference data. Existing entries with the same key are replaced.
func (s *MemoryStore) Seed(ctx context.Context, data models.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range data.Targets {
		s.targets[t.ID] = t
	}
	for _, c := range data.Candidates {
		replaced := false
		for i := range s.candidates {
			if s.candidates[i].ID == c.ID {
				s.candidates[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.candidates = append(s.candidates, c)
		}
	}
	for _, g := range data.Groups {
		s.groups[g.GroupKey] = g
	}
	for _, l := range data.Lines {
		s.lines[l.LineKey] = l
	}
	for _, tw := range data.ThreeWay {
		s.threeWay[tw.LineKey] = tw
	}
	return nil
}

// PutTolerances stores scope overrides.
func (s *MemoryStore) PutTolerances(ctx context.Context, overrides []tolerance.ScopeOverride) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range overrides {
		s.tolerances[scopeKey{o.Scope, o.Key}] = o.Override
	}
	return nil
}

// GetTolerance implements tolerance.Store.
func (s *MemoryStore) GetTolerance(ctx context.Context, scope tolerance.Scope, key string) (tolerance.Override, bool, error) {
	if err := ctx.Err(); err != nil {
		return tolerance.Override{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.tolerances[scopeKey{scope, key}]
	return o, ok, nil
}

// GetTarget returns a stored target by id.
func (s *MemoryStore) GetTarget(ctx context.Context, id string) (models.Target, error) {
	if err := ctx.Err(); err != nil {
		return models.Target{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return models.Target{}, errors.NotFound("target", id)
	}
	return t, nil
}

// FetchCandidates returns open candidates matching filter, in load order.
func (s *MemoryStore) FetchCandidates(ctx context.Context, filter fetcher.CandidateFilter) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l := newLedger(s.links)
	var out []models.Candidate
	for _, c := range s.candidates {
		var line *models.LineBalance
		if lb, ok := s.lines[c.LineKey()]; ok {
			line = &lb
		}
		open, ok := l.openCandidate(c, line)
		if !ok || !filter.Matches(open) {
			continue
		}
		out = append(out, open)
	}
	return out, nil
}

// FetchBalances returns open balances for the requested keys and the groups of the requested lines.
func (s *MemoryStore) FetchBalances(ctx context.Context, groupKeys, lineKeys []string) (models.Balances, error) {
	if err := ctx.Err(); err != nil {
		return models.Balances{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balancesLocked(groupKeys, lineKeys, false), nil
}

// FetchThreeWay returns three-way status with linked quantities counted as invoiced.
func (s *MemoryStore) FetchThreeWay(ctx context.Context, lineKeys []string) (map[string]models.ThreeWayStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balancesLocked(nil, lineKeys, true).ThreeWay, nil
}

func (s *MemoryStore) balancesLocked(groupKeys, lineKeys []string, withThreeWay bool) models.Balances {
	l := newLedger(s.links)
	b := models.NewBalances()

	groups := append([]string(nil), groupKeys...)
	for _, k := range lineKeys {
		line, ok := s.lineLocked(k)
		if !ok {
			continue
		}
		b.Lines[k] = l.openLine(line)
		if line.GroupKey != "" {
			groups = append(groups, line.GroupKey)
		}
	}
	for _, k := range groups {
		if g, ok := s.groups[k]; ok {
			b.Groups[k] = l.openGroup(g)
		}
	}
	if withThreeWay {
		for _, k := range lineKeys {
			if tw, ok := s.threeWay[k]; ok {
				b.ThreeWay[k] = l.openThreeWay(tw)
			}
		}
	}
	return b
}

// lineLocked returns the line row of key, or the balance of the candidate
// with that id when no row was seeded.
func (s *MemoryStore) lineLocked(key string) (models.LineBalance, bool) {
	if line, ok := s.lines[key]; ok {
		return line, true
	}
	for _, c := range s.candidates {
		if c.LineKey() == key {
			return candidateLine(c), true
		}
	}
	return models.LineBalance{}, false
}

// WriteLinksTransactional checks the batch against current balances and
// appends its links and event under one lock.
func (s *MemoryStore) WriteLinksTransactional(ctx context.Context, batch models.LinkBatch, check validator.CheckFunc) (bool, []models.Violation, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	proposed := batch.ProposedLinks()
	balances := s.balancesLocked(validator.GroupKeys(proposed), validator.LineKeys(proposed), true)
	if check != nil {
		if violations := check(proposed, balances); len(violations) > 0 {
			return false, violations, nil
		}
	}

	links := resolveGroupKeys(batch.Links, balances.Lines)
	s.links = append(s.links, links...)
	s.events = append(s.events, batch.Event)
	return true, nil, nil
}

// WriteEvent appends an audit event.
func (s *MemoryStore) WriteEvent(ctx context.Context, event models.MatchEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Links returns the persisted links of a target, or all links for an empty id.
func (s *MemoryStore) Links(ctx context.Context, targetID string) ([]models.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Link
	for _, l := range s.links {
		if targetID == "" || l.TargetID == targetID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Events returns the audit events of a target, or all events for an empty id, oldest first.
func (s *MemoryStore) Events(ctx context.Context, targetID string) ([]models.MatchEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MatchEvent
	for _, e := range s.events {
		if targetID == "" || e.TargetID == targetID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
