package reconciler

import (
	"context"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
)

// ConfigStore serves tolerance overrides per scope.
type ConfigStore = tolerance.Store

// RecordStore reads candidates and open balances. Balances are net of
// persisted links. FetchBalances also returns the groups of requested lines.
type RecordStore interface {
	fetcher.Source
	FetchBalances(ctx context.Context, groupKeys, lineKeys []string) (models.Balances, error)
	FetchThreeWay(ctx context.Context, lineKeys []string) (map[string]models.ThreeWayStatus, error)
}

// LinkStore persists confirmed allocations and audit events.
//
// WriteLinksTransactional re-reads balances for the batch inside one
// transaction, runs check against them and writes the links plus the batch
// event only when check reports no violations. ok=false with violations
// means nothing was written.
type LinkStore interface {
	WriteLinksTransactional(ctx context.Context, batch models.LinkBatch, check validator.CheckFunc) (ok bool, violations []models.Violation, err error)
	WriteEvent(ctx context.Context, event models.MatchEvent) error
}

// Dependencies groups the stores the orchestrator calls into.
type Dependencies struct {
	Tolerances ConfigStore
	Records    RecordStore
	Links      LinkStore
}
