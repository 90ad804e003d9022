package tolerance

import (
	"context"

	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// Resolver merges scope overrides from a Store. It keeps no state between calls.
type Resolver struct {
	store  Store
	logger logger.Logger
}

// NewResolver creates a resolver over store. A nil store always yields defaults.
func NewResolver(store Store, log logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.OrNop(log).WithComponent("tolerance_resolver"),
	}
}

type scopeLookup struct {
	scope Scope
	key   string
}

// Resolve returns the effective configuration for a vendor and project.
// Empty keys skip their scope. Any store failure falls back to Defaults();
// Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context, vendorKey, projectKey string) Config {
	cfg := Defaults()
	if r.store == nil {
		return cfg
	}

	lookups := []scopeLookup{{ScopeGlobal, GlobalKey}}
	if projectKey != "" {
		lookups = append(lookups, scopeLookup{ScopeProject, projectKey})
	}
	if vendorKey != "" {
		lookups = append(lookups, scopeLookup{ScopeVendor, vendorKey})
	}

	for _, l := range lookups {
		override, found, err := r.store.GetTolerance(ctx, l.scope, l.key)
		if err != nil {
			r.logger.WithError(errors.ConfigUnavailable(string(l.scope), err)).
				WithField("scope_key", l.key).
				Warn("Tolerance store unavailable, using hard defaults")
			return Defaults()
		}
		if !found || !override.Defines() {
			continue
		}
		cfg = override.applyTo(cfg)
		cfg.SourceLayers = append(cfg.SourceLayers, string(l.scope))
	}

	r.logger.WithFields(logger.Fields{
		"vendor":           vendorKey,
		"project":          projectKey,
		"amount_tolerance": cfg.AmountTolerance,
		"qty_tolerance":    cfg.QtyTolerance,
		"source_layers":    cfg.Layers(),
	}).Debug("Resolved tolerance configuration")

	return cfg
}
