package cmd

import (
	"context"
	"io"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/parsers"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/internal/storage"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
)

// engine is an opened store plus the orchestrator reading from it.
type engine struct {
	store        storage.Store
	orchestrator *reconciler.ReconciliationOrchestrator
	seeded       models.Dataset
	scopes       int
}

func (e *engine) Close() error {
	return e.store.Close()
}

// openEngine opens the configured store, loads any configured dataset and
// tolerance file into it and builds the orchestrator.
func (cc *cliContext) openEngine(ctx context.Context) (*engine, error) {
	store, err := storage.Open(ctx, cc.config.Storage, cc.logger)
	if err != nil {
		return nil, err
	}
	e := &engine{store: store}

	if err := cc.seed(ctx, e); err != nil {
		store.Close()
		return nil, err
	}

	e.orchestrator = reconciler.NewReconciliationOrchestrator(reconciler.Dependencies{
		Tolerances: store,
		Records:    store,
		Links:      store,
	}, &cc.config.Matching, cc.logger)
	cc.logger.WithField("matching", e.orchestrator.GetMatchingConfig().String()).Debug("Matching configuration")
	if cc.verbose {
		e.orchestrator.AddStateCallback(func(t reconciler.StateTransition) {
			cc.logger.WithFields(logger.Fields{"target_id": t.TargetID, "state": t.State}).Debug("State entered")
		})
	}
	return e, nil
}

func (cc *cliContext) seed(ctx context.Context, e *engine) error {
	if cc.config.HasDataset() {
		loader := parsers.NewLoader(&cc.config.Parsing, cc.logger)
		data, results, err := loader.LoadDataset(ctx, cc.config.Dataset)
		for _, r := range results {
			if r.Stats != nil && r.Stats.HasErrors() {
				cc.logger.WithFields(logger.Fields{
					"file":  r.FilePath,
					"stats": r.Stats.String(),
				}).Warn("Skipped malformed records")
			}
		}
		if err != nil {
			return err
		}

		err = logger.TimedOperation("seed_dataset", cc.logger, func() error {
			return e.store.Seed(ctx, data)
		})
		if err != nil {
			return errors.StoreUnavailable("seed", err)
		}
		e.seeded = data
	}

	if cc.config.TolerancesFile != "" {
		scopes, err := parsers.LoadToleranceScopes(cc.config.TolerancesFile)
		if err != nil {
			return err
		}
		if err := e.store.PutTolerances(ctx, scopes); err != nil {
			return errors.StoreUnavailable("put_tolerances", err)
		}
		e.scopes = len(scopes)
	}
	return nil
}

// lookupTarget reads a stored target by id.
func (e *engine) lookupTarget(ctx context.Context, id string) (models.Target, error) {
	if id == "" {
		return models.Target{}, errors.InvalidInput("target-id", nil).
			WithSuggestion("pass --target-id with the id of a loaded target")
	}
	t, err := e.store.GetTarget(ctx, id)
	if err != nil {
		if _, ok := errors.AsReconcilerError(err); ok {
			return models.Target{}, err
		}
		return models.Target{}, errors.StoreUnavailable("get_target", err)
	}
	return t, nil
}

type renderFunc func(srg *reporter.SafeReportGenerator, w io.Writer) error

// writeReport renders to --output-file, or to the command's stdout.
func (cc *cliContext) writeReport(cmd *cobra.Command, render renderFunc) error {
	cfg := cc.config.Report
	toFile := cc.outputFile != "" && cc.outputFile != "-"
	if toFile {
		cfg.UseColors = false
	}
	srg, err := reporter.NewSafeReportGenerator(&cfg, cc.logger)
	if err != nil {
		return err
	}

	if !toFile {
		return render(srg, cmd.OutOrStdout())
	}
	out, err := srg.OpenOutput(cc.outputFile)
	if err != nil {
		return err
	}
	defer out.Close()
	return render(srg, out)
}
