package cmd

import (
	"io"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func (cc *cliContext) suggestCommand() *cobra.Command {
	var (
		targetID        string
		windowDays      int
		amountTolerance float64
		kinds           []string
		counterpartyID  string
		maxAmount       string
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Rank match suggestions for a target",
		Long: `Suggest scores the open candidates in the target's date window and ranks
single matches, PO-line subsets and, when neither fits, multi-document combinations.

Examples:
  reconciler suggest --targets targets.csv --candidates candidates.csv --balances balances.csv --target-id BM-1
  reconciler suggest --storage sqlite --sqlite-path recon.db --target-id BM-1 --window-days 60 -f json
  reconciler suggest --target-id BM-1 --kinds po-line,invoice --amount-tolerance 0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if windowDays < 0 {
				return errors.InvalidInput("window-days", windowDays)
			}
			scope := fetcher.ScopeFilter{CounterpartyID: counterpartyID}
			for _, k := range kinds {
				kind, err := models.ParseCandidateKind(k)
				if err != nil {
					return errors.InvalidInput("kinds", k)
				}
				scope.Kinds = append(scope.Kinds, kind)
			}
			if maxAmount != "" {
				v, err := decimal.NewFromString(maxAmount)
				if err != nil || v.IsNegative() {
					return errors.InvalidInput("max-amount", maxAmount)
				}
				scope.MaxAmount = &v
			}

			ctx := cmd.Context()
			op := logger.NewOperationLogger("suggest", cc.logger).WithField("target_id", targetID)

			op.Step("open_store")
			eng, err := cc.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			op.Step("lookup_target")
			target, err := eng.lookupTarget(ctx, targetID)
			if err != nil {
				return err
			}

			req := reconciler.SuggestRequest{Target: target, WindowDays: windowDays, Scope: scope}
			if cmd.Flags().Changed("amount-tolerance") {
				if amountTolerance < 0 || amountTolerance > 1 {
					return errors.InvalidInput("amount-tolerance", amountTolerance)
				}
				req.AmountToleranceOverride = &amountTolerance
			}

			op.Step("rank_candidates")
			resp, err := eng.orchestrator.Suggest(ctx, req)
			if err != nil {
				op.Error(err, "Suggestion failed")
				return err
			}
			op.WithField("suggestions", len(resp.Suggestions)).Success("Suggestions ranked")

			return cc.writeReport(cmd, func(srg *reporter.SafeReportGenerator, w io.Writer) error {
				return srg.WriteSuggestReport(resp, w)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&targetID, "target-id", "t", "", "id of the target to match (required)")
	f.IntVar(&windowDays, "window-days", 0, "date window in days on each side of the target (default from config)")
	f.Float64Var(&amountTolerance, "amount-tolerance", 0, "amount tolerance override as a fraction, e.g. 0.05")
	f.StringSliceVar(&kinds, "kinds", nil, "candidate kinds to consider: po-header, po-line, invoice, expense, receipt")
	f.StringVar(&counterpartyID, "counterparty-id", "", "only consider candidates of this counterparty")
	f.StringVar(&maxAmount, "max-amount", "", "only consider candidates up to this amount")
	_ = cmd.MarkFlagRequired("target-id")
	return cmd
}
