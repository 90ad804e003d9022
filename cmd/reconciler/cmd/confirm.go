package cmd

import (
	"fmt"
	"io"
	"strings"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/parsers"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
)

func (cc *cliContext) confirmCommand() *cobra.Command {
	var (
		targetID     string
		linksFile    string
		linkSpecs    []string
		actor        string
		candidateIDs []string
		confidence   float64
		reasons      []string
		metadata     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Persist a chosen allocation for a target",
		Long: `Confirm validates the allocation against the open balances and writes the
links together with an accepted match event in one transaction. A refused
allocation writes nothing and exits with status 3.

Links are given as a CSV file (candidate_id,amount[,line_id,group_key,quantity])
or with repeated --link CANDIDATE:AMOUNT[:QTY] flags.

Examples:
  reconciler confirm --storage sqlite --sqlite-path recon.db --target-id BM-1 --link L1:4000 --link L2:3000:30
  reconciler confirm --target-id BM-1 --links links.csv --actor alice --metadata ticket=RC-17`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			links, err := parseLinkSpecs(linkSpecs)
			if err != nil {
				return err
			}
			if linksFile != "" {
				loader := parsers.NewLoader(&cc.config.Parsing, cc.logger)
				fromFile, stats, err := loader.LoadLinks(ctx, linksFile)
				if err != nil {
					return err
				}
				if stats.HasErrors() {
					return errors.New(errors.CategoryParse, errors.CodeInvalidFormat,
						fmt.Sprintf("links file has %d malformed record(s)", stats.ErrorCount)).
						WithContext("file", linksFile).
						WithSuggestion("fix the reported rows; a partial allocation is never confirmed")
				}
				links = append(links, fromFile...)
			}
			if len(links) == 0 {
				return errors.InvalidInput("links", nil).WithSuggestion("pass --links FILE or --link CANDIDATE:AMOUNT")
			}

			op := logger.NewOperationLogger("confirm", cc.logger).
				WithField("target_id", targetID).
				WithField("links", len(links))

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

			if len(candidateIDs) == 0 {
				for _, l := range links {
					candidateIDs = append(candidateIDs, l.CandidateID)
				}
			}

			op.Step("write_links")
			result, confirmErr := eng.orchestrator.Confirm(ctx, reconciler.ConfirmRequest{
				Target:       target,
				Links:        links,
				Actor:        actor,
				CandidateIDs: candidateIDs,
				Confidence:   confidence,
				Reasons:      reasons,
				Metadata:     metadata,
			})
			if confirmErr != nil {
				op.Error(confirmErr, "Confirm failed")
				if result == nil {
					return confirmErr
				}
			} else {
				op.WithField("event_id", result.EventID).Success("Allocation persisted")
			}

			err = cc.writeReport(cmd, func(srg *reporter.SafeReportGenerator, w io.Writer) error {
				return srg.WriteConfirmReport(result, w)
			})
			if confirmErr != nil {
				return confirmErr
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&targetID, "target-id", "t", "", "id of the target (required)")
	f.StringVar(&linksFile, "links", "", "CSV file of proposed links")
	f.StringArrayVar(&linkSpecs, "link", nil, "proposed link as CANDIDATE:AMOUNT[:QTY] (repeatable)")
	f.StringVar(&actor, "actor", "", "who confirms the allocation")
	f.StringSliceVar(&candidateIDs, "candidate-ids", nil, "candidate set that was suggested (default: the linked candidates)")
	f.Float64Var(&confidence, "confidence", 0, "confidence of the chosen suggestion")
	f.StringArrayVar(&reasons, "reason", nil, "reason recorded on the match event (repeatable)")
	f.StringToStringVar(&metadata, "metadata", nil, "metadata recorded on the match event, key=value")
	_ = cmd.MarkFlagRequired("target-id")
	return cmd
}

// parseLinkSpecs parses CANDIDATE:AMOUNT[:QTY] flag values.
func parseLinkSpecs(values []string) ([]models.ProposedLink, error) {
	var links []models.ProposedLink
	for _, raw := range values {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, errors.InvalidInput("link", raw).WithSuggestion("use CANDIDATE:AMOUNT or CANDIDATE:AMOUNT:QTY")
		}
		amount, err := parsers.ParseAmount(parts[1])
		if err != nil {
			return nil, errors.InvalidInput("link", raw)
		}
		link := models.ProposedLink{CandidateID: strings.TrimSpace(parts[0]), Amount: amount}
		if len(parts) == 3 {
			qty, err := parsers.ParseAmount(parts[2])
			if err != nil {
				return nil, errors.InvalidInput("link", raw)
			}
			link.Quantity = &qty
		}
		links = append(links, link)
	}
	return links, nil
}
