package cmd

import (
	"io"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

func (cc *cliContext) rejectCommand() *cobra.Command {
	var (
		targetID     string
		candidateIDs []string
		actor        string
		confidence   float64
		reasons      []string
		metadata     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Record that a suggestion was dismissed",
		Long: `Reject appends a match event with accepted=false for the dismissed candidate set.
No balance changes.

Example:
  reconciler reject --storage sqlite --sqlite-path recon.db --target-id BM-1 --candidate-ids L1,L2 --actor bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(candidateIDs) == 0 {
				return errors.InvalidInput("candidate-ids", nil)
			}
			ctx := cmd.Context()
			eng, err := cc.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			target, err := eng.lookupTarget(ctx, targetID)
			if err != nil {
				return err
			}

			event, err := eng.orchestrator.Reject(ctx, reconciler.RejectRequest{
				Target:       target,
				CandidateIDs: candidateIDs,
				Actor:        actor,
				Confidence:   confidence,
				Reasons:      reasons,
				Metadata:     metadata,
			})
			if err != nil {
				return err
			}

			return cc.writeReport(cmd, func(srg *reporter.SafeReportGenerator, w io.Writer) error {
				return srg.WriteEventsReport([]models.MatchEvent{*event}, w)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&targetID, "target-id", "t", "", "id of the target (required)")
	f.StringSliceVar(&candidateIDs, "candidate-ids", nil, "dismissed candidate ids (required)")
	f.StringVar(&actor, "actor", "", "who dismissed the suggestion")
	f.Float64Var(&confidence, "confidence", 0, "confidence of the dismissed suggestion")
	f.StringArrayVar(&reasons, "reason", nil, "reason recorded on the match event (repeatable)")
	f.StringToStringVar(&metadata, "metadata", nil, "metadata recorded on the match event, key=value")
	_ = cmd.MarkFlagRequired("target-id")
	return cmd
}
