package cmd

import (
	"io"

	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

func (cc *cliContext) historyCommand() *cobra.Command {
	var targetID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the match events recorded for a target",
		Example: `  reconciler history --storage sqlite --sqlite-path recon.db --target-id BM-1
  reconciler history --storage sqlite --sqlite-path recon.db --target-id BM-1 -f csv -o events.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := cc.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			events, err := eng.store.Events(ctx, targetID)
			if err != nil {
				return errors.StoreUnavailable("list_events", err)
			}
			return cc.writeReport(cmd, func(srg *reporter.SafeReportGenerator, w io.Writer) error {
				return srg.WriteEventsReport(events, w)
			})
		},
	}
	cmd.Flags().StringVarP(&targetID, "target-id", "t", "", "id of the target (required)")
	_ = cmd.MarkFlagRequired("target-id")
	return cmd
}
