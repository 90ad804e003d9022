package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-reconciliation-engine/internal/api"
	"golang-reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func (cc *cliContext) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the suggest, confirm and reject operations over HTTP",
		Long: `Serve exposes the matching engine as a JSON API:

  GET  /healthz
  POST /v1/suggestions
  POST /v1/confirmations
  POST /v1/rejections

Example:
  reconciler serve --storage postgres --postgres-url postgres://localhost/recon --listen :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := cc.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			srv := api.NewServer(cc.config.Server, eng.orchestrator, eng.store, cc.logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return errors.InternalError("serve", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errors.InternalError("shutdown", err)
			}
			return <-errCh
		},
	}

	cmd.Flags().String("listen", "", "listen address (default from config, :8080)")
	cc.bind(cmd.Flags(), map[string]string{"server.listen_addr": "listen"})
	return cmd
}
