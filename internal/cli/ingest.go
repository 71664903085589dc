package cli

import (
	"github.com/spf13/cobra"

	"loanflow/internal/ingest"
	"loanflow/internal/services"
)

func newIngestCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Turn queued loan applications into workflow records",
		Long: `Receive messages from the intake queue, store each one in the document
store and register an Initial workflow record for it. A message is
acknowledged only after both writes succeed. On interrupt the message in
flight is allowed to finish within ingest.shutdown_grace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, err := app.newLogger("workflow_agent")
			if err != nil {
				return err
			}
			defer logger.Close()

			docs, err := app.openDocuments(ctx)
			if err != nil {
				return err
			}
			defer closeDocuments(docs, logger)
			if err := docs.Migrate(ctx); err != nil {
				return err
			}

			store, err := app.openWorkflows(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			q, client, err := app.openQueue(ctx, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			p := ingest.NewProcessor(q, docs, services.NewWorkflowService(store, store, logger),
				ingest.WithLogger(logger),
				ingest.WithOutput(app.Stdout),
				ingest.WithShutdownGrace(app.Config.Ingest.ShutdownGrace),
			)
			logger.Info("Ingest started", "stream", app.Config.Queue.Stream, "group", app.Config.Queue.Group)
			return p.Run(ctx)
		},
	}
}
