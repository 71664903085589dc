package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(app *App) *cobra.Command {
	var skipDocuments bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the workflow tables and document indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, err := app.newLogger("migrate")
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := app.openWorkflows(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("Workflow schema ready", "driver", app.Config.DB.Driver)
			fmt.Fprintln(app.Stdout, "workflow schema ready")

			if skipDocuments {
				return nil
			}
			docs, err := app.openDocuments(ctx)
			if err != nil {
				return err
			}
			defer closeDocuments(docs, logger)
			if err := docs.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("Document indexes ready", "database", app.Config.Documents.Database)
			fmt.Fprintln(app.Stdout, "document indexes ready")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipDocuments, "skip-documents", false, "only migrate the workflow database")
	return cmd
}
