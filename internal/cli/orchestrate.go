package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"loanflow/internal/controller"
	"loanflow/pkg/models"
)

// WorkflowIDEnv names the workflow to run when no --workflow-id is given.
const WorkflowIDEnv = "WORKFLOW_ID"

func newOrchestrateCommand(app *App) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run stored workflows through the agents",
		Long: `Load each workflow document from the document store and execute its
steps in order against the commercial loan and status logging agents.
Exits 2 when any workflow ends Failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids = workflowIDs(ids)
			if len(ids) == 0 {
				return fmt.Errorf("no workflow id: pass --workflow-id or set %s", WorkflowIDEnv)
			}

			ctx := cmd.Context()
			logger, err := app.newLogger("orchestrator_agent")
			if err != nil {
				return err
			}
			defer logger.Close()

			docs, err := app.openDocuments(ctx)
			if err != nil {
				return err
			}
			defer closeDocuments(docs, logger)

			set, err := app.connectAgents(ctx, nil, logger)
			if err != nil {
				return err
			}
			defer set.Close()

			ctrl, err := app.newController(set.chain, logger)
			if err != nil {
				return err
			}

			results, runErr := ctrl.RunMany(ctx, controller.NewStoreLoader(docs), ids)
			return reportRuns(app, ids, results, runErr)
		},
	}
	cmd.Flags().StringSliceVar(&ids, "workflow-id", nil, "workflow to run (repeatable)")
	return cmd
}

// workflowIDs returns the flag values, or the environment fallback.
func workflowIDs(flagged []string) []string {
	var ids []string
	for _, id := range flagged {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		if id := strings.TrimSpace(os.Getenv(WorkflowIDEnv)); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// reportRuns prints one line per workflow and maps the outcome to an exit
// code.
func reportRuns(app *App, ids []string, results map[string]models.Status, runErr error) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	failed := false
	for _, id := range sorted {
		status, ok := results[id]
		if !ok {
			fmt.Fprintf(app.Stdout, "%s\terror\n", id)
			continue
		}
		fmt.Fprintf(app.Stdout, "%s\t%s\n", id, status)
		if status == models.StatusFailed {
			failed = true
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed {
		return NewExitError(ExitWorkflowFailed)
	}
	return nil
}
