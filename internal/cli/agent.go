package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loanflow/internal/agents"
	"loanflow/internal/capability"
	"loanflow/internal/logging"
	"loanflow/internal/mcp"
	"loanflow/internal/services"
)

type agentFlags struct {
	transport string
	port      int
}

func newAgentCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve a subordinate agent over MCP",
	}
	cmd.AddCommand(
		newCommercialLoanAgentCommand(app),
		newStatusLoggingAgentCommand(app),
	)
	return cmd
}

func (f *agentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.transport, "transport", mcp.TransportStdio, "MCP transport: stdio or sse")
	cmd.Flags().IntVar(&f.port, "port", 0, "listen port, required for the sse transport")
}

func newCommercialLoanAgentCommand(app *App) *cobra.Command {
	var flags agentFlags
	cmd := &cobra.Command{
		Use:   "commercial-loan",
		Short: "Serve validate_application, get_credit_score and get_approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.newLogger("commercial_loan_agent")
			if err != nil {
				return err
			}
			defer logger.Close()

			approvals, err := app.approvalClient()
			if err != nil {
				return err
			}
			registry, err := agents.CommercialLoan(approvals, logger)
			if err != nil {
				return err
			}
			return app.serveAgent(cmd.Context(), agents.CommercialLoanAgent, registry, flags, logger)
		},
	}
	flags.register(cmd)
	return cmd
}

func newStatusLoggingAgentCommand(app *App) *cobra.Command {
	var flags agentFlags
	cmd := &cobra.Command{
		Use:   "status-logging",
		Short: "Serve log_step and update_workflow_status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, err := app.newLogger("status_logging_agent")
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := app.openWorkflows(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			registry, err := agents.StatusLogging(services.NewWorkflowService(store, store, logger), logger)
			if err != nil {
				return err
			}
			return app.serveAgent(ctx, agents.StatusLoggingAgent, registry, flags, logger)
		},
	}
	flags.register(cmd)
	return cmd
}

// serveAgent blocks serving registry until ctx is done or the stdio peer
// hangs up.
func (a *App) serveAgent(ctx context.Context, name string, registry *capability.Registry, flags agentFlags, logger *logging.Logger) error {
	srv := mcp.NewServer(name, Version, registry, logger)
	switch strings.ToLower(flags.transport) {
	case mcp.TransportStdio:
		return srv.ServeStdio(ctx, a.Stdin, a.Stdout)
	case mcp.TransportSSE:
		return srv.Serve(ctx, mcp.TransportSSE, flags.port)
	}
	return fmt.Errorf("unsupported transport %q (supported: stdio, sse)", flags.transport)
}
