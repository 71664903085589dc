// Package cli wires configuration, storage and agents into the loanflow
// commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loanflow/internal/config"
	"loanflow/internal/logging"
)

// Version is reported by the API health endpoints and the MCP servers.
var Version = "dev"

// App holds what every command shares: its streams and the loaded config.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	EnvFile string
	Config  *config.Config
}

// NewApp returns an App bound to the given streams.
func NewApp(stdin io.Reader, stdout, stderr io.Writer) *App {
	return &App{Stdin: stdin, Stdout: stdout, Stderr: stderr}
}

// NewRootCommand builds the loanflow command tree.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "loanflow",
		Short:         "Loan processing workflow orchestration",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(app.EnvFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app.Config = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&app.EnvFile, "env", "", "path to a .env file")

	root.AddCommand(
		newAgentCommand(app),
		newOrchestrateCommand(app),
		newIngestCommand(app),
		newServeCommand(app),
		newMigrateCommand(app),
	)
	return root
}

// Run executes the command line args and returns the process exit code.
func Run(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetIn(app.Stdin)
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return code
		}
		fmt.Fprintf(app.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	return ExitOK
}

// Execute runs the process command line until it finishes or the process
// is interrupted.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, NewApp(os.Stdin, os.Stdout, os.Stderr), os.Args[1:])
}

// newLogger builds the logger for one process. The console is always
// stderr: stdout belongs to the stdio transport or to command output.
func (a *App) newLogger(component string) (*logging.Logger, error) {
	logger, err := logging.NewLogger(logging.Options{
		Component: component,
		Level:     a.Config.Logging.Level,
		Format:    a.Config.Logging.Format,
		Dir:       a.Config.Logging.Dir,
		Console:   a.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logger, nil
}
