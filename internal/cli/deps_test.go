package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/internal/agents"
	"loanflow/internal/config"
	"loanflow/internal/logging"
	"loanflow/internal/mcp"
	"loanflow/internal/repository"
	"loanflow/internal/services"
	"loanflow/pkg/models"
)

// stubConnect makes every dial to the named agents fail.
func stubConnect(t *testing.T, down ...string) {
	t.Helper()
	orig := connectAgent
	t.Cleanup(func() { connectAgent = orig })
	connectAgent = func(ctx context.Context, name string, cfg config.AgentConfig, logger *logging.Logger) (*mcp.RemoteAgent, error) {
		for _, d := range down {
			if d == name {
				return nil, fmt.Errorf("dial %s: connection refused", name)
			}
		}
		return nil, errors.New("unexpected dial to " + name)
	}
}

func TestConnectAgents_LoanAgentDownFailsTheStep(t *testing.T) {
	stubConnect(t, agents.CommercialLoanAgent)
	ctx := context.Background()

	db, dialect, err := repository.OpenDB(ctx, "sqlite3", filepath.Join(t.TempDir(), "workflows.db"), 1, 1)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := repository.NewSQLStore(db, dialect)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	svc := services.NewWorkflowService(store, store, nil)
	_, err = svc.Register(ctx, "W1")
	require.NoError(t, err)
	status, err := agents.StatusLogging(svc, nil)
	require.NoError(t, err)

	app := &App{Config: &config.Config{}}
	set, err := app.connectAgents(ctx, status, logging.Nop())
	require.NoError(t, err)
	defer set.Close()
	assert.Len(t, set.chain, 1)

	ctrl, err := app.newController(set.chain, logging.Nop())
	require.NoError(t, err)

	got, err := ctrl.RunWorkflow(ctx, models.WorkflowDocument{ID: "W1", Steps: []models.Step{
		{Index: 1, Instruction: "Validate the application", Capability: agents.ValidateApplication},
	}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got)

	rec, err := store.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.CurrentStep)

	entries, err := store.ListSteps(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StepFailed, entries[0].Status)
	assert.Contains(t, entries[0].Comment, "capability not found")
}

func TestConnectAgents_StatusAgentDownIsFatal(t *testing.T) {
	stubConnect(t, agents.StatusLoggingAgent, agents.CommercialLoanAgent)

	app := &App{Config: &config.Config{}}
	set, err := app.connectAgents(context.Background(), nil, logging.Nop())
	require.Error(t, err)
	assert.Nil(t, set)
	assert.Contains(t, err.Error(), agents.StatusLoggingAgent)
}
