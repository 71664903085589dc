package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/internal/config"
	"loanflow/internal/repository"
	"loanflow/internal/services"
	"loanflow/pkg/models"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// runCLI executes args in a scratch working directory so config files and
// log files never leak between tests.
func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	app := NewApp(strings.NewReader(""), &stdout, &stderr)
	code := Run(context.Background(), app, args)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestIsExitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOK   bool
	}{
		{"nil", nil, 0, false},
		{"plain error", errors.New("boom"), 0, false},
		{"exit error", NewExitError(ExitWorkflowFailed), ExitWorkflowFailed, true},
		{"wrapped", fmt.Errorf("orchestrate: %w", NewExitError(3)), 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := IsExitError(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
	assert.Equal(t, "exit status 2", NewExitError(2).Error())
}

func TestRun_Version(t *testing.T) {
	res := runCLI(t, "--version")
	assert.Equal(t, ExitOK, res.code)
	assert.Contains(t, res.stdout, "loanflow version "+Version)
}

func TestRun_UnknownCommand(t *testing.T) {
	res := runCLI(t, "underwrite")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "unknown command")
}

func TestRun_BadEnvFile(t *testing.T) {
	res := runCLI(t, "--env", "missing.env", "migrate")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "failed to load configuration")
}

func TestOrchestrate_RequiresWorkflowID(t *testing.T) {
	t.Setenv(WorkflowIDEnv, "")

	res := runCLI(t, "orchestrate")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "no workflow id")
}

func TestWorkflowIDs(t *testing.T) {
	t.Setenv(WorkflowIDEnv, " W-env ")
	assert.Equal(t, []string{"W1", "W2"}, workflowIDs([]string{" W1", "", "W2 "}))
	assert.Equal(t, []string{"W-env"}, workflowIDs(nil))

	t.Setenv(WorkflowIDEnv, "")
	assert.Empty(t, workflowIDs([]string{"  "}))
}

func TestReportRuns(t *testing.T) {
	newApp := func() (*App, *bytes.Buffer) {
		var out bytes.Buffer
		return &App{Stdout: &out}, &out
	}

	t.Run("all completed", func(t *testing.T) {
		app, out := newApp()
		err := reportRuns(app, []string{"W2", "W1"}, map[string]models.Status{
			"W1": models.StatusCompleted,
			"W2": models.StatusCompleted,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "W1\tCompleted\nW2\tCompleted\n", out.String())
	})

	t.Run("one failed", func(t *testing.T) {
		app, _ := newApp()
		err := reportRuns(app, []string{"W1", "W2"}, map[string]models.Status{
			"W1": models.StatusCompleted,
			"W2": models.StatusFailed,
		}, nil)
		code, ok := IsExitError(err)
		require.True(t, ok)
		assert.Equal(t, ExitWorkflowFailed, code)
	})

	t.Run("infrastructure error wins", func(t *testing.T) {
		app, out := newApp()
		runErr := errors.New("workflow W2: not found")
		err := reportRuns(app, []string{"W1", "W2"}, map[string]models.Status{
			"W1": models.StatusFailed,
		}, runErr)
		assert.ErrorIs(t, err, runErr)
		_, ok := IsExitError(err)
		assert.False(t, ok)
		assert.Contains(t, out.String(), "W2\terror\n")
	})
}

func TestAgent_UnsupportedTransport(t *testing.T) {
	res := runCLI(t, "agent", "commercial-loan", "--transport", "carrier-pigeon")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, `unsupported transport "carrier-pigeon"`)
}

func TestAgent_SSERequiresPort(t *testing.T) {
	res := runCLI(t, "agent", "commercial-loan", "--transport", "sse")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "sse transport requires a port")
}

func TestApprovalClient(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		url     string
		wantErr string
	}{
		{name: "default", mode: ""},
		{name: "simulated", mode: "Simulated"},
		{name: "http", mode: "http", url: "http://approvals.internal"},
		{name: "http without url", mode: "http", wantErr: "approval.url is required"},
		{name: "unknown", mode: "fax", wantErr: `unknown approval mode "fax"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Approval.Mode = tt.mode
			cfg.Approval.URL = tt.url
			app := &App{Config: cfg}

			client, err := app.approvalClient()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.mode == "http" {
				assert.IsType(t, &services.HTTPApprovalClient{}, client)
			} else {
				assert.IsType(t, &services.SimulatedApprovalClient{}, client)
			}
		})
	}
}

func TestMigrate_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "workflows.db")
	t.Setenv("LOANFLOW_DB_DRIVER", "sqlite3")
	t.Setenv("LOANFLOW_DB_DSN", dsn)

	res := runCLI(t, "migrate", "--skip-documents")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "workflow schema ready\n", res.stdout)

	// A second run is a no-op.
	res = runCLI(t, "migrate", "--skip-documents")
	require.Equal(t, ExitOK, res.code, res.stderr)

	ctx := context.Background()
	db, dialect, err := repository.OpenDB(ctx, "sqlite3", dsn, 1, 1)
	require.NoError(t, err)
	defer db.Close()
	store, err := repository.NewSQLStore(db, dialect)
	require.NoError(t, err)

	svc := services.NewWorkflowService(store, store, nil)
	created, err := svc.Register(ctx, "W1")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDefaultPublicURL(t *testing.T) {
	tests := []struct {
		addr string
		tls  bool
		want string
	}{
		{":8080", false, "http://localhost:8080"},
		{"0.0.0.0:8443", true, "https://localhost:8443"},
		{"api.internal:9000", false, "http://api.internal:9000"},
		{"[::]:8080", false, "http://localhost:8080"},
		{"localhost", false, "http://localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, defaultPublicURL(tt.addr, tt.tls))
		})
	}
}
