package mcp

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/internal/agents"
	"loanflow/internal/capability"
	"loanflow/internal/config"
	"loanflow/internal/services"
	"loanflow/pkg/models"
)

func newInProcessAgent(t *testing.T, registry *capability.Registry) *RemoteAgent {
	t.Helper()
	ctx := context.Background()

	srv := NewServer("TestAgent", "1.0.0", registry, nil)
	c, err := client.NewInProcessClient(srv.GetMCPServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	agent, err := NewRemoteAgent(ctx, "TestAgent", c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { agent.Close() })
	return agent
}

func loanRegistry(t *testing.T, status models.ApprovalStatus) *capability.Registry {
	t.Helper()
	r, err := agents.CommercialLoan(services.NewFixedApprovalClient(0, status), nil)
	require.NoError(t, err)
	return r
}

func TestRemoteAgent_ListsToolsWithSchema(t *testing.T) {
	agent := newInProcessAgent(t, loanRegistry(t, models.ApprovalApproved))

	assert.Len(t, agent.List(), 3)

	c, ok := agent.Lookup(agents.GetApproval)
	require.True(t, ok)
	assert.True(t, c.LongRunning)
	p, ok := c.Param(agents.ParamApplicationData)
	require.True(t, ok)
	assert.True(t, p.Required)
	assert.Equal(t, capability.TypeString, p.Type)

	c, ok = agent.Lookup(agents.GetCreditScore)
	require.True(t, ok)
	assert.False(t, c.LongRunning)

	_, ok = agent.Lookup("missing")
	assert.False(t, ok)
}

func TestRemoteAgent_InvokeReturnsStructuredResult(t *testing.T) {
	agent := newInProcessAgent(t, loanRegistry(t, models.ApprovalApproved))
	data := `{"name":"Acme","address":"1 Main","zip":"10001","email":"a@b.c"}`

	res, err := agent.Invoke(context.Background(), agents.GetCreditScore, capability.Args{agents.ParamApplicationData: data})
	require.NoError(t, err)
	assert.Equal(t, float64(agents.CreditScore(data)), res["credit_score"])

	res, err = agent.Invoke(context.Background(), agents.GetApproval, capability.Args{agents.ParamApplicationData: data})
	require.NoError(t, err)
	assert.Equal(t, "approved", res["approval_status"])
}

func TestRemoteAgent_ToolErrorsAreFailures(t *testing.T) {
	agent := newInProcessAgent(t, loanRegistry(t, models.ApprovalRejected))
	ctx := context.Background()

	_, err := agent.Invoke(ctx, agents.ValidateApplication, capability.Args{agents.ParamApplicationData: `{"name":"Acme"}`})
	require.Error(t, err)
	assert.True(t, capability.IsFailure(err))
	assert.Contains(t, err.Error(), "email")

	_, err = agent.Invoke(ctx, agents.GetApproval, capability.Args{agents.ParamApplicationData: "{}"})
	assert.True(t, capability.IsFailure(err))
	assert.Contains(t, err.Error(), "rejected")

	_, err = agent.Invoke(ctx, agents.GetApproval, capability.Args{})
	assert.ErrorIs(t, err, capability.ErrInvalidArguments)

	_, err = agent.Invoke(ctx, "unknown_tool", capability.Args{})
	assert.ErrorIs(t, err, capability.ErrNotFound)
}

func TestRemoteAgent_InvokeThroughChain(t *testing.T) {
	local := capability.NewRegistry()
	require.NoError(t, local.Register(capability.Capability{
		Name: "local_echo",
		Handler: func(ctx context.Context, args capability.Args) (capability.Result, error) {
			return capability.Result{"ok": true}, nil
		},
	}))
	remote := newInProcessAgent(t, loanRegistry(t, models.ApprovalApproved))
	chain := capability.Chain{local, remote}

	_, ok := chain.Lookup(agents.ValidateApplication)
	assert.True(t, ok)
	res, err := chain.Invoke(context.Background(), "local_echo", nil)
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
}

func TestServe_RejectsBadTransport(t *testing.T) {
	srv := NewServer("TestAgent", "1.0.0", capability.NewRegistry(), nil)

	assert.ErrorContains(t, srv.Serve(context.Background(), "sse", 0), "requires a port")
	assert.ErrorContains(t, srv.Serve(context.Background(), "grpc", 1), "unsupported transport")
}

func TestConnect_RejectsBadConfig(t *testing.T) {
	_, err := Connect(context.Background(), "x", config.AgentConfig{Transport: "sse"}, nil)
	assert.ErrorContains(t, err, "requires a url")

	_, err = Connect(context.Background(), "x", config.AgentConfig{Transport: "carrier-pigeon"}, nil)
	assert.ErrorContains(t, err, "unsupported transport")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeSSE_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	srv := NewServer(agents.CommercialLoanAgent, "1.0.0", loanRegistry(t, models.ApprovalApproved), nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, TransportSSE, port) }()

	cfg := config.AgentConfig{Transport: TransportSSE, URL: fmt.Sprintf("http://127.0.0.1:%d/sse", port)}
	var agent *RemoteAgent
	require.Eventually(t, func() bool {
		var err error
		agent, err = Connect(ctx, agents.CommercialLoanAgent, cfg, nil)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	res, err := agent.Invoke(ctx, agents.GetCreditScore, capability.Args{agents.ParamApplicationData: "{}"})
	require.NoError(t, err)
	assert.Equal(t, float64(agents.CreditScore("{}")), res["credit_score"])

	agent.Close()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
