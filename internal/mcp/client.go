package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"loanflow/internal/capability"
	"loanflow/internal/config"
	"loanflow/internal/logging"
)

// ClientName identifies the controller to agents during initialization.
const ClientName = "loanflow-controller"

// RemoteAgent is a capability.Invoker backed by an MCP agent process.
type RemoteAgent struct {
	name   string
	client *client.Client
	logger *logging.Logger

	mu    sync.RWMutex
	caps  map[string]capability.Capability
	order []string
}

var _ capability.Invoker = (*RemoteAgent)(nil)

// Connect reaches the agent described by cfg: it spawns the command for the
// stdio transport or dials cfg.URL for sse. For sse the event stream lives
// as long as ctx.
func Connect(ctx context.Context, name string, cfg config.AgentConfig, logger *logging.Logger) (*RemoteAgent, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	var (
		mcpClient *client.Client
		err       error
	)
	switch strings.ToLower(cfg.Transport) {
	case "", TransportStdio:
		command := cfg.Command
		if command == "" {
			if command, err = os.Executable(); err != nil {
				return nil, fmt.Errorf("failed to resolve agent command: %w", err)
			}
		}
		// The stdio client starts the subprocess itself.
		mcpClient, err = client.NewStdioMCPClient(command, os.Environ(), cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start agent %s: %w", name, err)
		}
		if stderr, ok := client.GetStderr(mcpClient); ok {
			go drainStderr(stderr, logger.With("agent", name))
		}
	case TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("agent %s: sse transport requires a url", name)
		}
		mcpClient, err = client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create MCP client for %s: %w", name, err)
		}
		if err := mcpClient.Start(ctx); err != nil {
			mcpClient.Close()
			return nil, fmt.Errorf("failed to start MCP client for %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("agent %s: unsupported transport %q", name, cfg.Transport)
	}

	agent, err := NewRemoteAgent(ctx, name, mcpClient, logger)
	if err != nil {
		mcpClient.Close()
		return nil, err
	}
	return agent, nil
}

// NewRemoteAgent initializes a started client and loads its tool list.
func NewRemoteAgent(ctx context.Context, name string, c *client.Client, logger *logging.Logger) (*RemoteAgent, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    ClientName,
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION

	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("failed to initialize agent %s: %w", name, err)
	}

	a := &RemoteAgent{
		name:   name,
		client: c,
		logger: logger,
		caps:   make(map[string]capability.Capability),
	}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}

	logger.Info("Connected to agent", "agent", name, "tools", len(a.order))
	return a, nil
}

// Refresh reloads the agent's tool list.
func (a *RemoteAgent) Refresh(ctx context.Context) error {
	listResp, err := a.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools of %s: %w", a.name, err)
	}

	caps := make(map[string]capability.Capability, len(listResp.Tools))
	order := make([]string, 0, len(listResp.Tools))
	for _, tool := range listResp.Tools {
		c := capabilityFor(tool)
		c.Handler = a.handlerFor(tool.Name)
		caps[tool.Name] = c
		order = append(order, tool.Name)
	}

	a.mu.Lock()
	a.caps = caps
	a.order = order
	a.mu.Unlock()
	return nil
}

// Name returns the agent's name.
func (a *RemoteAgent) Name() string {
	return a.name
}

// List returns the agent's capabilities in the order the agent reported them.
func (a *RemoteAgent) List() []capability.Capability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]capability.Capability, 0, len(a.order))
	for _, n := range a.order {
		out = append(out, a.caps[n])
	}
	return out
}

// Lookup returns the capability the agent advertises under name.
func (a *RemoteAgent) Lookup(name string) (capability.Capability, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.caps[name]
	return c, ok
}

// Invoke calls the tool on the agent. A tool-reported error becomes a
// *capability.Failure; protocol and transport problems are returned as-is.
func (a *RemoteAgent) Invoke(ctx context.Context, name string, args capability.Args) (capability.Result, error) {
	c, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", capability.ErrNotFound, name, a.name)
	}
	normalized, err := capability.Validate(c, args)
	if err != nil {
		return nil, err
	}
	return c.Handler(ctx, normalized)
}

func (a *RemoteAgent) handlerFor(tool string) capability.Handler {
	return func(ctx context.Context, args capability.Args) (capability.Result, error) {
		req := mcp.CallToolRequest{}
		req.Params.Name = tool
		req.Params.Arguments = map[string]any(args)

		resp, err := a.client.CallTool(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("MCP call %s on %s failed: %w", tool, a.name, err)
		}
		return parseToolResponse(resp)
	}
}

// Close terminates the connection and, for stdio, the agent process.
func (a *RemoteAgent) Close() error {
	return a.client.Close()
}

func parseToolResponse(resp *mcp.CallToolResult) (capability.Result, error) {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return nil, capability.Fail(text, nil)
	}

	var result capability.Result
	if err := json.Unmarshal([]byte(text), &result); err != nil || result == nil {
		return capability.Result{"result": text}, nil
	}
	return result, nil
}

func capabilityFor(tool mcp.Tool) capability.Capability {
	c := capability.Capability{
		Name:        tool.Name,
		Description: tool.Description,
	}
	if hint := tool.Annotations.OpenWorldHint; hint != nil && *hint {
		c.LongRunning = true
	}

	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, r := range tool.InputSchema.Required {
		required[r] = true
	}
	for name, raw := range tool.InputSchema.Properties {
		p := capability.Param{Name: name, Required: required[name], Type: capability.TypeString}
		if prop, ok := raw.(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				p.Type = capability.ParamType(t)
			}
			if d, ok := prop["description"].(string); ok {
				p.Description = d
			}
		}
		c.Params = append(c.Params, p)
	}
	slices.SortFunc(c.Params, func(x, y capability.Param) int { return strings.Compare(x.Name, y.Name) })
	return c
}

func drainStderr(r io.Reader, logger *logging.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Debug(scanner.Text())
	}
}
