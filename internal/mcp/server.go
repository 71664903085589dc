// Package mcp exposes capability registries as MCP tool servers and reaches
// remote agents as capability invokers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"loanflow/internal/capability"
	"loanflow/internal/logging"
)

// Transport names.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

const shutdownGrace = 10 * time.Second

// Server serves one agent's capabilities over MCP.
type Server struct {
	name      string
	mcpServer *server.MCPServer
	registry  *capability.Registry
	logger    *logging.Logger
}

// NewServer creates a Server exposing every capability in registry as a tool.
func NewServer(name, version string, registry *capability.Registry, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		name: name,
		mcpServer: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		registry: registry,
		logger:   logger,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	for _, c := range s.registry.List() {
		s.mcpServer.AddTool(toolFor(c), s.handlerFor(c.Name))
	}
}

func toolFor(c capability.Capability) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(c.Description)}
	if c.LongRunning {
		// Long-running tools wait on the outside world.
		opts = append(opts, mcp.WithOpenWorldHintAnnotation(true))
	}
	for _, p := range c.Params {
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case capability.TypeInteger, capability.TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		case capability.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, popts...))
		case capability.TypeObject:
			opts = append(opts, mcp.WithObject(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(c.Name, opts...)
}

func (s *Server) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok && request.Params.Arguments != nil {
			return mcp.NewToolResultError("Invalid arguments type"), nil
		}

		s.logger.Info("Tool called", "tool", name)
		res, err := s.registry.Invoke(ctx, name, capability.Args(args))
		if err != nil {
			s.logger.Error("Tool failed", "tool", name, "error", err)
			var f *capability.Failure
			if errors.As(err, &f) && f.Result != nil {
				detail, _ := json.Marshal(f.Result)
				return mcp.NewToolResultError(fmt.Sprintf("%s %s", f.Reason, detail)), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}

		jsonBytes, err := json.Marshal(res)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}

// Serve runs the server on the named transport until ctx is done. The stdio
// transport uses the process's stdin and stdout; sse listens on
// 127.0.0.1:port.
func (s *Server) Serve(ctx context.Context, transport string, port int) error {
	switch strings.ToLower(transport) {
	case TransportStdio:
		return s.ServeStdio(ctx, os.Stdin, os.Stdout)
	case TransportSSE:
		if port <= 0 {
			return fmt.Errorf("sse transport requires a port")
		}
		return s.ServeSSE(ctx, fmt.Sprintf("127.0.0.1:%d", port))
	}
	return fmt.Errorf("unsupported transport %q (supported: stdio, sse)", transport)
}

// ServeStdio speaks MCP over in and out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting MCP server", "agent", s.name, "transport", TransportStdio)
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ServeSSE serves the event-stream transport on addr (/sse and /message).
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting MCP server", "agent", s.name, "transport", TransportSSE, "addr", addr)
		errCh <- sseServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("Shutting down MCP server", "agent", s.name)
	return sseServer.Shutdown(shutdownCtx)
}

// MountHTTPHandlers serves the agent's SSE transport under /mcp on an echo
// server.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer, baseURL string) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath("/mcp"),
	)

	e.GET("/mcp/sse", echo.WrapHandler(sseServer.SSEHandler()))
	e.POST("/mcp/message", echo.WrapHandler(sseServer.MessageHandler()))
}
