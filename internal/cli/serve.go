package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"loanflow/internal/agents"
	"loanflow/internal/api"
	"loanflow/internal/auth"
	"loanflow/internal/controller"
	"loanflow/internal/mcp"
	"loanflow/internal/services"
	"loanflow/internal/tls"
	"loanflow/pkg/models"
)

const (
	httpShutdownTimeout = 30 * time.Second
	runDrainTimeout     = time.Minute
)

type serveFlags struct {
	runWorkflows bool
	mountMCP     bool
	publicURL    string
}

func newServeCommand(app *App) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops API and the status logging agent over HTTP",
		Long: `Serve the authenticated workflow API under /api/v1, its OpenAPI document
and Swagger UI, health probes, and the status logging agent's MCP SSE
transport under /mcp. With --run-workflows the API can start workflow
runs through the commercial loan agent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.serve(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&flags.runWorkflows, "run-workflows", true, "allow POST /api/v1/workflows/{id}/run")
	cmd.Flags().BoolVar(&flags.mountMCP, "mount-mcp", true, "serve the status logging agent under /mcp")
	cmd.Flags().StringVar(&flags.publicURL, "public-url", "", "externally reachable base URL (default derived from api.addr)")
	return cmd
}

func (a *App) serve(ctx context.Context, flags serveFlags) error {
	cfg := a.Config
	logger, err := a.newLogger("api")
	if err != nil {
		return err
	}
	defer logger.Close()

	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"okta_client_id", cfg.Auth.ClientID,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
		"config_file", cfg.ConfigFile,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client ID matches the backend client ID; PKCE login from Swagger UI will fail if the backend app requires a secret")
	}

	store, err := a.openWorkflows(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	workflows := services.NewWorkflowService(store, store, logger)

	docs, err := a.openDocuments(ctx)
	if err != nil {
		return err
	}
	defer closeDocuments(docs, logger)

	q, redisClient, err := a.openQueue(ctx, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	statusRegistry, err := agents.StatusLogging(workflows, logger)
	if err != nil {
		return err
	}

	var runner api.Runner
	if flags.runWorkflows {
		set, err := a.connectAgents(ctx, statusRegistry, logger)
		if err != nil {
			return err
		}
		defer set.Close()

		ctrl, err := a.newController(set.chain, logger)
		if err != nil {
			return err
		}
		loader := controller.NewStoreLoader(docs)
		runner = api.RunnerFunc(func(ctx context.Context, id string) (models.Status, error) {
			return ctrl.LoadAndRun(ctx, loader, id)
		})
	}

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	srv := api.NewServer(workflows, runner, map[string]api.Pinger{
		"workflows": store,
		"documents": docs,
		"queue":     q,
	}, logger, Version)
	e := api.NewRouter(srv, authz, api.Docs{
		OktaIssuer:      cfg.Auth.OktaDomain,
		SwaggerClientID: cfg.Auth.SwaggerClientID,
	})

	if flags.mountMCP {
		baseURL := flags.publicURL
		if baseURL == "" {
			baseURL = defaultPublicURL(cfg.API.Addr, cfg.TLS.Enable)
		}
		mcpServer := mcp.NewServer(agents.StatusLoggingAgent, Version, statusRegistry, logger)
		mcp.MountHTTPHandlers(e, mcpServer.GetMCPServer(), baseURL)
		logger.Info("MCP protocol handlers mounted", "base_url", baseURL)
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("tls.enable requires tls.cert_file and tls.key_file")
		}
		generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if generated {
			logger.Warn("Generated a self-signed certificate", "cert_file", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.API.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := httpServer.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		srv.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(runDrainTimeout):
		logger.Warn("Workflow runs still in progress at shutdown")
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// defaultPublicURL turns a listen address such as ":8080" into a URL
// clients on the same host can reach.
func defaultPublicURL(addr string, useTLS bool) string {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return scheme + "://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}
