package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"loanflow/internal/agents"
	"loanflow/internal/capability"
	"loanflow/internal/controller"
	"loanflow/internal/logging"
	"loanflow/internal/mcp"
	"loanflow/internal/queue"
	"loanflow/internal/repository"
	"loanflow/internal/services"
)

const closeTimeout = 5 * time.Second

// openWorkflows opens the relational workflow store.
func (a *App) openWorkflows(ctx context.Context) (*repository.SQLStore, error) {
	cfg := a.Config
	db, dialect, err := repository.OpenDB(ctx, cfg.DB.Driver, cfg.DBDSN(), cfg.DB.MaxConns, cfg.DB.MaxIdle)
	if err != nil {
		return nil, err
	}
	store, err := repository.NewSQLStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// openDocuments connects to the intake document store.
func (a *App) openDocuments(ctx context.Context) (*repository.MongoDocumentStore, error) {
	cfg := a.Config.Documents
	docs, err := repository.ConnectMongo(ctx, cfg.URI, cfg.Database, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	return docs, nil
}

func closeDocuments(docs *repository.MongoDocumentStore, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := docs.Close(ctx); err != nil {
		logger.Warn("Failed to close document store", "error", err)
	}
}

// openQueue connects to the intake stream and makes sure its consumer
// group exists.
func (a *App) openQueue(ctx context.Context, logger *logging.Logger) (*queue.RedisStream, *redis.Client, error) {
	cfg := a.Config.Queue
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	q := queue.NewRedisStream(client, cfg.Stream, cfg.Group,
		queue.WithConsumer(cfg.Consumer),
		queue.WithBlock(cfg.Block),
		queue.WithClaimIdle(cfg.ClaimIdle),
		queue.WithLogger(logger),
	)

	if err := q.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to queue at %s: %w", cfg.Addr, err)
	}
	if err := q.EnsureGroup(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return q, client, nil
}

// approvalClient picks the external approval service for the commercial
// loan agent.
func (a *App) approvalClient() (services.ApprovalClient, error) {
	cfg := a.Config.Approval
	switch strings.ToLower(cfg.Mode) {
	case "", "simulated":
		return services.NewSimulatedApprovalClient(cfg.Delay), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("approval.url is required in http mode")
		}
		return services.NewHTTPApprovalClient(cfg.URL, cfg.PollInterval), nil
	}
	return nil, fmt.Errorf("unknown approval mode %q (supported: simulated, http)", cfg.Mode)
}

// agentSet is the controller's view of its connected agents.
type agentSet struct {
	remotes []*mcp.RemoteAgent
	chain   capability.Chain
}

func (s *agentSet) Close() {
	for _, r := range s.remotes {
		r.Close()
	}
}

// connectAgent dials one remote agent.
var connectAgent = mcp.Connect

// connectAgents reaches the commercial loan agent and, unless local is
// given, the status logging agent. The status logging agent is resolved
// first so its capabilities win on a name clash. Without the status agent
// no outcome can be recorded, so that failure is returned. An unreachable
// loan agent only leaves its capabilities missing and the steps that need
// them fail.
func (a *App) connectAgents(ctx context.Context, local capability.Invoker, logger *logging.Logger) (*agentSet, error) {
	set := &agentSet{}

	if local != nil {
		set.chain = append(set.chain, local)
	} else {
		status, err := connectAgent(ctx, agents.StatusLoggingAgent, a.Config.Agents.StatusLogging, logger)
		if err != nil {
			return nil, err
		}
		set.remotes = append(set.remotes, status)
		set.chain = append(set.chain, status)
	}

	loan, err := connectAgent(ctx, agents.CommercialLoanAgent, a.Config.Agents.CommercialLoan, logger)
	if err != nil {
		logger.Error("Commercial loan agent unreachable; its steps will fail", "agent", agents.CommercialLoanAgent, "error", err)
		return set, nil
	}
	set.remotes = append(set.remotes, loan)
	set.chain = append(set.chain, loan)
	return set, nil
}

// newController builds a controller over invoker with the configured
// timeouts and concurrency.
func (a *App) newController(invoker capability.Invoker, logger *logging.Logger) (*controller.Controller, error) {
	cfg := a.Config.Controller
	return controller.New(invoker,
		controller.WithLogger(logger),
		controller.WithStepTimeout(cfg.StepTimeout),
		controller.WithApprovalTimeout(cfg.ApprovalTimeout),
		controller.WithInProgress(cfg.MarkInProgress),
		controller.WithConcurrency(cfg.Concurrency),
	)
}
