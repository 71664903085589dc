// Command seed enqueues sample commercial loan applications on the intake
// stream for local development.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"loanflow/internal/agents"
	"loanflow/internal/config"
	"loanflow/internal/logging"
	"loanflow/internal/queue"
	"loanflow/pkg/models"
)

var applicants = []map[string]any{
	{
		"businessName": "Harbor Freight Logistics LLC",
		"address":      "12 Pier Road, Portland, ME",
		"zipCode":      "04101",
		"email":        "finance@harborfreight.example",
		"loanAmount":   250000,
	},
	{
		"businessName": "Copper Kettle Bakery",
		"address":      "480 Main Street, Boulder, CO",
		"zipCode":      "80302",
		"email":        "owner@copperkettle.example",
		"loanAmount":   45000,
	},
	{
		// No email, so validation fails at step 1.
		"businessName": "Northwind Solar Installers",
		"address":      "77 Industrial Way, Reno, NV",
		"zipCode":      "89502",
		"loanAmount":   610000,
	},
}

func loanSteps() []models.Step {
	return []models.Step{
		{Index: 1, Instruction: "Validate the application", Capability: agents.ValidateApplication},
		{Index: 2, Instruction: "Pull the credit score", Capability: agents.GetCreditScore},
		{Index: 3, Instruction: "Request underwriter approval", Capability: agents.GetApproval},
	}
}

func main() {
	var (
		envFile string
		count   int
		raw     bool
	)
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Enqueue sample loan applications",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := logging.NewLogger(logging.Options{
				Component: "seed",
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				Console:   os.Stderr,
			})
			if err != nil {
				return err
			}

			client := redis.NewClient(&redis.Options{Addr: cfg.Queue.Addr, Password: cfg.Queue.Password, DB: cfg.Queue.DB})
			defer client.Close()
			q := queue.NewRedisStream(client, cfg.Queue.Stream, cfg.Queue.Group, queue.WithLogger(logger))
			if err := q.EnsureGroup(ctx); err != nil {
				return err
			}

			for i := 0; i < count; i++ {
				data := make(map[string]any, len(applicants[i%len(applicants)])+1)
				for k, v := range applicants[i%len(applicants)] {
					data[k] = v
				}
				data["applicationId"] = uuid.NewString()

				body, err := json.Marshal(models.WorkflowDocument{Data: data, Steps: loanSteps()})
				if err != nil {
					return err
				}
				id, err := q.Send(ctx, string(body))
				if err != nil {
					return err
				}
				logger.Info("Enqueued application", "message_id", id, "business", data["businessName"])
				fmt.Println(id)
			}

			if raw {
				id, err := q.Send(ctx, "loan request from fax machine, please call back")
				if err != nil {
					return err
				}
				logger.Info("Enqueued raw message", "message_id", id)
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "path to a .env file")
	cmd.Flags().IntVar(&count, "count", len(applicants), "number of applications to enqueue")
	cmd.Flags().BoolVar(&raw, "raw", false, "also enqueue one non-JSON message")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
