package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/ispworks/sagaflow/pkg/cmd"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/engine"
	"github.com/ispworks/sagaflow/pkg/log"
	"github.com/ispworks/sagaflow/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "sagaflow-worker",
		Usage:                 "Start workers to execute ISP operations workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for cross-process workflow locks",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "billing-url",
				Usage:   "Base URL of the billing system API",
				Sources: cli.EnvVars("BILLING_URL"),
			},
			&cli.StringFlag{
				Name:    "radius-url",
				Usage:   "Base URL of the RADIUS/AAA provisioning API",
				Sources: cli.EnvVars("RADIUS_URL"),
			},
			&cli.StringFlag{
				Name:    "inventory-url",
				Usage:   "Base URL of the network inventory API",
				Sources: cli.EnvVars("INVENTORY_URL"),
			},
			&cli.StringFlag{
				Name:    "activation-url",
				Usage:   "Base URL of the service activation controller API",
				Sources: cli.EnvVars("ACTIVATION_URL"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Timeout for a single downstream adapter call",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("STEP_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing (exports over OTLP/HTTP)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("sagaflow-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing SagaFlow Worker")

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "sagaflow-worker", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			adapterRegistry := cmd.NewAdapterRegistry(logger, cmd.AdapterEndpoints{
				Billing:    command.String("billing-url"),
				Radius:     command.String("radius-url"),
				Inventory:  command.String("inventory-url"),
				Activation: command.String("activation-url"),
			}, command.Duration("step-timeout"))

			config := engine.DefaultConfig()
			config.StepTimeout = command.Duration("step-timeout")
			config.WorkerID = workerID

			repo := persist.WorkflowRepository()
			executor := engine.NewExecutor(
				logger,
				repo,
				definition.NewRegistry(),
				adapterRegistry,
				eventBus,
				cmd.NewLocker(command.String("redis-url"), logger),
				config,
			)
			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "sagaflow-worker")
				if err != nil {
					return err
				}

				executor.SetTracer(tracer)
			}

			sweeper := engine.NewSweeper(logger, repo, eventBus, config.StaleAfter, workerID)

			worker := NewWorker(workerID, executor, sweeper, eventBus, logger)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
