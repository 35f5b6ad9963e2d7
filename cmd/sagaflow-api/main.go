package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/cmd"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/engine"
	"github.com/ispworks/sagaflow/pkg/log"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "sagaflow-api",
		Usage:                 "Start and manage ISP operations workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing SagaFlow API")

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "sagaflow-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			// The API only creates instances and prepares retries; it never
			// dispatches steps, so no downstream adapters are registered.
			executor := engine.NewExecutor(
				logger,
				persist.WorkflowRepository(),
				definition.NewRegistry(),
				adapters.NewRegistry(logger),
				eventBus,
				cmd.NewLocker(command.String("redis-url"), logger),
				engine.DefaultConfig(),
			)

			api := NewAPI(logger, persist, executor, eventBus)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
