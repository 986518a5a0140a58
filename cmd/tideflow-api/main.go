package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tideflow-io/tideflow/pkg/actions"
	"github.com/tideflow-io/tideflow/pkg/approval"
	cmdutil "github.com/tideflow-io/tideflow/pkg/cmd"
	"github.com/tideflow-io/tideflow/pkg/conditions"
	"github.com/tideflow-io/tideflow/pkg/engine"
	"github.com/tideflow-io/tideflow/pkg/log"
	"github.com/tideflow-io/tideflow/pkg/notify"
	"github.com/tideflow-io/tideflow/pkg/otelhelper"
	"github.com/tideflow-io/tideflow/pkg/settings"
	"github.com/tideflow-io/tideflow/pkg/version"
	"github.com/tideflow-io/tideflow/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "tideflow-api",
		Usage:                 "Manage workflow definitions, instances and approvals",
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
				Usage:    "Database connection URL (postgres://... or a file-store path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka or gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for approval token storage (in-memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "membership-file",
				Usage:   "Path to a JSON file with role and permission grants",
				Sources: cli.EnvVars("MEMBERSHIP_FILE"),
			},
			&cli.StringFlag{
				Name:    "notify-webhook-url",
				Usage:   "Webhook endpoint for approval notifications (log-only when empty)",
				Sources: cli.EnvVars("NOTIFY_WEBHOOK_URL"),
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

			logger.InfoContext(ctx, "Initializing Tideflow API")

			store := cmdutil.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmdutil.NewEventBus(command.String("event-bus"), logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
			if endpoint := command.String("notify-webhook-url"); endpoint != "" {
				dispatcher = notify.NewWebhookDispatcher(logger, endpoint)
			}

			membership := cmdutil.NewMembership(command.String("membership-file"))

			approvals := approval.NewManager(
				logger, store,
				settings.NewEnv("TIDEFLOW_"),
				membership,
				cmdutil.NewTokenStore(command.String("redis-url")),
				dispatcher,
			)

			tracer, err := otelhelper.NewTracer(ctx, "tideflow-api")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			workflowEngine := engine.NewEngine(
				logger, store,
				actions.NewExecutor(logger, dispatcher, approvals),
				conditions.NewEvaluator(logger, membership),
				approvals,
				eventBus,
				tracer,
			)

			versionManager := version.NewManager(logger, store, eventBus)

			app := web.NewApp(workflowEngine, versionManager, store)

			return app.Listen(fmt.Sprintf(":%d", command.Int("port")))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
