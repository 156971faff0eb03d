package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/playbook/pkg/cmd"
	"github.com/dukex/playbook/pkg/eventbus"
	"github.com/dukex/playbook/pkg/log"
	"github.com/dukex/playbook/pkg/otelhelper"
	"github.com/dukex/playbook/pkg/scheduler"
	"github.com/dukex/playbook/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	serviceName     = "playbook-api"
	shutdownTimeout = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "playbook-api",
		Usage:                 "Run playbooks and campaigns over HTTP",
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
				Name:    "database-url",
				Usage:   "Persistence URL (file path, file://, postgres://, redis://, badger://)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing handler plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.IntFlag{
				Name:    "parallelism",
				Usage:   "Default number of nodes run concurrently per execution",
				Value:   workflow.DefaultParallelism,
				Sources: cli.EnvVars("PARALLELISM"),
			},
			&cli.DurationFlag{
				Name:    "backoff-base",
				Usage:   "Delay before the first retry; doubled on each retry",
				Value:   time.Second,
				Sources: cli.EnvVars("BACKOFF_BASE"),
			},
			&cli.DurationFlag{
				Name:    "backoff-max",
				Usage:   "Upper bound of the retry delay",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("BACKOFF_MAX"),
			},
			&cli.DurationFlag{
				Name:  "schedule-refresh",
				Usage: "How often scheduled definitions are reloaded",
				Value: scheduler.DefaultRefreshInterval,
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export attempt spans over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.FloatFlag{
				Name:    "otel-sample-ratio",
				Usage:   "Share of executions traced, 1 traces everything",
				Value:   1,
				Sources: cli.EnvVars("OTEL_SAMPLE_RATIO"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json, pretty)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("api").Error("playbook-api failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Playbook API")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithBackoff(command.Duration("backoff-base"), command.Duration("backoff-max")),
		workflow.WithDefaultParallelism(command.Int("parallelism")),
	}

	if command.Bool("otel-enabled") {
		tracer, err := otelhelper.NewTracer(ctx, serviceName, command.Float("otel-sample-ratio"))
		if err != nil {
			return err
		}

		opts = append(opts, workflow.WithTracer(tracer))
	}

	registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	executor := workflow.NewExecutor(persistence, registry, opts...)
	repository := workflow.NewRepository(persistence)

	forwarder := eventbus.NewForwarder(executor.Events(), eventBus, logger)
	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)

		forwarder.Run(context.WithoutCancel(ctx))
	}()

	resumed, err := executor.Resume(ctx)
	if err != nil {
		return err
	}

	if resumed > 0 {
		logger.InfoContext(ctx, "Resumed interrupted executions", "count", resumed)
	}

	cron := scheduler.NewScheduler(repository, executor, logger, command.Duration("schedule-refresh"), workflow.StartOptions{})
	if err := cron.Start(ctx); err != nil {
		return err
	}

	api := NewAPI(logger, repository, registry, executor)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- api.Start(command.Int("port"))
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("API server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down API server", "error", err)
	}

	if err := cron.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop scheduler", "error", err)
	}

	if err := executor.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close executor", "error", err)
	}

	<-forwarded

	if err := eventBus.Close(); err != nil {
		logger.Error("Failed to close event bus", "error", err)
	}

	if err := persistence.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close persistence", "error", err)
	}

	if err := otelhelper.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down tracer provider", "error", err)
	}

	return nil
}
