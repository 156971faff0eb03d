package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/dukex/playbook/pkg/cmd"
	"github.com/dukex/playbook/pkg/log"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence/file"
	"github.com/dukex/playbook/pkg/services"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

var (
	errMissingFile      = errors.New("a definition file is required")
	errMissingExecution = errors.New("an execution id is required")
	errInvalid          = errors.New("definition is invalid")
	errFailed           = errors.New("execution failed")
)

// session bundles the engine pieces one CLI invocation needs.
type session struct {
	definitions *services.Definitions
	executor    *workflow.Executor
}

func newSession(command *cli.Command, dataDir string, opts ...workflow.Option) (*session, error) {
	logger := log.WithModule("cli")

	registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
	if err != nil {
		return nil, err
	}

	store := file.NewPersistence(dataDir)
	validate := validator.New(validator.WithRequiredStructEnabled())

	return &session{
		definitions: services.NewDefinitions(workflow.NewRepository(store), registry, validate),
		executor:    workflow.NewExecutor(store, registry, append([]workflow.Option{workflow.WithLogger(logger)}, opts...)...),
	}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = s.executor.Close(ctx)
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a definition file and dry-run it",
		ArgsUsage: "<definition.yaml|definition.json>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-dry-run",
				Usage: "Only check the definition, do not simulate an execution",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errMissingFile
			}

			definition, err := loadDefinition(path)
			if err != nil {
				return err
			}

			dataDir, err := os.MkdirTemp("", "playbook-validate-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dataDir)

			s, err := newSession(command, dataDir, workflow.WithBackoff(time.Millisecond, time.Millisecond))
			if err != nil {
				return err
			}
			defer s.close()

			return validate(ctx, command.Root().Writer, s, path, definition, !command.Bool("skip-dry-run"))
		},
	}
}

func validate(ctx context.Context, w io.Writer, s *session, name string, definition *models.WorkflowDefinition, dryRun bool) error {
	result := s.definitions.Validate(definition)
	printValidation(w, name, result)

	if !result.Valid {
		return errInvalid
	}

	if !dryRun {
		return nil
	}

	summary, err := execute(ctx, s, definition, nil, workflow.StartOptions{DryRun: true})
	if err != nil {
		return err
	}

	printSummary(w, summary)

	return nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a definition file until it completes, fails or stalls",
		ArgsUsage: "<definition.yaml|definition.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory where executions and attempts are stored",
				Value:   "./data",
				Sources: cli.EnvVars("PLAYBOOK_DATA_DIR"),
			},
			&cli.StringFlag{
				Name:  "input-file",
				Usage: "JSON or YAML file with the execution input",
			},
			&cli.StringSliceFlag{
				Name:  "set",
				Usage: "Input value as key=value, dotted keys nest; overrides --input-file",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Simulate every step without side effects",
			},
			&cli.IntFlag{
				Name:  "parallelism",
				Usage: "Number of steps run concurrently",
				Value: workflow.DefaultParallelism,
			},
			&cli.DurationFlag{
				Name:  "backoff-base",
				Usage: "Delay before the first retry; doubled on each retry",
				Value: time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting after this long; the execution is stopped",
				Value: time.Hour,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errMissingFile
			}

			definition, err := loadDefinition(path)
			if err != nil {
				return err
			}

			input, err := buildInput(command.String("input-file"), command.StringSlice("set"))
			if err != nil {
				return err
			}

			s, err := newSession(command, command.String("data-dir"),
				workflow.WithBackoff(command.Duration("backoff-base"), 10*command.Duration("backoff-base")))
			if err != nil {
				return err
			}
			defer s.close()

			if result := s.definitions.Validate(definition); !result.Valid {
				printValidation(command.Root().ErrWriter, path, result)

				return errInvalid
			}

			ctx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			summary, err := execute(ctx, s, definition, input, workflow.StartOptions{
				Parallelism: command.Int("parallelism"),
				DryRun:      command.Bool("dry-run"),
			})
			if err != nil {
				return err
			}

			printSummary(command.Root().Writer, summary)

			if summary.Status == models.ExecutionStatusFailed {
				return errFailed
			}

			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the summary of a stored execution",
		ArgsUsage: "<execution-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory where executions and attempts are stored",
				Value:   "./data",
				Sources: cli.EnvVars("PLAYBOOK_DATA_DIR"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return errMissingExecution
			}

			s, err := newSession(command, command.String("data-dir"))
			if err != nil {
				return err
			}
			defer s.close()

			summary, err := s.executor.Summary(ctx, id)
			if err != nil {
				return err
			}

			printSummary(command.Root().Writer, summary)

			health, err := s.executor.Health(ctx, id)
			if err != nil {
				return err
			}

			if !health.Healthy {
				warnStyle.Fprintf(command.Root().Writer, "needs attention: %s\n", health.Reason)
			}

			return nil
		},
	}
}

// execute starts the definition and blocks until it is idle. A timeout stops it.
func execute(ctx context.Context, s *session, definition *models.WorkflowDefinition, input map[string]any, opts workflow.StartOptions) (*models.ExecutionSummary, error) {
	id, err := s.executor.StartDefinition(ctx, definition, input, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start execution: %w", err)
	}

	if err := s.executor.Wait(ctx, id); err != nil {
		if stopErr := s.executor.Stop(context.WithoutCancel(ctx), id); stopErr != nil {
			return nil, errors.Join(err, stopErr)
		}
	}

	return s.executor.Summary(context.WithoutCancel(ctx), id)
}

// buildInput merges --set pairs over the input file.
func buildInput(path string, pairs []string) (map[string]any, error) {
	input, err := loadInput(path)
	if err != nil {
		return nil, err
	}

	overrides, err := parseSets(pairs)
	if err != nil {
		return nil, err
	}

	if input == nil {
		input = map[string]any{}
	}

	if err := mergo.Merge(&input, overrides, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge input: %w", err)
	}

	return input, nil
}
