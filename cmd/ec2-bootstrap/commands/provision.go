package commands

import (
	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/constants"
	"github.com/savaki/ec2-bootstrap/internal/di"
	"github.com/savaki/ec2-bootstrap/internal/orchestrator"
	"github.com/urfave/cli/v2"
)

// ProvisionCommand returns the provision command, which is also the default action
func ProvisionCommand(logger *zerolog.Logger) *cli.Command {
	flags := append(planFlags(),
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "File receiving a copy of every log line, including command output",
			Value:   constants.DefaultLogFile,
			EnvVars: []string{"BOOTSTRAP_LOG_FILE"},
		},
		&cli.StringFlag{
			Name:    "parameter-env",
			Aliases: []string{"e"},
			Usage:   "Read settings from Parameter Store under /<env>/ec2-bootstrap; empty reads BOOTSTRAP_* variables",
			EnvVars: []string{"BOOTSTRAP_PARAMETER_ENV"},
		},
		&cli.StringFlag{
			Name:    "history-table",
			Usage:   "DynamoDB table receiving a record of the run",
			EnvVars: []string{"BOOTSTRAP_HISTORY_TABLE"},
		},
		&cli.BoolFlag{
			Name:    "skip-import-check",
			Usage:   "Skip importing the installed Python modules after pip install",
			EnvVars: []string{"BOOTSTRAP_SKIP_IMPORT_CHECK"},
		},
	)

	return &cli.Command{
		Name:      "provision",
		Usage:     "Provision this instance",
		ArgsUsage: "[repository-url]",
		Description: `Run every provisioning stage in order, stopping at the first fatal failure.

The repository URL is taken from the argument, then from settings, then from the plan.

Examples:
  # Provision with the sample repository
  sudo ec2-bootstrap provision

  # Provision a fork, reading settings from /prd/ec2-bootstrap
  sudo ec2-bootstrap provision --parameter-env prd https://github.com/acme/agent.git`,
		Flags:  flags,
		Action: provisionAction(logger),
	}
}

func provisionAction(logger *zerolog.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		p, err := loadPlan(c)
		if err != nil {
			return err
		}

		runLogger := *logger
		if path := c.String("log-file"); path != "" {
			fileLogger, closer, err := di.NewFileLogger(path)
			if err != nil {
				logger.Warn().Err(err).Msg("logging to console only")
			} else {
				defer closer.Close()
				runLogger = fileLogger
			}
		}
		ctx := runLogger.WithContext(c.Context)

		container, err := di.New(c.String("parameter-env"),
			di.WithContext(ctx),
			di.WithPlan(p),
			di.WithLogger(runLogger),
		)
		if err != nil {
			return err
		}

		opts := orchestrator.RunOptions{
			RepositoryURL:   c.Args().First(),
			HistoryTable:    c.String("history-table"),
			SkipImportCheck: c.Bool("skip-import-check"),
		}

		return container.Invoke(func(o *orchestrator.Orchestrator) error {
			summary, err := o.Run(ctx, opts)
			if err != nil {
				return err
			}

			runLogger.Info().
				Str("launcher", summary.LauncherPath).
				Msgf("start the application with %s", summary.LauncherPath)
			return nil
		})
	}
}
