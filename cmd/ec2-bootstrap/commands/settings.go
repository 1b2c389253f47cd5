package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/di"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"github.com/urfave/cli/v2"
)

// SettingsCommand shows the overlay settings provision would read
func SettingsCommand(logger *zerolog.Logger) *cli.Command {
	flags := append(planFlags(),
		&cli.StringFlag{
			Name:    "parameter-env",
			Aliases: []string{"e"},
			Usage:   "Read settings from Parameter Store under /<env>/ec2-bootstrap; empty reads BOOTSTRAP_* variables",
			EnvVars: []string{"BOOTSTRAP_PARAMETER_ENV"},
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"r"},
			Usage:   "Region of the parameters; defaults to this instance's region",
			EnvVars: []string{"AWS_REGION"},
		},
	)

	return &cli.Command{
		Name:      "settings",
		Usage:     "Print the settings overlay, or single parameters by name",
		ArgsUsage: "[name...]",
		Description: `Print the settings provision would overlay onto the plan. Names are the short
parameter names: repository-url, github-token-secret and history-table.

Examples:
  # Settings from BOOTSTRAP_* environment variables
  ec2-bootstrap settings

  # One parameter from /prd/ec2-bootstrap
  ec2-bootstrap settings --parameter-env prd repository-url`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			p, err := loadPlan(c)
			if err != nil {
				return err
			}

			env := c.String("parameter-env")
			region := c.String("region")
			if env != "" && region == "" {
				identity, err := resolveIdentity(c, p, *logger)
				if err != nil {
					return err
				}
				region = identity.Region
			}

			container, err := di.New(env, di.WithContext(c.Context), di.WithPlan(p), di.WithLogger(*logger))
			if err != nil {
				return err
			}

			return container.Invoke(func(store services.ParameterStore) error {
				return printSettings(c.Context, c.App.Writer, store, region, c.Args().Slice())
			})
		},
	}
}

func printSettings(ctx context.Context, w io.Writer, store services.ParameterStore, region string, names []string) error {
	if len(names) == 0 {
		config, err := store.GetConfig(ctx, region)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", services.ParamRepositoryURL, config.RepositoryURL)
		fmt.Fprintf(w, "%s: %s\n", services.ParamGitHubTokenSecret, config.GitHubTokenSecret)
		fmt.Fprintf(w, "%s: %s\n", services.ParamHistoryTable, config.HistoryTable)
		return nil
	}

	for _, name := range names {
		value, err := store.GetParameter(ctx, region, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", name, value)
	}
	return nil
}
