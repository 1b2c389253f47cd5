package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/urfave/cli/v2"
)

// planFlags select and adjust the plan; shared by every command that needs one
func planFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "plan",
			Aliases: []string{"p"},
			Usage:   "YAML plan file; omitted fields keep their defaults",
			EnvVars: []string{"BOOTSTRAP_PLAN"},
		},
		&cli.StringFlag{
			Name:    "target-dir",
			Aliases: []string{"d"},
			Usage:   "Directory receiving the application checkout",
			EnvVars: []string{"BOOTSTRAP_TARGET_DIR"},
		},
		&cli.StringFlag{
			Name:    "imds-endpoint",
			Usage:   "Instance metadata service endpoint",
			EnvVars: []string{"BOOTSTRAP_IMDS_ENDPOINT"},
		},
	}
}

// loadPlan reads --plan, or the compiled defaults, and applies flag overrides
func loadPlan(c *cli.Context) (plan.Plan, error) {
	p := plan.Default()
	if path := c.String("plan"); path != "" {
		loaded, err := plan.Load(path)
		if err != nil {
			return plan.Plan{}, err
		}
		p = loaded
	}

	if dir := c.String("target-dir"); dir != "" {
		p.TargetDir = dir
	}
	if endpoint := c.String("imds-endpoint"); endpoint != "" {
		p.Metadata.Endpoint = endpoint
	}

	if err := p.Validate(); err != nil {
		return plan.Plan{}, err
	}
	return p, nil
}

// PlanCommand prints the effective plan
func PlanCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Print the effective plan as YAML",
		Description: `Print the plan provision would run with, after the plan file and flag
overrides have been applied. Settings from Parameter Store are not included.

Examples:
  # Show the compiled defaults
  ec2-bootstrap plan

  # Check a plan file
  ec2-bootstrap plan --plan ./bootstrap.yaml --target-dir /srv/app`,
		Flags: planFlags(),
		Action: func(c *cli.Context) error {
			p, err := loadPlan(c)
			if err != nil {
				return err
			}

			data, err := p.Marshal()
			if err != nil {
				return err
			}

			logger.Debug().Str("target_dir", p.TargetDir).Msg("plan loaded")
			_, err = fmt.Fprint(c.App.Writer, string(data))
			return err
		},
	}
}
