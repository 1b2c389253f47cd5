package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/orchestrator"
	"github.com/savaki/ec2-bootstrap/internal/policy"
	"github.com/urfave/cli/v2"
)

// VerifyCommand checks a checkout without provisioning anything
func VerifyCommand(logger *zerolog.Logger) *cli.Command {
	flags := append(planFlags(),
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Checkout to verify; defaults to the plan's target directory",
		},
		&cli.StringFlag{
			Name:  "instance-id",
			Usage: "Instance id substituted into the agent config before it is checked",
			Value: "i-0000000000000000",
		},
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Check that a checkout contains the required files and a usable agent config",
		Description: `Run the required file check against a directory, then render the agent
config template in memory and evaluate it against the agent config policy.

Examples:
  ec2-bootstrap verify --dir ./sample-strands-agent-with-cloudwatch-observability`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			p, err := loadPlan(c)
			if err != nil {
				return err
			}

			dir := c.String("dir")
			if dir == "" {
				dir = p.TargetDir
			}

			if err := orchestrator.VerifyRequiredFiles(*logger, dir, p.RequiredFiles); err != nil {
				return err
			}

			template := models.ProvisioningContext{TargetDir: dir}.Path(p.Agent.ConfigTemplate)
			raw, err := os.ReadFile(template)
			if err != nil {
				return fmt.Errorf("failed to read agent config template: %w", err)
			}
			rendered := strings.ReplaceAll(string(raw), p.Agent.Placeholder, c.String("instance-id"))

			validator, err := policy.NewValidator()
			if err != nil {
				return err
			}
			result, err := validator.ValidateConfig(c.Context, []byte(rendered), p.Agent.Placeholder)
			if err != nil {
				return err
			}
			if !result.Allowed {
				for _, v := range result.Violations {
					fmt.Fprintf(c.App.Writer, "agent config: %s\n", v)
				}
				return fmt.Errorf("agent config %s failed policy checks", template)
			}

			fmt.Fprintf(c.App.Writer, "%s: ok\n", dir)
			return nil
		},
	}
}
