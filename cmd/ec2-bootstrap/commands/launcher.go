package commands

import (
	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/orchestrator"
	"github.com/urfave/cli/v2"
)

// RenderLauncherCommand prints the launcher script without writing it
func RenderLauncherCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "render-launcher",
		Usage: "Print the start-app.sh launcher for the target directory",
		Description: `Render the launcher script exactly as provision would write it. The script is
parsed and checked before it is printed.

Examples:
  ec2-bootstrap render-launcher --target-dir /home/ec2-user/agentic-ai-app`,
		Flags: planFlags(),
		Action: func(c *cli.Context) error {
			p, err := loadPlan(c)
			if err != nil {
				return err
			}

			script, err := orchestrator.NewLauncherGenerator(p, *logger).Render(models.ProvisioningContext{
				TargetDir: p.TargetDir,
			})
			if err != nil {
				return err
			}

			_, err = c.App.Writer.Write(script)
			return err
		},
	}
}
