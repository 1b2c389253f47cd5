package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/savaki/ec2-bootstrap/cmd/ec2-bootstrap/commands"
	"github.com/savaki/ec2-bootstrap/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	// the default action gets its own flag set
	provision := commands.ProvisionCommand(&logger)

	app := &cli.App{
		Name:      "ec2-bootstrap",
		Usage:     "Provision an EC2 instance to run the agent application",
		ArgsUsage: "[repository-url]",
		Description: `Turns a freshly launched Amazon Linux instance into a host running the
Python agent application, with CloudWatch metrics and logs.

Run without a command, ec2-bootstrap provisions the host:
  - resolves the region and instance id from the metadata service
  - installs system packages, Python and the CloudWatch agent
  - clones the application and verifies its required files
  - installs Python dependencies
  - renders and activates the CloudWatch agent configuration
  - writes the start-app.sh launcher`,
		Flags:  provision.Flags,
		Action: provision.Action,
		Commands: []*cli.Command{
			commands.ProvisionCommand(&logger),
			commands.MetadataCommand(&logger),
			commands.PlanCommand(&logger),
			commands.RenderLauncherCommand(&logger),
			commands.VerifyCommand(&logger),
			commands.HistoryCommand(&logger),
			commands.SettingsCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		stop()
		os.Exit(1)
	}
}
