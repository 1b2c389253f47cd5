package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"github.com/urfave/cli/v2"
)

// resolveIdentity asks the metadata service configured by p who this host is
func resolveIdentity(c *cli.Context, p plan.Plan, logger zerolog.Logger) (models.Identity, error) {
	client := services.NewMetadataClient(services.MetadataOptions{
		Endpoint:        p.Metadata.Endpoint,
		AllowV1Fallback: p.Metadata.AllowV1Fallback,
	})
	return services.NewMetadataResolver(client, p.DefaultRegion, logger).Resolve(c.Context)
}

// MetadataCommand prints the identity this instance reports
func MetadataCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "metadata",
		Usage: "Print the region and instance id from the metadata service",
		Flags: planFlags(),
		Action: func(c *cli.Context) error {
			p, err := loadPlan(c)
			if err != nil {
				return err
			}

			identity, err := resolveIdentity(c, p, *logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "region:      %s\n", identity.Region)
			fmt.Fprintf(c.App.Writer, "instance_id: %s\n", identity.InstanceID)
			return nil
		},
	}
}
