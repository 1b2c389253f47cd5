package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/dao/rundao"
	"github.com/savaki/ec2-bootstrap/internal/di"
	"github.com/urfave/cli/v2"
)

// HistoryCommand lists the recorded runs of an instance
func HistoryCommand(logger *zerolog.Logger) *cli.Command {
	flags := append(planFlags(),
		&cli.StringFlag{
			Name:     "table",
			Aliases:  []string{"t"},
			Usage:    "DynamoDB table holding run records",
			Required: true,
			EnvVars:  []string{"BOOTSTRAP_HISTORY_TABLE"},
		},
		&cli.StringFlag{
			Name:    "instance-id",
			Aliases: []string{"i"},
			Usage:   "Instance whose runs are listed; defaults to this instance",
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"r"},
			Usage:   "Region of the table; defaults to this instance's region",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:  "run-id",
			Usage: "Show a single run, by the run_id logged at the start of provisioning or a full <instance>:<run> id",
		},
	)

	return &cli.Command{
		Name:  "history",
		Usage: "List recorded provisioning runs, newest first",
		Description: `List the run records written by provision --history-table.

Examples:
  # Runs of this instance
  ec2-bootstrap history --table ec2-bootstrap-runs

  # Runs of another instance
  ec2-bootstrap history --table ec2-bootstrap-runs --instance-id i-0123456789abcdef0

  # One run of this instance
  ec2-bootstrap history --table ec2-bootstrap-runs --run-id 2bJ4cVbxZ1b0d9Yp3GvJ8mQ1a2s`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			p, err := loadPlan(c)
			if err != nil {
				return err
			}

			instanceID := c.String("instance-id")
			region := c.String("region")
			runID := c.String("run-id")
			fullID := strings.Contains(runID, ":")
			if instanceID == "" && !fullID {
				identity, err := resolveIdentity(c, p, *logger)
				if err != nil {
					return err
				}
				instanceID = identity.InstanceID
				if region == "" {
					region = identity.Region
				}
			}

			container, err := di.New("", di.WithContext(c.Context), di.WithPlan(p), di.WithLogger(*logger))
			if err != nil {
				return err
			}

			return container.Invoke(func(config aws.Config) error {
				dao := rundao.New(di.NewRegionalDynamoDB(config, region), c.String("table"))

				if runID != "" {
					record, err := dao.Find(c.Context, runRecordID(instanceID, runID))
					if err != nil {
						return fmt.Errorf("failed to find run: %w", err)
					}
					printRun(c.App.Writer, record)
					return nil
				}

				records, err := dao.QueryByInstance(c.Context, instanceID)
				if err != nil {
					return fmt.Errorf("failed to list runs: %w", err)
				}

				if len(records) == 0 {
					fmt.Fprintf(c.App.Writer, "No runs recorded for %s\n", instanceID)
					return nil
				}

				fmt.Fprintf(c.App.Writer, "Runs for %s:\n\n", instanceID)
				for _, r := range records {
					printRun(c.App.Writer, r)
				}
				return nil
			})
		},
	}
}

// runRecordID accepts either a bare run id or the full id printed by history
func runRecordID(instanceID, runID string) rundao.ID {
	if strings.Contains(runID, ":") {
		return rundao.ID(runID)
	}
	return rundao.NewID(rundao.NewPK(instanceID), runID)
}

func printRun(w io.Writer, r rundao.Record) {
	fmt.Fprintf(w, "%s  %s\n", r.GetID(), r.Status)
	fmt.Fprintf(w, "  Started:    %s\n", time.Unix(r.StartedAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  Elapsed:    %s\n", time.Duration(r.FinishedAt-r.StartedAt)*time.Second)
	fmt.Fprintf(w, "  Repository: %s\n", r.RepositoryURL)
	fmt.Fprintf(w, "  Agent:      %v\n", r.AgentActive)
	if r.FailedStage != "" {
		fmt.Fprintf(w, "  Failed:     %s\n", r.FailedStage)
	}
	if r.ErrorMsg != nil {
		fmt.Fprintf(w, "  Error:      %s\n", *r.ErrorMsg)
	}
	fmt.Fprintln(w)
}
