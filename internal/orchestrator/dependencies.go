package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/runner"
)

// DependencyInstaller installs the application's Python packages one at a time
type DependencyInstaller struct {
	plan   plan.Plan
	runner runner.Runner
	logger zerolog.Logger
}

func NewDependencyInstaller(p plan.Plan, r runner.Runner, logger zerolog.Logger) *DependencyInstaller {
	return &DependencyInstaller{
		plan:   p,
		runner: r,
		logger: logger.With().Str("service", "dependency_installer").Logger(),
	}
}

// Install runs pip for each package, then optionally imports each module
func (d *DependencyInstaller) Install(ctx context.Context, verifyImports bool) error {
	for _, pkg := range d.plan.Dependencies.Packages {
		d.logger.Info().Str("package", pkg).Msg("installing python package")
		if _, err := d.runner.Run(ctx, runner.New(d.plan.Python.PipBinary, "install", pkg)); err != nil {
			return fmt.Errorf("failed to install %s: %w", pkg, err)
		}
	}

	if !verifyImports {
		return nil
	}

	for _, module := range d.plan.Dependencies.Imports {
		if _, err := d.runner.Run(ctx, runner.New(d.plan.Python.Binary, "-c", "import "+module)); err != nil {
			d.logger.Error().Str("module", module).Msg("import check failed")
			return fmt.Errorf("%w: %s: %w", bootstraperrors.ErrImportFailed, module, err)
		}
	}

	d.logger.Info().
		Int("modules", len(d.plan.Dependencies.Imports)).
		Msg("import check passed")
	return nil
}
