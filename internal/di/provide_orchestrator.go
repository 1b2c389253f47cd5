package di

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/orchestrator"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/policy"
	"github.com/savaki/ec2-bootstrap/internal/runner"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"go.uber.org/dig"
)

func ProvideRunner(logger zerolog.Logger) runner.Runner {
	return runner.NewExecRunner(logger)
}

func ProvidePolicyValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

// OrchestratorParams collects the collaborators of the pipeline
type OrchestratorParams struct {
	dig.In

	Plan       plan.Plan
	Runner     runner.Runner
	Metadata   *services.MetadataResolver
	Settings   services.ParameterStore
	Secrets    *services.SecretsManagerService
	Packages   *services.PackageDownloader
	Accounts   *services.IdentityService
	History    orchestrator.HistoryFactory
	Policy     *policy.Validator
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func ProvideOrchestrator(params OrchestratorParams) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Dependencies{
		Plan:       params.Plan,
		Runner:     params.Runner,
		Metadata:   params.Metadata,
		Settings:   params.Settings,
		Secrets:    params.Secrets,
		Packages:   params.Packages,
		Accounts:   params.Accounts,
		History:    params.History,
		Policy:     params.Policy,
		HTTPClient: params.HTTPClient,
		Logger:     params.Logger,
	})
}
