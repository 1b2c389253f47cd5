// Package orchestrator runs the host bootstrap pipeline: each stage in order,
// stopping at the first fatal failure.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/dao/rundao"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/runner"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"github.com/segmentio/ksuid"
)

// IdentityResolver resolves the region and instance id of the host
type IdentityResolver interface {
	Resolve(ctx context.Context) (models.Identity, error)
}

// SettingsSource supplies overlay settings
type SettingsSource interface {
	GetConfig(ctx context.Context, region string) (*services.Config, error)
}

// AccountSource reports the account the instance runs in
type AccountSource interface {
	GetAccountID(ctx context.Context, region string) (string, error)
}

// HistoryWriter persists run records
type HistoryWriter interface {
	Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error)
}

// HistoryFactory opens the run history stored in table in region
type HistoryFactory func(region, table string) HistoryWriter

// Dependencies are the collaborators of an Orchestrator. Settings, Accounts,
// History and Policy are optional.
type Dependencies struct {
	Plan       plan.Plan
	Runner     runner.Runner
	Metadata   IdentityResolver
	Settings   SettingsSource
	Secrets    SecretSource
	Packages   PackageSource
	Accounts   AccountSource
	History    HistoryFactory
	Policy     ConfigPolicy
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// RunOptions are per-invocation overrides
type RunOptions struct {
	RepositoryURL   string // wins over the overlay and the plan
	HistoryTable    string // wins over the overlay
	SkipImportCheck bool
}

// Summary describes a finished run
type Summary struct {
	Context      models.ProvisioningContext
	AccountID    string
	AgentActive  bool
	LauncherPath string
	FailedStage  string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Orchestrator runs the bootstrap pipeline
type Orchestrator struct {
	deps         Dependencies
	packages     *PackageInstaller
	source       *SourceFetcher
	dependencies *DependencyInstaller
	templater    *ConfigTemplater
	activator    *AgentActivator
	launcher     *LauncherGenerator
	logger       zerolog.Logger
}

// New creates a new Orchestrator instance
func New(deps Dependencies) *Orchestrator {
	p, r, logger := deps.Plan, deps.Runner, deps.Logger
	return &Orchestrator{
		deps:         deps,
		packages:     NewPackageInstaller(p, r, deps.Packages, deps.HTTPClient, logger),
		source:       NewSourceFetcher(r, deps.Secrets, logger),
		dependencies: NewDependencyInstaller(p, r, logger),
		templater:    NewConfigTemplater(p, deps.Policy, logger),
		activator:    NewAgentActivator(p, r, logger),
		launcher:     NewLauncherGenerator(p, logger),
		logger:       logger.With().Str("service", "orchestrator").Logger(),
	}
}

type stage struct {
	id  string
	run func(ctx context.Context) error
}

// Run executes every stage in order. The returned error is a *StageError
// naming the stage that failed.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	summary := Summary{StartedAt: time.Now()}

	identity, err := o.deps.Metadata.Resolve(ctx)
	if err != nil {
		summary.FailedStage = StageResolveMetadata
		summary.FinishedAt = time.Now()
		o.logger.Error().Err(err).Str("stage", StageResolveMetadata).Msg("provisioning failed")
		return summary, &StageError{Stage: StageResolveMetadata, Err: err}
	}

	settings := o.loadSettings(ctx, identity.Region)

	pctx := models.ProvisioningContext{
		RunID:         ksuid.New().String(),
		RepositoryURL: firstNonEmpty(opts.RepositoryURL, settings.RepositoryURL, o.deps.Plan.RepositoryURL),
		TargetDir:     o.deps.Plan.TargetDir,
		Region:        identity.Region,
		InstanceID:    identity.InstanceID,
	}
	summary.Context = pctx
	summary.AccountID = o.accountID(ctx, pctx.Region)

	logger := o.logger.With().
		Str("run_id", pctx.RunID).
		Str("instance_id", pctx.InstanceID).
		Logger()
	logger.Info().
		Str("region", pctx.Region).
		Str("repository_url", pctx.RepositoryURL).
		Str("target_dir", pctx.TargetDir).
		Msg("starting provisioning")

	stages := []stage{
		{id: StageInstallPackages, run: o.packages.Install},
		{id: StageFetchSource, run: func(ctx context.Context) error {
			return o.source.Fetch(ctx, pctx, settings.GitHubTokenSecret)
		}},
		{id: StageVerifySources, run: func(ctx context.Context) error {
			return VerifyRequiredFiles(logger, pctx.TargetDir, o.deps.Plan.RequiredFiles)
		}},
		{id: StageInstallDependencies, run: func(ctx context.Context) error {
			return o.dependencies.Install(ctx, o.deps.Plan.Dependencies.VerifyImports && !opts.SkipImportCheck)
		}},
		{id: StageTemplateAgentConfig, run: func(ctx context.Context) error {
			return o.templater.Render(ctx, pctx)
		}},
		{id: StageActivateAgent, run: func(ctx context.Context) error {
			summary.AgentActive = o.activator.Activate(ctx)
			return nil
		}},
		{id: StageGenerateLauncher, run: func(ctx context.Context) error {
			path, err := o.launcher.Write(pctx)
			summary.LauncherPath = path
			return err
		}},
	}
	if user := o.deps.Plan.User; user != "" {
		stages = append(stages, stage{id: StageAssignOwnership, run: func(ctx context.Context) error {
			return AssignOwnership(ctx, o.deps.Runner, user, pctx.TargetDir)
		}})
	}

	var runErr error
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			runErr = &StageError{Stage: s.id, Err: err}
			break
		}

		started := time.Now()
		logger.Info().Str("stage", s.id).Msg("stage started")
		if err := s.run(ctx); err != nil {
			runErr = &StageError{Stage: s.id, Err: err}
			break
		}
		logger.Info().
			Str("stage", s.id).
			Dur("elapsed", time.Since(started)).
			Msg("stage completed")
	}

	summary.FinishedAt = time.Now()
	var stageErr *StageError
	if errors.As(runErr, &stageErr) {
		summary.FailedStage = stageErr.Stage
	}

	o.record(ctx, firstNonEmpty(opts.HistoryTable, settings.HistoryTable), summary, runErr)

	if runErr != nil {
		logger.Error().
			Err(runErr).
			Str("stage", summary.FailedStage).
			Msg("provisioning failed")
		return summary, runErr
	}

	logger.Info().
		Str("account_id", summary.AccountID).
		Bool("agent_active", summary.AgentActive).
		Str("launcher", summary.LauncherPath).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("provisioning complete")
	return summary, nil
}

// loadSettings never fails; an unreadable overlay leaves the plan as is
func (o *Orchestrator) loadSettings(ctx context.Context, region string) services.Config {
	if o.deps.Settings == nil {
		return services.Config{}
	}

	settings, err := o.deps.Settings.GetConfig(ctx, region)
	if err != nil {
		o.logger.Warn().Err(err).Str("stage", StageLoadSettings).Msg("failed to load settings, using plan")
		return services.Config{}
	}
	if settings == nil {
		return services.Config{}
	}

	o.logger.Info().
		Str("stage", StageLoadSettings).
		Bool("has_repository_url", settings.RepositoryURL != "").
		Bool("has_github_token_secret", settings.GitHubTokenSecret != "").
		Str("history_table", settings.HistoryTable).
		Msg("settings loaded")
	return *settings
}

func (o *Orchestrator) accountID(ctx context.Context, region string) string {
	if o.deps.Accounts == nil {
		return ""
	}

	accountID, err := o.deps.Accounts.GetAccountID(ctx, region)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to get account id")
		return ""
	}
	return accountID
}

// record writes the run to history. Failures are warnings.
func (o *Orchestrator) record(ctx context.Context, table string, summary Summary, runErr error) {
	if table == "" || o.deps.History == nil {
		return
	}

	input := rundao.CreateInput{
		InstanceID:    summary.Context.InstanceID,
		RunID:         summary.Context.RunID,
		Status:        rundao.RunStatusSuccess,
		RepositoryURL: summary.Context.RepositoryURL,
		Region:        summary.Context.Region,
		TargetDir:     summary.Context.TargetDir,
		FailedStage:   summary.FailedStage,
		AgentActive:   summary.AgentActive,
		AccountID:     summary.AccountID,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
	}
	if runErr != nil {
		input.Status = rundao.RunStatusFailed
		input.ErrorMsg = runErr.Error()
	}

	// the run context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	if _, err := o.deps.History(summary.Context.Region, table).Create(ctx, input); err != nil {
		o.logger.Warn().Err(err).Str("table", table).Msg("failed to record run")
		return
	}
	o.logger.Info().Str("table", table).Str("run_id", input.RunID).Msg("run recorded")
}

// AssignOwnership hands the checkout to user
func AssignOwnership(ctx context.Context, r runner.Runner, user, dir string) error {
	_, err := r.Run(ctx, runner.New("chown", "-R", user+":"+user, dir))
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
