package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/runner"
)

// SecretSource reads the GitHub token used for private clones
type SecretSource interface {
	GetGitHubPAT(ctx context.Context, region, secretPath string) (string, error)
}

// SourceFetcher replaces the target directory with a fresh clone
type SourceFetcher struct {
	runner  runner.Runner
	secrets SecretSource
	logger  zerolog.Logger
}

func NewSourceFetcher(r runner.Runner, secrets SecretSource, logger zerolog.Logger) *SourceFetcher {
	return &SourceFetcher{
		runner:  r,
		secrets: secrets,
		logger:  logger.With().Str("service", "source_fetcher").Logger(),
	}
}

// ResetDirectory removes path and everything below it. A missing path is not an error.
func (f *SourceFetcher) ResetDirectory(path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}

	f.logger.Info().Str("path", path).Msg("removing existing directory")
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to reset %s: %w", path, err)
	}
	return nil
}

// Fetch clones pctx.RepositoryURL into pctx.TargetDir. When tokenSecret is set
// the token is handed to git through GIT_CONFIG_* variables.
func (f *SourceFetcher) Fetch(ctx context.Context, pctx models.ProvisioningContext, tokenSecret string) error {
	cmd := runner.New("git", "clone", pctx.RepositoryURL, pctx.TargetDir)
	if tokenSecret != "" {
		token, err := f.secrets.GetGitHubPAT(ctx, pctx.Region, tokenSecret)
		if err != nil {
			return fmt.Errorf("failed to read github token: %w", err)
		}
		cmd.Env = GitAuthEnv(token)
	}

	// the existing checkout stays in place until there is something to clone
	if err := f.ResetDirectory(pctx.TargetDir); err != nil {
		return err
	}

	f.logger.Info().
		Str("repository_url", pctx.RepositoryURL).
		Str("target_dir", pctx.TargetDir).
		Bool("authenticated", tokenSecret != "").
		Msg("cloning repository")

	if _, err := f.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to clone %s: %w", pctx.RepositoryURL, err)
	}
	return nil
}

// GitAuthEnv returns environment entries that add a basic auth header to every
// git http request without placing the token on the command line.
func GitAuthEnv(token string) []string {
	credentials := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + credentials,
		"GIT_TERMINAL_PROMPT=0",
	}
}

// VerifyRequiredFiles checks, in order, that every file exists under root.
// It stops at the first missing file.
func VerifyRequiredFiles(logger zerolog.Logger, root string, files models.RequiredFileSet) error {
	pctx := models.ProvisioningContext{TargetDir: root}
	for _, name := range files {
		if _, err := os.Stat(pctx.Path(name)); err != nil {
			logger.Error().
				Str("file", name).
				Str("dir", root).
				Msg("required file missing")
			return fmt.Errorf("%w: %s", bootstraperrors.ErrMissingRequiredFile, name)
		}
		logger.Debug().Str("file", name).Msg("required file present")
	}

	logger.Info().Int("count", len(files)).Msg("all required files present")
	return nil
}
