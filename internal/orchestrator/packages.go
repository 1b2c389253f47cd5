package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/runner"
)

// PackageSource downloads an object to a local file and returns its path
type PackageSource interface {
	Download(ctx context.Context, region, bucket, key, dir string) (string, error)
}

// PackageInstaller installs OS packages, the Python runtime and the CloudWatch agent
type PackageInstaller struct {
	plan       plan.Plan
	runner     runner.Runner
	packages   PackageSource
	httpClient *http.Client
	tempDir    string
	logger     zerolog.Logger
}

func NewPackageInstaller(p plan.Plan, r runner.Runner, packages PackageSource, httpClient *http.Client, logger zerolog.Logger) *PackageInstaller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PackageInstaller{
		plan:       p,
		runner:     r,
		packages:   packages,
		httpClient: httpClient,
		tempDir:    os.TempDir(),
		logger:     logger.With().Str("service", "package_installer").Logger(),
	}
}

// Install runs every package step in order. The first failure is returned.
func (i *PackageInstaller) Install(ctx context.Context) error {
	if err := i.installPackages(ctx, "system", i.plan.SystemPackages); err != nil {
		return err
	}
	if err := i.installPackages(ctx, "python", i.plan.Python.Packages); err != nil {
		return err
	}
	if err := i.ensurePip(ctx); err != nil {
		return err
	}
	if err := i.linkAliases(); err != nil {
		return err
	}
	return i.ensureAgent(ctx)
}

func (i *PackageInstaller) installPackages(ctx context.Context, group string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	i.logger.Info().
		Str("group", group).
		Strs("packages", packages).
		Msg("installing packages")

	args := append([]string{"install", "-y"}, packages...)
	if _, err := i.runner.Run(ctx, runner.New(i.plan.PackageManager, args...)); err != nil {
		return fmt.Errorf("failed to install %s packages: %w", group, err)
	}
	return nil
}

func (i *PackageInstaller) ensurePip(ctx context.Context) error {
	if exists(i.plan.Python.PipBinary) {
		return nil
	}

	i.logger.Info().
		Str("pip", i.plan.Python.PipBinary).
		Str("url", i.plan.Python.PipBootstrapURL).
		Msg("pip not found, bootstrapping")

	script, err := i.download(ctx, i.plan.Python.PipBootstrapURL)
	if err != nil {
		return err
	}
	defer os.Remove(script)

	if _, err := i.runner.Run(ctx, runner.New(i.plan.Python.Binary, script)); err != nil {
		return fmt.Errorf("failed to bootstrap pip: %w", err)
	}

	if !exists(i.plan.Python.PipBinary) {
		return fmt.Errorf("pip bootstrap finished but %s is still missing", i.plan.Python.PipBinary)
	}
	return nil
}

func (i *PackageInstaller) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.CreateTemp(i.tempDir, "get-pip-*.py")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}

// linkAliases points the unversioned python and pip names at the versioned binaries
func (i *PackageInstaller) linkAliases() error {
	links := []struct{ name, target string }{
		{name: "python", target: i.plan.Python.Binary},
		{name: "pip", target: i.plan.Python.PipBinary},
	}
	for _, l := range links {
		link := filepath.Join(i.plan.Python.BinDir, l.name)
		if err := ForceSymlink(l.target, link); err != nil {
			return err
		}
		i.logger.Info().
			Str("link", link).
			Str("target", l.target).
			Msg("linked alias")
	}
	return nil
}

func (i *PackageInstaller) ensureAgent(ctx context.Context) error {
	if exists(i.plan.Agent.CtlPath) {
		i.logger.Info().Str("ctl", i.plan.Agent.CtlPath).Msg("cloudwatch agent already installed")
		return nil
	}

	src := i.plan.Agent.Package
	rpm, err := i.packages.Download(ctx, src.Region, src.Bucket, src.Key, i.tempDir)
	if err != nil {
		return fmt.Errorf("failed to download cloudwatch agent: %w", err)
	}
	defer os.Remove(rpm)

	if _, err := i.runner.Run(ctx, runner.New(i.plan.PackageManager, "install", "-y", rpm)); err != nil {
		return fmt.Errorf("failed to install cloudwatch agent: %w", err)
	}
	return nil
}

// ForceSymlink creates link pointing at target, replacing whatever is at link
func ForceSymlink(target, link string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to link %s -> %s: %w", link, target, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
