package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/policy"
	"github.com/savaki/ec2-bootstrap/internal/runner"
)

// ConfigPolicy evaluates a rendered agent configuration
type ConfigPolicy interface {
	ValidateConfig(ctx context.Context, raw []byte, placeholder string) (*policy.ValidationResult, error)
}

// ConfigTemplater installs the agent config from the checkout with the
// instance id substituted for the placeholder
type ConfigTemplater struct {
	plan   plan.Plan
	policy ConfigPolicy
	logger zerolog.Logger
}

func NewConfigTemplater(p plan.Plan, configPolicy ConfigPolicy, logger zerolog.Logger) *ConfigTemplater {
	return &ConfigTemplater{
		plan:   p,
		policy: configPolicy,
		logger: logger.With().Str("service", "config_templater").Logger(),
	}
}

// Render copies the template into place and rewrites the copy. The template
// in the checkout is never modified.
func (c *ConfigTemplater) Render(ctx context.Context, pctx models.ProvisioningContext) error {
	src := pctx.Path(c.plan.Agent.ConfigTemplate)
	dst := c.plan.Agent.ConfigPath

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}

	n, err := ReplaceInFile(dst, c.plan.Agent.Placeholder, pctx.InstanceID)
	if err != nil {
		return err
	}

	logger := c.logger.With().
		Str("path", dst).
		Int("replacements", n).
		Logger()
	if n == 0 {
		logger.Info().Msg("agent config has no placeholder, installed unchanged")
	} else {
		logger.Info().Str("instance_id", pctx.InstanceID).Msg("agent config templated")
	}

	c.check(ctx, dst)
	return nil
}

// check runs the policy over the installed file. Findings are warnings only.
func (c *ConfigTemplater) check(ctx context.Context, path string) {
	if c.policy == nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read agent config for policy check")
		return
	}

	result, err := c.policy.ValidateConfig(ctx, data, c.plan.Agent.Placeholder)
	if err != nil {
		c.logger.Warn().Err(err).Msg("agent config policy check failed to run")
		return
	}
	if !result.Allowed {
		c.logger.Warn().
			Strs("violations", result.Violations).
			Msg("agent config violates policy")
	}
}

// CopyFile copies src to dst, truncating dst
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// ReplaceInFile replaces every occurrence of old with replacement in path and returns
// how many occurrences were replaced. The file is left untouched when there
// are none.
func ReplaceInFile(path, old, replacement string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	n := bytes.Count(data, []byte(old))
	if n == 0 {
		return 0, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data = bytes.ReplaceAll(data, []byte(old), []byte(replacement))
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return n, nil
}

// AgentActivator loads the agent config and reports whether the service runs
type AgentActivator struct {
	plan   plan.Plan
	runner runner.Runner
	logger zerolog.Logger
}

func NewAgentActivator(p plan.Plan, r runner.Runner, logger zerolog.Logger) *AgentActivator {
	return &AgentActivator{
		plan:   p,
		runner: r,
		logger: logger.With().Str("service", "agent_activator").Logger(),
	}
}

// Activate never fails the run. It returns true when the service reports active.
func (a *AgentActivator) Activate(ctx context.Context) bool {
	fetch := runner.New(a.plan.Agent.CtlPath,
		"-a", "fetch-config",
		"-m", "ec2",
		"-s",
		"-c", "file:"+a.plan.Agent.ConfigPath,
	)
	if _, err := a.runner.Run(ctx, fetch); err != nil {
		a.logger.Warn().Err(err).Msg("failed to load agent config")
	}

	output, err := a.runner.Run(ctx, runner.New("systemctl", "is-active", a.plan.Agent.ServiceName))
	var state string
	if lines := runner.Lines(output); len(lines) > 0 {
		state = lines[len(lines)-1]
	}
	if err == nil && state == "active" {
		a.logger.Info().Str("service_name", a.plan.Agent.ServiceName).Msg("cloudwatch agent is active")
		return true
	}

	a.logger.Warn().
		Str("service_name", a.plan.Agent.ServiceName).
		Str("state", state).
		Msg("cloudwatch agent is not active")
	return false
}
