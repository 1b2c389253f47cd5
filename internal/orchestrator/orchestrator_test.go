package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/dao/rundao"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/policy"
	"github.com/savaki/ec2-bootstrap/internal/runner"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	plan     plan.Plan
	runner   *fakeRunner
	history  *fakeHistory
	secrets  *fakeSecrets
	packages *fakePackages
	deps     Dependencies
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	p := testPlan(t)
	validator, err := policy.NewValidator()
	require.NoError(t, err)

	f := &fixture{
		plan:     p,
		runner:   &fakeRunner{handler: cloneHandler(t, files)},
		history:  &fakeHistory{},
		secrets:  &fakeSecrets{},
		packages: &fakePackages{},
	}
	f.deps = Dependencies{
		Plan:     p,
		Runner:   f.runner,
		Metadata: fakeIdentity{identity: models.Identity{Region: "us-west-2", InstanceID: testInstanceID}},
		Secrets:  f.secrets,
		Packages: f.packages,
		Accounts: fakeAccounts{},
		History:  f.history.factory,
		Policy:   validator,
		Logger:   zerolog.Nop(),
	}
	return f
}

func (f *fixture) run(t *testing.T, opts RunOptions) (Summary, error) {
	return New(f.deps).Run(context.Background(), opts)
}

func TestOrchestrator_Success(t *testing.T) {
	f := newFixture(t, repoFiles())

	summary, err := f.run(t, RunOptions{HistoryTable: "runs"})
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", summary.Context.Region)
	assert.Equal(t, testInstanceID, summary.Context.InstanceID)
	assert.Equal(t, f.plan.RepositoryURL, summary.Context.RepositoryURL)
	assert.NotEmpty(t, summary.Context.RunID)
	assert.Equal(t, "123456789012", summary.AccountID)
	assert.True(t, summary.AgentActive)
	assert.Empty(t, summary.FailedStage)

	p := f.plan
	want := []string{
		"dnf install -y git gcc wget unzip",
		"dnf install -y python3.11 python3.11-pip python3.11-devel",
		"git clone " + p.RepositoryURL + " " + p.TargetDir,
	}
	for _, pkg := range p.Dependencies.Packages {
		want = append(want, p.Python.PipBinary+" install "+pkg)
	}
	for _, module := range p.Dependencies.Imports {
		want = append(want, p.Python.Binary+" -c import "+module)
	}
	want = append(want,
		p.Agent.CtlPath+" -a fetch-config -m ec2 -s -c file:"+p.Agent.ConfigPath,
		"systemctl is-active amazon-cloudwatch-agent",
	)
	assert.Equal(t, want, f.runner.lines())
	assert.Equal(t, 0, f.packages.calls, "agent already installed")

	// agent config: every placeholder replaced, nothing else changed
	rendered, err := os.ReadFile(p.Agent.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, strings.ReplaceAll(agentTemplate, "i-1234567890abcdef0", testInstanceID), string(rendered))

	template, err := os.ReadFile(filepath.Join(p.TargetDir, "CW-AgentConfig.json"))
	require.NoError(t, err)
	assert.Equal(t, agentTemplate, string(template), "template in checkout is untouched")

	// launcher
	assert.Equal(t, filepath.Join(p.TargetDir, "start-app.sh"), summary.LauncherPath)
	info, err := os.Stat(summary.LauncherPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// aliases
	target, err := os.Readlink(filepath.Join(p.Python.BinDir, "python"))
	require.NoError(t, err)
	assert.Equal(t, p.Python.Binary, target)

	// history
	assert.Equal(t, "runs", f.history.table)
	assert.Equal(t, summary.Context.Region, f.history.region)
	require.Len(t, f.history.records, 1)
	record := f.history.records[0]
	assert.Equal(t, rundao.RunStatusSuccess, record.Status)
	assert.Equal(t, testInstanceID, record.InstanceID)
	assert.Equal(t, summary.Context.RunID, record.RunID)
	assert.True(t, record.AgentActive)
	assert.Empty(t, record.ErrorMsg)
}

func TestOrchestrator_MissingRequiredFile(t *testing.T) {
	files := repoFiles()
	delete(files, "metrics_utils.py")
	f := newFixture(t, files)
	var logs bytes.Buffer
	f.deps.Logger = zerolog.New(&logs)

	_, err := f.run(t, RunOptions{HistoryTable: "runs"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bootstraperrors.ErrMissingRequiredFile))
	assert.Contains(t, err.Error(), "metrics_utils.py")

	var missing map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["level"] == "error" && entry["file"] == "metrics_utils.py" {
			missing = entry
		}
	}
	require.NotNil(t, missing, "an error line names the missing file")
	assert.Equal(t, "required file missing", missing["message"])

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageVerifySources, stageErr.Stage)

	// nothing after verification ran
	assert.Empty(t, f.runner.find(f.plan.Python.PipBinary))
	assert.Empty(t, f.runner.find("systemctl"))
	_, err = os.Stat(f.plan.Agent.ConfigPath)
	assert.True(t, os.IsNotExist(err), "agent config must not be written")
	_, err = os.Stat(f.plan.LauncherPath())
	assert.True(t, os.IsNotExist(err), "launcher must not be written")

	require.Len(t, f.history.records, 1)
	assert.Equal(t, rundao.RunStatusFailed, f.history.records[0].Status)
	assert.Equal(t, StageVerifySources, f.history.records[0].FailedStage)
	assert.Contains(t, f.history.records[0].ErrorMsg, "metrics_utils.py")
}

func TestOrchestrator_RunTwiceIsEquivalent(t *testing.T) {
	f := newFixture(t, repoFiles())

	first, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	before := listTree(t, f.plan.TargetDir)
	launcher1, err := os.ReadFile(first.LauncherPath)
	require.NoError(t, err)

	// leftovers from a previous run disappear
	require.NoError(t, os.WriteFile(filepath.Join(f.plan.TargetDir, "stale.txt"), []byte("x"), 0o644))

	second, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Context.RunID, second.Context.RunID)
	assert.Equal(t, before, listTree(t, f.plan.TargetDir))

	launcher2, err := os.ReadFile(second.LauncherPath)
	require.NoError(t, err)
	assert.Equal(t, launcher1, launcher2)

	rendered, err := os.ReadFile(f.plan.Agent.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, strings.ReplaceAll(agentTemplate, "i-1234567890abcdef0", testInstanceID), string(rendered))
}

func TestOrchestrator_MetadataFailure(t *testing.T) {
	f := newFixture(t, repoFiles())
	f.deps.Metadata = fakeIdentity{err: bootstraperrors.ErrInstanceIDUnavailable}

	summary, err := f.run(t, RunOptions{HistoryTable: "runs"})
	assert.True(t, errors.Is(err, bootstraperrors.ErrInstanceIDUnavailable))
	assert.Equal(t, StageResolveMetadata, summary.FailedStage)
	assert.Empty(t, f.runner.commands)
	assert.Empty(t, f.history.records, "no instance id to key the record on")
}

func TestOrchestrator_RepositoryPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		settings SettingsSource
		opts     RunOptions
		want     string
	}{
		{
			name: "plan",
			want: plan.Default().RepositoryURL,
		},
		{
			name:     "overlay beats plan",
			settings: fakeSettings{config: &services.Config{RepositoryURL: "https://example.com/overlay.git"}},
			want:     "https://example.com/overlay.git",
		},
		{
			name:     "argument beats overlay",
			settings: fakeSettings{config: &services.Config{RepositoryURL: "https://example.com/overlay.git"}},
			opts:     RunOptions{RepositoryURL: "https://example.com/arg.git"},
			want:     "https://example.com/arg.git",
		},
		{
			name:     "overlay failure is a warning",
			settings: fakeSettings{err: errors.New("access denied")},
			want:     plan.Default().RepositoryURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, repoFiles())
			f.deps.Settings = tt.settings

			summary, err := f.run(t, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, summary.Context.RepositoryURL)

			clone := f.runner.find("git")
			require.Len(t, clone, 1)
			assert.Equal(t, tt.want, clone[0].Args[1])
		})
	}
}

func TestOrchestrator_OverlayHistoryTableAndToken(t *testing.T) {
	f := newFixture(t, repoFiles())
	f.secrets.token = "ghp_secret"
	f.deps.Settings = fakeSettings{config: &services.Config{
		GitHubTokenSecret: "ec2-bootstrap/github",
		HistoryTable:      "overlay-runs",
	}}

	_, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "overlay-runs", f.history.table)
	assert.Equal(t, "ec2-bootstrap/github", f.secrets.path)
	assert.Equal(t, "us-west-2", f.secrets.region)

	clone := f.runner.find("git")
	require.Len(t, clone, 1)
	assert.Contains(t, clone[0].Env, "GIT_CONFIG_COUNT=1")
	assert.NotContains(t, clone[0].String(), "ghp_secret")
}

func TestOrchestrator_SkipImportCheck(t *testing.T) {
	f := newFixture(t, repoFiles())

	_, err := f.run(t, RunOptions{SkipImportCheck: true})
	require.NoError(t, err)
	assert.Empty(t, f.runner.find(f.plan.Python.Binary))
}

func TestOrchestrator_AgentInactiveIsNotFatal(t *testing.T) {
	f := newFixture(t, repoFiles())
	clone := cloneHandler(t, repoFiles())
	f.runner.handler = func(cmd runner.Command) ([]byte, error) {
		if cmd.Name == "systemctl" {
			return []byte("inactive\n"), errors.New("exit status 3")
		}
		if cmd.Name == f.plan.Agent.CtlPath {
			return nil, errors.New("fetch-config failed")
		}
		return clone(cmd)
	}

	summary, err := f.run(t, RunOptions{HistoryTable: "runs"})
	require.NoError(t, err)
	assert.False(t, summary.AgentActive)
	assert.FileExists(t, summary.LauncherPath)
	assert.False(t, f.history.records[0].AgentActive)
}

func TestOrchestrator_AssignOwnership(t *testing.T) {
	f := newFixture(t, repoFiles())
	f.deps.Plan.User = "ec2-user"

	_, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	lines := f.runner.lines()
	assert.Equal(t, "chown -R ec2-user:ec2-user "+f.plan.TargetDir, lines[len(lines)-1])
}

func TestOrchestrator_PackageFailureStopsRun(t *testing.T) {
	f := newFixture(t, repoFiles())
	f.runner.handler = func(cmd runner.Command) ([]byte, error) {
		return nil, bootstraperrors.ErrCommandFailed
	}

	summary, err := f.run(t, RunOptions{})
	assert.True(t, errors.Is(err, bootstraperrors.ErrCommandFailed))
	assert.Equal(t, StageInstallPackages, summary.FailedStage)
	assert.Len(t, f.runner.commands, 1)
}

func TestOrchestrator_Cancelled(t *testing.T) {
	f := newFixture(t, repoFiles())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(f.deps).Run(ctx, RunOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.runner.commands)
}

func listTree(t *testing.T, root string) []string {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	require.NoError(t, err)
	return paths
}
