package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/savaki/ec2-bootstrap/internal/dao/rundao"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/runner"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"github.com/stretchr/testify/require"
)

const testInstanceID = "i-0fedcba9876543210"

const agentTemplate = `{
  "agent": {"metrics_collection_interval": 60},
  "logs": {
    "logs_collected": {
      "files": {
        "collect_list": [
          {"file_path": "/var/log/app.log", "log_stream_name": "i-1234567890abcdef0-app"}
        ]
      }
    }
  },
  "metrics": {"append_dimensions": {"InstanceId": "i-1234567890abcdef0"}}
}
`

// fakeRunner records commands and answers them through handler
type fakeRunner struct {
	commands []runner.Command
	handler  func(cmd runner.Command) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd runner.Command) ([]byte, error) {
	f.commands = append(f.commands, cmd)
	if f.handler != nil {
		return f.handler(cmd)
	}
	return nil, nil
}

func (f *fakeRunner) lines() []string {
	var lines []string
	for _, cmd := range f.commands {
		lines = append(lines, cmd.String())
	}
	return lines
}

func (f *fakeRunner) find(name string) []runner.Command {
	var found []runner.Command
	for _, cmd := range f.commands {
		if cmd.Name == name {
			found = append(found, cmd)
		}
	}
	return found
}

// repoFiles is the content of a healthy checkout
func repoFiles() map[string]string {
	return map[string]string{
		"app.py":              "print('hello')\n",
		"metrics_utils.py":    "def emit(): pass\n",
		"CW-AgentConfig.json": agentTemplate,
	}
}

// cloneHandler materialises files on git clone and reports the agent active
func cloneHandler(t *testing.T, files map[string]string) func(cmd runner.Command) ([]byte, error) {
	return func(cmd runner.Command) ([]byte, error) {
		switch cmd.Name {
		case "git":
			dir := cmd.Args[len(cmd.Args)-1]
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for name, content := range files {
				path := filepath.Join(dir, name)
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			}
		case "systemctl":
			return []byte("active\n"), nil
		}
		return nil, nil
	}
}

// testPlan returns a plan rooted in a temp dir with python, pip and the agent
// already present
func testPlan(t *testing.T) plan.Plan {
	root := t.TempDir()

	p := plan.Default()
	p.User = ""
	p.TargetDir = filepath.Join(root, "home", "app")
	p.Python.Binary = filepath.Join(root, "bin", "python3.11")
	p.Python.PipBinary = filepath.Join(root, "bin", "pip3.11")
	p.Python.BinDir = filepath.Join(root, "usr", "bin")
	p.Agent.ConfigPath = filepath.Join(root, "opt", "etc", "amazon-cloudwatch-agent.json")
	p.Agent.CtlPath = filepath.Join(root, "opt", "bin", "amazon-cloudwatch-agent-ctl")

	for _, path := range []string{p.Python.Binary, p.Python.PipBinary, p.Agent.CtlPath} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o755))
	}
	require.NoError(t, os.MkdirAll(p.Python.BinDir, 0o755))
	require.NoError(t, p.Validate())
	return p
}

type fakeIdentity struct {
	identity models.Identity
	err      error
}

func (f fakeIdentity) Resolve(ctx context.Context) (models.Identity, error) {
	return f.identity, f.err
}

type fakeSettings struct {
	config *services.Config
	err    error
}

func (f fakeSettings) GetConfig(ctx context.Context, region string) (*services.Config, error) {
	return f.config, f.err
}

type fakeSecrets struct {
	token  string
	region string
	path   string
}

func (f *fakeSecrets) GetGitHubPAT(ctx context.Context, region, secretPath string) (string, error) {
	f.region, f.path = region, secretPath
	if f.token == "" {
		return "", errors.New("secret not found")
	}
	return f.token, nil
}

type fakePackages struct {
	calls int
	err   error
}

func (f *fakePackages) Download(ctx context.Context, region, bucket, key, dir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, "agent.rpm")
	return path, os.WriteFile(path, []byte("rpm"), 0o644)
}

type fakeAccounts struct{}

func (fakeAccounts) GetAccountID(ctx context.Context, region string) (string, error) {
	return "123456789012", nil
}

type fakeHistory struct {
	region  string
	table   string
	records []rundao.CreateInput
}

func (f *fakeHistory) factory(region, table string) HistoryWriter {
	f.region = region
	f.table = table
	return f
}

func (f *fakeHistory) Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error) {
	f.records = append(f.records, input)
	return rundao.NewRecord(input), nil
}
