package orchestrator

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLauncherGenerator_Render(t *testing.T) {
	p := plan.Default()
	pctx := models.ProvisioningContext{TargetDir: p.TargetDir}

	script, err := NewLauncherGenerator(p, zerolog.Nop()).Render(pctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(script), "#!/bin/bash\n"))

	info, err := InspectLauncher(script)
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/ec2-user/agentic-ai-app"}, info.Dirs)
	assert.Len(t, info.Exports, len(p.Launcher.Environment))
	for _, v := range p.Launcher.Environment {
		assert.Equal(t, []string{v.Value}, info.Exports[v.Name], v.Name)
	}
	assert.Equal(t, []string{"opentelemetry-instrument", "/usr/bin/python3.11", "app.py", "$@"}, info.Exec)
	assert.Contains(t, string(script),
		"export OTEL_RESOURCE_ATTRIBUTES='service.name=weather-forecaster-strands-agent,aws.log.group.names=strands-agent-logs,deployment.environment=ec2:default'\n")
	assert.Contains(t, string(script), "export OTEL_METRICS_EXPORTER=none\n")
}

func TestLauncherGenerator_QuotesHostileValues(t *testing.T) {
	p := plan.Default()
	p.Launcher.Wrapper = ""
	p.Launcher.Environment = []plan.EnvVar{
		{Name: "A", Value: `it's "quoted" $HOME; rm -rf /`},
		{Name: "B", Value: ""},
		{Name: "C", Value: "line1\nline2"},
	}
	pctx := models.ProvisioningContext{TargetDir: "/srv/my app"}

	script, err := NewLauncherGenerator(p, zerolog.Nop()).Render(pctx)
	require.NoError(t, err)

	info, err := InspectLauncher(script)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/my app"}, info.Dirs)
	assert.Equal(t, []string{`it's "quoted" $HOME; rm -rf /`}, info.Exports["A"])
	assert.Equal(t, []string{""}, info.Exports["B"])
	assert.Equal(t, []string{"line1\nline2"}, info.Exports["C"])
	assert.Equal(t, []string{"/usr/bin/python3.11", "app.py", "$@"}, info.Exec)
}

func TestLauncherGenerator_Write(t *testing.T) {
	p := plan.Default()
	p.TargetDir = t.TempDir()
	pctx := models.ProvisioningContext{TargetDir: p.TargetDir}

	// an existing file with a narrower mode is replaced and widened
	require.NoError(t, os.WriteFile(pctx.Path("start-app.sh"), []byte("old"), 0o600))

	path, err := NewLauncherGenerator(p, zerolog.Nop()).Write(pctx)
	require.NoError(t, err)
	assert.Equal(t, pctx.Path("start-app.sh"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old")
}

func TestInspectLauncher_Errors(t *testing.T) {
	_, err := InspectLauncher([]byte("cd /app\nexport A='unterminated\n"))
	assert.True(t, errors.Is(err, bootstraperrors.ErrLauncherInvalid))
}

func TestLauncherInfo_Check(t *testing.T) {
	data := launcherData{
		Dir:         "/app",
		Environment: []plan.EnvVar{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}},
	}

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{
			name:   "valid",
			script: "#!/bin/bash\ncd /app\nexport A=1\nexport B=2\nexec python app.py\n",
		},
		{
			name:    "duplicate export",
			script:  "cd /app\nexport A=1\nexport A=1\nexport B=2\nexec python app.py\n",
			wantErr: true,
		},
		{
			name:    "missing export",
			script:  "cd /app\nexport A=1\nexec python app.py\n",
			wantErr: true,
		},
		{
			name:    "wrong directory",
			script:  "cd /tmp\nexport A=1\nexport B=2\nexec python app.py\n",
			wantErr: true,
		},
		{
			name:    "no exec",
			script:  "cd /app\nexport A=1\nexport B=2\npython app.py\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := InspectLauncher([]byte(tt.script))
			require.NoError(t, err)

			err = info.check(data)
			if tt.wantErr {
				assert.True(t, errors.Is(err, bootstraperrors.ErrLauncherInvalid))
				return
			}
			assert.NoError(t, err)
		})
	}
}
