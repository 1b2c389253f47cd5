package di

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/dao/rundao"
	"github.com/savaki/ec2-bootstrap/internal/orchestrator"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/policy"
	"github.com/savaki/ec2-bootstrap/internal/runner"
	"github.com/savaki/ec2-bootstrap/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"
)

type ctxKey struct{}

// stubRunner fails every command and records what was asked of it
type stubRunner struct {
	commands []runner.Command
}

func (s *stubRunner) Run(ctx context.Context, cmd runner.Command) ([]byte, error) {
	s.commands = append(s.commands, cmd)
	return nil, errors.New("package manager unavailable")
}

type stubSTS struct{}

func (stubSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String("123456789012")}, nil
}

// stubHistory captures the run record instead of writing it to DynamoDB
type stubHistory struct {
	region string
	table  string
	input  rundao.CreateInput
}

func (s *stubHistory) Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error) {
	s.input = input
	return rundao.NewRecord(input), nil
}

func (s *stubHistory) factory(region, table string) orchestrator.HistoryWriter {
	s.region, s.table = region, table
	return s
}

func newMetadataServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			w.Header().Set("X-Aws-Ec2-Metadata-Token-Ttl-Seconds", "21600")
			_, _ = io.WriteString(w, "token")
		case r.URL.Path == "/latest/dynamic/instance-identity/document":
			_, _ = io.WriteString(w, `{"region":"eu-central-1","instanceId":"i-0feedface0000000"}`)
		case r.URL.Path == "/latest/meta-data/instance-id":
			_, _ = io.WriteString(w, "i-0feedface0000000")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_Defaults(t *testing.T) {
	container, err := New("dev")
	require.NoError(t, err)

	assert.Equal(t, "dev", MustGet[string](container))
	assert.Equal(t, plan.Default(), MustGet[plan.Plan](container))
	assert.NotNil(t, MustGet[context.Context](container))
	assert.NotNil(t, MustGet[runner.Runner](container))
	assert.NotNil(t, MustGet[*policy.Validator](container))
}

func TestNew_Options(t *testing.T) {
	p := plan.Default()
	p.TargetDir = "/srv/app"
	ctx := context.WithValue(context.Background(), ctxKey{}, "value")

	container, err := New("dev",
		WithPlan(p),
		WithContext(ctx),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	assert.Equal(t, "/srv/app", MustGet[plan.Plan](container).TargetDir)
	assert.Equal(t, "value", MustGet[context.Context](container).Value(ctxKey{}))
	assert.Equal(t, zerolog.Disabled, MustGet[zerolog.Logger](container).GetLevel())
}

func TestNew_ParameterStore(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want services.ParameterStore
	}{
		{name: "environment variables", env: "", want: &services.EnvParameterStore{}},
		{name: "parameter store", env: "prd", want: &services.SSMParameterStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, err := New(tt.env, WithLogger(zerolog.Nop()))
			require.NoError(t, err)

			assert.IsType(t, tt.want, MustGet[services.ParameterStore](container))
		})
	}
}

func TestNew_InvalidProvider(t *testing.T) {
	_, err := New("dev", WithProviders("not a constructor"))
	assert.Error(t, err)
}

func TestNew_ReplacesProvider(t *testing.T) {
	container, err := New("dev")
	require.NoError(t, err)
	assert.Equal(t, ProvideHTTPClient().Timeout, MustGet[*http.Client](container).Timeout)

	client := &http.Client{}
	container, err = New("dev", WithProviders(func() *http.Client { return client }))
	require.NoError(t, err)
	assert.Same(t, client, MustGet[*http.Client](container))
}

func TestMustGet(t *testing.T) {
	t.Run("resolves", func(t *testing.T) {
		container, err := New("dev", WithLogger(zerolog.Nop()))
		require.NoError(t, err)

		first := MustGet[*orchestrator.Orchestrator](container)
		assert.NotNil(t, first)
		assert.Same(t, first, MustGet[*orchestrator.Orchestrator](container))
	})

	t.Run("panics on missing type", func(t *testing.T) {
		container, err := New("dev")
		require.NoError(t, err)

		assert.Panics(t, func() {
			MustGet[*services.Config](container)
		})
	})

	t.Run("panics on constructor error", func(t *testing.T) {
		container, err := New("dev", WithProviders(func() (*policy.Validator, error) {
			return nil, errors.New("policy did not compile")
		}))
		require.NoError(t, err)

		assert.Panics(t, func() {
			MustGet[*orchestrator.Orchestrator](container)
		})
	})
}

func TestNew_Orchestrator(t *testing.T) {
	t.Setenv(services.EnvRepositoryURL, "https://github.com/example/app.git")
	t.Setenv(services.EnvGitHubTokenSecret, "")
	t.Setenv(services.EnvHistoryTable, "ec2-bootstrap-runs")

	p := plan.Default()
	p.TargetDir = t.TempDir()
	p.Metadata.Endpoint = newMetadataServer(t).URL

	r := &stubRunner{}
	history := &stubHistory{}
	container, err := New("",
		WithPlan(p),
		WithLogger(zerolog.Nop()),
		WithProviders(
			func() runner.Runner { return r },
			func() *services.IdentityService { return services.NewIdentityService(stubSTS{}) },
			func() orchestrator.HistoryFactory { return history.factory },
		),
	)
	require.NoError(t, err)

	resolver := MustGet[*services.MetadataResolver](container)
	identity, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", identity.Region)

	summary, err := MustGet[*orchestrator.Orchestrator](container).Run(context.Background(), orchestrator.RunOptions{})
	require.Error(t, err)

	var stageErr *orchestrator.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, orchestrator.StageInstallPackages, stageErr.Stage)

	require.NotEmpty(t, r.commands)
	assert.Equal(t, p.PackageManager, r.commands[0].Name)

	assert.Equal(t, "i-0feedface0000000", summary.Context.InstanceID)
	assert.Equal(t, "https://github.com/example/app.git", summary.Context.RepositoryURL)
	assert.Equal(t, "123456789012", summary.AccountID)

	assert.Equal(t, "eu-central-1", history.region)
	assert.Equal(t, "ec2-bootstrap-runs", history.table)
	assert.Equal(t, rundao.RunStatusFailed, history.input.Status)
	assert.Equal(t, orchestrator.StageInstallPackages, history.input.FailedStage)
}

func TestContainer_Interface(t *testing.T) {
	var _ Container = dig.New()

	container, err := New("dev")
	require.NoError(t, err)

	scope := container.Scope("verify")
	require.NoError(t, scope.Invoke(func(p plan.Plan) {
		assert.Equal(t, plan.Default().TargetDir, p.TargetDir)
	}))
}

func TestProvideMetadataClient(t *testing.T) {
	p := plan.Default()
	p.Metadata.Endpoint = "http://127.0.0.1:1338"

	container, err := New("dev", WithPlan(p), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	err = container.Invoke(func(p plan.Plan) {
		assert.NotNil(t, ProvideMetadataClient(p))
	})
	require.NoError(t, err)
}
