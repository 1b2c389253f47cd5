package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
)

const parameterPrefix = "ec2-bootstrap"

// Parameter names under /<env>/ec2-bootstrap
const (
	ParamRepositoryURL     = "repository-url"
	ParamGitHubTokenSecret = "github-token-secret"
	ParamHistoryTable      = "history-table"
)

// Environment variables read by EnvParameterStore
const (
	EnvRepositoryURL     = "BOOTSTRAP_REPOSITORY_URL"
	EnvGitHubTokenSecret = "BOOTSTRAP_GITHUB_TOKEN_SECRET"
	EnvHistoryTable      = "BOOTSTRAP_HISTORY_TABLE"
)

// Config holds the settings that may be overlaid onto the plan. Empty fields
// leave the plan untouched.
type Config struct {
	RepositoryURL     string
	GitHubTokenSecret string
	HistoryTable      string
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by its short name
	GetParameter(ctx context.Context, region, name string) (string, error)

	// GetConfig loads all overlay settings
	GetConfig(ctx context.Context, region string) (*Config, error)
}

// SSMAPI is the subset of the SSM client used by SSMParameterStore
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client SSMAPI
	env    string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
	}
}

// Path returns the parameter path for this environment
func (s *SSMParameterStore) Path() string {
	return fmt.Sprintf("/%s/%s", s.env, parameterPrefix)
}

func (s *SSMParameterStore) key(name string) string {
	return s.Path() + "/" + name
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, region, name string) (string, error) {
	key := s.key(name)

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(key),
		WithDecryption: aws.Bool(true),
	}, withSSMRegion(region))
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ParameterNotFound" {
			return "", fmt.Errorf("parameter %s: %w", key, bootstraperrors.ErrRecordNotFound)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", key, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s: %w", key, bootstraperrors.ErrRecordNotFound)
	}

	return strings.TrimSpace(*result.Parameter.Value), nil
}

// GetConfig loads every parameter under the environment path
func (s *SSMParameterStore) GetConfig(ctx context.Context, region string) (*Config, error) {
	path := s.Path()

	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx, withSSMRegion(region))
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = strings.TrimSpace(*param.Value)
			}
		}
	}

	return &Config{
		RepositoryURL:     params[s.key(ParamRepositoryURL)],
		GitHubTokenSecret: params[s.key(ParamGitHubTokenSecret)],
		HistoryTable:      params[s.key(ParamHistoryTable)],
	}, nil
}

// EnvParameterStore implements ParameterStore using environment variables
type EnvParameterStore struct {
	lookup func(string) string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore() *EnvParameterStore {
	return &EnvParameterStore{
		lookup: os.Getenv,
	}
}

var envNames = map[string]string{
	ParamRepositoryURL:     EnvRepositoryURL,
	ParamGitHubTokenSecret: EnvGitHubTokenSecret,
	ParamHistoryTable:      EnvHistoryTable,
}

// GetParameter maps a short parameter name onto its BOOTSTRAP_* variable
func (e *EnvParameterStore) GetParameter(ctx context.Context, region, name string) (string, error) {
	envName, ok := envNames[name]
	if !ok {
		return "", fmt.Errorf("parameter %s: %w", name, bootstraperrors.ErrRecordNotFound)
	}
	return strings.TrimSpace(e.lookup(envName)), nil
}

// GetConfig loads overlay settings from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context, region string) (*Config, error) {
	return &Config{
		RepositoryURL:     strings.TrimSpace(e.lookup(EnvRepositoryURL)),
		GitHubTokenSecret: strings.TrimSpace(e.lookup(EnvGitHubTokenSecret)),
		HistoryTable:      strings.TrimSpace(e.lookup(EnvHistoryTable)),
	}, nil
}

func withSSMRegion(region string) func(*ssm.Options) {
	return func(o *ssm.Options) {
		if region != "" {
			o.Region = region
		}
	}
}
