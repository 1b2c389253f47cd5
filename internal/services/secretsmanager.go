package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsManagerService struct {
	client SecretsAPI
}

func NewSecretsManagerService(client SecretsAPI) *SecretsManagerService {
	return &SecretsManagerService{
		client: client,
	}
}

type GitHubPATSecret struct {
	GitHubPAT string `json:"github_pat"`
}

// GetSecret retrieves a secret value by path from AWS Secrets Manager
func (s *SecretsManagerService) GetSecret(ctx context.Context, region, secretPath string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretPath),
	}, func(o *secretsmanager.Options) {
		if region != "" {
			o.Region = region
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretPath, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretPath)
	}

	return *result.SecretString, nil
}

// GetGitHubPAT retrieves a GitHub PAT token from AWS Secrets Manager
func (s *SecretsManagerService) GetGitHubPAT(ctx context.Context, region, secretPath string) (string, error) {
	value, err := s.GetSecret(ctx, region, secretPath)
	if err != nil {
		return "", err
	}

	var patSecret GitHubPATSecret
	if err := json.Unmarshal([]byte(value), &patSecret); err != nil {
		return "", fmt.Errorf("failed to unmarshal GitHub PAT secret: %w", err)
	}

	if patSecret.GitHubPAT == "" {
		return "", fmt.Errorf("github_pat field is empty in secret %s", secretPath)
	}

	return patSecret.GitHubPAT, nil
}
