package di

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/services"
)

// ProvideSSMClient provides an SSM client for Parameter Store access
func ProvideSSMClient(awsConfig aws.Config) *ssm.Client {
	return ssm.NewFromConfig(awsConfig)
}

// ProvideParameterStore provides a ParameterStore implementation.
// An empty environment reads BOOTSTRAP_* variables instead of SSM.
func ProvideParameterStore(ssmClient *ssm.Client, env string, logger zerolog.Logger) services.ParameterStore {
	if env == "" {
		logger.Debug().Msg("using environment variables for settings")
		return services.NewEnvParameterStore()
	}

	store := services.NewSSMParameterStore(ssmClient, env)
	logger.Debug().Str("path", store.Path()).Msg("using parameter store for settings")
	return store
}
