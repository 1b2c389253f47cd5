package di

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"github.com/savaki/ec2-bootstrap/internal/services"
)

// ProvideAWSConfig loads the shared configuration. Clients built from it take
// the resolved instance region per call, so the region here is only a default.
func ProvideAWSConfig(ctx context.Context, p plan.Plan) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(p.DefaultRegion))
}

func ProvideS3Client(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideSecretsManagerClient(config aws.Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(config)
}

func ProvideSTSClient(config aws.Config) *sts.Client {
	return sts.NewFromConfig(config)
}

func ProvideSecretsManagerService(client *secretsmanager.Client) *services.SecretsManagerService {
	return services.NewSecretsManagerService(client)
}

func ProvidePackageDownloader(client *s3.Client, p plan.Plan, logger zerolog.Logger) *services.PackageDownloader {
	return services.NewPackageDownloader(client, p.Agent.Package.Anonymous, logger)
}

func ProvideIdentityService(client *sts.Client) *services.IdentityService {
	return services.NewIdentityService(client)
}

// ProvideMetadataClient builds the IMDS client described by the plan
func ProvideMetadataClient(p plan.Plan) *imds.Client {
	return services.NewMetadataClient(services.MetadataOptions{
		Endpoint:        p.Metadata.Endpoint,
		AllowV1Fallback: p.Metadata.AllowV1Fallback,
	})
}

func ProvideMetadataResolver(client *imds.Client, p plan.Plan, logger zerolog.Logger) *services.MetadataResolver {
	return services.NewMetadataResolver(client, p.DefaultRegion, logger)
}

// ProvideHTTPClient is used for the pip bootstrap download
func ProvideHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}
