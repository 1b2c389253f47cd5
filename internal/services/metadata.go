package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/rs/zerolog"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/models"
)

// MetadataAPI is the subset of the IMDS client used to resolve instance identity
type MetadataAPI interface {
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// MetadataOptions configures the IMDS client
type MetadataOptions struct {
	Endpoint        string // empty uses the link-local default
	AllowV1Fallback bool   // permit anonymous IMDSv1 reads when a session token cannot be obtained
}

// NewMetadataClient builds an IMDS client. The client fetches a session token
// (IMDSv2) before every read and only falls back to anonymous reads when allowed.
func NewMetadataClient(opts MetadataOptions) *imds.Client {
	fallback := aws.FalseTernary
	if opts.AllowV1Fallback {
		fallback = aws.TrueTernary
	}

	return imds.New(imds.Options{
		Endpoint:          opts.Endpoint,
		EnableFallback:    fallback,
		ClientEnableState: imds.ClientEnabled,
		Retryer:           aws.NopRetryer{},
	})
}

// MetadataResolver resolves the (region, instance id) of the current host
type MetadataResolver struct {
	client        MetadataAPI
	defaultRegion string
	logger        zerolog.Logger
}

// NewMetadataResolver creates a resolver falling back to defaultRegion
func NewMetadataResolver(client MetadataAPI, defaultRegion string, logger zerolog.Logger) *MetadataResolver {
	return &MetadataResolver{
		client:        client,
		defaultRegion: defaultRegion,
		logger:        logger.With().Str("service", "metadata").Logger(),
	}
}

// Resolve returns the instance identity. A failed or empty region lookup is not
// fatal and yields the default region; a missing instance id is.
func (r *MetadataResolver) Resolve(ctx context.Context) (models.Identity, error) {
	region := r.Region(ctx)

	instanceID, err := r.InstanceID(ctx)
	if err != nil {
		return models.Identity{}, err
	}

	r.logger.Info().
		Str("region", region).
		Str("instance_id", instanceID).
		Msg("resolved instance identity")

	return models.Identity{
		Region:     region,
		InstanceID: instanceID,
	}, nil
}

// Region returns the region reported by the metadata service or the default region
func (r *MetadataResolver) Region(ctx context.Context) string {
	out, err := r.client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("default_region", r.defaultRegion).
			Msg("failed to get region from metadata service, using default")
		return r.defaultRegion
	}

	region := strings.TrimSpace(out.Region)
	if region == "" {
		r.logger.Warn().
			Str("default_region", r.defaultRegion).
			Msg("metadata service returned an empty region, using default")
		return r.defaultRegion
	}

	return region
}

// InstanceID returns the instance id reported by the metadata service
func (r *MetadataResolver) InstanceID(ctx context.Context) (string, error) {
	out, err := r.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: "instance-id"})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to get instance id from metadata service")
		return "", fmt.Errorf("%w: %w", bootstraperrors.ErrInstanceIDUnavailable, err)
	}
	defer out.Content.Close()

	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", bootstraperrors.ErrInstanceIDUnavailable, err)
	}

	instanceID := strings.TrimSpace(string(data))
	if instanceID == "" {
		return "", fmt.Errorf("%w: empty response", bootstraperrors.ErrInstanceIDUnavailable)
	}

	return instanceID, nil
}
