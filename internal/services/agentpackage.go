package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3API is the subset of the S3 client used to download packages
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// PackageDownloader fetches installable packages from S3
type PackageDownloader struct {
	client    S3API
	anonymous bool
	logger    zerolog.Logger
}

// NewPackageDownloader creates a new package downloader. When anonymous is
// set, requests are sent unsigned, which is how public buckets such as the
// CloudWatch agent distribution are read from hosts without credentials.
func NewPackageDownloader(client S3API, anonymous bool, logger zerolog.Logger) *PackageDownloader {
	return &PackageDownloader{
		client:    client,
		anonymous: anonymous,
		logger:    logger.With().Str("service", "package_downloader").Logger(),
	}
}

// Download copies s3://bucket/key into a new file under dir and returns its
// path. The file keeps the object's base name as a suffix so package managers
// recognise its type.
func (d *PackageDownloader) Download(ctx context.Context, region, bucket, key, dir string) (string, error) {
	logger := d.logger.With().
		Str("s3_bucket", bucket).
		Str("s3_key", key).
		Bool("anonymous", d.anonymous).
		Logger()

	logger.Info().Msg("downloading package")

	output, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
		if d.anonymous {
			// no identity resolver leaves only the anonymous auth scheme
			o.Credentials = nil
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to download package")
		return "", fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer output.Body.Close()

	f, err := os.CreateTemp(dir, "*-"+path.Base(key))
	if err != nil {
		return "", fmt.Errorf("failed to create package file: %w", err)
	}

	n, err := io.Copy(f, output.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		logger.Error().Err(err).Msg("failed to write package")
		return "", fmt.Errorf("failed to write %s: %w", f.Name(), err)
	}

	logger.Info().
		Str("path", f.Name()).
		Int64("bytes", n).
		Msg("downloaded package")

	return f.Name(), nil
}
