package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// InitializeAws loads the shared AWS config. Static keys from the env take
// precedence over the default credential chain, which lets the workers run
// against MinIO or DynamoDB Local.
func InitializeAws(ctx context.Context, c *Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if c.AwsRegion != "" {
		opts = append(opts, config.WithRegion(c.AwsRegion))
	}
	if c.AwsAccessKeyID != "" && c.AwsSecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AwsAccessKeyID, c.AwsSecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error while initializing aws: %w", err)
	}
	return cfg, nil
}

// NeedsAws reports whether any configured backend talks to AWS.
func (c *Config) NeedsAws() bool {
	return c.StagingBackend == StagingS3 || c.StoreBackend == StoreDynamo
}
