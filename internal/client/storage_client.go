package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stepdocs/api/internal/config"
)

// StorageClient mirrors finished artifacts to an S3-compatible bucket
type StorageClient struct {
	s3Client   *s3.Client
	bucketName string
	endpoint   string
	publicURL  string
}

// NewStorageClient creates a client for AWS S3, R2, MinIO or any other
// S3-compatible endpoint. An empty endpoint means AWS.
func NewStorageClient(ctx context.Context, cfg *config.S3Config) (*StorageClient, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("S3 configuration incomplete")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &StorageClient{
		s3Client:   s3Client,
		bucketName: cfg.Bucket,
		endpoint:   endpoint,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Upload stores body under key and returns its public URL
func (c *StorageClient) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return c.PublicURL(key), nil
}

// PublicURL returns the URL a key is served from
func (c *StorageClient) PublicURL(key string) string {
	switch {
	case c.publicURL != "":
		return fmt.Sprintf("%s/%s", c.publicURL, key)
	case c.endpoint != "":
		return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucketName, key)
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucketName, key)
	}
}

// Ping checks that the bucket is reachable
func (c *StorageClient) Ping(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucketName)})
	return err
}
