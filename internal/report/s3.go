package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config configures report uploads.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // custom endpoint for localstack, empty for AWS
}

// ApplyDefaults fills in default values.
func (c *S3Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Prefix == "" {
		c.Prefix = "perf-reports"
	}
}

// Validate checks configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("report: s3 bucket is required")
	}
	return nil
}

// putObjectAPI is the slice of the S3 client the publisher uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads report documents to a bucket.
type S3Publisher struct {
	cfg    S3Config
	api    putObjectAPI
	logger *zap.Logger
}

// NewS3Publisher creates a publisher. When a custom endpoint is
// configured (localstack), static dummy credentials and path-style
// addressing are used.
func NewS3Publisher(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("report: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Publisher{cfg: cfg, api: api, logger: logger}, nil
}

// Publish uploads one document under prefix/scenario/filename.
func (p *S3Publisher) Publish(ctx context.Context, doc *Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("report: marshal document: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s", p.cfg.Prefix, doc.Scenario, fileName(doc))
	_, err = p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("report: put object: %w", err)
	}

	p.logger.Info("report uploaded",
		zap.String("bucket", p.cfg.Bucket),
		zap.String("key", key))
	return key, nil
}
