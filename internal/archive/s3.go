package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of *s3.Client used by S3Archiver.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the archive bucket. An empty bucket disables archiving.
type Config struct {
	Bucket         string        `env:"WEBHOOK_ARCHIVE_BUCKET"`
	Region         string        `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID    string        `env:"AWS_ACCESS_KEY_ID"`
	SecretKey      string        `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint       string        `env:"S3_ENDPOINT"`
	ForcePathStyle bool          `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	UploadTimeout  time.Duration `env:"WEBHOOK_ARCHIVE_TIMEOUT" envDefault:"5s"`
}

// S3Archiver writes entries to an S3 or S3-compatible bucket.
type S3Archiver struct {
	client        S3Client
	bucket        string
	uploadTimeout time.Duration
}

type Option func(*s3Options)

type s3Options struct {
	httpClient *http.Client
	s3Client   S3Client
}

// WithS3Client sets a pre-configured client, mostly for tests.
func WithS3Client(client S3Client) Option {
	return func(o *s3Options) {
		o.s3Client = client
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *s3Options) {
		o.httpClient = client
	}
}

// New returns Noop when cfg names no bucket.
func New(ctx context.Context, cfg Config, opts ...Option) (Archiver, error) {
	if cfg.Bucket == "" {
		return Noop{}, nil
	}
	return NewS3Archiver(ctx, cfg, opts...)
}

func NewS3Archiver(ctx context.Context, cfg Config, opts ...Option) (*S3Archiver, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	options := &s3Options{}
	for _, opt := range opts {
		opt(options)
	}

	client := options.s3Client
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		if options.httpClient != nil {
			awsOptions = append(awsOptions, config.WithHTTPClient(options.httpClient))
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}
		client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &S3Archiver{
		client:        client,
		bucket:        cfg.Bucket,
		uploadTimeout: cfg.UploadTimeout,
	}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, e Entry) error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidConfig)
	}
	if a.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.uploadTimeout)
		defer cancel()
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(e.Key()),
		Body:          bytes.NewReader(e.Payload),
		ContentLength: aws.Int64(int64(len(e.Payload))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"event-type":  e.EventType,
			"received-at": e.ReceivedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return classifyS3Error(err, "archive")
	}
	return nil
}

func classifyS3Error(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s operation", ErrOperationTimeout, operation)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s operation", ErrOperationCanceled, operation)
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); code {
		case "AccessDenied":
			return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %s operation", ErrServiceUnavailable, operation)
		case "NoSuchBucket":
			return ErrBucketNotFound
		default:
			return fmt.Errorf("%s operation failed (code: %s): %w", operation, code, err)
		}
	}
	return fmt.Errorf("%s operation failed: %w", operation, err)
}
