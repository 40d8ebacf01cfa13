package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"crosspost/internal/logging"
	"crosspost/internal/services"
)

const defaultPresignTTL = time.Hour

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	Bucket     string
	Prefix     string
	Region     string // default us-east-1
	Endpoint   string // S3-compatible endpoint such as MinIO; forces path-style
	AccessKey  string // empty uses the default credential chain
	SecretKey  string
	PresignTTL time.Duration
}

// S3 stores objects in a bucket and hands out presigned GET URLs.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     S3Config
	logger  *slog.Logger
}

// NewS3 creates an S3 backend.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	logger.Info("s3 storage initialized",
		logging.String("bucket", cfg.Bucket),
		logging.String("region", cfg.Region),
		logging.String("endpoint", cfg.Endpoint),
	)
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

func (s *S3) fullKey(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.cfg.Prefix == "" {
		return clean, nil
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + clean, nil
}

// Put uploads the object and returns a presigned GET URL for it.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(full),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", classify("put", key, err)
	}
	s.logger.Debug("uploaded object", logging.String("bucket", s.cfg.Bucket), logging.String("key", full))
	return s.presignGet(ctx, full)
}

// Get downloads the whole object.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "storage", "get", key, err)
	}
	return data, nil
}

// URL returns a presigned GET URL valid for the configured TTL.
func (s *S3) URL(ctx context.Context, key string) (string, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return "", err
	}
	return s.presignGet(ctx, full)
}

// Delete removes the object.
func (s *S3) Delete(ctx context.Context, key string) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(full),
	}); err != nil {
		return classify("delete", key, err)
	}
	return nil
}

func (s *S3) presignGet(ctx context.Context, full string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(full),
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", full, err)
	}
	return req.URL, nil
}

func classify(op, key string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return notFound(op, key, err)
	}
	var coder interface{ HTTPStatusCode() int }
	if errors.As(err, &coder) {
		return services.FromHTTPStatus("storage", op, coder.HTTPStatusCode(), 0, err.Error())
	}
	return services.Wrap(services.ErrTransient, "storage", op, key, err)
}
