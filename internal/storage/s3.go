package storage

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/GenomiqueENS/aozan/internal/config"
	aozanhttp "github.com/GenomiqueENS/aozan/internal/http"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/progress"
)

// s3API is the part of the S3 client used by S3Uploader.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores files in an S3 bucket.
type S3Uploader struct {
	client s3API
	bucket string
	prefix string
	logger *logging.Logger
}

// NewS3Uploader creates an uploader for the configured bucket. Static keys
// are used when both are set; otherwise the default AWS credential chain
// applies.
func NewS3Uploader(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client, logger *logging.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no S3 bucket configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Uploader(client s3API, bucket, prefix string, logger *logging.Logger) *S3Uploader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Upload puts localPath in the bucket under key.
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	bar := progress.NewUploadBytes(info.Size(), localPath)
	body := &countingFile{File: f, bar: bar}
	objKey := objectKey(u.prefix, key)

	err = aozanhttp.ExecuteWithRetry(ctx, retryConfig(u.logger, localPath), func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind file: %w", err)
		}
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(objKey),
			Body:          body,
			ContentLength: aws.Int64(info.Size()),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", localPath, u.Location(key), err)
	}
	bar.Finish()

	u.logger.Info().Str("file", localPath).Str("location", u.Location(key)).Int64("bytes", info.Size()).Msg("Archive uploaded")
	return nil
}

// Location returns the s3:// URL of key.
func (u *S3Uploader) Location(key string) string {
	return "s3://" + u.bucket + "/" + strings.TrimPrefix(objectKey(u.prefix, key), "/")
}
