// Package storage copies report archives to remote object storage (S3 or
// Azure Blob) once they are written on the reports volume.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/GenomiqueENS/aozan/internal/config"
	aozanhttp "github.com/GenomiqueENS/aozan/internal/http"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/progress"
)

// Uploader copies a local file to remote storage under key.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error

	// Location describes where key is stored, for notifications.
	Location(key string) string
}

// New returns the uploader of the configured storage, or nil when archives
// stay on local disk only.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *logging.Logger) (Uploader, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	switch cfg.Storage {
	case "", config.StorageNone:
		return nil, nil
	case config.StorageS3, config.StorageAzure:
	default:
		return nil, fmt.Errorf("unknown archive storage %q", cfg.Storage)
	}

	httpClient, err := aozanhttp.NewClient(config.ProxyConfig{Mode: config.ProxyModeSystem}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	if cfg.Storage == config.StorageS3 {
		u, err := NewS3Uploader(ctx, cfg.S3, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	u, err := NewAzureUploader(cfg.Azure, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// RunKey returns the key of a report file of a run.
func RunKey(runID, name string) string {
	return path.Join(runID, name)
}

// objectKey prepends a storage prefix to a key.
func objectKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// countingFile reports the bytes read from a file to a progress counter. A
// rewind to the start, done by SDKs before a retry, resets the counter.
type countingFile struct {
	*os.File
	bar *progress.Bytes
}

func (c *countingFile) Read(p []byte) (int, error) {
	n, err := c.File.Read(p)
	if n > 0 {
		c.bar.Add(n)
	}
	return n, err
}

func (c *countingFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.File.Seek(offset, whence)
	if err == nil && whence == io.SeekStart {
		c.bar.Set(pos)
	}
	return pos, err
}

// retryConfig logs each retry of an upload.
func retryConfig(logger *logging.Logger, localPath string) aozanhttp.RetryConfig {
	cfg := aozanhttp.DefaultRetryConfig()
	cfg.OnRetry = func(attempt int, err error, errorType aozanhttp.ErrorType) {
		logger.Warn().Err(err).Str("file", localPath).Int("attempt", attempt).
			Str("error_type", aozanhttp.ErrorTypeName(errorType)).Msg("Upload failed, retrying")
	}
	return cfg
}
