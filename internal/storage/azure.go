package storage

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/GenomiqueENS/aozan/internal/config"
	aozanhttp "github.com/GenomiqueENS/aozan/internal/http"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/progress"
)

// AzureUploader stores files as block blobs of an Azure container.
type AzureUploader struct {
	client *container.Client
	base   string
	prefix string
	logger *logging.Logger
}

// NewAzureUploader creates an uploader for a container URL carrying a SAS
// token.
func NewAzureUploader(cfg config.AzureConfig, httpClient *nethttp.Client, logger *logging.Logger) (*AzureUploader, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.ContainerURL == "" {
		return nil, fmt.Errorf("no Azure container URL configured")
	}

	u, err := url.Parse(cfg.ContainerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Azure container URL: %w", err)
	}
	u.RawQuery = ""

	client, err := container.NewClientWithNoCredential(cfg.ContainerURL, &container.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &AzureUploader{
		client: client,
		base:   strings.TrimSuffix(u.String(), "/"),
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Upload writes localPath to the blob named key.
func (u *AzureUploader) Upload(ctx context.Context, localPath, key string) error {
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
	blob := u.client.NewBlockBlobClient(objectKey(u.prefix, key))

	err = aozanhttp.ExecuteWithRetry(ctx, retryConfig(u.logger, localPath), func() error {
		bar.Reset()
		_, err := blob.UploadFile(ctx, f, &blockblob.UploadFileOptions{
			Progress: func(bytesTransferred int64) {
				bar.Set(bytesTransferred)
			},
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

// Location returns the blob URL of key without the SAS token.
func (u *AzureUploader) Location(key string) string {
	return u.base + "/" + objectKey(u.prefix, key)
}
