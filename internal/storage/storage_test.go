package storage

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GenomiqueENS/aozan/internal/config"
)

type fakeS3 struct {
	mu    sync.Mutex
	fail  int
	calls int
	keys  []string
	body  []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("api error ServiceUnavailable: please retry")
	}
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report_run.tar.bz2")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestS3Uploader_Upload(t *testing.T) {
	path := writeFile(t, "archive content")

	t.Run("Puts object under prefix", func(t *testing.T) {
		fake := &fakeS3{}
		u := newS3Uploader(fake, "reports", "/aozan/", nil)

		require.NoError(t, u.Upload(t.Context(), path, RunKey("run1", "report_run1.tar.bz2")))
		assert.Equal(t, []string{"reports/aozan/run1/report_run1.tar.bz2"}, fake.keys)
		assert.Equal(t, "archive content", string(fake.body))
	})

	t.Run("Retries transient errors from the start of the file", func(t *testing.T) {
		fake := &fakeS3{fail: 1}
		u := newS3Uploader(fake, "reports", "", nil)

		require.NoError(t, u.Upload(t.Context(), path, "run1/x.tar.bz2"))
		assert.Equal(t, 2, fake.calls)
		assert.Equal(t, "archive content", string(fake.body))
	})

	t.Run("Missing file", func(t *testing.T) {
		u := newS3Uploader(&fakeS3{}, "reports", "", nil)
		assert.Error(t, u.Upload(t.Context(), filepath.Join(t.TempDir(), "none"), "k"))
	})
}

func TestS3Uploader_Location(t *testing.T) {
	u := newS3Uploader(&fakeS3{}, "reports", "aozan", nil)
	assert.Equal(t, "s3://reports/aozan/run1/a.tar.bz2", u.Location("run1/a.tar.bz2"))
}

func TestAzureUploader(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
	)
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != nethttp.MethodPut {
			w.WriteHeader(nethttp.StatusMethodNotAllowed)
			return
		}
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(nethttp.StatusCreated)
	}))
	defer srv.Close()

	u, err := NewAzureUploader(config.AzureConfig{
		ContainerURL: srv.URL + "/reports?sv=2022-11-02&sig=secret",
		Prefix:       "aozan",
	}, srv.Client(), nil)
	require.NoError(t, err)

	path := writeFile(t, "archive content")
	require.NoError(t, u.Upload(t.Context(), path, "run1/report_run1.tar.bz2"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/reports/aozan/run1/report_run1.tar.bz2", gotPath)
	assert.Equal(t, "archive content", string(gotBody))
	assert.Equal(t, srv.URL+"/reports/aozan/run1/report_run1.tar.bz2", u.Location("run1/report_run1.tar.bz2"))
	assert.NotContains(t, u.Location("x"), "sig=")
}

func TestNew(t *testing.T) {
	u, err := New(t.Context(), config.ArchiveConfig{Storage: config.StorageNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = New(t.Context(), config.ArchiveConfig{Storage: "ftp"}, nil)
	assert.Error(t, err)

	_, err = New(t.Context(), config.ArchiveConfig{Storage: config.StorageAzure}, nil)
	assert.Error(t, err)
}
