package recompress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/progress"
	"github.com/GenomiqueENS/aozan/internal/step"
)

const testRun = "140312_SN1234_0042_AH8XYZADXX"

func fastqContent(reads int) []byte {
	var b bytes.Buffer
	for i := 0; i < reads; i++ {
		fmt.Fprintf(&b, "@read%d\nACGTACGTNNACGT\n+\nIIIIIIIIIIIIII\n", i)
	}
	return b.Bytes()
}

// writeEncoded writes content to path encoded with c.
func writeEncoded(t *testing.T, path string, c Codec, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := c.NewWriter(f, 6)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func readDecoded(t *testing.T, path string, c Codec) []byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := c.NewReader(f)
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	return content
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "/d/s_R1_001.fastq.bz2", OutputName("/d/s_R1_001.fastq.gz", Bzip2))
	assert.Equal(t, "/d/s_R1_001.fastq.gz", OutputName("/d/s_R1_001.fastq", Gzip))
	assert.Equal(t, "/d/s_R1_001.fastq", OutputName("/d/s_R1_001.fastq.bz2", Plain))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("BZIP2")
	require.NoError(t, err)
	assert.Equal(t, "bz2", c.Extension)

	_, err = CodecByName("xz")
	assert.Error(t, err)
}

func TestRecompress_RoundTrip(t *testing.T) {
	content := fastqContent(500)
	codecs := []Codec{Gzip, Bzip2, Plain}

	for _, from := range codecs {
		for _, to := range codecs {
			if from.Name == to.Name {
				continue
			}
			t.Run(from.Name+" to "+to.Name, func(t *testing.T) {
				dir := t.TempDir()
				input := OutputName(filepath.Join(dir, "s_R1_001.fastq"), from)
				writeEncoded(t, input, from, content)
				old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
				require.NoError(t, os.Chtimes(input, old, old))
				require.NoError(t, os.Chmod(input, 0440))

				j := Job{Input: input, Output: OutputName(input, to), From: from, To: to, Level: 9}
				require.NoError(t, Recompress(t.Context(), j, nil))

				assert.Equal(t, content, readDecoded(t, j.Output, to))
				info, err := os.Stat(j.Output)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0440), info.Mode().Perm())
				assert.True(t, info.ModTime().Equal(old))
				assert.FileExists(t, input)
				assert.NoFileExists(t, j.Output+".tmp")
			})
		}
	}
}

func TestRecompress_DeleteOriginal(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "s_R1_001.fastq.gz")
	writeEncoded(t, input, Gzip, fastqContent(10))

	j := Job{Input: input, Output: OutputName(input, Bzip2), From: Gzip, To: Bzip2, Level: 9, DeleteOriginal: true}
	var counted bytes.Buffer
	require.NoError(t, Recompress(t.Context(), j, &counted))

	assert.NoFileExists(t, input)
	assert.FileExists(t, j.Output)
	assert.NotZero(t, counted.Len())
}

// lossy appends a byte to every write, so its output never matches its input.
var lossy = Codec{
	Name:      "lossy",
	Extension: "lossy",
	NewReader: Plain.NewReader,
	NewWriter: func(w io.Writer, _ int) (io.WriteCloser, error) {
		return nopWriteCloser{writerFunc(func(p []byte) (int, error) {
			if _, err := w.Write(append(append([]byte(nil), p...), '!')); err != nil {
				return 0, err
			}
			return len(p), nil
		})}, nil
	},
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestRecompress_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "s_R1_001.fastq")
	writeEncoded(t, input, Plain, fastqContent(10))

	j := Job{Input: input, Output: OutputName(input, lossy), From: Plain, To: lossy, DeleteOriginal: true}
	err := Recompress(t.Context(), j, nil)

	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Md5sum differs between initial file content and created file content.", fe.Short)
	assert.FileExists(t, input)
	assert.FileExists(t, j.Output+".tmp")
	assert.NoFileExists(t, j.Output)
}

func TestRecompress_CorruptInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "s_R1_001.fastq.gz")
	require.NoError(t, os.WriteFile(input, []byte("not gzip"), 0644))

	err := Recompress(t.Context(), Job{Input: input, Output: OutputName(input, Bzip2), From: Gzip, To: Bzip2, Level: 9}, nil)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Failed to recompress a file successfully", fe.Short)
	assert.FileExists(t, input)
}

func TestPool_RunsEveryJob(t *testing.T) {
	var jobs []Job
	for i := 0; i < 20; i++ {
		jobs = append(jobs, Job{Input: fmt.Sprintf("f%02d.fastq", i)})
	}

	var running, peak int32
	var mu sync.Mutex
	var done []string
	p := NewPool(3, nil)
	p.work = func(_ context.Context, j Job, _ *progress.FileBar) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)

		mu.Lock()
		done = append(done, j.Input)
		mu.Unlock()
		if j.Input == "f05.fastq" || j.Input == "f12.fastq" {
			return &FileError{Path: j.Input, Short: "failed " + j.Input, Err: errors.New("boom")}
		}
		return nil
	}

	err := p.Run(t.Context(), jobs)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "f05.fastq", fe.Path)
	assert.Len(t, done, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

type fakeMeter struct{}

func (fakeMeter) FreeSpace(string) (int64, error) { return 10 << 30, nil }

func (fakeMeter) UsedSpace(context.Context, string) (int64, error) { return 1 << 20, nil }

type fakeNotifier struct{ sent []string }

func (n *fakeNotifier) Send(_ context.Context, subject, _ string) {
	n.sent = append(n.sent, subject)
}

type instruments struct{}

func (instruments) InstrumentName(string) string { return "hiseq-1" }

func newRecompressor(t *testing.T) (*Recompressor, *config.Config, *fakeNotifier) {
	t.Helper()
	cfg := config.Default()
	cfg.FastqDataPath = t.TempDir()
	cfg.Recompress.Compression = config.CompressionBzip2
	cfg.Recompress.CompressionLevel = 9
	cfg.Recompress.Threads = 2
	n := &fakeNotifier{}
	return New(cfg, fakeMeter{}, n, instruments{}, nil), cfg, n
}

func TestRecompressor_Run(t *testing.T) {
	r, cfg, n := newRecompressor(t)
	dir := filepath.Join(cfg.FastqDataPath, testRun)
	content := fastqContent(50)
	writeEncoded(t, filepath.Join(dir, "Project_A", "s1_R1_001.fastq.gz"), Gzip, content)
	writeEncoded(t, filepath.Join(dir, "Project_A", "s1_R2_001.fastq.gz"), Gzip, content)
	writeEncoded(t, filepath.Join(dir, "Undetermined_S0_R1_001.fastq"), Plain, content)
	// Already recompressed by an earlier invocation.
	writeEncoded(t, filepath.Join(dir, "Project_B", "s2_R1_001.fastq.gz"), Gzip, content)
	writeEncoded(t, filepath.Join(dir, "Project_B", "s2_R1_001.fastq.bz2"), Bzip2, content)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Stats.json"), []byte("{}"), 0644))

	require.NoError(t, r.Run(t.Context(), testRun))

	for _, name := range []string{"Project_A/s1_R1_001.fastq.bz2", "Project_A/s1_R2_001.fastq.bz2", "Undetermined_S0_R1_001.fastq.bz2"} {
		assert.Equal(t, content, readDecoded(t, filepath.Join(dir, name), Bzip2), name)
	}
	assert.FileExists(t, filepath.Join(dir, "Project_A", "s1_R1_001.fastq.gz"))
	assert.Equal(t, []string{"[Aozan] End of recompress for run " + testRun + " on hiseq-1"}, n.sent)

	// Nothing left to do.
	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, r.Jobs(files, Bzip2))
}

func TestRecompressor_Run_Failures(t *testing.T) {
	t.Run("Missing FASTQ directory", func(t *testing.T) {
		r, _, _ := newRecompressor(t)
		err := r.Run(t.Context(), testRun)
		assert.Equal(t, step.KindPreflight, step.KindOf(err))
	})

	t.Run("Unknown compression", func(t *testing.T) {
		r, cfg, _ := newRecompressor(t)
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.FastqDataPath, testRun), 0755))
		cfg.Recompress.Compression = "xz"
		err := r.Run(t.Context(), testRun)
		assert.Equal(t, step.KindConfig, step.KindOf(err))
	})

	t.Run("Corrupt file", func(t *testing.T) {
		r, cfg, n := newRecompressor(t)
		dir := filepath.Join(cfg.FastqDataPath, testRun)
		writeEncoded(t, filepath.Join(dir, "a_R1_001.fastq.gz"), Gzip, fastqContent(5))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b_R1_001.fastq.gz"), []byte("broken"), 0644))

		err := r.Run(t.Context(), testRun)
		se := step.AsError(err)
		assert.Equal(t, step.KindExecution, se.Kind)
		assert.Equal(t, "Failed to recompress a file successfully", se.Short)
		assert.True(t, strings.Contains(err.Error(), "b_R1_001.fastq.gz"))
		assert.FileExists(t, filepath.Join(dir, "a_R1_001.fastq.bz2"))
		assert.Empty(t, n.sent)
	})
}
