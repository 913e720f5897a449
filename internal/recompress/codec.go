package recompress

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/pgzip"

	"github.com/GenomiqueENS/aozan/internal/config"
)

// Codec reads and writes one FASTQ file format.
type Codec struct {
	Name string

	// Extension is appended to ".fastq" in output names. Empty for plain files.
	Extension string

	NewReader func(r io.Reader) (io.ReadCloser, error)
	NewWriter func(w io.Writer, level int) (io.WriteCloser, error)
}

// Supported codecs
var (
	Gzip = Codec{
		Name:      config.CompressionGzip,
		Extension: "gz",
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return pgzip.NewReader(r)
		},
		NewWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return pgzip.NewWriterLevel(w, level)
		},
	}

	Bzip2 = Codec{
		Name:      config.CompressionBzip2,
		Extension: "bz2",
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return bzip2.NewReader(r, nil)
		},
		NewWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
		},
	}

	Plain = Codec{
		Name: "fastq",
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
		NewWriter: func(w io.Writer, _ int) (io.WriteCloser, error) {
			return nopWriteCloser{w}, nil
		},
	}
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// CodecByName returns the codec of a recompress.compression value.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case Gzip.Name:
		return Gzip, nil
	case Bzip2.Name:
		return Bzip2, nil
	}
	return Codec{}, fmt.Errorf("unknown compression type: %s", name)
}

// codecForFile returns the codec of an input FASTQ file from its name.
func codecForFile(path string) (Codec, bool) {
	switch {
	case strings.HasSuffix(path, ".fastq"):
		return Plain, true
	case strings.HasSuffix(path, ".fastq."+Gzip.Extension):
		return Gzip, true
	case strings.HasSuffix(path, ".fastq."+Bzip2.Extension):
		return Bzip2, true
	}
	return Codec{}, false
}

// OutputName returns the name of path recompressed with c: the name up to
// ".fastq" followed by the codec extension.
func OutputName(path string, c Codec) string {
	base := path
	if i := strings.Index(path, ".fastq"); i >= 0 {
		base = path[:i+len(".fastq")]
	}
	if c.Extension == "" {
		return base
	}
	return base + "." + c.Extension
}
