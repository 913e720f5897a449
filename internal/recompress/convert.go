package recompress

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"

	"github.com/GenomiqueENS/aozan/internal/util/buffers"
)

// FileError is the failure of one file of the pool.
type FileError struct {
	Path string

	// Short is the one-line summary used in alerts.
	Short string
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Short, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ConvertFile decompresses input with in and writes it to output compressed
// with out at level. It returns the MD5 of the decompressed content. Raw
// input bytes are also written to progress when it is not nil.
func ConvertFile(ctx context.Context, input, output string, in, out Codec, level int, progress io.Writer) (sum []byte, err error) {
	src, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var raw io.Reader = ctxReader{ctx: ctx, r: src}
	if progress != nil {
		raw = io.TeeReader(raw, progress)
	}
	dec, err := in.NewReader(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s as %s: %w", input, in.Name, err)
	}
	defer dec.Close()

	dst, err := os.Create(output)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := dst.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	enc, err := out.NewWriter(dst, level)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s writer: %w", out.Name, err)
	}

	h := md5.New()
	if _, err := buffers.Copy(io.MultiWriter(enc, h), dec); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Checksum returns the MD5 of the content of path decompressed with c.
func Checksum(ctx context.Context, path string, c Codec) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := c.NewReader(ctxReader{ctx: ctx, r: f})
	if err != nil {
		return nil, fmt.Errorf("cannot read %s as %s: %w", path, c.Name, err)
	}
	defer dec.Close()

	h := md5.New()
	if _, err := buffers.Copy(h, dec); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Job is the recompression of one file.
type Job struct {
	Input  string
	Output string
	From   Codec
	To     Codec
	Level  int

	// DeleteOriginal removes Input once Output is in place.
	DeleteOriginal bool
}

// tmpOutput is the path Output is written to before verification.
func (j Job) tmpOutput() string {
	return j.Output + ".tmp"
}

// Recompress converts j.Input into a temporary file, checks its content
// against the input, then moves it to j.Output with the modification time
// and permissions of the input. On a checksum mismatch the temporary file and
// the input are left in place.
func Recompress(ctx context.Context, j Job, progress io.Writer) error {
	tmp := j.tmpOutput()

	inSum, err := ConvertFile(ctx, j.Input, tmp, j.From, j.To, j.Level, progress)
	if err != nil {
		return &FileError{Path: j.Input, Short: "Failed to recompress a file successfully", Err: err}
	}
	outSum, err := Checksum(ctx, tmp, j.To)
	if err != nil {
		return &FileError{Path: j.Input, Short: "Failed to recompress a file successfully", Err: err}
	}
	if !bytes.Equal(inSum, outSum) {
		return &FileError{Path: j.Input, Short: "Md5sum differs between initial file content and created file content.",
			Err: fmt.Errorf("md5 of %s content is %x, md5 of %s content is %x", j.Input, inSum, tmp, outSum)}
	}

	if err := os.Rename(tmp, j.Output); err != nil {
		return &FileError{Path: j.Input, Short: "Failed to recompress a file successfully", Err: err}
	}

	info, err := os.Stat(j.Input)
	if err != nil {
		return &FileError{Path: j.Input, Short: "Error while trying to edit metadata of the recompressed file.", Err: err}
	}
	if err := os.Chtimes(j.Output, info.ModTime(), info.ModTime()); err != nil {
		return &FileError{Path: j.Input, Short: "Error while trying to edit metadata of the recompressed file.", Err: err}
	}
	if err := os.Chmod(j.Output, info.Mode().Perm()); err != nil {
		return &FileError{Path: j.Input, Short: "Error while trying to edit rights of the recompressed file.", Err: err}
	}

	if j.DeleteOriginal {
		if err := os.Remove(j.Input); err != nil {
			return &FileError{Path: j.Input, Short: "Error while removing the original FASTQ file.", Err: err}
		}
	}
	return nil
}
