// Package tar writes and reads the tar.bz2 archives kept with run reports.
package tar

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dsnet/compress/bzip2"

	"github.com/GenomiqueENS/aozan/internal/util/buffers"
)

// ErrNothingToArchive is returned when none of the requested entries exist.
var ErrNothingToArchive = errors.New("nothing to archive")

// ExistingEntries returns the names relative to dir that exist, in order.
func ExistingEntries(dir string, names []string) []string {
	var found []string
	for _, name := range names {
		if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	return found
}

// CreateTarBz2 archives the entries of sourceDir listed in names (files or
// directories, recursively) under a top-level directory rootName. Missing
// entries are skipped. The archive is written to a temporary file renamed to
// outputPath once complete.
func CreateTarBz2(outputPath, rootName, sourceDir string, names []string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("source directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", sourceDir)
	}

	entries := ExistingEntries(sourceDir, names)
	if len(entries) == 0 {
		return fmt.Errorf("%w: none of %v in %s", ErrNothingToArchive, names, sourceDir)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmpPath := outputPath + ".part"
	if err := writeArchive(tmpPath, rootName, sourceDir, entries); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}

// CreateTarBz2FromDir archives a whole directory under its base name.
func CreateTarBz2FromDir(sourceDir, outputPath string) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return fmt.Errorf("source directory does not exist: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return CreateTarBz2(outputPath, filepath.Base(sourceDir), sourceDir, names)
}

func writeArchive(path, rootName, sourceDir string, entries []string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tar file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	bz, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return fmt.Errorf("failed to create bzip2 writer: %w", err)
	}
	tw := tar.NewWriter(bz)

	if rootName != "" {
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     rootName + "/",
			Mode:     0755,
			ModTime:  modTime(sourceDir),
		}); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
	}

	for _, entry := range entries {
		if err := addTree(tw, rootName, sourceDir, entry); err != nil {
			return fmt.Errorf("failed to create tar: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar: %w", err)
	}
	if err := bz.Close(); err != nil {
		return fmt.Errorf("failed to finish bzip2 stream: %w", err)
	}
	return nil
}

func addTree(tw *tar.Writer, rootName, sourceDir, entry string) error {
	return filepath.WalkDir(filepath.Join(sourceDir, entry), func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		fileInfo, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if fileInfo.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(filePath); err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(fileInfo, link)
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = filepath.ToSlash(filepath.Join(rootName, relPath))
		if fileInfo.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}

		if !fileInfo.Mode().IsRegular() {
			return nil
		}
		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()
		if _, err := buffers.Copy(tw, file); err != nil {
			return fmt.Errorf("failed to write file contents: %w", err)
		}
		return nil
	})
}

func modTime(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}

// List returns the entry names of a tar.bz2 archive.
func List(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bz, err := bzip2.NewReader(f, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bzip2 stream: %w", err)
	}
	defer bz.Close()

	var names []string
	tr := tar.NewReader(bz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		names = append(names, header.Name)
	}
}

// Exists checks that an archive exists and is not empty.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tar file: %w", err)
	}
	if info.Size() == 0 {
		return false, fmt.Errorf("tar file is empty")
	}
	return true, nil
}
