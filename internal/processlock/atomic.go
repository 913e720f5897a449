package processlock

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// CreateExclusive creates path holding content in one step: the content is
// written to a temporary file of the same directory which is then hard
// linked to path. Readers never observe an empty or partial file. It returns
// (false, nil) when path already exists.
func CreateExclusive(path string, content []byte) (bool, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveIfUnchanged deletes path only if it still holds content. The file is
// moved aside before the comparison, and a file that changed in the meantime
// is linked back in place.
func RemoveIfUnchanged(path string, content []byte) bool {
	aside := path + ".stale." + uuid.NewString()
	if err := os.Rename(path, aside); err != nil {
		return false
	}
	defer os.Remove(aside)

	data, err := os.ReadFile(aside)
	if err == nil && bytes.Equal(data, content) {
		return true
	}
	// Fails if yet another lock was created while this one was aside.
	_ = os.Link(aside, path)
	return false
}
