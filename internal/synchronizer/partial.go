package synchronizer

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/GenomiqueENS/aozan/internal/step"
)

// PartialSync copies the files of a run still in progress that the
// instrument has not modified for sync.continuous.sync.min.age.files. The
// final sync of the finished run completes the copy.
func (s *Synchronizer) PartialSync(ctx context.Context, runID string) error {
	logger := s.logger.WithField("run", runID)

	input, err := s.inputDir(runID)
	if err != nil {
		return err
	}

	files, err := s.settledFiles(input, s.now().Add(-s.cfg.Sync.ContinuousMinAge))
	if err != nil {
		return step.Execution("cannot list files of run "+runID, err)
	}
	if len(files) == 0 {
		logger.Debug().Msg("Partial sync: no file old enough")
		return nil
	}

	list, err := writeFileList(s.cfg.TmpPath, runID, files)
	if err != nil {
		return step.Execution("cannot write the file list of the partial synchronization of run "+runID, err)
	}
	defer os.Remove(list)

	dest := filepath.Join(s.cfg.BclDataPath, runID)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return step.Execution("cannot create output directory of run "+runID, err)
	}

	if err := s.rsync(ctx, input, dest, &list); err != nil {
		return step.Execution("error while executing rsync for partial synchronization of run "+runID, err)
	}
	logger.Info().Int("files", len(files)).Msg("Partial sync: done")
	return nil
}

// settledFiles lists the regular files under dir last modified before
// cutoff and not excluded, as sorted slash-separated relative paths.
func (s *Synchronizer) settledFiles(dir string, cutoff time.Time) ([]string, error) {
	patterns := s.excludes()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, d.Name()); ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// writeFileList writes an rsync --files-from list in tmpDir.
func writeFileList(tmpDir, runID string, files []string) (string, error) {
	f, err := os.CreateTemp(tmpDir, "partial_sync_"+runID+"_*.list")
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	for _, name := range files {
		if _, err := fmt.Fprintln(w, name); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
