// Package statestore persists the task table to a single JSON document
// (spec.md §4.G), using the atomic temp-file-then-rename-then-fsync
// discipline grounded on internal/recovery/state/store.go.
package statestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/jlulug/shined/internal/task"
)

// Store persists an array of task.PersistedTask to a single file.
type Store struct {
	Path string
}

// Load reads the state file. A missing file returns an empty slice
// (spec.md §4.G: "Load is best-effort: missing file → empty"); any other
// read or decode error is returned to the caller, who treats it as fatal
// at startup (spec.md §6, exit code 1).
func (s *Store) Load() ([]task.PersistedTask, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var tasks []task.PersistedTask
	dec := json.NewDecoder(f)
	if err := dec.Decode(&tasks); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("statestore: trailing content after JSON array")
	}
	return tasks, nil
}

// Save writes tasks atomically: marshal, write to a sibling temp file,
// fsync, rename onto the canonical path, fsync the directory. Grounded on
// internal/recovery/state/store.go's writeFileAtomicDurable/fsyncDir.
func (s *Store) Save(tasks []task.PersistedTask) error {
	if tasks == nil {
		tasks = []task.PersistedTask{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return writeFileAtomicDurable(s.Path, data, 0o644)
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
