// Package publish implements the daemon's status file renderers —
// tunasync.json and mirrorz.json — as :save-topic event subscribers.
// Neither format appears in spec.md's bullet list; both are preserved
// from original_source/example/plugins/{tunasync,mirrorz}.py.
package publish

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// writeFileAtomic mirrors internal/statestore's temp-file-then-rename
// discipline, duplicated here rather than exported from statestore since
// publishers have no other reason to depend on the state-store package.
func writeFileAtomic(path string, data []byte) error {
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

	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}
