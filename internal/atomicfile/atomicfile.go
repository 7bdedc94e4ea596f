// Package atomicfile replaces files so that concurrent readers observe
// either the old contents or the new contents, never a partial write.
package atomicfile

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Write replaces path with data. See WriteFunc.
func Write(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	return WriteFunc(fs, path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteFunc replaces path with whatever fill writes.
//
// Implementation details:
//   - Ensures the parent directory exists (0755).
//   - Writes to a temp file in the same directory, so the rename stays on
//     one filesystem.
//   - Syncs and closes, sets perm, then renames over path.
//   - Removes the temp file on any failure.
func WriteFunc(fs afero.Fs, path string, perm os.FileMode, fill func(w io.Writer) error) error {
	if path == "" {
		return errors.New("atomicfile: path is empty")
	}
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.WithMessage(err, "creating parent directory")
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return errors.WithMessage(err, "creating temp file")
	}
	tmpName := tmp.Name()

	// No-op after a successful rename.
	defer fs.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return errors.WithMessage(err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WithMessage(err, "syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WithMessage(err, "closing temp file")
	}
	if err := fs.Chmod(tmpName, perm); err != nil {
		return errors.WithMessage(err, "chmod temp file")
	}
	if err := fs.Rename(tmpName, path); err != nil {
		return errors.WithMessagef(err, "renaming %s => %s", tmpName, path)
	}
	return nil
}
