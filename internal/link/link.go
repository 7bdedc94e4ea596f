// Package link publishes and resolves the link file: a single line naming
// the absolute path of the backing file, so clients can find the database
// without being configured with it.
package link

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"cald/internal/atomicfile"
)

var ErrNoLink = errors.New("calendar link not available")

// Publish makes database absolute and writes it to linkPath. It returns the
// absolute path that was published.
func Publish(fs afero.Fs, linkPath, database string) (string, error) {
	abs, err := filepath.Abs(database)
	if err != nil {
		return "", errors.WithMessagef(err, "resolving %s", database)
	}
	if err := atomicfile.Write(fs, linkPath, []byte(abs+"\n"), 0o644); err != nil {
		return "", errors.WithMessage(err, "publishing link file")
	}
	return abs, nil
}

// Resolve reads linkPath and returns the database path it advertises.
// ErrNoLink if the link file is missing or empty.
func Resolve(fs afero.Fs, linkPath string) (string, error) {
	data, err := afero.ReadFile(fs, linkPath)
	if os.IsNotExist(err) {
		return "", errors.WithMessagef(ErrNoLink, "link file %s not found", linkPath)
	} else if err != nil {
		return "", errors.WithMessagef(err, "reading link file %s", linkPath)
	}

	line, _, _ := strings.Cut(string(data), "\n")
	if line = strings.TrimSpace(line); line == "" {
		return "", errors.WithMessagef(ErrNoLink, "link file %s is empty", linkPath)
	}
	return line, nil
}
