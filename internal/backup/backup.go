// Package backup snapshots the backing file on a cron schedule.
//
// Snapshots only read the backing file, which the store always replaces
// atomically, so they run beside the daemon loop without coordinating
// with it.
package backup

import (
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"cald/internal/atomicfile"
	appLog "cald/internal/log"
)

const (
	filePrefix = "cald-"
	fileSuffix = ".csv"
	stampFmt   = "20060102-150405"
)

// Scheduler copies a source file into a backup directory and keeps only the
// newest copies.
type Scheduler struct {
	fs     afero.Fs
	source string
	dir    string
	keep   int
	now    func() time.Time

	cron *cron.Cron
}

// New returns a Scheduler. It does nothing until Start.
func New(fs afero.Fs, source, dir string, keep int) *Scheduler {
	if keep <= 0 {
		keep = 1
	}
	return &Scheduler{fs: fs, source: source, dir: dir, keep: keep, now: time.Now}
}

// Start runs Snapshot on schedule, a standard five-field cron spec or a
// descriptor such as "@daily".
func (s *Scheduler) Start(schedule string) error {
	c := cron.New(cron.WithLogger(cronLogger{}))
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return errors.WithMessagef(err, "parsing backup schedule %q", schedule)
	}
	s.cron = c
	c.Start()
	appLog.Info("backup scheduler started", "schedule", schedule, "dir", s.dir, "keep", s.keep)
	return nil
}

// Stop stops the schedule and waits for a running snapshot to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

func (s *Scheduler) run() {
	path, err := s.Snapshot()
	if err != nil {
		appLog.Error("backup failed", err, "source", s.source, "dir", s.dir)
		return
	}
	appLog.Info("backup written", "path", path)
}

// Snapshot copies the source into the backup directory, prunes old copies,
// and returns the new copy's path.
func (s *Scheduler) Snapshot() (string, error) {
	src, err := s.fs.Open(s.source)
	if err != nil {
		return "", errors.WithMessage(err, "opening backup source")
	}
	defer src.Close()

	path := filepath.Join(s.dir, filePrefix+s.now().Format(stampFmt)+fileSuffix)
	err = atomicfile.WriteFunc(s.fs, path, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := s.prune(); err != nil {
		return path, errors.WithMessage(err, "pruning backups")
	}
	return path, nil
}

// List returns backup file names in the directory, oldest first.
func (s *Scheduler) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		name := info.Name()
		if !info.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	// Timestamps are fixed width, so lexical order is chronological.
	sort.Strings(names)
	return names, nil
}

func (s *Scheduler) prune() error {
	names, err := s.List()
	if err != nil {
		return err
	}
	for len(names) > s.keep {
		if err := s.fs.Remove(filepath.Join(s.dir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

// cronLogger routes cron's own diagnostics into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
