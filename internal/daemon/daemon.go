// Package daemon runs cald: it owns the event store and applies requests
// read from the command pipe, one at a time, until its context is done.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"cald/internal/backup"
	"cald/internal/channel"
	"cald/internal/config"
	"cald/internal/dispatch"
	"cald/internal/link"
	appLog "cald/internal/log"
	"cald/internal/store"
	"cald/internal/web"
)

// State is the daemon lifecycle state.
type State int32

const (
	Starting State = iota
	Listening
	Processing
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Listening:
		return "LISTENING"
	case Processing:
		return "PROCESSING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const shutdownTimeout = 5 * time.Second

// Daemon wires the command pipe to the store.
type Daemon struct {
	cfg *config.Config
	fs  afero.Fs

	state atomic.Int32

	store    *store.Store
	listener *channel.Listener
	backups  *backup.Scheduler
	status   *web.Server
}

// New returns a Daemon for cfg. Nothing is opened until Run.
func New(cfg *config.Config, fs afero.Fs) *Daemon {
	return &Daemon{cfg: cfg, fs: fs}
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	if State(d.state.Swap(int32(s))) != s {
		appLog.Debug("daemon state", "state", s.String())
	}
}

// Run starts the daemon and processes requests until ctx is done. It returns
// nil on a clean shutdown, or the error that prevented startup.
func (d *Daemon) Run(ctx context.Context) error {
	d.setState(Starting)
	defer d.setState(Stopped)

	if err := d.start(); err != nil {
		d.stop()
		return err
	}
	defer d.stop()

	dispatcher := dispatch.New(d.store)
	appLog.Info("cald listening",
		"pipe", d.listener.Path(),
		"database", d.store.Path(),
		"events", d.store.Len(),
	)

	for {
		d.setState(Listening)
		line, err := d.listener.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				appLog.Info("cald shutting down")
				return nil
			}
			appLog.Error("reading command pipe", err, "pipe", d.listener.Path())
			select {
			case <-ctx.Done():
			case <-time.After(d.cfg.PollInterval):
			}
			continue
		}

		d.setState(Processing)
		_, _ = dispatcher.Dispatch(line)
	}
}

func (d *Daemon) start() error {
	listener, err := channel.Listen(d.cfg.Pipe, d.cfg.PollInterval, d.cfg.DrainTimeout)
	if err != nil {
		return errors.WithMessage(err, "opening command pipe")
	}
	d.listener = listener

	database, err := link.Publish(d.fs, d.cfg.Link, d.cfg.Database)
	if err != nil {
		return err
	}
	appLog.Info("published calendar link", "link", d.cfg.Link, "database", database)

	s, err := store.Open(d.fs, database)
	if err != nil {
		return errors.WithMessage(err, "loading event store")
	}
	d.store = s

	if d.cfg.Backup.Schedule != "" {
		sched := backup.New(d.fs, database, d.cfg.BackupDir(), d.cfg.Backup.Keep)
		if err := sched.Start(d.cfg.Backup.Schedule); err != nil {
			return err
		}
		d.backups = sched
	}

	if d.cfg.Status.Listen != "" {
		srv := web.NewServer(d.fs, database, func() string { return d.State().String() })
		if err := srv.Start(d.cfg.Status.Listen); err != nil {
			return errors.WithMessage(err, "starting status server")
		}
		d.status = srv
	}
	return nil
}

func (d *Daemon) stop() {
	if d.backups != nil {
		d.backups.Stop()
		d.backups = nil
	}
	if d.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.status.Shutdown(ctx); err != nil {
			appLog.Error("status server shutdown", err)
		}
		cancel()
		d.status = nil
	}
	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			appLog.Error("closing command pipe", err, "pipe", d.listener.Path())
		}
		d.listener = nil
	}
}
