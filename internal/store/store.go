// Package store holds the daemon's authoritative, in-memory collection of
// events and mirrors it to the backing file after every mutation.
package store

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"cald/internal/atomicfile"
	"cald/internal/codec"
	appLog "cald/internal/log"
	"cald/internal/model"
)

// FileMode of the backing file. Query clients read it directly.
const FileMode os.FileMode = 0o644

var (
	ErrDuplicate   = errors.New("unable to add, event already exists")
	ErrNotFound    = errors.New("event does not exist")
	ErrKeyConflict = errors.New("unable to update, another event already uses that name on that date")
)

// Store is an ordered collection of events backed by a file. Order is file
// order at load, then append on Add, in place on Update, removal on Delete.
//
// Store is not safe for concurrent use; the daemon loop is its only caller.
type Store struct {
	fs     afero.Fs
	path   string
	events []model.Event

	// OnPersist, if set, observes the duration of every Persist call.
	OnPersist func(time.Duration)
}

// Open loads the store from path, creating an empty backing file when none
// exists. Lines that fail to decode are logged and skipped.
func Open(fs afero.Fs, path string) (*Store, error) {
	s := &Store{fs: fs, path: path}

	f, err := fs.Open(path)
	if os.IsNotExist(err) {
		if err := s.Persist(); err != nil {
			return nil, errors.WithMessage(err, "creating backing file")
		}
		appLog.Info("created empty backing file", "path", path)
		return s, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "opening backing file")
	}
	defer f.Close()

	s.events, err = codec.ReadEvents(f, func(lineNo int, line string, err error) {
		if len(line) > 80 {
			line = line[:80] + "..."
		}
		appLog.Debug("skipping unparsable line", "path", path, "line_no", lineNo, "line", line, "reason", err)
	})
	if err != nil {
		return nil, err
	}
	appLog.Info("loaded backing file", "path", path, "event_count", len(s.events))
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Len returns the number of events.
func (s *Store) Len() int { return len(s.events) }

// Events returns a copy of the events in store order.
func (s *Store) Events() []model.Event {
	return append([]model.Event(nil), s.events...)
}

// Lookup returns the event at (name, date), and whether it exists.
func (s *Store) Lookup(name string, date model.Date) (model.Event, bool) {
	if i := s.index(model.Key(name, date)); i >= 0 {
		return s.events[i], true
	}
	return model.Event{}, false
}

// Add appends ev and persists. ErrDuplicate if its key is taken.
func (s *Store) Add(ev model.Event) error {
	if s.index(ev.Key()) >= 0 {
		return errors.WithMessagef(ErrDuplicate, "%s on %s", ev.Name, ev.Date)
	}
	s.events = append(s.events, ev)

	if err := s.Persist(); err != nil {
		s.events = s.events[:len(s.events)-1]
		return err
	}
	return nil
}

// Delete removes the event at (name, date) and persists. ErrNotFound, with
// no mutation, if there is none.
func (s *Store) Delete(name string, date model.Date) error {
	i := s.index(model.Key(name, date))
	if i < 0 {
		return errors.WithMessagef(ErrNotFound, "%s on %s", name, date)
	}
	prev := s.events
	s.events = append(append(make([]model.Event, 0, len(prev)-1), prev[:i]...), prev[i+1:]...)

	if err := s.Persist(); err != nil {
		s.events = prev
		return err
	}
	return nil
}

// Update renames and redescribes the event at (oldName, date) in place,
// leaving its date and position unchanged, and persists. ErrNotFound if
// absent; ErrKeyConflict if (newName, date) belongs to a different event.
func (s *Store) Update(oldName string, date model.Date, newName, description string) error {
	i := s.index(model.Key(oldName, date))
	if i < 0 {
		return errors.WithMessagef(ErrNotFound, "%s on %s", oldName, date)
	}
	if j := s.index(model.Key(newName, date)); j >= 0 && j != i {
		return errors.WithMessagef(ErrKeyConflict, "%s on %s", newName, date)
	}

	prev := s.events[i]
	s.events[i].Name = newName
	s.events[i].Description = description

	if err := s.Persist(); err != nil {
		s.events[i] = prev
		return err
	}
	return nil
}

// Persist atomically rewrites the backing file from memory, in store order.
func (s *Store) Persist() error {
	start := time.Now()
	err := atomicfile.WriteFunc(s.fs, s.path, FileMode, func(w io.Writer) error {
		return codec.WriteEvents(w, s.events)
	})
	if s.OnPersist != nil {
		s.OnPersist(time.Since(start))
	}
	if err != nil {
		return errors.WithMessagef(err, "persisting %s", s.path)
	}
	return nil
}

func (s *Store) index(key string) int {
	for i := range s.events {
		if s.events[i].Key() == key {
			return i
		}
	}
	return -1
}
