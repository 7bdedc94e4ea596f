// Package query is the read side of the calendar. It consumes the backing
// file directly, never talking to the daemon, so it only ever observes
// complete files.
package query

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"cald/internal/codec"
	"cald/internal/link"
	"cald/internal/model"
)

var (
	ErrBadInterval = errors.New("unable to process, start date is after end date")
	ErrNoDatabase  = errors.New("unable to process calendar database")
)

// Load resolves the link file and reads every event from the database it
// names. Unparsable lines are skipped.
func Load(fs afero.Fs, linkPath string) ([]model.Event, error) {
	path, err := link.Resolve(fs, linkPath)
	if err != nil {
		return nil, err
	}
	return LoadFile(fs, path)
}

// LoadFile reads every event from the backing file at path.
func LoadFile(fs afero.Fs, path string) ([]model.Event, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(ErrNoDatabase, "opening %s: %v", path, err)
	}
	defer f.Close()
	return codec.ReadEvents(f, nil)
}

// ByDates returns, in store order, events whose date equals any of dates.
func ByDates(events []model.Event, dates []model.Date) []model.Event {
	var out []model.Event
	for _, ev := range events {
		for _, d := range dates {
			if ev.Date == d {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// ByInterval returns, in store order, events dated within [start, end]
// inclusive. ErrBadInterval if start is after end.
func ByInterval(events []model.Event, start, end model.Date) ([]model.Event, error) {
	if start.After(end) {
		return nil, errors.WithMessagef(ErrBadInterval, "%s > %s", start, end)
	}
	var out []model.Event
	for _, ev := range events {
		if !ev.Date.Before(start) && !ev.Date.After(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ByNamePrefix returns, in store order, events whose name starts with any of
// prefixes.
func ByNamePrefix(events []model.Event, prefixes []string) []model.Event {
	var out []model.Event
	for _, ev := range events {
		for _, p := range prefixes {
			if strings.HasPrefix(ev.Name, p) {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Format renders ev as "date : name : description", trailing space trimmed.
func Format(ev model.Event) string {
	return strings.TrimSpace(fmt.Sprintf("%s : %s : %s", ev.Date, ev.Name, ev.Description))
}

// Print writes one formatted line per event.
func Print(w io.Writer, events []model.Event) error {
	for _, ev := range events {
		if _, err := fmt.Fprintln(w, Format(ev)); err != nil {
			return err
		}
	}
	return nil
}
