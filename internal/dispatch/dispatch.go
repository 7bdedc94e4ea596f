// Package dispatch maps each command channel line to exactly one store
// mutation. No failure here is fatal: bad input and conflicts are logged and
// the line is dropped.
package dispatch

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"cald/internal/codec"
	appLog "cald/internal/log"
	"cald/internal/model"
	"cald/internal/store"
)

// Outcome classifies what Dispatch did with a line.
type Outcome string

const (
	// Applied: the store was mutated and persisted.
	Applied Outcome = "applied"
	// Ignored: blank line or unknown opcode.
	Ignored Outcome = "ignored"
	// Rejected: malformed request or logical conflict; nothing changed.
	Rejected Outcome = "rejected"
	// Failed: the mutation could not be persisted and was rolled back.
	Failed Outcome = "failed"
)

// Dispatcher applies decoded requests to a Store.
type Dispatcher struct {
	store *store.Store
}

// New returns a Dispatcher over s and hooks s's persistence timing into the
// dispatcher metrics.
func New(s *store.Store) *Dispatcher {
	s.OnPersist = func(d time.Duration) { persistSeconds.Observe(d.Seconds()) }
	storeEvents.Set(float64(s.Len()))
	return &Dispatcher{store: s}
}

// Dispatch decodes line and applies it. It always returns; the Outcome and
// error are informational and have already been logged.
func (d *Dispatcher) Dispatch(line string) (Outcome, error) {
	req, err := codec.DecodeRequest(line)

	op := opLabel(line)

	outcome, err := d.apply(req, err)
	commandsTotal.WithLabelValues(op, string(outcome)).Inc()
	storeEvents.Set(float64(d.store.Len()))

	switch outcome {
	case Ignored:
		appLog.Debug("ignoring command", "line", line, "reason", err)
	case Rejected, Failed:
		appLog.Error(Message(err), err, "line", line, "outcome", outcome)
	case Applied:
		appLog.Debug("applied command", "op", op, "date", req.Date, "name", req.Name)
	}
	return outcome, err
}

// opLabel names line's opcode for metrics, or "none" when the first field
// is not a known opcode.
func opLabel(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "none"
	}
	switch op := codec.Op(fields[0]); op {
	case codec.OpAdd, codec.OpDel, codec.OpUpd:
		return string(op)
	}
	return "none"
}

func (d *Dispatcher) apply(req codec.Request, decodeErr error) (Outcome, error) {
	if errors.Is(decodeErr, codec.ErrBlank) || errors.Is(decodeErr, codec.ErrUnknownOp) {
		return Ignored, decodeErr
	} else if decodeErr != nil {
		return Rejected, decodeErr
	}

	var err error
	switch req.Op {
	case codec.OpAdd:
		err = d.store.Add(req.Event())
	case codec.OpDel:
		err = d.store.Delete(req.Name, req.Date)
	case codec.OpUpd:
		err = d.store.Update(req.Name, req.Date, req.NewName, req.Description)
	}

	switch {
	case err == nil:
		return Applied, nil
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrKeyConflict):
		return Rejected, err
	default:
		return Failed, err
	}
}

// Message picks the one-line, human-readable summary for err. The daemon
// uses it for error log entries and the client for rejected requests.
func Message(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return "Unable to add, event already exists"
	case errors.Is(err, store.ErrNotFound):
		return "Unable to apply, event does not exist"
	case errors.Is(err, store.ErrKeyConflict):
		return "Unable to update, new name already used on that date"
	case errors.Is(err, codec.ErrTooLong):
		return "Request too long"
	case errors.Is(err, codec.ErrMultiple):
		return "Multiple errors occur"
	case errors.Is(err, codec.ErrTooFewArgs):
		return "Not enough arguments given"
	case errors.Is(err, codec.ErrMissingDate):
		return "Missing event date"
	case errors.Is(err, model.ErrEmptyName):
		return "Missing event name"
	case errors.Is(err, model.ErrInvalidDate):
		return "Unable to parse date"
	case errors.Is(err, model.ErrInvalidName):
		return "Invalid event name"
	default:
		return err.Error()
	}
}
