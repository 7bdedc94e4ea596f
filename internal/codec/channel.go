package codec

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"cald/internal/model"
)

// Op is a command channel opcode.
type Op string

const (
	OpAdd Op = "ADD"
	OpDel Op = "DEL"
	OpUpd Op = "UPD"
)

var (
	ErrBlank       = errors.New("blank command")
	ErrUnknownOp   = errors.New("unknown opcode")
	ErrMissingDate = errors.New("missing event date")
	ErrTooFewArgs  = errors.New("not enough arguments given")
	ErrMultiple    = errors.New("multiple errors occur")
	ErrTooLong     = errors.New("request too long")
)

// MaxRequestBytes bounds one channel line, line break excluded.
const MaxRequestBytes = 4096

// Request is one decoded command channel message.
type Request struct {
	Op   Op
	Date model.Date
	// Name is the event name for ADD and DEL, and the current name for UPD.
	Name string
	// NewName is only set for UPD.
	NewName     string
	Description string
}

// Event returns the event an ADD request inserts.
func (r Request) Event() model.Event {
	return model.Event{Date: r.Date, Name: r.Name, Description: r.Description}
}

// EncodeRequest renders r in channel form without a line break.
func EncodeRequest(r Request) string {
	parts := []string{string(r.Op), r.Date.String(), r.Name}
	switch r.Op {
	case OpUpd:
		parts = append(parts, r.NewName)
		if r.Description != "" {
			parts = append(parts, r.Description)
		}
	case OpAdd:
		if r.Description != "" {
			parts = append(parts, r.Description)
		}
	}
	return strings.Join(parts, " ")
}

// DecodeRequest parses one channel line. A blank line yields ErrBlank and an
// unrecognized opcode yields ErrUnknownOp; callers ignore both. A line over
// MaxRequestBytes yields ErrTooLong. Any other error describes malformed
// input.
func DecodeRequest(line string) (Request, error) {
	if n := len(strings.TrimRight(line, "\r\n")); n > MaxRequestBytes {
		return Request{}, errors.WithMessagef(ErrTooLong, "%d bytes, limit %d", n, MaxRequestBytes)
	}
	head, _ := splitFields(line, 1)
	if len(head) == 0 {
		return Request{}, ErrBlank
	}

	switch op := Op(head[0]); op {
	case OpAdd:
		toks, rest := splitFields(line, 3)
		req, err := decodeDateName(op, toks)
		if err != nil {
			return Request{}, err
		}
		req.Description = rest
		return req, nil

	case OpDel:
		toks, _ := splitFields(line, 3)
		return decodeDateName(op, toks)

	case OpUpd:
		toks, rest := splitFields(line, 4)
		req, err := decodeDateName(op, toks)
		if err != nil {
			return Request{}, err
		}
		if len(toks) < 4 {
			return Request{}, errors.WithMessage(ErrTooFewArgs, "missing new event name")
		}
		if err := model.ValidateName(toks[3]); err != nil {
			return Request{}, err
		}
		req.NewName = toks[3]
		req.Description = rest
		return req, nil

	default:
		return Request{}, errors.WithMessagef(ErrUnknownOp, "%q", head[0])
	}
}

func decodeDateName(op Op, toks []string) (Request, error) {
	var dateErr, nameErr error
	var date model.Date

	if len(toks) < 2 {
		dateErr = ErrMissingDate
	} else {
		date, dateErr = model.ParseDate(toks[1])
	}
	if len(toks) < 3 {
		nameErr = model.ErrEmptyName
	} else {
		nameErr = model.ValidateName(toks[2])
	}

	switch {
	case dateErr != nil && nameErr != nil:
		return Request{}, errors.WithMessagef(ErrMultiple, "%s: %v; %v", op, dateErr, nameErr)
	case dateErr != nil:
		return Request{}, errors.WithMessage(dateErr, string(op))
	case nameErr != nil:
		return Request{}, errors.WithMessage(nameErr, string(op))
	}
	return Request{Op: op, Date: date, Name: toks[2]}, nil
}

// splitFields returns up to n leading whitespace-delimited tokens of line
// and the remainder with surrounding whitespace trimmed. Interior spacing of
// the remainder is preserved.
func splitFields(line string, n int) ([]string, string) {
	toks := make([]string, 0, n)
	rest := line
	for len(toks) < n {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			break
		}
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			toks = append(toks, rest)
			rest = ""
			break
		}
		toks = append(toks, rest[:end])
		rest = rest[end:]
	}
	return toks, strings.TrimSpace(rest)
}
