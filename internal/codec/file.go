// Package codec converts between model.Event and its two textual forms:
// the backing-file line ("date,name[,description]") and the command channel
// request ("OPCODE date name [description]"). The two forms are kept as
// separate function pairs so neither can drift into the other.
package codec

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"

	"cald/internal/model"
)

// FileDelimiter separates fields of a backing-file line.
const FileDelimiter = ","

// maxLineBytes bounds a backing-file line. Longer lines are skipped on read.
const maxLineBytes = 1 << 20

var (
	ErrTooFewFields = errors.New("too few fields")
	ErrLineTooLong  = errors.New("line too long")
)

// EncodeEvent renders ev as a backing-file line without a line break. The
// description field is dropped when empty.
func EncodeEvent(ev model.Event) string {
	if ev.Description == "" {
		return ev.Date.String() + FileDelimiter + ev.Name
	}
	return ev.Date.String() + FileDelimiter + ev.Name + FileDelimiter + ev.Description
}

// DecodeEvent parses a backing-file line. Only the first two delimiters are
// significant, so descriptions may themselves contain commas.
func DecodeEvent(line string) (model.Event, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, FileDelimiter, 3)
	if len(parts) < 2 {
		return model.Event{}, errors.WithMessagef(ErrTooFewFields, "%q", line)
	}

	date, err := model.ParseDate(strings.TrimSpace(parts[0]))
	if err != nil {
		return model.Event{}, err
	}
	name := strings.TrimSpace(parts[1])
	if err := model.ValidateName(name); err != nil {
		return model.Event{}, err
	}

	ev := model.Event{Date: date, Name: name}
	if len(parts) == 3 {
		ev.Description = strings.TrimSpace(parts[2])
	}
	return ev, nil
}

// WriteEvents writes one encoded line per event, in order.
func WriteEvents(w io.Writer, events []model.Event) error {
	bw := bufio.NewWriter(w)
	for _, ev := range events {
		if _, err := bw.WriteString(EncodeEvent(ev) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadEvents decodes every line of r. Blank lines are ignored; lines that
// fail to decode or exceed the line limit are passed to skip (if non-nil)
// and left out of the result. Only an I/O error from r aborts the read.
func ReadEvents(r io.Reader, skip func(lineNo int, line string, err error)) ([]model.Event, error) {
	br := bufio.NewReader(r)

	var events []model.Event
	for lineNo := 1; ; lineNo++ {
		line, overlong, err := readLine(br)
		if err != nil && err != io.EOF {
			return nil, errors.WithMessage(err, "reading events")
		}
		eof := err == io.EOF
		if eof && line == "" && !overlong {
			break
		}

		switch {
		case overlong:
			if skip != nil {
				skip(lineNo, line, errors.WithMessagef(ErrLineTooLong, "over %d bytes", maxLineBytes))
			}
		case strings.TrimSpace(line) == "":
		default:
			ev, err := DecodeEvent(line)
			if err != nil {
				if skip != nil {
					skip(lineNo, line, err)
				}
				break
			}
			events = append(events, ev)
		}

		if eof {
			break
		}
	}
	return events, nil
}

// readLine returns the next line of br without its line break. A line longer
// than maxLineBytes is consumed to its end and only its first maxLineBytes
// are returned, with overlong set. The error is io.EOF on the last line.
func readLine(br *bufio.Reader) (string, bool, error) {
	var buf []byte
	var overlong bool
	for {
		chunk, err := br.ReadSlice('\n')
		if !overlong {
			buf = append(buf, chunk...)
			if len(bytes.TrimSuffix(buf, []byte{'\n'})) > maxLineBytes {
				overlong = true
				buf = buf[:maxLineBytes]
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return string(bytes.TrimSuffix(buf, []byte{'\n'})), overlong, err
	}
}
