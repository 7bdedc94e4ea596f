// Package channel carries one-line mutation requests from clients to the
// daemon over a named pipe.
//
// The daemon holds the pipe open read-write, so it never sees end-of-file
// when a client disconnects, and reads with a deadline so that a waiting
// read can notice shutdown.
package channel

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	appLog "cald/internal/log"
)

// PipeMode is the permission of a newly created pipe.
const PipeMode = 0o600

// MaxMessageBytes bounds one received message, line break included. Longer
// messages are dropped by ReadLine.
const MaxMessageBytes = 64 << 10

// writeTimeout bounds each message write in SendLines.
var writeTimeout = 5 * time.Second

var (
	ErrNoPipe    = errors.New("command pipe does not exist")
	ErrNoReader  = errors.New("no daemon is reading the command pipe")
	ErrNotPipe   = errors.New("path exists and is not a named pipe")
	ErrMultiline = errors.New("message must be a single line")
	ErrOversized = errors.New("message too long")
)

// Ensure creates a named pipe at path if nothing exists there. It reports
// whether it created one.
func Ensure(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.Mode()&os.ModeNamedPipe == 0 {
			return false, errors.WithMessage(ErrNotPipe, path)
		}
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.WithMessagef(err, "stat %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, errors.WithMessage(err, "creating pipe directory")
	}
	if err := unix.Mkfifo(path, PipeMode); err != nil && !errors.Is(err, unix.EEXIST) {
		return false, errors.WithMessagef(err, "mkfifo %s", path)
	}
	return true, nil
}

// Listener reads newline-terminated messages from a named pipe.
type Listener struct {
	path string
	f    *os.File
	r    *bufio.Reader

	// partial holds bytes of a message whose line break hasn't arrived yet.
	partial []byte
	// discarding is set while the rest of an oversized message is skipped.
	discarding bool

	poll  time.Duration
	drain time.Duration
}

// Listen creates the pipe if needed and opens it for reading.
//
// poll bounds each wait for input, which is how often ReadLine re-checks its
// context. drain bounds how long ReadLine keeps reading, after its context
// is done, to complete a message that is already partially received.
func Listen(path string, poll, drain time.Duration) (*Listener, error) {
	created, err := Ensure(path)
	if err != nil {
		return nil, err
	}
	if created {
		appLog.Info("created command pipe", "path", path)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening pipe %s", path)
	}
	// A non-blocking fd is registered with the runtime poller, which is
	// what makes read deadlines work.
	f := os.NewFile(uintptr(fd), path)

	return &Listener{
		path:  path,
		f:     f,
		r:     bufio.NewReader(f),
		poll:  poll,
		drain: drain,
	}, nil
}

// Path returns the pipe path.
func (l *Listener) Path() string { return l.path }

// ReadLine returns the next complete message, including its line break.
//
// It returns ctx.Err() once ctx is done and nothing read so far remains
// unreturned. Complete messages already read from the pipe are still
// returned first, and a partially received message is given up to the
// drain timeout to complete.
func (l *Listener) ReadLine(ctx context.Context) (string, error) {
	var drainBy time.Time

	for {
		if err := ctx.Err(); err != nil {
			if len(l.partial) == 0 && l.r.Buffered() == 0 {
				return "", err
			}
			if drainBy.IsZero() {
				drainBy = time.Now().Add(l.drain)
			} else if time.Now().After(drainBy) {
				appLog.Error("dropping incomplete message at shutdown", err,
					"path", l.path, "bytes", len(l.partial)+l.r.Buffered())
				l.partial = l.partial[:0]
				l.r.Reset(l.f)
				return "", err
			}
		}

		if err := l.f.SetReadDeadline(time.Now().Add(l.poll)); err != nil {
			return "", errors.WithMessage(err, "setting read deadline")
		}
		chunk, err := l.r.ReadSlice('\n')
		if l.discarding {
			if err == nil {
				l.discarding = false
			}
			chunk = nil
		}
		l.partial = append(l.partial, chunk...)
		if len(l.partial) > MaxMessageBytes {
			appLog.Error("dropping oversized message", ErrOversized,
				"path", l.path, "limit", MaxMessageBytes)
			l.partial = l.partial[:0]
			l.discarding = err != nil
			continue
		}

		switch {
		case len(chunk) == 0 && err == nil:
			continue
		case err == nil:
			line := string(l.partial)
			l.partial = l.partial[:0]
			return line, nil
		case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return "", errors.WithMessagef(err, "reading pipe %s", l.path)
		}
	}
}

// Close closes the pipe. The pipe file itself is left in place.
func (l *Listener) Close() error {
	return l.f.Close()
}

// Send writes one message to the pipe at path. See SendLines.
func Send(path, line string) error {
	return SendLines(path, []string{line})
}

// SendLines writes each line as its own message. It fails with ErrNoPipe if
// the pipe does not exist and ErrNoReader if no daemon has it open.
func SendLines(path string, lines []string) error {
	msgs := make([][]byte, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if strings.ContainsAny(line, "\r\n") {
			return errors.WithMessagef(ErrMultiline, "%q", line)
		}
		msgs = append(msgs, []byte(line+"\n"))
	}

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	switch {
	case errors.Is(err, unix.ENOENT):
		return errors.WithMessage(ErrNoPipe, path)
	case errors.Is(err, unix.ENXIO):
		return errors.WithMessage(ErrNoReader, path)
	case err != nil:
		return errors.WithMessagef(err, "opening pipe %s", path)
	}
	f := os.NewFile(uintptr(fd), path)
	defer f.Close()

	// Each message is a single write, so messages up to PIPE_BUF bytes
	// never interleave with other writers. Each write gets its own deadline.
	for _, msg := range msgs {
		if err := f.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return errors.WithMessage(err, "setting write deadline")
		}
		if _, err := f.Write(msg); err != nil {
			return errors.WithMessagef(err, "writing pipe %s", path)
		}
	}
	return nil
}
