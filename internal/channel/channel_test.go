package channel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newListener(t *testing.T) *Listener {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cald_pipe")
	l, err := Listen(path, 20*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestEnsure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pipe")

	created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)

	created, err = Ensure(path)
	require.NoError(t, err)
	assert.False(t, created)

	regular := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(regular, nil, 0o644))
	_, err = Ensure(regular)
	assert.ErrorIs(t, err, ErrNotPipe)
}

func TestSendAndReadLine(t *testing.T) {
	l := newListener(t)
	ctx := context.Background()

	require.NoError(t, Send(l.Path(), "ADD 01-01-2024 NewYear Party"))
	require.NoError(t, SendLines(l.Path(), []string{"DEL 01-01-2024 NewYear\n", "UPD 02-01-2024 A B"}))

	for _, want := range []string{
		"ADD 01-01-2024 NewYear Party\n",
		"DEL 01-01-2024 NewYear\n",
		"UPD 02-01-2024 A B\n",
	} {
		got, err := l.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadLineAssemblesPartialWrites(t *testing.T) {
	l := newListener(t)

	w, err := os.OpenFile(l.Path(), os.O_WRONLY, 0)
	require.NoError(t, err)
	defer w.Close()

	done := make(chan string, 1)
	go func() {
		line, _ := l.ReadLine(context.Background())
		done <- line
	}()

	_, err = w.Write([]byte("ADD 01-01-2024 "))
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond) // spans several poll intervals
	_, err = w.Write([]byte("NewYear\n"))
	require.NoError(t, err)

	select {
	case line := <-done:
		assert.Equal(t, "ADD 01-01-2024 NewYear\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine did not return")
	}
}

func TestReadLineDropsOversizedMessage(t *testing.T) {
	l := newListener(t)

	sent := make(chan error, 1)
	go func() {
		sent <- SendLines(l.Path(), []string{
			"ADD 01-01-2024 Small",
			"ADD 02-01-2024 Big " + strings.Repeat("x", 2*MaxMessageBytes),
			"ADD 03-01-2024 After",
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, want := range []string{"ADD 01-01-2024 Small\n", "ADD 03-01-2024 After\n"} {
		got, err := l.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, <-sent)
}

func TestSendLinesDeadlinePerMessage(t *testing.T) {
	old := writeTimeout
	writeTimeout = 100 * time.Millisecond
	t.Cleanup(func() { writeTimeout = old })

	l := newListener(t)
	lines := make([]string, 300)
	for i := range lines {
		lines[i] = fmt.Sprintf("ADD 01-01-2024 E%d %s", i, strings.Repeat("d", 1000))
	}

	sent := make(chan error, 1)
	go func() { sent <- SendLines(l.Path(), lines) }()

	// A slow reader keeps the pipe full for longer than one write timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := range lines {
		got, err := l.ReadLine(ctx)
		require.NoError(t, err)
		require.Equal(t, lines[i]+"\n", got)
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, <-sent)
}

func TestReadLineReturnsPromptlyOnCancel(t *testing.T) {
	l := newListener(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := l.ReadLine(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine ignored cancellation while idle")
	}
}

func TestReadLineDrainsBufferedMessagesAfterCancel(t *testing.T) {
	l := newListener(t)
	require.NoError(t, SendLines(l.Path(), []string{"ADD 01-01-2024 A", "ADD 01-01-2024 B"}))

	line, err := l.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ADD 01-01-2024 A\n", line)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// B was read from the pipe together with A; it must not be lost.
	line, err = l.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ADD 01-01-2024 B\n", line)

	_, err = l.ReadLine(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadLineGivesUpOnIncompleteMessage(t *testing.T) {
	l := newListener(t)

	w, err := os.OpenFile(l.Path(), os.O_WRONLY, 0)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Write([]byte("ADD 01-01-2024 Never"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.ReadLine(ctx)
		errCh <- err
	}()

	time.Sleep(60 * time.Millisecond) // let the partial message be read
	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine did not give up on the incomplete message")
	}
}

func TestSendErrors(t *testing.T) {
	dir := t.TempDir()

	err := Send(filepath.Join(dir, "missing"), "ADD 01-01-2024 A")
	assert.ErrorIs(t, err, ErrNoPipe)

	unread := filepath.Join(dir, "unread")
	require.NoError(t, unix.Mkfifo(unread, PipeMode))
	err = Send(unread, "ADD 01-01-2024 A")
	assert.ErrorIs(t, err, ErrNoReader)

	l := newListener(t)
	err = Send(l.Path(), "ADD 01-01-2024 A\nDEL 01-01-2024 A")
	assert.ErrorIs(t, err, ErrMultiline)
}
