package daemon

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cald/internal/channel"
	"cald/internal/config"
	"cald/internal/link"
)

type harness struct {
	cfg    *config.Config
	d      *Daemon
	cancel context.CancelFunc
	done   chan error
}

func startDaemon(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database = filepath.Join(dir, "cald_db.csv")
	cfg.Pipe = filepath.Join(dir, "cald_pipe")
	cfg.Link = filepath.Join(dir, "calendar_link")
	cfg.PollInterval = 20 * time.Millisecond
	cfg.DrainTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{cfg: cfg, d: New(cfg, afero.NewOsFs()), done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.d.Run(ctx) }()

	require.Eventually(t, func() bool { return h.d.State() == Listening },
		2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) database(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.cfg.Database)
	require.NoError(t, err)
	return string(data)
}

func TestRunAddThenDelete(t *testing.T) {
	h := startDaemon(t, nil)

	published, err := link.Resolve(afero.NewOsFs(), h.cfg.Link)
	require.NoError(t, err)
	assert.Equal(t, h.cfg.Database, published)

	require.NoError(t, channel.Send(h.cfg.Pipe, "ADD 01-01-2024 NewYear Party"))
	require.Eventually(t, func() bool {
		return strings.Contains(h.database(t), "01-01-2024,NewYear,Party\n")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, channel.Send(h.cfg.Pipe, "DEL 01-01-2024 NewYear"))
	require.Eventually(t, func() bool {
		return !strings.Contains(h.database(t), "NewYear")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunAppliesInArrivalOrder(t *testing.T) {
	h := startDaemon(t, nil)

	require.NoError(t, channel.SendLines(h.cfg.Pipe, []string{
		"ADD 01-01-2024 A first",
		"ADD 01-01-2024 A duplicate",
		"bogus line",
		"UPD 01-01-2024 A B renamed",
		"ADD 02-01-2024 C",
	}))
	require.Eventually(t, func() bool {
		return h.database(t) == "01-01-2024,B,renamed\n02-01-2024,C\n"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.d.State() == Listening },
		time.Second, 10*time.Millisecond)
}

func TestRunStopsPromptlyWhenIdle(t *testing.T) {
	h := startDaemon(t, nil)

	start := time.Now()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Stopped, h.d.State())

	err := channel.Send(h.cfg.Pipe, "ADD 01-01-2024 Late")
	assert.ErrorIs(t, err, channel.ErrNoReader)
}

func TestRunKeepsExistingEvents(t *testing.T) {
	h := startDaemon(t, func(cfg *config.Config) {
		require.NoError(t, os.WriteFile(cfg.Database, []byte("15-06-2024,Meeting,\n"), 0o644))
	})
	require.NoError(t, channel.Send(h.cfg.Pipe, "ADD 15-06-2024 Meeting again"))
	require.NoError(t, channel.Send(h.cfg.Pipe, "ADD 16-06-2024 Prep"))

	require.Eventually(t, func() bool {
		return h.database(t) == "15-06-2024,Meeting\n16-06-2024,Prep\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunStatusServer(t *testing.T) {
	h := startDaemon(t, func(cfg *config.Config) {
		cfg.Status.Listen = "127.0.0.1:0"
	})
	require.NotNil(t, h.d.status)

	resp, err := http.Get("http://" + h.d.status.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunFailsOnBadBackupSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database = filepath.Join(dir, "cald_db.csv")
	cfg.Pipe = filepath.Join(dir, "cald_pipe")
	cfg.Link = filepath.Join(dir, "calendar_link")
	cfg.Backup.Schedule = "not a schedule"

	d := New(cfg, afero.NewOsFs())
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Stopped, d.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "STARTING", Starting.String())
	assert.Equal(t, "LISTENING", Listening.String())
	assert.Equal(t, "PROCESSING", Processing.String())
	assert.Equal(t, "STOPPED", Stopped.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
