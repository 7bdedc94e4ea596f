package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	appLog "cald/internal/log"
	"cald/internal/model"
	"cald/internal/query"
)

// Server provides a read-only HTTP view of the daemon: liveness, metrics,
// and events read from the backing file. It never mutates anything.
type Server struct {
	fs       afero.Fs
	database string
	state    func() string
	mux      *http.ServeMux
	httpSrv  *http.Server
	addr     net.Addr

	// Parsed backing file, reused while the file is unchanged.
	eventsMu    sync.Mutex
	eventsCache *eventsCache
}

// eventsCache holds the events parsed from one version of the backing file.
type eventsCache struct {
	modTime time.Time
	size    int64
	events  []model.Event
}

// NewServer constructs a new Server. state reports the daemon loop state
// for /health.
func NewServer(fs afero.Fs, database string, state func() string) *Server {
	s := &Server{
		fs:       fs,
		database: database,
		state:    state,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds listen and serves in the background until Shutdown.
func (s *Server) Start(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	appLog.Info("starting status server", "listen", "http://"+ln.Addr().String())

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("status server stopped", err)
		}
	}()
	return nil
}

// Addr returns the bound address of a started server.
func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.state()))
}

// eventDTO is a JSON-friendly view of an event.
type eventDTO struct {
	Date        string `json:"date"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events []eventDTO `json:"events"`
	Count  int        `json:"count"`
}

// handleEvents returns events from the backing file, optionally filtered.
//
// GET /api/events?date=DD-MM-YYYY&from=DD-MM-YYYY&to=DD-MM-YYYY&name=prefix
//   - date: repeatable; exact date match against any value
//   - from/to: inclusive interval; both or neither
//   - name: repeatable; name prefix match against any value
//
// Filters combine with AND.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "read-only endpoint")
		return
	}
	q := r.URL.Query()

	events, err := s.loadEvents()
	if err != nil {
		appLog.Error("api events: load failed", err, "path", s.database)
		writeError(w, http.StatusInternalServerError, "failed to read calendar database")
		return
	}

	if raw := q["date"]; len(raw) > 0 {
		dates := make([]model.Date, 0, len(raw))
		for _, v := range raw {
			d, err := model.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid date: "+v)
				return
			}
			dates = append(dates, d)
		}
		events = query.ByDates(events, dates)
	}

	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" {
		start, err1 := model.ParseDate(from)
		end, err2 := model.ParseDate(to)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "from and to must both be valid dates")
			return
		}
		if events, err = query.ByInterval(events, start, end); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if names := q["name"]; len(names) > 0 {
		events = query.ByNamePrefix(events, names)
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, eventDTO{Date: ev.Date.String(), Name: ev.Name, Description: ev.Description})
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: dtos, Count: len(dtos)})
}

// loadEvents returns the parsed backing file, reparsing only when its
// modification time or size changed.
func (s *Server) loadEvents() ([]model.Event, error) {
	info, err := s.fs.Stat(s.database)
	if err != nil {
		return nil, err
	}

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if ec := s.eventsCache; ec != nil && ec.modTime.Equal(info.ModTime()) && ec.size == info.Size() {
		return ec.events, nil
	}
	events, err := query.LoadFile(s.fs, s.database)
	if err != nil {
		return nil, err
	}
	s.eventsCache = &eventsCache{modTime: info.ModTime(), size: info.Size(), events: events}
	return events, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
