// Package statusserver is the ambient diagnostics surface: a
// localhost-only HTTP+WebSocket status page adapted from the teacher's
// internal/websocket hub and internal/api routing idiom. It reports C4
// download-state-machine transitions and per-cycle health for the GFS
// and WAFS sources; it never serves parsed weather records.
package statusserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flightwx/noaawxd/internal/gribsource"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// Source bundles a named grib source for status reporting. gfs.Source
// and wafs.Source both embed *gribsource.Source, so their state,
// last-cycle, and cooldown accessors are reachable here without this
// package importing gfs/wafs directly.
type Source struct {
	Name   string
	Source *gribsource.Source
}

// pollInterval is how often the source states are sampled for changes.
const pollInterval = 1 * time.Second

// Config configures Server.
type Config struct {
	Addr    string // defaults to 127.0.0.1:8951
	Sources []Source
	Log     *logger.Logger
}

// Server is the localhost diagnostics HTTP+WebSocket surface.
type Server struct {
	cfg    Config
	log    *logger.Logger
	hub    *hub
	http   *http.Server
	ln     net.Listener
	mu     sync.Mutex
	last   map[string]snapshot
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type snapshot struct {
	State       string  `json:"state"`
	LastGrib    string  `json:"last_grib"`
	CooldownSec float64 `json:"cooldown_remaining_sec"`
}

// New builds a Server. It does not start listening until ListenAndServe.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8951"
	}
	log := cfg.Log
	if log == nil {
		log, _ = logger.New(logger.Config{Level: "info"})
	}
	s := &Server{
		cfg:    cfg,
		log:    log.Named("status-server"),
		hub:    newHub(log.Named("status-server")),
		last:   make(map[string]snapshot),
		stopCh: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.hub.handleConnection)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe binds the listener, then starts the hub loop, the poll
// loop, and the HTTP server, all in background goroutines. The bind
// happens synchronously so Addr() is valid as soon as this returns.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.run(s.stopCh)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("status server listening", logger.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server error", logger.Error(err))
		}
	}()
	return nil
}

// Addr returns the listener's actual bound address, useful when Config
// specified port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop shuts down the HTTP server and background loops, waiting up to
// timeout for in-flight requests to finish.
func (s *Server) Stop(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.http.Shutdown(ctx)
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Server) snapshotAll() map[string]snapshot {
	out := make(map[string]snapshot, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		if src.Source == nil {
			out[src.Name] = snapshot{State: "na"}
			continue
		}
		out[src.Name] = snapshot{
			State:       src.Source.State().String(),
			LastGrib:    src.Source.LastGrib(),
			CooldownSec: src.Source.DownloadWaitRemaining().Seconds(),
		}
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	current := s.snapshotAll()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(current)
}

// pollLoop samples every source's state once per pollInterval and
// broadcasts a message over the hub whenever a source's snapshot (state,
// last grib, or cooldown remaining) changes,
// since gribsource.Source has no built-in pub-sub of its own.
func (s *Server) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current := s.snapshotAll()
			s.mu.Lock()
			changed := make(map[string]snapshot)
			for name, snap := range current {
				if s.last[name] != snap {
					changed[name] = snap
				}
			}
			s.last = current
			s.mu.Unlock()

			for name, snap := range changed {
				s.hub.broadcast(&message{Type: "source_state", Data: map[string]any{
					"name":                   name,
					"state":                  snap.State,
					"last_grib":              snap.LastGrib,
					"cooldown_remaining_sec": snap.CooldownSec,
				}})
			}
		case <-s.stopCh:
			return
		}
	}
}
