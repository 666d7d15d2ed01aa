// Package gribsource is the shared base (spec component C4) every grib
// weather source (GFS, WAFS) embeds: cycle-date arithmetic, last-grib
// memory, and the download state machine. A source never talks to the
// network directly — it asks BuildURL for the current cycle's URL and
// filename, and hands the rest to the fetch package.
package gribsource

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flightwx/noaawxd/internal/fetch"
	"github.com/flightwx/noaawxd/internal/gribidx"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// State is the download state machine's current position.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateDownloading
	StateVerifying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateDownloading:
		return "downloading"
	case StateVerifying:
		return "verifying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// downloadCooldown is how long a source waits after a failed download
// before trying again; re-armed (not doubled) on each failure per
// spec.md §4.4.
const downloadCooldown = 60 * time.Second

// BuildURLFunc names the remote file and local cache filename for a
// given cycle. Per-source (GFS/WAFS own their URL format).
type BuildURLFunc func(cycle Cycle) (url, filename string)

// Config wires a Source's dependencies; all fields are set once at
// construction and treated as an immutable snapshot thereafter, per
// spec.md §9's note on avoiding shared mutable config.
type Config struct {
	Name         string // e.g. "gfs", "wafs" — used in logs and cache subdir
	CacheDir     string
	CycleSpec    CycleSpec
	BuildURL     BuildURLFunc
	VariableList gribidx.VariableList
	Wgrib2Path   string
	HTTPClient   *http.Client

	DownloadEnabled bool
	KeepOldFiles    bool

	Logger *logger.Logger
	Now    func() time.Time // overridable clock for tests
}

// Source is one grib weather source's download state machine.
type Source struct {
	cfg Config

	mu                    sync.Mutex
	state                 State
	lastGrib              string
	downloadWaitRemaining time.Duration
	inflight              *inflightDownload
}

type inflightDownload struct {
	filename string
	cancel   chan struct{}
	done     chan struct{}
	err      error
}

// New constructs a Source and sweeps any orphaned `.tmp` file left behind
// by a prior crash (a feature present in the original implementation but
// dropped from the distilled spec; see SPEC_FULL.md).
func New(cfg Config) *Source {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Source{cfg: cfg, state: StateIdle}
	s.sweepOrphanTemp()
	return s
}

func (s *Source) sweepOrphanTemp() {
	entries, err := os.ReadDir(s.cfg.CacheDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			os.Remove(filepath.Join(s.cfg.CacheDir, e.Name()))
		}
	}
}

// State returns the source's current state-machine position.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastGrib returns the filename (not path) of the most recently verified
// grib, or "" if none has ever completed.
func (s *Source) LastGrib() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGrib
}

// LastGribPath returns the full cache path of the most recently verified
// grib, or "" if none has ever completed.
func (s *Source) LastGribPath() string {
	lg := s.LastGrib()
	if lg == "" {
		return ""
	}
	return filepath.Join(s.cfg.CacheDir, lg)
}

// DownloadWaitRemaining reports the cooldown remaining after a failure,
// for the diagnostics surface.
func (s *Source) DownloadWaitRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadWaitRemaining
}

// Run executes one scheduler tick (spec.md §4.4): quantize the cycle,
// check whether the current cache file already matches, and otherwise
// drive the Planning → Downloading → Verifying state transitions.
func (s *Source) Run(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.DownloadEnabled {
		return
	}

	if s.downloadWaitRemaining > 0 {
		s.downloadWaitRemaining -= elapsed
		if s.downloadWaitRemaining < 0 {
			s.downloadWaitRemaining = 0
		}
		return
	}

	cycle := s.cfg.CycleSpec.GetCycleDate(s.cfg.Now())
	url, filename := s.cfg.BuildURL(cycle)
	cachePath := filepath.Join(s.cfg.CacheDir, filename)

	if s.inflight == nil {
		if s.lastGrib == filename {
			if _, err := os.Stat(cachePath); err == nil {
				s.state = StateIdle
				return
			}
		}
		s.startDownload(url, cachePath, filename)
		return
	}

	select {
	case <-s.inflight.done:
		s.finishDownload(s.inflight.filename)
	default:
		// still in flight
	}
}

func (s *Source) startDownload(url, cachePath, filename string) {
	s.state = StatePlanning
	cancel := make(chan struct{})
	done := make(chan struct{})
	inflight := &inflightDownload{filename: filename, cancel: cancel, done: done}
	s.inflight = inflight
	s.state = StateDownloading

	go func() {
		defer close(done)
		var decompressCmd []string
		if s.cfg.Wgrib2Path != "" {
			decompressCmd = fetch.WgribRepackCmd(s.cfg.Wgrib2Path)
		}
		err := fetch.Download(context.Background(), fetch.Request{
			URL:           url,
			OutPath:       cachePath,
			VariableList:  s.cfg.VariableList,
			Cancel:        cancel,
			DecompressCmd: decompressCmd,
			Client:        s.cfg.HTTPClient,
		})
		inflight.err = err
	}()
}

func (s *Source) finishDownload(filename string) {
	err := s.inflight.err
	s.inflight = nil

	if err != nil {
		s.state = StateFailed
		s.downloadWaitRemaining = downloadCooldown
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn("grib download failed, cooling down",
				logger.String("source", s.cfg.Name),
				logger.Error(err),
				logger.Duration("cooldown", downloadCooldown))
		}
		return
	}

	s.state = StateVerifying
	if !s.cfg.KeepOldFiles && s.lastGrib != "" && s.lastGrib != filename {
		os.Remove(filepath.Join(s.cfg.CacheDir, s.lastGrib))
	}
	s.lastGrib = filename
	s.state = StateIdle

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("grib cycle updated",
			logger.String("source", s.cfg.Name),
			logger.String("filename", filename))
	}
}

// Shutdown cancels any in-flight download and waits up to timeout for it
// to finish, per spec.md §4.8's bounded (≤3s) graceful shutdown.
func (s *Source) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	inflight := s.inflight
	s.mu.Unlock()

	if inflight == nil {
		return
	}
	close(inflight.cancel)

	select {
	case <-inflight.done:
	case <-time.After(timeout):
	}
}
