package metar

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/flightwx/noaawxd/internal/fetch"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// ReportSource selects which report feed Source downloads from. Each
// carries its own update rate per spec.md §4.7 (5 min for NOAA, 10 for
// VATSIM/IVAO).
type ReportSource int

const (
	SourceNOAA ReportSource = iota
	SourceVATSIM
	SourceIVAO
)

func (s ReportSource) updateRate() time.Duration {
	switch s {
	case SourceNOAA:
		return 5 * time.Minute
	default:
		return 10 * time.Minute
	}
}

func (s ReportSource) url() string {
	switch s {
	case SourceNOAA:
		return "https://aviationweather.gov/adds/dataserver_current/current/metars.cache.csv.gz"
	case SourceVATSIM:
		return "https://metar.vatsim.net/metar.php?id=all"
	case SourceIVAO:
		return "https://wx.ivao.aero/metar.php"
	default:
		return ""
	}
}

const (
	stationsURL       = "https://www.aviationweather.gov/docs/metar/stations.txt"
	stationUpdateRate = 30 * 24 * time.Hour
	rwxDumpInterval   = 5 * time.Minute
)

// Source owns the station/report refresh schedule, the nearest-station
// query surface, and the periodic METAR.rwx dump.
type Source struct {
	store      *Store
	cacheDir   string
	rwxPath    string
	client     *http.Client
	reportKind ReportSource
	logger     *logger.Logger

	ignoreStations []string

	mu                sync.Mutex
	lastStationUpdate time.Time // zero means "never, or unknown" — forces a refresh
	lastReportUpdate  time.Time
	lastRwxDump       time.Time
	stationBusy       bool
	reportBusy        bool

	now func() time.Time
}

// NewSource constructs a METAR source. lastStationUpdate restores the
// persisted `ms_update` epoch (spec.md §4.10) so a restart doesn't reset
// the 30-day station-refresh clock.
func NewSource(store *Store, cacheDir, rwxPath string, client *http.Client, reportKind ReportSource, ignoreStations []string, lastStationUpdate time.Time, log *logger.Logger) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{
		store:             store,
		cacheDir:          cacheDir,
		rwxPath:           rwxPath,
		client:            client,
		reportKind:        reportKind,
		ignoreStations:    ignoreStations,
		lastStationUpdate: lastStationUpdate,
		logger:            log,
		now:               time.Now,
	}
}

// Store exposes the underlying airport database for read-only lookups
// (the query dispatcher's ICAO and coordinate queries).
func (s *Source) Store() *Store {
	return s.store
}

// LastStationUpdate reports the last successful station refresh time,
// for C10 to persist as `ms_update`.
func (s *Source) LastStationUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStationUpdate
}

// Shutdown waits up to timeout for any in-flight station/report refresh
// to finish. Unlike the grib sources, a METAR refresh has no separate
// cancel flag — it's a bounded HTTP GET plus a handful of upserts — so
// shutdown just bounds how long the scheduler waits for it to drain.
func (s *Source) Shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		busy := s.stationBusy || s.reportBusy
		s.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Run drives the three periodic tasks: station refresh (30 days), report
// refresh (per-source rate), and the METAR.rwx dump (5 minutes). Each
// task runs in its own goroutine. The station and report refreshes are
// guarded by busy flags so only one of each is ever in flight; the rwx
// dump is gated only by its 5-minute interval, with no busy flag.
func (s *Source) Run() {
	now := s.now()

	s.mu.Lock()
	dueStations := !s.stationBusy && now.Sub(s.lastStationUpdate) >= stationUpdateRate
	if dueStations {
		s.stationBusy = true
	}
	dueReport := !s.reportBusy && now.Sub(s.lastReportUpdate) >= s.reportKind.updateRate()
	if dueReport {
		s.reportBusy = true
	}
	dueRwx := now.Sub(s.lastRwxDump) >= rwxDumpInterval
	if dueRwx {
		s.lastRwxDump = now
	}
	s.mu.Unlock()

	if dueStations {
		go s.refreshStations()
	}
	if dueReport {
		go s.refreshReport()
	}
	if dueRwx && s.rwxPath != "" {
		go func() {
			if err := WriteRwxDump(s.store, s.rwxPath); err != nil && s.logger != nil {
				s.logger.Warn("metar.rwx dump failed", logger.Error(err))
			}
		}()
	}
}

func (s *Source) refreshStations() {
	defer func() {
		s.mu.Lock()
		s.stationBusy = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := downloadBody(ctx, s.client, stationsURL)
	if err != nil {
		s.logWarn("station list download failed", err)
		return
	}

	stations, err := ParseStations(bytes.NewReader(data))
	if err != nil {
		s.logWarn("station list parse failed", err)
		return
	}

	for _, st := range stations {
		if err := s.store.UpsertStation(st.ICAO, st.Lat, st.Lon, st.ElevationM); err != nil {
			s.logWarn("station upsert failed", err)
		}
	}

	s.mu.Lock()
	s.lastStationUpdate = s.now()
	s.mu.Unlock()
}

func (s *Source) refreshReport() {
	defer func() {
		s.mu.Lock()
		s.reportBusy = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := downloadBody(ctx, s.client, s.reportKind.url())
	if err != nil {
		s.logWarn("report download failed", err)
		return
	}

	lines, err := ParseReports(bytes.NewReader(data), s.now())
	if err != nil {
		s.logWarn("report parse failed", err)
		return
	}

	updates := make([]ReportUpdate, 0, len(lines))
	for _, l := range lines {
		updates = append(updates, ReportUpdate{ICAO: l.ICAO, Timestamp: l.Timestamp, Metar: l.Metar})
	}
	if len(updates) > 0 {
		if err := s.store.UpdateReportsIfNewer(updates); err != nil {
			s.logWarn("report batch update failed", err)
			return
		}
	}

	s.mu.Lock()
	s.lastReportUpdate = s.now()
	s.mu.Unlock()
}

func (s *Source) logWarn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, logger.Error(err))
	}
}

// downloadBody fetches url into a temp file via internal/fetch (reusing
// its in-flight gzip/deflate decode and atomic-rename semantics) and
// returns its decoded contents.
func downloadBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "metar-*.txt")
	if err != nil {
		return nil, err
	}
	tmp.Close()
	path := tmp.Name()
	defer os.Remove(path)

	if err := fetch.Download(ctx, fetch.Request{URL: url, OutPath: path, Client: client}); err != nil {
		return nil, fmt.Errorf("metar: download %s: %w", url, err)
	}
	return os.ReadFile(path)
}

// NearestStation returns the closest reporting airport to lat/lon,
// excluding the configured ignore list, parsed into a Record.
func (s *Source) NearestStation(lat, lon float64) (Record, bool, error) {
	row, ok, err := s.store.NearestWithReport(lat, lon, s.ignoreStations)
	if err != nil || !ok {
		return Record{}, ok, err
	}
	if !row.Metar.Valid {
		return Record{}, false, nil
	}
	rec := Parse(row.ICAO, row.Metar.String, row.ElevationM)
	return rec, true, nil
}
