// Package queryserver implements the UDP query dispatcher (spec
// component C9): a localhost datagram socket with a PID-takeover bind
// policy, the `?`/`!` request grammar, and msgpack-serialized weather
// replies assembled from the GFS, WAFS, and METAR sources.
package queryserver

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/flightwx/noaawxd/internal/gfs"
	"github.com/flightwx/noaawxd/internal/metar"
	"github.com/flightwx/noaawxd/internal/units"
	"github.com/flightwx/noaawxd/internal/wafs"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// DefaultAddr is the socket the server listens on unless configured
// otherwise, per spec.md §4.9.
const DefaultAddr = "127.0.0.1:8950"

// maxDatagramSize is the assumed 64 KiB UDP reply ceiling; larger
// replies are pruned, deepest wind layers first, per spec.md §4.9.
const maxDatagramSize = 65536

// bindRetryDelay is how long the server waits after signalling a prior
// owner before retrying the bind, per spec.md §4.9.
const bindRetryDelay = 2 * time.Second

// Hooks are the C10-owned side effects a request can trigger. Every
// field may be nil; a nil hook is a no-op.
type Hooks struct {
	PersistConfig func() error
	ReloadConfig  func() error
	ResetMetar    func() error
}

// Config wires a Server's dependencies.
type Config struct {
	Addr        string
	PIDFilePath string

	GFS   *gfs.Source
	WAFS  *wafs.Source
	Metar *metar.Source

	Hooks Hooks
	Log   *logger.Logger
}

// Server is the UDP query dispatcher.
type Server struct {
	cfg  Config
	conn *net.UDPConn

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Server. Call ListenAndServe to bind and start
// dispatching.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, stopCh: make(chan struct{})}
}

// ListenAndServe binds the socket (retrying once via the PID-takeover
// policy on contention) and serves requests until Stop is called.
func (s *Server) ListenAndServe() error {
	conn, err := s.bind()
	if err != nil {
		return err
	}
	s.conn = conn

	if s.cfg.PIDFilePath != "" {
		_ = os.WriteFile(s.cfg.PIDFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
	}

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Stop closes the socket and waits for the dispatch goroutine to exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.conn != nil {
			s.conn.Close()
		}
	})
	s.wg.Wait()
}

// bind implements spec.md §4.9's port contention policy: on bind
// failure, if a previously saved PID exists, SIGTERM it, wait 2s,
// reload config, retry the bind exactly once.
func (s *Server) bind() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("queryserver: resolve %s: %w", s.cfg.Addr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err == nil {
		return conn, nil
	}

	if s.cfg.PIDFilePath == "" {
		return nil, err
	}
	data, rerr := os.ReadFile(s.cfg.PIDFilePath)
	if rerr != nil {
		return nil, err
	}
	pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
	if perr != nil {
		return nil, err
	}

	if proc, ferr := os.FindProcess(pid); ferr == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}
	time.Sleep(bindRetryDelay)

	if s.cfg.Hooks.ReloadConfig != nil {
		_ = s.cfg.Hooks.ReloadConfig()
	}

	return net.ListenUDP("udp", addr)
}

func (s *Server) serve() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, clientAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				if s.cfg.Log != nil {
					s.cfg.Log.Warn("queryserver: read error", logger.Error(err))
				}
				continue
			}
		}

		req := strings.TrimRight(string(buf[:n]), " \t\r\n")
		reply, shutdown := s.dispatch(req)
		if reply != nil {
			_, _ = s.conn.WriteToUDP(reply, clientAddr)
		}
		if shutdown {
			go s.Stop()
			return
		}
	}
}

// dispatch handles one request line and returns the datagram to send
// back (nil meaning no reply) and whether the server should shut down.
func (s *Server) dispatch(req string) ([]byte, bool) {
	switch req {
	case "!ping":
		return []byte("!pong"), false
	case "!shutdown":
		if s.cfg.Hooks.PersistConfig != nil {
			_ = s.cfg.Hooks.PersistConfig()
		}
		return []byte("!bye"), true
	case "!reload":
		if s.cfg.Hooks.ReloadConfig != nil {
			_ = s.cfg.Hooks.ReloadConfig()
		}
		return nil, false
	case "!resetMetar":
		if s.cfg.Hooks.ResetMetar != nil {
			_ = s.cfg.Hooks.ResetMetar()
		}
		return nil, false
	}

	if !strings.HasPrefix(req, "?") {
		return nil, false
	}
	body := req[1:]

	if lat, lon, ok := parseCoordQuery(body); ok {
		return s.replyCoord(lat, lon), false
	}

	return s.replyICAO(strings.ToUpper(body)), false
}

func parseCoordQuery(body string) (lat, lon float64, ok bool) {
	parts := strings.SplitN(body, "|", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func (s *Server) replyCoord(lat, lon float64) []byte {
	if lat > 98 && lon > 98 {
		data, _ := msgpack.Marshal(false)
		return data
	}

	resp := map[string]any{
		"gfs":   s.gfsPayload(lat, lon),
		"wafs":  s.wafsPayload(lat, lon),
		"metar": s.metarCoordPayload(lat, lon),
		"info": map[string]any{
			"lat":                    lat,
			"lon":                    lon,
			"gfs_cycle":              s.gfsCycle(),
			"wafs_cycle":             s.wafsCycle(),
			"magnetic_variation_deg": units.MagneticVariationDeg(lat, lon, 0, time.Now()),
		},
	}
	return marshalTruncated(resp)
}

func (s *Server) replyICAO(icao string) []byte {
	var payload map[string]any
	if s.cfg.Metar != nil {
		if row, ok, err := s.cfg.Metar.Store().ByICAO(icao); err == nil && ok && row.Metar.Valid {
			rec := metar.Parse(row.ICAO, row.Metar.String, row.ElevationM)
			payload = recordToMap(rec)
		}
	}
	if payload == nil {
		payload = map[string]any{"icao": "METAR STATION", "metar": "NOT AVAILABLE"}
	}
	data, _ := msgpack.Marshal(map[string]any{"metar": payload})
	return data
}

func (s *Server) gfsCycle() string {
	if s.cfg.GFS == nil {
		return "na"
	}
	if lg := s.cfg.GFS.LastGrib(); lg != "" {
		return lg
	}
	return "na"
}

func (s *Server) wafsCycle() string {
	if s.cfg.WAFS == nil {
		return "na"
	}
	if lg := s.cfg.WAFS.LastGrib(); lg != "" {
		return lg
	}
	return "na"
}

func (s *Server) gfsPayload(lat, lon float64) map[string]any {
	if s.cfg.GFS == nil || s.cfg.GFS.LastGrib() == "" {
		return map[string]any{}
	}
	result, err := s.cfg.GFS.Parse(lat, lon)
	if err != nil {
		return map[string]any{}
	}
	winds := make([]map[string]any, 0, len(result.Winds))
	for _, w := range result.Winds {
		wm := map[string]any{
			"alt_m":    w.AltM,
			"heading":  w.HeadingDeg,
			"speed_kt": w.SpeedKt,
			"has_temp": w.HasTemp,
			"temp_k":   w.TempK,
			"has_dew":  w.HasDew,
			"dew_c":    w.DewC,
		}
		winds = append(winds, wm)
	}
	clouds := make([]map[string]any, 0, len(result.Clouds))
	for _, c := range result.Clouds {
		clouds = append(clouds, map[string]any{
			"base_m": c.BaseM,
			"top_m":  c.TopM,
			"cover":  c.CoverPct,
		})
	}
	return map[string]any{
		"winds":         winds,
		"clouds":        clouds,
		"pressure_inhg": result.PressureInHg,
		"has_pressure":  result.HasPressure,
	}
}

func (s *Server) wafsPayload(lat, lon float64) map[string]any {
	if s.cfg.WAFS == nil || s.cfg.WAFS.LastGrib() == "" {
		return map[string]any{}
	}
	layers, err := s.cfg.WAFS.Parse(lat, lon)
	if err != nil {
		return map[string]any{}
	}
	out := make([]map[string]any, 0, len(layers))
	for _, l := range layers {
		out = append(out, map[string]any{"alt_m": l.AltM, "turbulence": l.Value})
	}
	return map[string]any{"layers": out}
}

func (s *Server) metarCoordPayload(lat, lon float64) map[string]any {
	if s.cfg.Metar == nil {
		return map[string]any{}
	}
	rec, ok, err := s.cfg.Metar.NearestStation(lat, lon)
	if err != nil || !ok {
		return map[string]any{}
	}
	m := recordToMap(rec)
	row, rowOK, rowErr := s.cfg.Metar.Store().ByICAO(rec.ICAO)
	if rowErr == nil && rowOK {
		m["latlon"] = []float64{row.Lat, row.Lon}
		m["distance_m"] = units.GreatCircleMeters(lat, lon, row.Lat, row.Lon)
	}
	return m
}

func recordToMap(rec metar.Record) map[string]any {
	clouds := make([]map[string]any, 0, len(rec.Clouds))
	for _, c := range rec.Clouds {
		clouds = append(clouds, map[string]any{"alt_m": c.AltM, "coverage": c.Coverage, "type": c.Type})
	}
	precip := make([]map[string]any, 0, len(rec.Precipitation))
	for _, p := range rec.Precipitation {
		precip = append(precip, map[string]any{"kind": p.Kind, "intensity": p.Intensity, "recent": p.Recent})
	}
	rvr := make([]map[string]any, 0, len(rec.RVR))
	for _, r := range rec.RVR {
		rvr = append(rvr, map[string]any{
			"runway": r.Runway, "heading": r.HeadingDeg, "modifier": r.Modifier,
			"visibility_m": r.VisibilityM, "trend": r.Trend,
		})
	}
	return map[string]any{
		"icao":             rec.ICAO,
		"raw":              rec.RawText,
		"wind":             map[string]any{"heading": rec.Wind.HeadingDeg, "speed_kt": rec.Wind.SpeedKt, "gust_kt": rec.Wind.GustKt, "variable": rec.Wind.Variable},
		"has_variable_wind": rec.HasVariableWind,
		"variable_wind_lo":  rec.VariableWindLo,
		"variable_wind_hi":  rec.VariableWindHi,
		"clouds":           clouds,
		"has_temp":         rec.HasTemp,
		"temp_c":           rec.TempC,
		"dew_c":            rec.DewC,
		"pressure_inhg":    rec.PressureInHg,
		"visibility_m":     rec.VisibilityM,
		"precipitation":    precip,
		"rvr":              rvr,
	}
}

// marshalTruncated marshals resp, pruning the deepest (highest-altitude)
// GFS wind layers and then WAFS layers until the result fits in
// maxDatagramSize, per spec.md §4.9.
func marshalTruncated(resp map[string]any) []byte {
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return nil
	}
	for len(data) > maxDatagramSize {
		if !pruneDeepest(resp) {
			break
		}
		data, err = msgpack.Marshal(resp)
		if err != nil {
			return nil
		}
	}
	return data
}

func pruneDeepest(resp map[string]any) bool {
	if gfsPayload, ok := resp["gfs"].(map[string]any); ok {
		if winds, ok := gfsPayload["winds"].([]map[string]any); ok && len(winds) > 0 {
			gfsPayload["winds"] = winds[:len(winds)-1]
			return true
		}
	}
	if wafsPayload, ok := resp["wafs"].(map[string]any); ok {
		if layers, ok := wafsPayload["layers"].([]map[string]any); ok && len(layers) > 0 {
			wafsPayload["layers"] = layers[:len(layers)-1]
			return true
		}
	}
	return false
}
