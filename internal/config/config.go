// Package config implements the two atomically-written persistence
// files (spec component C10): the user-editable plugin config and the
// small server-state snapshot, plus the human-editable GFS levels JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/flightwx/noaawxd/internal/gfs"
	"github.com/flightwx/noaawxd/internal/gribidx"
)

// configVersion is the version tag written into every saved file.
// minSupportedVersion is the floor below which a loaded file is
// ignored and defaults are used instead, per spec.md §4.10.
const (
	configVersion       = "2.0"
	minSupportedVersion = "2.0"
)

// MetarSource selects which report feed the METAR worker uses.
type MetarSource string

const (
	MetarSourceNOAA   MetarSource = "NOAA"
	MetarSourceVATSIM MetarSource = "VATSIM"
	MetarSourceIVAO   MetarSource = "IVAO"
)

// PluginConfig is the user-editable configuration surface (spec.md
// §4.10 item 1).
type PluginConfig struct {
	Version string `toml:"version"`

	Enabled bool `toml:"enabled"`

	ApplyWind        bool `toml:"apply_wind"`
	ApplyClouds      bool `toml:"apply_clouds"`
	ApplyTemp        bool `toml:"apply_temp"`
	ApplyPressure    bool `toml:"apply_pressure"`
	ApplyTurbulence  bool `toml:"apply_turbulence"`

	MetarSource         MetarSource `toml:"metar_source"`
	MetarDistanceLimitKm float64    `toml:"metar_distance_limit_km"`
	MetarAGLLimitM       float64    `toml:"metar_agl_limit_m"`

	VisibilityCapM float64 `toml:"visibility_cap_m"`
	CloudCapM      float64 `toml:"cloud_cap_m"`

	TurbulenceProbability float64 `toml:"turbulence_probability"`

	Download      bool `toml:"download"`
	KeepOldFiles  bool `toml:"keep_old_files"`
	UpdateMetarRWX bool `toml:"update_metar_rwx"`

	IgnoreMetarStations []string `toml:"ignore_metar_stations"`

	TrackerUID     string `toml:"tracker_uid"`
	TrackerEnabled bool   `toml:"tracker_enabled"`
}

// DefaultPluginConfig returns the configuration used when no file
// exists yet, or when a loaded file is rejected (corrupt, or below the
// version floor).
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		Version:              configVersion,
		Enabled:              true,
		ApplyWind:            true,
		ApplyClouds:          true,
		ApplyTemp:            true,
		ApplyPressure:        true,
		ApplyTurbulence:      true,
		MetarSource:          MetarSourceNOAA,
		MetarDistanceLimitKm: 100,
		MetarAGLLimitM:       10,
		VisibilityCapM:       9999,
		CloudCapM:            12000,
		TurbulenceProbability: 0.5,
		Download:             true,
		KeepOldFiles:         false,
		UpdateMetarRWX:       true,
	}
}

// LoadPluginConfig loads path, falling back to defaults when the file is
// absent, corrupt (deleted on failure), or tagged below
// minSupportedVersion (left in place, per spec.md §4.10's "ignore the
// file" wording, but not treated as the active configuration).
func LoadPluginConfig(path string) (PluginConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultPluginConfig(), nil
	}

	var cfg PluginConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		os.Remove(path)
		return DefaultPluginConfig(), nil
	}

	if versionBelowFloor(cfg.Version) {
		return DefaultPluginConfig(), nil
	}
	return cfg, nil
}

// SavePluginConfig writes cfg to path atomically (temp file then
// rename), stamping the current version.
func SavePluginConfig(path string, cfg PluginConfig) error {
	cfg.Version = configVersion
	return atomicWriteTOML(path, cfg)
}

// ServerState is the small runtime-state snapshot (spec.md §4.10 item
// 2): the two sources' last-downloaded cycle filenames, the last
// station-refresh epoch, and the running server's PID (used by the
// query server's bind-contention takeover).
type ServerState struct {
	Version string `toml:"version"`

	LastGrib         string `toml:"lastgrib"`
	LastWafsGrib     string `toml:"lastwafsgrib"`
	MsUpdate         int64  `toml:"ms_update"`
	WeatherServerPid int    `toml:"weatherServerPid"`
}

// LoadServerState loads path, defaulting to a zero-value ServerState on
// absence, corruption, or a version below the floor — same policy as
// LoadPluginConfig.
func LoadServerState(path string) (ServerState, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ServerState{Version: configVersion}, nil
	}

	var st ServerState
	if _, err := toml.DecodeFile(path, &st); err != nil {
		os.Remove(path)
		return ServerState{Version: configVersion}, nil
	}

	if versionBelowFloor(st.Version) {
		return ServerState{Version: configVersion}, nil
	}
	return st, nil
}

// SaveServerState writes st to path atomically, stamping the current
// version. Per spec.md §5's ordering guarantee, the caller must only
// call this after the worker scheduler has stopped, so
// WeatherServerPid reflects an orderly exit.
func SaveServerState(path string, st ServerState) error {
	st.Version = configVersion
	return atomicWriteTOML(path, st)
}

func versionBelowFloor(v string) bool {
	if v == "" {
		return true
	}
	return v < minSupportedVersion
}

func atomicWriteTOML(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	cleanup := true
	defer func() {
		f.Close()
		if cleanup {
			os.Remove(tmp)
		}
	}()

	if err := toml.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("config: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename: %w", err)
	}
	cleanup = false
	return nil
}

// LoadGfsLevels loads the human-editable GFS variable-selection JSON at
// path, creating it with defaults on first run. On a JSON parse error it
// returns the defaults with a nil error, so the caller is not told that
// the file was ignored and no warning is logged; only a read or write
// failure comes back as an error (alongside the defaults).
func LoadGfsLevels(path string) (gribidx.VariableList, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		defaults := gfs.DefaultVariableList()
		if writeErr := writeGfsLevels(path, defaults); writeErr != nil {
			return defaults, writeErr
		}
		return defaults, nil
	}
	if err != nil {
		return gfs.DefaultVariableList(), err
	}

	var vl gribidx.VariableList
	if jsonErr := json.Unmarshal(data, &vl); jsonErr != nil {
		return gfs.DefaultVariableList(), nil
	}
	return vl, nil
}

func writeGfsLevels(path string, vl gribidx.VariableList) error {
	data, err := json.MarshalIndent(vl, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal gfs levels: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write gfs levels: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename gfs levels: %w", err)
	}
	return nil
}
