package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadPluginConfigDefaultsWhenAbsent(t *testing.T) {
	cfg, err := LoadPluginConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadPluginConfig: %v", err)
	}
	want := DefaultPluginConfig()
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestSaveThenLoadPluginConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.toml")
	cfg := DefaultPluginConfig()
	cfg.MetarSource = MetarSourceVATSIM
	cfg.MetarDistanceLimitKm = 50
	cfg.IgnoreMetarStations = []string{"KXXX", "KYYY"}

	if err := SavePluginConfig(path, cfg); err != nil {
		t.Fatalf("SavePluginConfig: %v", err)
	}

	got, err := LoadPluginConfig(path)
	if err != nil {
		t.Fatalf("LoadPluginConfig: %v", err)
	}
	if got.MetarSource != MetarSourceVATSIM || got.MetarDistanceLimitKm != 50 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.IgnoreMetarStations) != 2 || got.IgnoreMetarStations[0] != "KXXX" {
		t.Fatalf("ignore stations mismatch: %+v", got.IgnoreMetarStations)
	}
}

func TestLoadPluginConfigCorruptFileIsDeleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadPluginConfig(path)
	if err != nil {
		t.Fatalf("LoadPluginConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultPluginConfig()) {
		t.Fatalf("expected defaults for corrupt file, got %+v", cfg)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected corrupt file to be deleted")
	}
}

func TestLoadPluginConfigBelowVersionFloorUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.toml")
	old := DefaultPluginConfig()
	old.Version = "1.0"
	old.MetarSource = MetarSourceIVAO
	if err := atomicWriteTOML(path, old); err != nil {
		t.Fatalf("atomicWriteTOML: %v", err)
	}

	cfg, err := LoadPluginConfig(path)
	if err != nil {
		t.Fatalf("LoadPluginConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultPluginConfig()) {
		t.Fatalf("expected defaults below version floor, got %+v", cfg)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected below-floor file to be left in place: %v", statErr)
	}
}

func TestServerStateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	st := ServerState{LastGrib: "gfs.t00z.grib2", LastWafsGrib: "wafs.t00z.grib2", MsUpdate: 12345, WeatherServerPid: 4242}

	if err := SaveServerState(path, st); err != nil {
		t.Fatalf("SaveServerState: %v", err)
	}
	got, err := LoadServerState(path)
	if err != nil {
		t.Fatalf("LoadServerState: %v", err)
	}
	if got.LastGrib != st.LastGrib || got.WeatherServerPid != st.WeatherServerPid {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadGfsLevelsCreatesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gfs_levels.json")
	vl, err := LoadGfsLevels(path)
	if err != nil {
		t.Fatalf("LoadGfsLevels: %v", err)
	}
	if len(vl) == 0 {
		t.Fatalf("expected non-empty default variable list")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected defaults to be written to disk: %v", statErr)
	}

	again, err := LoadGfsLevels(path)
	if err != nil {
		t.Fatalf("second LoadGfsLevels: %v", err)
	}
	if len(again) != len(vl) {
		t.Fatalf("second load mismatch: %+v vs %+v", again, vl)
	}
}

func TestLoadGfsLevelsFallsBackToDefaultsOnCorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gfs_levels.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	vl, err := LoadGfsLevels(path)
	if err != nil {
		t.Fatalf("LoadGfsLevels: %v", err)
	}
	if len(vl) == 0 {
		t.Fatalf("expected default variable list on corrupt JSON")
	}
}
