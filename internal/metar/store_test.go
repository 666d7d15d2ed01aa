package metar

import (
	"path/filepath"
	"testing"
)

func mustOpenStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "metar.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertStationThenByICAO(t *testing.T) {
	store := mustOpenStore(t)
	if err := store.UpsertStation("KJFK", 40.63, -73.78, 4); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	row, ok, err := store.ByICAO("KJFK")
	if err != nil || !ok {
		t.Fatalf("ByICAO: ok=%v err=%v", ok, err)
	}
	if row.Lat != 40.63 || row.ElevationM != 4 {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestUpsertStationPreservesExistingReport(t *testing.T) {
	store := mustOpenStore(t)
	if err := store.UpsertStation("KJFK", 40.63, -73.78, 4); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	if err := store.UpdateReportIfNewer("KJFK", 202601010000, "KJFK 010000Z 00000KT 10SM CLR 20/10 A3000"); err != nil {
		t.Fatalf("UpdateReportIfNewer: %v", err)
	}

	if err := store.UpsertStation("KJFK", 40.64, -73.79, 5); err != nil {
		t.Fatalf("second UpsertStation: %v", err)
	}

	row, ok, err := store.ByICAO("KJFK")
	if err != nil || !ok {
		t.Fatalf("ByICAO: ok=%v err=%v", ok, err)
	}
	if !row.Metar.Valid || row.Timestamp != 202601010000 {
		t.Fatalf("expected preserved report, got %+v", row)
	}
	if row.Lat != 40.64 || row.ElevationM != 5 {
		t.Fatalf("expected coordinates to update, got %+v", row)
	}
}

func TestUpdateReportIfNewerRejectsOlderTimestamp(t *testing.T) {
	store := mustOpenStore(t)
	store.UpsertStation("KJFK", 40.63, -73.78, 4)
	store.UpdateReportIfNewer("KJFK", 202601020000, "newer report")

	if err := store.UpdateReportIfNewer("KJFK", 202601010000, "older report"); err != nil {
		t.Fatalf("UpdateReportIfNewer: %v", err)
	}

	row, _, _ := store.ByICAO("KJFK")
	if row.Metar.String != "newer report" {
		t.Fatalf("expected newer report to survive, got %q", row.Metar.String)
	}
}

func TestResetReportsClearsMetarKeepsStations(t *testing.T) {
	store := mustOpenStore(t)
	store.UpsertStation("KJFK", 40.63, -73.78, 4)
	store.UpdateReportIfNewer("KJFK", 202601010000, "some report")

	if err := store.ResetReports(); err != nil {
		t.Fatalf("ResetReports: %v", err)
	}

	row, ok, err := store.ByICAO("KJFK")
	if err != nil || !ok {
		t.Fatalf("ByICAO after reset: ok=%v err=%v", ok, err)
	}
	if row.Metar.Valid || row.Timestamp != 0 {
		t.Fatalf("expected cleared report, got %+v", row)
	}
	if row.Lat != 40.63 {
		t.Fatalf("expected station row to survive reset, got %+v", row)
	}
}

func TestNearestWithReportExcludesIgnoredStations(t *testing.T) {
	store := mustOpenStore(t)
	store.UpsertStation("KJFK", 40.63, -73.78, 4)
	store.UpdateReportIfNewer("KJFK", 202601010000, "jfk report")
	store.UpsertStation("KLGA", 40.77, -73.87, 5)
	store.UpdateReportIfNewer("KLGA", 202601010000, "lga report")

	row, ok, err := store.NearestWithReport(40.70, -73.80, []string{"KLGA"})
	if err != nil || !ok {
		t.Fatalf("NearestWithReport: ok=%v err=%v", ok, err)
	}
	if row.ICAO != "KJFK" {
		t.Fatalf("expected KJFK (KLGA ignored), got %s", row.ICAO)
	}
}
