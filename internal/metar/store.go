// Package metar implements the METAR ingestion pipeline (spec component
// C7): the spatial airport database, station/report refresh, the METAR
// text regex grammar, nearest-station lookup, and the METAR.rwx dump.
package metar

import (
	"database/sql"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/flightwx/noaawxd/pkg/logger"
)

func cosSquaredLat(lat float64) float64 {
	c := math.Cos(lat * math.Pi / 180)
	return c * c
}

// AirportRow mirrors the `airports` table row (spec.md §3): timestamp is
// a decimal YYYYMMDDHHMM, 0 meaning no report yet.
type AirportRow struct {
	ICAO       string
	Lat        float64
	Lon        float64
	ElevationM int
	Timestamp  int64
	Metar      sql.NullString
}

// Store wraps the airports SQLite database. A *Store is safe for
// concurrent use: cmd/weatherd opens one and shares it between the worker
// refresh loop and the UDP query dispatcher, so the two do not hold
// separate connections; the single pooled connection serializes their
// access.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens (creating if absent) the airports database at path. log may
// be nil.
func Open(path string, log *logger.Logger) (*Store, error) {
	var storeLogger *logger.Logger
	if log != nil {
		storeLogger = log.Named("metar-store")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metar: open database: %w", err)
	}

	// SQLite only supports one writer at a time; the worker and the UDP
	// dispatcher share this *Store, so serialize access per-process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("metar: %s: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: storeLogger}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS airports (
			icao        TEXT PRIMARY KEY,
			lat         REAL,
			lon         REAL,
			elevation_m INTEGER,
			timestamp   INTEGER NOT NULL DEFAULT 0,
			metar       TEXT
		)`)
	if err != nil {
		return fmt.Errorf("metar: create table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_airports_timestamp ON airports(timestamp)`)
	if err != nil {
		return fmt.Errorf("metar: create index: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertStation inserts a station row if absent, or updates its
// coordinates/elevation while preserving any existing timestamp/metar
// report — spec.md §4.7's "Upsert keeping existing timestamp and metar".
func (s *Store) UpsertStation(icao string, lat, lon float64, elevationM int) error {
	_, err := s.db.Exec(`
		INSERT INTO airports (icao, lat, lon, elevation_m, timestamp, metar)
		VALUES (?, ?, ?, ?, 0, NULL)
		ON CONFLICT(icao) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			elevation_m = excluded.elevation_m`,
		icao, lat, lon, elevationM)
	if err != nil {
		return fmt.Errorf("metar: upsert station %s: %w", icao, err)
	}
	return nil
}

// ResetReports clears every stored METAR report and its timestamp,
// keeping the airport/station rows intact, per spec.md §4.9's
// `!resetMetar` verb ("clear all stored metars, force redownload").
func (s *Store) ResetReports() error {
	_, err := s.db.Exec(`UPDATE airports SET timestamp = 0, metar = NULL`)
	if err != nil {
		return fmt.Errorf("metar: reset reports: %w", err)
	}
	return nil
}

// UpdateReportIfNewer applies a monotone METAR update: the row is only
// touched when timestamp is strictly greater than what's stored, per
// spec.md §4.7/§8's monotonicity invariant.
func (s *Store) UpdateReportIfNewer(icao string, timestamp int64, metarText string) error {
	_, err := s.db.Exec(`
		UPDATE airports SET timestamp = ?, metar = ?
		WHERE icao = ? AND timestamp < ?`,
		timestamp, metarText, icao, timestamp)
	if err != nil {
		return fmt.Errorf("metar: update report %s: %w", icao, err)
	}
	return nil
}

// UpdateReportsIfNewer batches UpdateReportIfNewer in one transaction,
// matching the original implementation's buffered-executemany pattern
// for large report downloads.
func (s *Store) UpdateReportsIfNewer(updates []ReportUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("metar: begin batch update: %w", err)
	}
	stmt, err := tx.Prepare(`UPDATE airports SET timestamp = ?, metar = ? WHERE icao = ? AND timestamp < ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("metar: prepare batch update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.Exec(u.Timestamp, u.Metar, u.ICAO, u.Timestamp); err != nil {
			tx.Rollback()
			return fmt.Errorf("metar: batch update %s: %w", u.ICAO, err)
		}
	}
	return tx.Commit()
}

// ReportUpdate is one pending monotone METAR update.
type ReportUpdate struct {
	ICAO      string
	Timestamp int64
	Metar     string
}

// NearestWithReport returns the closest airport (by the squared-distance
// with a cos²(lat) longitude fudge factor, per spec.md §4.7) that
// currently carries a non-null METAR, optionally excluding ICAOs in
// ignore.
func (s *Store) NearestWithReport(lat, lon float64, ignore []string) (AirportRow, bool, error) {
	query := `
		SELECT icao, lat, lon, elevation_m, timestamp, metar FROM airports
		WHERE metar IS NOT NULL`
	args := []any{}
	if len(ignore) > 0 {
		placeholders := ""
		for i, icao := range ignore {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, icao)
		}
		query += fmt.Sprintf(" AND icao NOT IN (%s)", placeholders)
	}

	fudge := cosSquaredLat(lat)
	query += `
		ORDER BY ((? - lat) * (? - lat) + (? - lon) * (? - lon) * ?)
		LIMIT 1`
	args = append(args, lat, lat, lon, lon, fudge)

	row := s.db.QueryRow(query, args...)
	var r AirportRow
	if err := row.Scan(&r.ICAO, &r.Lat, &r.Lon, &r.ElevationM, &r.Timestamp, &r.Metar); err != nil {
		if err == sql.ErrNoRows {
			return AirportRow{}, false, nil
		}
		return AirportRow{}, false, fmt.Errorf("metar: nearest station query: %w", err)
	}
	return r, true, nil
}

// ByICAO returns the row for icao, if present.
func (s *Store) ByICAO(icao string) (AirportRow, bool, error) {
	row := s.db.QueryRow(`SELECT icao, lat, lon, elevation_m, timestamp, metar FROM airports WHERE icao = ?`, icao)
	var r AirportRow
	if err := row.Scan(&r.ICAO, &r.Lat, &r.Lon, &r.ElevationM, &r.Timestamp, &r.Metar); err != nil {
		if err == sql.ErrNoRows {
			return AirportRow{}, false, nil
		}
		return AirportRow{}, false, fmt.Errorf("metar: lookup %s: %w", icao, err)
	}
	return r, true, nil
}

// AllReporting returns every airport row that currently carries a
// non-null METAR, for the METAR.rwx dump.
func (s *Store) AllReporting() ([]AirportRow, error) {
	rows, err := s.db.Query(`SELECT icao, lat, lon, elevation_m, timestamp, metar FROM airports WHERE metar IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("metar: list reporting airports: %w", err)
	}
	defer rows.Close()

	var out []AirportRow
	for rows.Next() {
		var r AirportRow
		if err := rows.Scan(&r.ICAO, &r.Lat, &r.Lon, &r.ElevationM, &r.Timestamp, &r.Metar); err != nil {
			return nil, fmt.Errorf("metar: scan reporting airport: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
