package metar

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteRwxDump regenerates METAR.rwx at path: one "ICAO <raw_metar>" line
// per airport currently carrying a report. Writes to a temp file and
// renames into place so a reader never observes a partial file, per
// spec.md §4.7.
func WriteRwxDump(store *Store, path string) error {
	rows, err := store.AllReporting()
	if err != nil {
		return fmt.Errorf("metar: rwx dump: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("metar: rwx dump: create temp: %w", err)
	}
	cleanup := true
	defer func() {
		f.Close()
		if cleanup {
			os.Remove(tmp)
		}
	}()

	for _, r := range rows {
		if !r.Metar.Valid {
			continue
		}
		if _, err := fmt.Fprintf(f, "%s %s\n", r.ICAO, r.Metar.String); err != nil {
			return fmt.Errorf("metar: rwx dump: write: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("metar: rwx dump: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("metar: rwx dump: rename: %w", err)
	}
	cleanup = false
	return nil
}

// DefaultRwxPath joins simSystemPath with the conventional "METAR.rwx"
// filename.
func DefaultRwxPath(simSystemPath string) string {
	return filepath.Join(simSystemPath, "METAR.rwx")
}
