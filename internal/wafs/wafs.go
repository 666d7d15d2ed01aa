// Package wafs implements the WAFS turbulence grib source (spec component
// C6): URL/filename naming and point extraction of CAT/CTP turbulence
// values via `wgrib2 -s -lon`.
package wafs

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flightwx/noaawxd/internal/gribsource"
	"github.com/flightwx/noaawxd/internal/units"
)

// BuildURL names the remote file and local cache filename for a cycle,
// per spec.md §6.
func BuildURL(cycle gribsource.Cycle) (url, filename string) {
	datecycle := cycle.DateCycle()[:8]
	hh := fmt.Sprintf("%02d", cycle.Hour)
	ff := fmt.Sprintf("%02d", cycle.Forecast)
	filename = fmt.Sprintf("gfs.t%sz.wafs_0p25_unblended.f%s.grib2", hh, ff)
	url = fmt.Sprintf("https://www.ftp.ncep.noaa.gov/data/nccf/com/gfs/prod/gfs.%s/%s/atmos/%s", datecycle, hh, filename)
	return url, filename
}

// Spec builds the gribsource.CycleSpec matching WAFS's publish schedule:
// 6-hourly cycles, ~5h publish delay, explicit forecast step set.
func Spec() gribsource.CycleSpec {
	return gribsource.CycleSpec{
		CycleHours:    []int{0, 6, 12, 18},
		PublishDelay:  5 * time.Hour,
		ForecastSteps: []int{6, 9, 12, 15, 18, 21, 24},
	}
}

// Layer is one altitude's merged turbulence intensity.
type Layer struct {
	AltM  float64
	Value float64
}

// Parse invokes `wgrib2 -s -lon <lon> <lat> <path>` and returns the
// merged CAT/CTP turbulence layers, ascending by altitude, per spec.md
// §4.6.
func Parse(wgrib2Path, path string, lat, lon float64) ([]Layer, error) {
	cmd := exec.Command(wgrib2Path, "-s", "-lon", strconv.FormatFloat(lon, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64), path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("wafs: wgrib2: %w", err)
	}
	return parseOutput(out)
}

func parseOutput(out []byte) ([]Layer, error) {
	merged := map[float64]float64{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 8 {
			continue
		}
		variable := fields[3]
		if variable != "CAT" && variable != "CTP" {
			continue
		}
		levelField := fields[4]
		maxave := fields[6]
		if maxave != "spatial max" {
			continue
		}

		tokens := strings.Fields(levelField)
		if len(tokens) < 2 || tokens[1] != "mb" {
			continue
		}

		value, ok := extractValue(fields[7])
		if !ok {
			continue
		}
		if value < 0 {
			value = 0
		}
		if variable == "CTP" {
			value *= 100
		}

		mb, err := strconv.ParseFloat(tokens[0], 64)
		if err != nil {
			continue
		}
		altM, err := units.Mb2Alt(mb)
		if err != nil {
			continue
		}

		if existing, ok := merged[altM]; !ok || value > existing {
			merged[altM] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wafs: reading wgrib2 output: %w", err)
	}

	layers := make([]Layer, 0, len(merged))
	for alt, v := range merged {
		layers = append(layers, Layer{AltM: alt, Value: v / 6})
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i].AltM < layers[j].AltM })

	return layers, nil
}

func extractValue(field string) (float64, bool) {
	parts := strings.Split(field, ",")
	if len(parts) < 3 {
		return 0, false
	}
	eq := strings.Index(parts[2], "=")
	if eq < 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(parts[2][eq+1:], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
