package metar

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Station is one parsed line of the fixed-column NOAA station list.
type Station struct {
	ICAO       string
	Lat        float64
	Lon        float64
	ElevationM int
}

// ParseStations reads the fixed-column station list (spec.md §4.7):
// columns 20–24 ICAO, 39–44 lat degrees/minutes, 44 N/S, 47–53 lon
// degrees/minutes, 53 E/W, 55–59 elevation. Lines with a space at column
// 20 or '9' at column 51 are sentinels and skipped.
func ParseStations(r io.Reader) ([]Station, error) {
	var stations []Station
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) <= 80 {
			continue
		}
		if line[0] == '!' {
			continue
		}
		if line[20] == ' ' || line[51] == '9' {
			continue
		}

		icao := strings.Trim(strings.TrimSpace(line[20:24]), `"`)
		if icao == "" {
			continue
		}

		latDeg, err1 := strconv.ParseFloat(strings.TrimSpace(line[39:41]), 64)
		latMin, err2 := strconv.ParseFloat(strings.TrimSpace(line[42:44]), 64)
		lonDeg, err3 := strconv.ParseFloat(strings.TrimSpace(line[47:50]), 64)
		lonMin, err4 := strconv.ParseFloat(strings.TrimSpace(line[51:53]), 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		lat := latDeg + round4(latMin/60)
		if line[44] == 'S' {
			lat = -lat
		}
		lon := lonDeg + round4(lonMin/60)
		if line[53] == 'W' {
			lon = -lon
		}

		elevation, err := strconv.Atoi(strings.TrimSpace(line[55:59]))
		if err != nil {
			continue
		}

		stations = append(stations, Station{ICAO: icao, Lat: lat, Lon: lon, ElevationM: elevation})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stations, nil
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
