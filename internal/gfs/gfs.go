// Package gfs implements the GFS grib source (spec component C5): the
// default variable selection, the NOMADS URL format, and point extraction
// via an external `wgrib2 -s -lon` invocation.
package gfs

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flightwx/noaawxd/internal/gribidx"
	"github.com/flightwx/noaawxd/internal/gribsource"
	"github.com/flightwx/noaawxd/internal/units"
)

// windLevels are the pressure levels (millibars) GFS carries wind/temp
// for, per spec.md §4.5.
var windLevels = []string{"850 mb", "700 mb", "600 mb", "500 mb", "400 mb", "300 mb", "200 mb", "150 mb"}

// cloudBands are the nine named cloud-band level strings wgrib2 emits for
// high/low/middle cloud bottom/layer/top.
var cloudBands = []string{
	"high cloud bottom level", "high cloud layer", "high cloud top level",
	"low cloud bottom level", "low cloud layer", "low cloud top level",
	"middle cloud bottom level", "middle cloud layer", "middle cloud top level",
}

// DefaultVariableList is the grib index selection spec.md §4.5 defines:
// {TMP,UGRD,VGRD}×mb levels, {PRES,TCDC}×cloud bands, PRMSL×mean sea level.
func DefaultVariableList() gribidx.VariableList {
	return gribidx.VariableList{
		{Levels: windLevels, Vars: []string{"TMP", "UGRD", "VGRD"}},
		{Levels: cloudBands, Vars: []string{"PRES", "TCDC"}},
		{Levels: []string{"mean sea level"}, Vars: []string{"PRMSL"}},
	}
}

// BuildURL names the NOMADS file and local cache filename for a cycle, per
// spec.md §6.
func BuildURL(cycle gribsource.Cycle) (url, filename string) {
	datecycle := fmt.Sprintf("%04d%02d%02d", cycle.Date.Year(), cycle.Date.Month(), cycle.Date.Day())
	hh := fmt.Sprintf("%02d", cycle.Hour)
	ff := fmt.Sprintf("%02d", cycle.Forecast)
	filename = fmt.Sprintf("gfs.t%sz.pgrb2full.0p50.f0%s", hh, ff)
	url = fmt.Sprintf("https://nomads.ncep.noaa.gov/pub/data/nccf/com/gfs/prod/gfs.%s/%s/%s", datecycle, hh, filename)
	return url, filename
}

// Spec builds the gribsource.CycleSpec matching GFS's publish schedule:
// cycles every 6 hours, 4h25m publish delay, forecast hop quantized to a
// multiple of 3.
func Spec() gribsource.CycleSpec {
	return gribsource.CycleSpec{
		CycleHours:      []int{0, 6, 12, 18},
		PublishDelay:    4*time.Hour + 25*time.Minute,
		ForecastQuantum: 3,
	}
}

// WindLayer is one pressure level's wind/temperature/dewpoint data.
type WindLayer struct {
	AltM      float64
	HeadingDeg float64
	SpeedKt   float64
	HasTemp   bool
	TempK     float64
	HasDew    bool
	DewC      float64
}

// CloudLayer is one named cloud band's base/top altitude and coverage.
type CloudLayer struct {
	BaseM    float64
	TopM     float64
	CoverPct float64
}

// Result is the full point extraction: wind layers ascending by altitude,
// cloud layers ascending by base altitude, and the mean sea level pressure.
type Result struct {
	Winds    []WindLayer
	Clouds   []CloudLayer
	PressureInHg float64
	HasPressure  bool
}

type rawLevel struct {
	ugrd, vgrd   float64
	hasUgrd, hasVgrd bool
	temp         float64
	hasTemp      bool
	rh           float64
	hasRh        bool
}

type rawCloud struct {
	bottom, top, tcdc float64
	hasBottom, hasTop, hasTcdc bool
}

// Parse invokes `wgrib2 -s -lon <lon> <lat> <path>` and assembles the
// point extraction per spec.md §4.5.
func Parse(wgrib2Path, path string, lat, lon float64) (Result, error) {
	cmd := exec.Command(wgrib2Path, "-s", "-lon", strconv.FormatFloat(lon, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64), path)
	out, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("gfs: wgrib2: %w", err)
	}
	return parseOutput(out)
}

func parseOutput(out []byte) (Result, error) {
	winds := map[string]*rawLevel{}
	clouds := map[string]*rawCloud{}
	var pressure float64
	var hasPressure bool

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
		levelField := fields[4]
		valueField := fields[7]

		value, ok := extractValue(valueField)
		if !ok {
			continue
		}

		tokens := strings.Fields(levelField)
		if len(tokens) < 2 {
			continue
		}

		switch {
		case tokens[1] == "cloud":
			band := tokens[0]
			c := clouds[band]
			if c == nil {
				c = &rawCloud{}
				clouds[band] = c
			}
			if len(tokens) > 3 && variable == "PRES" {
				switch tokens[2] {
				case "bottom":
					c.bottom, c.hasBottom = value, true
				case "top":
					c.top, c.hasTop = value, true
				}
			} else if variable == "TCDC" {
				c.tcdc, c.hasTcdc = value, true
			}
		case tokens[1] == "mb":
			lvl := tokens[0]
			w := winds[lvl]
			if w == nil {
				w = &rawLevel{}
				winds[lvl] = w
			}
			switch variable {
			case "UGRD":
				w.ugrd, w.hasUgrd = value, true
			case "VGRD":
				w.vgrd, w.hasVgrd = value, true
			case "TMP":
				w.temp, w.hasTemp = value, true
			case "RH":
				w.rh, w.hasRh = value, true
			}
		case tokens[0] == "mean":
			if variable == "PRMSL" {
				pressure, hasPressure = units.Pa2Inhg(value), true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("gfs: reading wgrib2 output: %w", err)
	}

	var result Result
	result.PressureInHg = pressure
	result.HasPressure = hasPressure

	for lvl, w := range winds {
		if !w.hasUgrd || !w.hasVgrd {
			continue
		}
		mb, err := strconv.ParseFloat(lvl, 64)
		if err != nil {
			continue
		}
		altM, err := units.Mb2Alt(mb)
		if err != nil {
			continue
		}
		hdg, speedMs := units.C2P(w.ugrd, w.vgrd)
		layer := WindLayer{
			AltM:       altM,
			HeadingDeg: hdg,
			SpeedKt:    speedMs * 1.94384,
		}
		if w.hasTemp {
			layer.HasTemp = true
			layer.TempK = w.temp
			if w.hasRh {
				tempC := w.temp - 273.15
				layer.HasDew = true
				layer.DewC = units.Dewpoint(tempC, w.rh)
			}
		}
		result.Winds = append(result.Winds, layer)
	}

	for _, c := range clouds {
		if !c.hasBottom || !c.hasTop || !c.hasTcdc {
			continue
		}
		baseAlt, err1 := units.Mb2Alt(c.bottom * 0.01)
		topAlt, err2 := units.Mb2Alt(c.top * 0.01)
		if err1 != nil || err2 != nil {
			continue
		}
		result.Clouds = append(result.Clouds, CloudLayer{
			BaseM:    baseAlt,
			TopM:     topAlt,
			CoverPct: c.tcdc,
		})
	}

	sort.Slice(result.Winds, func(i, j int) bool { return result.Winds[i].AltM < result.Winds[j].AltM })
	sort.Slice(result.Clouds, func(i, j int) bool { return result.Clouds[i].BaseM < result.Clouds[j].BaseM })

	return result, nil
}

// extractValue pulls the scalar out of wgrib2's trailing value_csv field,
// e.g. "lon=10,lat=20,value=281.3" → 281.3: the text after "=" in the
// third comma-separated field.
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
