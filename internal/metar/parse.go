package metar

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/flightwx/noaawxd/internal/units"
)

// CloudLayer is one parsed cloud group.
type CloudLayer struct {
	AltM     float64
	Coverage string // FEW, BKN, SCT, OVC, VV
	Type     string // optional convective type code (e.g. CB, TCU)
}

// Wind is the parsed wind group; Gust is stored as gust-minus-speed per
// spec.md §4.7, zero when no gust group matched.
type Wind struct {
	HeadingDeg float64
	SpeedKt    float64
	GustKt     float64
	Variable   bool
}

// Precipitation is one parsed precipitation group.
type Precipitation struct {
	Kind      string
	Intensity string // "-", "+", or ""
	Recent    bool
}

// RVR is one parsed runway visual range group.
type RVR struct {
	Runway     string
	HeadingDeg float64
	Modifier   string // "P", "M", or ""
	VisibilityM int
	Trend      string // "U", "D", "N", or ""
}

// Record is the fully parsed METAR observation (spec.md §4.7).
type Record struct {
	ICAO           string
	RawText        string
	ElevationM     int
	Wind           Wind
	VariableWindLo float64
	VariableWindHi float64
	HasVariableWind bool
	Clouds         []CloudLayer
	TempC          float64
	DewC           float64
	HasTemp        bool
	PressureInHg   float64
	VisibilityM    float64
	Precipitation  []Precipitation
	RVR            []RVR
}

var (
	reCloud    = regexp.MustCompile(`(FEW|BKN|SCT|OVC|VV)(\d+)([A-Z]{2,3})?`)
	reWind     = regexp.MustCompile(`(VRB|\d{3})(\d{2,3})(G\d{2,3})?(MPH|KMH|MPS|KT?)`)
	reVarWind  = regexp.MustCompile(`(\d{3})V(\d{3})`)
	reCAVOK    = regexp.MustCompile(`CAVOK`)
	reVisSMKM  = regexp.MustCompile(`(?:(\d+)\s)?(\d{1,2})(?:/(\d))?(SM|KM)`)
	reVis4     = regexp.MustCompile(`(?:^| )([PM]?)(\d{4})(?: |$)`)
	rePressure = regexp.MustCompile(`(QNH|SLP|Q|A)\s?(\d{3,4})`)
	reTempShort = regexp.MustCompile(`(M|-)?(\d{1,2})/(M|-)?(\d{1,2})`)
	reTempGroup = regexp.MustCompile(`T([01])(\d{3})([01])(\d{3})`)
	rePrecip   = regexp.MustCompile(`([-+])?(RE)?(DZ|SG|IC|PL|SH)?(DZ|RA|SN|TS)(NO|E)?`)
	reRVR      = regexp.MustCompile(`R(\d{2}[LCR]?)/([PM])?(\d{4})([UDN])?`)
)

// Parse parses a raw METAR report text into a Record. icao and
// elevationM come from the station's stored row, since the report
// itself may repeat the ICAO but never the elevation.
func Parse(icao, raw string, elevationM int) Record {
	rec := Record{
		ICAO:         icao,
		RawText:      raw,
		ElevationM:   elevationM,
		PressureInHg: units.Pa2Inhg(101325),
		VisibilityM:  9999,
	}

	body := bodyBeforeTempoAndRmk(raw)

	for _, m := range reCloud.FindAllStringSubmatch(body, -1) {
		altFeetHundreds, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		rec.Clouds = append(rec.Clouds, CloudLayer{
			AltM:     altFeetHundreds*30.48 + float64(elevationM),
			Coverage: m[1],
			Type:     m[3],
		})
	}

	if m := reWind.FindStringSubmatch(body); m != nil {
		w := Wind{}
		if m[1] == "VRB" {
			w.HeadingDeg = 0
			w.Variable = true
			rec.HasVariableWind = true
			rec.VariableWindLo = 0
			rec.VariableWindHi = 360
		} else {
			hdg, _ := strconv.ParseFloat(m[1], 64)
			w.HeadingDeg = hdg
		}
		speed, _ := strconv.ParseFloat(m[2], 64)
		w.SpeedKt = speed

		var gust float64
		if m[3] != "" {
			g, _ := strconv.ParseFloat(m[3][1:], 64)
			gust = g
		}

		unit := m[4]
		switch unit {
		case "MPS":
			w.SpeedKt = msToKt(speed)
			if gust > 0 {
				gust = msToKt(gust)
			}
		case "MPH":
			w.SpeedKt = speed * 0.868976
			if gust > 0 {
				gust *= 0.868976
			}
		case "KMH":
			w.SpeedKt = speed * 0.539957
			if gust > 0 {
				gust *= 0.539957
			}
		}
		if gust > 0 {
			w.GustKt = gust - w.SpeedKt
		}
		rec.Wind = w
	}

	if m := reVarWind.FindStringSubmatch(body); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		rec.VariableWindLo = lo
		rec.VariableWindHi = hi
		rec.HasVariableWind = true
	}

	rec.VisibilityM = parseVisibility(body)

	if m := rePressure.FindStringSubmatch(body); m != nil {
		if inHg, ok := parsePressure(m[1], m[2]); ok {
			rec.PressureInHg = inHg
		}
	}

	if m := reTempGroup.FindStringSubmatch(body); m != nil {
		temp, _ := strconv.ParseFloat(m[2], 64)
		dew, _ := strconv.ParseFloat(m[4], 64)
		temp /= 10
		dew /= 10
		if m[1] == "1" {
			temp = -temp
		}
		if m[3] == "1" {
			dew = -dew
		}
		rec.TempC, rec.DewC = temp, dew
		rec.HasTemp = true
	} else if m := reTempShort.FindStringSubmatch(body); m != nil {
		temp, err1 := strconv.ParseFloat(m[2], 64)
		dew, err2 := strconv.ParseFloat(m[4], 64)
		if err1 == nil && err2 == nil {
			if m[1] != "" {
				temp = -temp
			}
			if m[3] != "" {
				dew = -dew
			}
			rec.TempC, rec.DewC = temp, dew
			rec.HasTemp = true
		}
	}

	for _, m := range rePrecip.FindAllStringSubmatch(body, -1) {
		intensity, recentPrefix, descriptor, kind, suffix := m[1], m[2], m[3], m[4], m[5]
		if kind == "" {
			continue
		}
		if suffix == "NO" {
			continue
		}
		p := Precipitation{Kind: kind, Intensity: intensity}
		if recentPrefix == "RE" || suffix == "E" {
			p.Recent = true
		}
		if descriptor == "SH" {
			p.Kind = "SH"
		}
		rec.Precipitation = append(rec.Precipitation, p)
	}

	for _, m := range reRVR.FindAllStringSubmatch(body, -1) {
		vis, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		runwayNum := m[1]
		numericPart := strings.TrimRight(runwayNum, "LCR")
		runway, _ := strconv.ParseFloat(numericPart, 64)
		rec.RVR = append(rec.RVR, RVR{
			Runway:      runwayNum,
			HeadingDeg:  runway * 10,
			Modifier:    m[2],
			VisibilityM: vis,
			Trend:       m[4],
		})
	}

	if rec.VisibilityM >= 9999 && rec.HasTemp {
		rh := units.Dewpoint2Rh(rec.TempC, rec.DewC)
		extended := units.Rh2Visibility(rh)
		if extended > 9999 {
			rec.VisibilityM = extended
		} else {
			rec.VisibilityM = 9999
		}
	}

	return rec
}

func msToKt(ms float64) float64 { return ms * 1.94384 }

func bodyBeforeTempoAndRmk(raw string) string {
	s := raw
	if i := strings.Index(s, "TEMPO"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "RMK"); i >= 0 {
		s = s[:i]
	}
	return s
}

func parseVisibility(body string) float64 {
	if reCAVOK.MatchString(body) {
		return 9999
	}
	if m := reVisSMKM.FindStringSubmatch(body); m != nil {
		whole, num, den, unit := m[1], m[2], m[3], m[4]
		n, _ := strconv.ParseFloat(num, 64)
		if den != "" {
			d, _ := strconv.ParseFloat(den, 64)
			if d != 0 {
				n /= d
			}
		}
		if whole != "" {
			w, _ := strconv.ParseFloat(whole, 64)
			n += w
		}
		switch unit {
		case "SM":
			return n * 1609.34
		case "KM":
			return n * 1000
		}
	}
	if m := reVis4.FindStringSubmatch(body); m != nil {
		prefix, digits := m[1], m[2]
		v, err := strconv.ParseFloat(digits, 64)
		if err == nil {
			if prefix == "P" && v >= 8000 {
				return 9999
			}
			return v
		}
	}
	return 9999
}

// parsePressure converts a pressure group's unit+value to inches of
// mercury per spec.md §4.7, accepting only plausible values (25 < inHg <
// 35).
func parsePressure(unit, value string) (float64, bool) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}

	var inHg float64
	switch unit {
	case "A":
		inHg = v / 100
	case "SLP":
		base := 1000.0
		if v > 500 {
			base = 900
		}
		mb := v/10 + base
		inHg = units.Pa2Inhg(mb * 100)
	default: // "Q", "QNH"
		inHg = units.Pa2Inhg(v * 100)
	}

	if inHg <= 25 || inHg >= 35 {
		return 0, false
	}
	return inHg, true
}
