// Package units is the pure numerics library shared by every weather
// source: pressure/altitude conversion, wind vector/polar conversion,
// heading arithmetic, interpolation, and dewpoint/visibility formulas.
// Every function here is deterministic and allocation-free; none of them
// touch the network, the filesystem, or a clock.
package units

import (
	"errors"
	"math"
	"time"

	"github.com/flightwx/noaawxd/internal/physics"
)

// ErrInvalidArgument is returned when an altitude or pressure argument is
// negative or non-finite.
var ErrInvalidArgument = errors.New("units: invalid argument")

// Mb2Alt converts a pressure in millibars to an altitude in meters using
// the ICAO standard-atmosphere inverse.
func Mb2Alt(mb float64) (float64, error) {
	if !finitePositive(mb) {
		return 0, ErrInvalidArgument
	}
	return (1 - math.Pow(mb/1013.25, 0.190284)) * 44307, nil
}

// C2P converts wind U/V components (east, north) into the heading the
// wind comes from (degrees) and its magnitude.
func C2P(u, v float64) (headingFromDeg, magnitude float64) {
	magnitude = math.Hypot(u, v)
	a := degrees(math.Atan2(u, v))
	if a < 0 {
		a += 360
	}
	if a <= 180 {
		a += 180
	} else {
		a -= 180
	}
	return a, magnitude
}

// Oat2MslTemp converts an outside-air-temperature delta at altitude into a
// mean-sea-level temperature delta. Per the final revision of the source
// this carries (see DESIGN.md's Open Question decisions): the result is a
// temperature difference to be added to a Kelvin temperature, not an
// absolute Celsius value — callers must not subtract 273.15 again.
func Oat2MslTemp(oatC, altM float64) float64 {
	if altM > 11000 {
		return oatC + 71.5
	}
	return oatC + 0.0065*altM
}

// Interpolate linearly interpolates v1/v2 over the altitude range
// [alt1, alt2] at alt. Returns v2 when alt2 == alt1.
func Interpolate(v1, v2, alt1, alt2, alt float64) float64 {
	if alt2-alt1 == 0 {
		return v2
	}
	return v1 + (alt-alt1)*(v2-v1)/(alt2-alt1)
}

// CosineInterpolate is a smoothed variant of Interpolate using a cosine
// ease between the two endpoints.
func CosineInterpolate(v1, v2, alt1, alt2, alt float64) float64 {
	if alt2-alt1 == 0 {
		return v2
	}
	mu := (alt - alt1) / (alt2 - alt1)
	mu2 := (1 - math.Cos(mu*math.Pi)) / 2
	return v1*(1-mu2) + v2*mu2
}

// ExpoCosineInterpolate is CosineInterpolate with the eased weight raised
// to the power expo; for expo > 1 this keeps the result nearer v1 for
// longer before it moves toward v2.
func ExpoCosineInterpolate(v1, v2, alt1, alt2, alt float64, expo float64) float64 {
	if alt2-alt1 == 0 {
		return v2
	}
	mu := (alt - alt1) / (alt2 - alt1)
	mu2 := (1 - math.Cos(mu*math.Pi)) / 2
	mu2 = math.Pow(mu2, expo)
	return v1*(1-mu2) + v2*mu2
}

// ShortHdg returns the signed shortest angular distance from a to b, in
// the range (-180, 180].
func ShortHdg(a, b float64) float64 {
	if a == 360 {
		a = 0
	}
	if b == 360 {
		b = 0
	}
	var cw, ccw float64
	if a > b {
		cw = 360 - a + b
		ccw = -(a - b)
	} else {
		cw = -(360 - b + a)
		ccw = b - a
	}
	if math.Abs(cw) < math.Abs(ccw) {
		return cw
	}
	if ccw == -180 {
		return 180
	}
	return ccw
}

// InterpolateHeading interpolates two headings by taking the shortest
// angular path between them and wrapping the result to [0, 360).
func InterpolateHeading(h1, h2, alt1, alt2, alt float64) float64 {
	diff := ShortHdg(h1, h2)
	return wrap360(h1 + Interpolate(0, diff, alt1, alt2, alt))
}

// CosineInterpolateHeading is the cosine-eased counterpart of
// InterpolateHeading.
func CosineInterpolateHeading(h1, h2, alt1, alt2, alt float64) float64 {
	diff := ShortHdg(h1, h2)
	return wrap360(h1 + CosineInterpolate(0, diff, alt1, alt2, alt))
}

func wrap360(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// Rh2Visibility estimates visibility in meters from relative humidity,
// per the Magnus-adjacent empirical model cited in spec.md §4.1.
func Rh2Visibility(rh float64) float64 {
	return 1000 * (-5.19e-10*math.Pow(rh, 5.44) + 40.10)
}

// Dewpoint2Rh computes relative humidity (%) from temperature and dewpoint
// (both Celsius) using the Magnus formula.
func Dewpoint2Rh(tempC, dewC float64) float64 {
	return 100 * (math.Exp((17.625*dewC)/(243.04+dewC)) / math.Exp((17.625*tempC)/(243.04+tempC)))
}

// Dewpoint computes the dewpoint (Celsius) from temperature (Celsius) and
// relative humidity (%) using the Magnus formula.
func Dewpoint(tempC, rh float64) float64 {
	lnRh := math.Log(rh / 100)
	return 243.04 * (lnRh + (17.625*tempC)/(243.04+tempC)) / (17.625 - lnRh - (17.625*tempC)/(243.04+tempC))
}

// Cc2Xp bins a GFS cloud-cover percentage into the five-step coverage
// class (0 clear .. 4 overcast) spec.md §4.1 defines.
func Cc2Xp(percent float64) int {
	switch {
	case percent < 1:
		return 0
	case percent < 30:
		return 1
	case percent < 55:
		return 2
	case percent < 90:
		return 3
	default:
		return 4
	}
}

// Pa2Inhg converts pressure in pascals to inches of mercury.
func Pa2Inhg(pa float64) float64 {
	return pa * 0.0002952998016471232
}

// GreatCircleMeters returns the great-circle distance in meters between
// two lat/lon points (decimal degrees) using the haversine formula.
func GreatCircleMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	p1 := radians(lat1)
	p2 := radians(lat2)
	dp := radians(lat2 - lat1)
	dl := radians(lon2 - lon1)

	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// MagneticVariationDeg returns the magnetic declination (+East, -West)
// at lat/lon/altitude (feet) on date, so a coordinate query's info block
// can carry it alongside the true wind heading without a second lookup.
func MagneticVariationDeg(lat, lon, altFt float64, date time.Time) float64 {
	return physics.CalculateMagneticVariation(lat, lon, altFt, date)
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
func radians(deg float64) float64 { return deg * math.Pi / 180 }
