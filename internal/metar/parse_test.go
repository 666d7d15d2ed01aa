package metar

import (
	"math"
	"testing"

	"github.com/flightwx/noaawxd/internal/units"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestParsePressureUnitA(t *testing.T) {
	rec := Parse("KJFK", "KJFK 121651Z 27010KT 10SM FEW250 24/08 A3012 RMK", 0)

	if !almostEqual(rec.PressureInHg, 30.12, 1e-9) {
		t.Fatalf("pressure = %v, want 30.12", rec.PressureInHg)
	}
	if rec.Wind.HeadingDeg != 270 || rec.Wind.SpeedKt != 10 || rec.Wind.GustKt != 0 {
		t.Fatalf("wind = %+v, want (270,10,0)", rec.Wind)
	}
	if len(rec.Clouds) != 1 || !almostEqual(rec.Clouds[0].AltM, 7620, 1e-6) {
		t.Fatalf("clouds = %+v, want one layer at 7620m", rec.Clouds)
	}

	rawVisibility := 10 * 1609.34
	rh := units.Dewpoint2Rh(24, 8)
	wantVis := math.Max(9999, units.Rh2Visibility(rh))
	_ = rawVisibility
	if !almostEqual(rec.VisibilityM, wantVis, 1e-6) {
		t.Fatalf("visibility = %v, want %v", rec.VisibilityM, wantVis)
	}
}

func TestParsePressureUnitQ(t *testing.T) {
	rec := Parse("EGLL", "EGLL 121650Z 23015KT 9999 BKN012 15/12 Q1013", 0)

	if !almostEqual(rec.PressureInHg, 29.914, 1e-3) {
		t.Fatalf("pressure = %v, want ~29.914", rec.PressureInHg)
	}
	if len(rec.Clouds) != 1 || rec.Clouds[0].Coverage != "BKN" || !almostEqual(rec.Clouds[0].AltM, 365.76, 1e-6) {
		t.Fatalf("clouds = %+v, want one BKN layer at 365.76m", rec.Clouds)
	}

	rh := units.Dewpoint2Rh(15, 12)
	wantVis := math.Max(9999, units.Rh2Visibility(rh))
	if !almostEqual(rec.VisibilityM, wantVis, 1e-6) {
		t.Fatalf("visibility = %v, want %v", rec.VisibilityM, wantVis)
	}
}

func TestParseShortTemperatureWithMPrefix(t *testing.T) {
	rec := Parse("LFPG", "LFPG 121600Z 00000KT 9999 M03/M07 Q1020", 0)
	if !rec.HasTemp || rec.TempC != -3 || rec.DewC != -7 {
		t.Fatalf("temp = (%v,%v), want (-3,-7)", rec.TempC, rec.DewC)
	}
}

func TestParseTGroupOverridesShortForm(t *testing.T) {
	rec := Parse("LFPG", "LFPG 121600Z 00000KT 9999 M03/M07 Q1020 T10031007", 0)
	if !rec.HasTemp || !almostEqual(rec.TempC, -0.3, 1e-9) || !almostEqual(rec.DewC, -0.7, 1e-9) {
		t.Fatalf("temp = (%v,%v), want (-0.3,-0.7)", rec.TempC, rec.DewC)
	}
}

func TestParseVariableWindAndVRB(t *testing.T) {
	rec := Parse("KXYZ", "KXYZ 121600Z VRB03KT 050V110 9999 NCD 20/15 Q1013", 0)
	if rec.Wind.HeadingDeg != 0 || rec.Wind.SpeedKt != 3 || rec.Wind.GustKt != 0 {
		t.Fatalf("wind = %+v, want (0,3,0)", rec.Wind)
	}
	if !rec.HasVariableWind || rec.VariableWindLo != 50 || rec.VariableWindHi != 110 {
		t.Fatalf("variable wind = (%v,%v), want (50,110)", rec.VariableWindLo, rec.VariableWindHi)
	}
}

func TestParseGustStoredAsDelta(t *testing.T) {
	rec := Parse("KXYZ", "KXYZ 121600Z 27020G35KT 9999 NCD 20/15 Q1013", 0)
	if rec.Wind.SpeedKt != 20 {
		t.Fatalf("speed = %v, want 20", rec.Wind.SpeedKt)
	}
	if rec.Wind.GustKt != 15 {
		t.Fatalf("gust = %v, want 15 (35-20)", rec.Wind.GustKt)
	}
}

func TestParseCAVOK(t *testing.T) {
	rec := Parse("EHAM", "EHAM 121600Z 27010KT CAVOK 20/10 Q1013", 0)
	if rec.VisibilityM < 9999 {
		t.Fatalf("CAVOK visibility = %v, want >= 9999", rec.VisibilityM)
	}
}

func TestParsePressureRejectsImplausibleValue(t *testing.T) {
	// A value that converts outside (25,35) inHg must be rejected, leaving
	// the default standard-atmosphere pressure in place.
	rec := Parse("KXYZ", "KXYZ 121600Z 00000KT 9999 NCD 20/15 Q0500", 0)
	want := units.Pa2Inhg(1013.25 * 100)
	if !almostEqual(rec.PressureInHg, want, 1e-9) {
		t.Fatalf("pressure = %v, want default %v after implausible Q rejected", rec.PressureInHg, want)
	}
}
