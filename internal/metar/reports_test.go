package metar

import (
	"strings"
	"testing"
	"time"
)

func TestParseReportsWithHeaderTimestamp(t *testing.T) {
	data := "2026/01/15 16:00\n" +
		"KJFK 151651Z 27010KT 10SM FEW250 24/08 A3012 RMK\n" +
		"EGLL 151650Z 23015KT 9999 BKN012 15/12 Q1013\n"

	lines, err := ParseReports(strings.NewReader(data), time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ParseReports: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].ICAO != "KJFK" || lines[0].Timestamp != 202601151600 {
		t.Fatalf("line0 = %+v, want icao KJFK timestamp 202601151600", lines[0])
	}
	if lines[1].ICAO != "EGLL" || lines[1].Timestamp != lines[0].Timestamp {
		t.Fatalf("line1 = %+v, want same header timestamp as line0", lines[1])
	}
}

func TestParseReportsDerivesTimestampWithoutHeader(t *testing.T) {
	data := "KJFK 151651Z 27010KT 9999 NCD 20/15 Q1013\n"
	now := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

	lines, err := ParseReports(strings.NewReader(data), now)
	if err != nil {
		t.Fatalf("ParseReports: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	if lines[0].Timestamp != 202601151651 {
		t.Fatalf("timestamp = %v, want 202601151651", lines[0].Timestamp)
	}
}

func TestParseReportsDerivesTimestampAcrossMonthBoundary(t *testing.T) {
	// now is 2026-02-01; a report dated the 31st (previous day/month) must
	// resolve to January, not February.
	data := "KJFK 312359Z 00000KT 9999 NCD 20/15 Q1013\n"
	now := time.Date(2026, 2, 1, 0, 30, 0, 0, time.UTC)

	lines, err := ParseReports(strings.NewReader(data), now)
	if err != nil {
		t.Fatalf("ParseReports: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	if lines[0].Timestamp != 202601312359 {
		t.Fatalf("timestamp = %v, want 202601312359 (previous day/month)", lines[0].Timestamp)
	}
}

func TestSanitizeStripsNonASCII(t *testing.T) {
	in := "KJFK 151651Z café RMK"
	out := sanitize(in)
	for i := 0; i < len(out); i++ {
		if out[i] > 0x7F {
			t.Fatalf("sanitize left a non-ASCII byte: %q", out)
		}
	}
}
