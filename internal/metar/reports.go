package metar

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ReportLine is one parsed ICAO/metar/timestamp triple from a report
// file, ready for a monotone store update.
type ReportLine struct {
	ICAO      string
	Timestamp int64
	Metar     string
}

// ParseReports reads a line-oriented METAR report file (spec.md §4.7): a
// timestamp header line ("YYYY/MM/DD HH:MM") precedes a run of ICAO
// lines. An ICAO line has an alphabetic first character and 'Z' at
// column 11 (the Zulu marker after the DDHHMM group). now is used to
// disambiguate the report file's own DDHHMM group against month/year
// boundaries when no header line with a full date precedes it.
func ParseReports(r io.Reader, now time.Time) ([]ReportLine, error) {
	var out []ReportLine
	var timestamp int64

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if isAlpha(line[0]) {
			icao, mtime, metarText, ok := parseICAOLine(line)
			if !ok {
				continue
			}
			ts := timestamp
			if ts == 0 {
				ts = deriveTimestamp(mtime, now)
			}
			out = append(out, ReportLine{ICAO: icao, Timestamp: ts, Metar: metarText})
			continue
		}

		if ts, ok := parseHeaderTimestamp(line); ok {
			timestamp = ts
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// parseICAOLine extracts the ICAO, the 6-digit DDHHMM group, and a
// sanitized METAR text from an observation line. An ICAO line carries
// 'Z' at column 11 (0-indexed) after the DDHHMM group.
func parseICAOLine(line string) (icao string, ddhhmm string, metarText string, ok bool) {
	if len(line) < 12 || line[11] != 'Z' {
		return "", "", "", false
	}
	icao = strings.TrimSpace(line[0:4])
	ddhhmm = line[5:11]
	if _, err := strconv.Atoi(ddhhmm); err != nil {
		return "", "", "", false
	}
	metarText = sanitize(line)
	return icao, ddhhmm, metarText, true
}

// sanitize strips non-ASCII bytes, matching the original's
// re.sub(r'[^\x00-\x7F]+',' ', ...).
func sanitize(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	lastWasReplaced := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c <= 0x7F {
			b.WriteByte(c)
			lastWasReplaced = false
		} else if !lastWasReplaced {
			b.WriteByte(' ')
			lastWasReplaced = true
		}
	}
	return strings.TrimRight(b.String(), "\r\n")
}

// parseHeaderTimestamp parses a cycle-file header line of the form
// "YYYY/MM/DD HH:MM" into a YYYYMMDDHHMM integer.
func parseHeaderTimestamp(line string) (int64, bool) {
	if len(line) < 16 {
		return 0, false
	}
	compact := line[0:4] + line[5:7] + line[8:10] + line[11:13] + line[14:16]
	ts, err := strconv.ParseInt(compact, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// deriveTimestamp builds a full YYYYMMDDHHMM from a bare DDHHMM group per
// spec.md §4.7: prepend the current year-month if DD matches today's day,
// else the previous day's year-month (handles month/year rollover at the
// report file's boundary).
func deriveTimestamp(ddhhmm string, now time.Time) int64 {
	day, _ := strconv.Atoi(ddhhmm[0:2])
	rest := ddhhmm[2:6]

	var base time.Time
	if day == now.UTC().Day() {
		base = now.UTC()
	} else {
		base = now.UTC().AddDate(0, 0, -1)
	}

	compact := fmt.Sprintf("%04d%02d%02d%s", base.Year(), base.Month(), day, rest)
	ts, err := strconv.ParseInt(compact, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
