// Package gribidx parses the plain-text `.idx` sidecar that NOMADS
// publishes next to every grib2 file and turns a declared variable
// selection into the byte ranges a partial-range HTTP fetch should
// request.
package gribidx

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one line of a parsed `.idx` file: ordinal, byte offset, date
// spec, variable short name, level string, and forecast spec.
type Record struct {
	Ordinal      int
	Offset       int64
	DateSpec     string
	Var          string
	Level        string
	ForecastSpec string
}

// Group is one entry of a variable selection list: the cartesian product
// of Levels x Vars is what gets selected.
type Group struct {
	Levels []string
	Vars   []string
}

// VariableList is the full selection a source declares; a record is
// selected iff some group contains both its level and its var.
type VariableList []Group

// Matches reports whether (level, v) is selected by any group.
func (vl VariableList) Matches(level, v string) bool {
	for _, g := range vl {
		if !containsString(g.Vars, v) {
			continue
		}
		if containsString(g.Levels, level) {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// ErrBadIndex is returned when a `.idx` line does not have exactly seven
// colon-separated fields or a non-integer byte offset.
type ErrBadIndex struct {
	Line string
	Why  string
}

func (e *ErrBadIndex) Error() string {
	return fmt.Sprintf("gribidx: bad index line %q: %s", e.Line, e.Why)
}

// Parse parses the raw text of a `.idx` file into Records, in file order.
// Blank trailing lines are ignored; every non-blank line must split into
// exactly seven colon-separated fields.
func Parse(data []byte) ([]Record, error) {
	lines := strings.Split(string(data), "\n")
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			return nil, &ErrBadIndex{Line: line, Why: fmt.Sprintf("want 7 fields, got %d", len(fields))}
		}
		ordinal, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, &ErrBadIndex{Line: line, Why: "non-integer ordinal"}
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, &ErrBadIndex{Line: line, Why: "non-integer byte offset"}
		}
		records = append(records, Record{
			Ordinal:      ordinal,
			Offset:       offset,
			DateSpec:     fields[2],
			Var:          fields[3],
			Level:        fields[4],
			ForecastSpec: fields[5],
		})
	}
	return records, nil
}

// Chunk is one HTTP byte range to fetch. OpenEnded is true for the final
// selected chunk, which is requested as "bytes=Start-" rather than
// "bytes=Start-End".
type Chunk struct {
	Start     int64
	End       int64
	OpenEnded bool
}

// PlanChunks walks records in reverse so each selected chunk's end is the
// byte immediately before the next record's offset; the very last
// selected record (highest offset) gets an open-ended chunk. Records are
// assumed to already be in ascending-offset (file) order; the result is
// returned back in ascending order. Adjacent chunks are never coalesced.
func PlanChunks(records []Record, vl VariableList) []Chunk {
	chunks := make([]Chunk, 0)
	var nextOffset int64
	haveOpenEnded := false

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if vl.Matches(r.Level, r.Var) {
			chunk := Chunk{Start: r.Offset}
			if !haveOpenEnded {
				chunk.OpenEnded = true
				haveOpenEnded = true
			} else {
				chunk.End = nextOffset - 1
			}
			chunks = append(chunks, chunk)
		}
		nextOffset = r.Offset
	}

	// reverse back to ascending byte order
	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}
	return chunks
}
