package gfs

import (
	"testing"
)

func TestSourceParseErrorsWithoutGrib(t *testing.T) {
	dir := t.TempDir()
	s := NewSource(dir, "", nil, false, true, nil, nil)

	if _, err := s.Parse(10, 20); err == nil {
		t.Fatalf("expected error when no grib has been downloaded yet")
	}
}
