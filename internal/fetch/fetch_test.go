package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flightwx/noaawxd/internal/gribidx"
)

func TestDownloadWholeFile(t *testing.T) {
	body := []byte("hello grib world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	err := Download(context.Background(), Request{
		URL:     srv.URL,
		OutPath: out,
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("got %q, want %q", got, body)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not remain")
	}
}

func TestDownloadCancelledContextLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Download(ctx, Request{URL: srv.URL, OutPath: out})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("output file should not exist after cancellation")
	}
	if _, statErr := os.Stat(out + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatalf("temp file should not remain after cancellation")
	}
}

// TestDownloadIndexDrivenRanges serves a full byte buffer and an .idx
// sidecar selecting two of its three records, and verifies the selected
// records land at their original offsets. The chunk for the highest
// selected record is open-ended, so it also pulls the unselected record
// after it through end of file.
func TestDownloadIndexDrivenRanges(t *testing.T) {
	full := []byte("AAAABBBBCCCC") // three 4-byte "records" at 0,4,8
	idx := "1:0:d=1:TMP:850 mb:fcst:\n" +
		"2:4:d=1:UGRD:850 mb:fcst:\n" +
		"3:8:d=1:VGRD:700 mb:fcst:\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".idx") {
			w.Write([]byte(idx))
			return
		}
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Write(full)
			return
		}
		var start, end int
		if strings.HasSuffix(rng, "-") {
			fmt.Sscanf(rng, "bytes=%d-", &start)
			end = len(full) - 1
		} else {
			fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[start : end+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	vl := gribidx.VariableList{{Levels: []string{"850 mb"}, Vars: []string{"TMP", "UGRD"}}}

	err := Download(context.Background(), Request{
		URL:          srv.URL + "/file.grib2",
		OutPath:      out,
		VariableList: vl,
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got[0:4]) != "AAAA" || string(got[4:8]) != "BBBB" {
		t.Fatalf("got %q, want selected records preserved at their offsets", got)
	}
}
