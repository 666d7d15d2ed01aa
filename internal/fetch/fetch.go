// Package fetch implements the partial-range, cancellable HTTP downloader
// (spec component C2) used by every grib source: optional `.idx`-driven
// chunked fetch, optional gzip/deflate decoding in flight, and an optional
// external repack step (wgrib2) once the bytes are on disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/flightwx/noaawxd/internal/gribidx"
)

// readBlockSize is how often an in-flight transfer checks for
// cancellation: spec.md §4.2 step 4 requires a check between 128 KiB
// reads.
const readBlockSize = 128 * 1024

const maxConcurrentChunks = 4

// ErrCancelled is returned when Cancel fires mid-transfer; the caller's
// partial temp file has already been removed.
var ErrCancelled = errors.New("fetch: cancelled")

// Error wraps a failure from the downloader or the external repack
// subprocess; spec.md §7 treats both as recoverable "NetworkTransient"
// conditions from the caller's point of view.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Request describes one download.
type Request struct {
	URL      string
	OutPath  string
	UserAgent string

	// VariableList, when non-empty, triggers an index-driven chunked
	// fetch (C3). When empty, the whole file is fetched as a single GET.
	VariableList gribidx.VariableList

	// Cancel is polled between reads and chunk boundaries.
	Cancel <-chan struct{}

	// DecompressCmd, when non-empty, is run as an external subprocess
	// after the transfer completes: DecompressCmd[0] with the remaining
	// elements as arguments, with the two placeholders "{in}" and
	// "{out}" substituted for the temp file and OutPath.
	DecompressCmd []string

	Client *http.Client
}

func defaultUserAgent() string {
	return "noaawxd/1.0 (+https://github.com/flightwx/noaawxd)"
}

// Download performs the transfer described by req, writing atomically to
// req.OutPath. On success the file at OutPath is complete and final; on
// any error (including cancellation) no partial file is left behind.
func Download(ctx context.Context, req Request) error {
	client := req.Client
	if client == nil {
		client = http.DefaultClient
	}
	ua := req.UserAgent
	if ua == "" {
		ua = defaultUserAgent()
	}

	tmpPath := req.OutPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return &Error{Op: "create temp", Err: err}
	}
	cleanupTmp := true
	defer func() {
		out.Close()
		if cleanupTmp {
			os.Remove(tmpPath)
		}
	}()

	var chunks []gribidx.Chunk
	if len(req.VariableList) > 0 {
		chunks, err = planFromIndex(ctx, client, req, ua)
		if err != nil {
			return err
		}
	} else {
		chunks = []gribidx.Chunk{{OpenEnded: true}}
	}

	if err := fetchChunks(ctx, client, req, ua, out, chunks); err != nil {
		return err
	}

	if err := out.Close(); err != nil {
		return &Error{Op: "close temp", Err: err}
	}

	if len(req.DecompressCmd) > 0 {
		if err := runDecompress(req.DecompressCmd, tmpPath, req.OutPath); err != nil {
			return err
		}
		cleanupTmp = false
		os.Remove(tmpPath)
		return nil
	}

	if err := os.Rename(tmpPath, req.OutPath); err != nil {
		return &Error{Op: "rename", Err: err}
	}
	cleanupTmp = false
	return nil
}

func planFromIndex(ctx context.Context, client *http.Client, req Request, ua string) ([]gribidx.Chunk, error) {
	idxURL := req.URL + ".idx"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, idxURL, nil)
	if err != nil {
		return nil, &Error{Op: "build index request", Err: err}
	}
	httpReq.Header.Set("User-Agent", ua)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &Error{Op: "fetch index", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "fetch index", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "read index", Err: err}
	}

	records, err := gribidx.Parse(data)
	if err != nil {
		return nil, &Error{Op: "bad index", Err: err}
	}

	return gribidx.PlanChunks(records, req.VariableList), nil
}

func fetchChunks(ctx context.Context, client *http.Client, req Request, ua string, out *os.File, chunks []gribidx.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentChunks)

	for _, chunk := range chunks {
		chunk := chunk
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			return fetchOneChunk(gctx, client, req, ua, out, chunk)
		})
	}

	return g.Wait()
}

func fetchOneChunk(ctx context.Context, client *http.Client, req Request, ua string, out *os.File, chunk gribidx.Chunk) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return &Error{Op: "build request", Err: err}
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate")

	ranged := chunk.Start != 0 || !chunk.OpenEnded || len(req.VariableList) > 0
	if ranged {
		if chunk.OpenEnded {
			httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", chunk.Start))
		} else {
			httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", chunk.Start, chunk.End))
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return &Error{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &Error{Op: "fetch", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := decodedReader(resp, req.URL)
	if err != nil {
		return &Error{Op: "decode body", Err: err}
	}
	if closer, ok := body.(io.Closer); ok && body != resp.Body {
		defer closer.Close()
	}

	return copyToOffset(ctx, req.Cancel, out, chunk.Start, body)
}

func decodedReader(resp *http.Response, url string) (io.Reader, error) {
	enc := strings.ToLower(resp.Header.Get("Content-Encoding"))
	switch {
	case enc == "gzip" || strings.HasSuffix(url, ".gz"):
		return gzip.NewReader(resp.Body)
	case enc == "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func copyToOffset(ctx context.Context, cancel <-chan struct{}, out *os.File, offset int64, src io.Reader) error {
	buf := make([]byte, readBlockSize)
	pos := offset
	for {
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-cancel:
			return ErrCancelled
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := out.WriteAt(buf[:n], pos); err != nil {
				return &Error{Op: "write", Err: err}
			}
			pos += int64(n)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return &Error{Op: "read", Err: readErr}
		}
	}
}

func runDecompress(cmd []string, tmpPath, outPath string) error {
	args := make([]string, len(cmd)-1)
	for i, a := range cmd[1:] {
		a = strings.ReplaceAll(a, "{in}", tmpPath)
		a = strings.ReplaceAll(a, "{out}", outPath)
		args[i] = a
	}

	c := exec.Command(cmd[0], args...)
	output, err := c.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Error{Op: "decompress", Err: fmt.Errorf("exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(output)))}
		}
		return &Error{Op: "decompress", Err: err}
	}
	return nil
}

// WgribRepackCmd builds the DecompressCmd argument list for invoking the
// `wgrib2` repacker per spec.md §6: `wgrib2 <tmp> -set_grib_type simple
// -grib_out <out>`.
func WgribRepackCmd(wgrib2Path string) []string {
	return []string{wgrib2Path, "{in}", "-set_grib_type", "simple", "-grib_out", "{out}"}
}
