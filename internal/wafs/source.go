package wafs

import (
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flightwx/noaawxd/internal/gribsource"
	"github.com/flightwx/noaawxd/pkg/logger"
)

const parseCacheSize = 64

type parseCacheKey struct {
	grib string
	lat  float64
	lon  float64
}

// Source is the WAFS grib source: the shared download state machine plus
// memoized coordinate parsing.
type Source struct {
	*gribsource.Source
	wgrib2Path string
	cache      *lru.Cache[parseCacheKey, []Layer]
}

// NewSource constructs a WAFS source. WAFS has no index-driven variable
// list (its grib is small enough to fetch whole, per spec.md §4.6's
// silence on chunking) so VariableList is left empty.
func NewSource(cacheDir, wgrib2Path string, httpClient *http.Client, downloadEnabled, keepOldFiles bool, log *logger.Logger) *Source {
	cache, _ := lru.New[parseCacheKey, []Layer](parseCacheSize)

	base := gribsource.New(gribsource.Config{
		Name:            "wafs",
		CacheDir:        cacheDir,
		CycleSpec:       Spec(),
		BuildURL:        BuildURL,
		Wgrib2Path:      wgrib2Path,
		HTTPClient:      httpClient,
		DownloadEnabled: downloadEnabled,
		KeepOldFiles:    keepOldFiles,
		Logger:          log,
	})

	return &Source{Source: base, wgrib2Path: wgrib2Path, cache: cache}
}

// Parse extracts turbulence layers at lat/lon from the currently cached
// grib, memoized per (grib file, lat, lon).
func (s *Source) Parse(lat, lon float64) ([]Layer, error) {
	path := s.LastGribPath()
	if path == "" {
		return nil, fmt.Errorf("wafs: no grib downloaded yet")
	}

	key := parseCacheKey{grib: path, lat: lat, lon: lon}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	layers, err := Parse(s.wgrib2Path, path, lat, lon)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, layers)
	return layers, nil
}
