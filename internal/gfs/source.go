package gfs

import (
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flightwx/noaawxd/internal/gribidx"
	"github.com/flightwx/noaawxd/internal/gribsource"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// parseCacheSize bounds the point-parse memoization cache: a scheduler
// tick may field several coordinate queries against the same cycle before
// the next download rotates it in.
const parseCacheSize = 64

type parseCacheKey struct {
	grib string
	lat  float64
	lon  float64
}

// Source is the GFS grib source: the shared download state machine plus
// coordinate parsing memoized per (grib, lat, lon) so repeated queries
// against the same cycle don't re-invoke wgrib2.
type Source struct {
	*gribsource.Source
	wgrib2Path string
	cache      *lru.Cache[parseCacheKey, Result]
}

// NewSource constructs a GFS source rooted at cacheDir, downloading
// through httpClient when enabled, repacking with wgrib2Path (empty to
// skip the repack step). levels selects which grib variables/levels the
// index planner fetches; a nil or empty list falls back to
// DefaultVariableList(), so C10's human-editable levels JSON is optional.
func NewSource(cacheDir, wgrib2Path string, httpClient *http.Client, downloadEnabled, keepOldFiles bool, levels gribidx.VariableList, log *logger.Logger) *Source {
	cache, _ := lru.New[parseCacheKey, Result](parseCacheSize)

	if len(levels) == 0 {
		levels = DefaultVariableList()
	}

	base := gribsource.New(gribsource.Config{
		Name:            "gfs",
		CacheDir:        cacheDir,
		CycleSpec:       Spec(),
		BuildURL:        BuildURL,
		VariableList:    levels,
		Wgrib2Path:      wgrib2Path,
		HTTPClient:      httpClient,
		DownloadEnabled: downloadEnabled,
		KeepOldFiles:    keepOldFiles,
		Logger:          log,
	})

	return &Source{Source: base, wgrib2Path: wgrib2Path, cache: cache}
}

// Parse extracts the weather at lat/lon from the currently cached grib,
// memoizing results per (grib file, lat, lon) within the cache's bound.
func (s *Source) Parse(lat, lon float64) (Result, error) {
	path := s.LastGribPath()
	if path == "" {
		return Result{}, fmt.Errorf("gfs: no grib downloaded yet")
	}

	key := parseCacheKey{grib: path, lat: lat, lon: lon}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	result, err := Parse(s.wgrib2Path, path, lat, lon)
	if err != nil {
		return Result{}, err
	}
	s.cache.Add(key, result)
	return result, nil
}
