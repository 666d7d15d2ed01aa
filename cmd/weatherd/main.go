// Command weatherd is the GFS/WAFS/METAR fusion daemon: it downloads
// and parses grib and METAR data on a schedule, then answers plugin
// queries over a local UDP socket.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flightwx/noaawxd/internal/config"
	"github.com/flightwx/noaawxd/internal/gfs"
	"github.com/flightwx/noaawxd/internal/metar"
	"github.com/flightwx/noaawxd/internal/queryserver"
	"github.com/flightwx/noaawxd/internal/scheduler"
	"github.com/flightwx/noaawxd/internal/statusserver"
	"github.com/flightwx/noaawxd/internal/wafs"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// Version is injected at build time.
var Version = "dev"

// schedulerTickRate is how often the scheduler re-evaluates whether any
// source is due for a refresh.
const schedulerTickRate = 15 * time.Second

func main() {
	dataDir := flag.String("data-dir", "./data", "directory for config, state, and cached grib/metar data")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	wgrib2Path := flag.String("wgrib2", "wgrib2", "path to the wgrib2 binary used to repack/extract grib files")
	queryAddr := flag.String("query-addr", queryserver.DefaultAddr, "UDP address for the plugin query protocol")
	statusAddr := flag.String("status-addr", "", "HTTP address for the diagnostics status page (empty disables it)")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting weatherd", logger.String("version", Version))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Error("failed to create data directory", logger.Error(err))
		os.Exit(1)
	}

	paths := newPaths(*dataDir)

	pluginCfg, err := config.LoadPluginConfig(paths.pluginConfig)
	if err != nil {
		log.Error("failed to load plugin config", logger.Error(err))
		os.Exit(1)
	}
	state, err := config.LoadServerState(paths.serverState)
	if err != nil {
		log.Error("failed to load server state", logger.Error(err))
		os.Exit(1)
	}
	levels, err := config.LoadGfsLevels(paths.gfsLevels)
	if err != nil {
		log.Warn("failed to load gfs levels, using defaults", logger.Error(err))
	}

	if err := os.MkdirAll(paths.gfsCacheDir, 0o755); err != nil {
		log.Error("failed to create gfs cache dir", logger.Error(err))
		os.Exit(1)
	}
	if err := os.MkdirAll(paths.wafsCacheDir, 0o755); err != nil {
		log.Error("failed to create wafs cache dir", logger.Error(err))
		os.Exit(1)
	}
	if err := os.MkdirAll(paths.metarCacheDir, 0o755); err != nil {
		log.Error("failed to create metar cache dir", logger.Error(err))
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}

	gfsSource := gfs.NewSource(paths.gfsCacheDir, *wgrib2Path, httpClient, pluginCfg.Download, pluginCfg.KeepOldFiles, levels, log.Named("gfs"))
	wafsSource := wafs.NewSource(paths.wafsCacheDir, *wgrib2Path, httpClient, pluginCfg.Download, pluginCfg.KeepOldFiles, log.Named("wafs"))

	metarStore, err := metar.Open(paths.metarDB, log.Named("metar-store"))
	if err != nil {
		log.Error("failed to open metar store", logger.Error(err))
		os.Exit(1)
	}
	defer metarStore.Close()

	rwxPath := ""
	if pluginCfg.UpdateMetarRWX {
		rwxPath = paths.metarRwx
	}
	var msUpdate time.Time
	if state.MsUpdate > 0 {
		msUpdate = time.Unix(state.MsUpdate, 0)
	}

	metarSource := metar.NewSource(
		metarStore,
		paths.metarCacheDir,
		rwxPath,
		httpClient,
		reportSourceFromConfig(pluginCfg.MetarSource),
		pluginCfg.IgnoreMetarStations,
		msUpdate,
		log.Named("metar"),
	)

	sched := scheduler.New(gfsSource, metarSource, wafsSource, schedulerTickRate, log.Named("scheduler"))
	sched.Start()

	persistConfig := func() error {
		state.LastGrib = gfsSource.LastGrib()
		state.LastWafsGrib = wafsSource.LastGrib()
		if t := metarSource.LastStationUpdate(); !t.IsZero() {
			state.MsUpdate = t.Unix()
		}
		state.WeatherServerPid = os.Getpid()
		if err := config.SaveServerState(paths.serverState, state); err != nil {
			return err
		}
		return config.SavePluginConfig(paths.pluginConfig, pluginCfg)
	}

	reloadConfig := func() error {
		reloaded, err := config.LoadPluginConfig(paths.pluginConfig)
		if err != nil {
			return err
		}
		pluginCfg = reloaded
		return nil
	}

	qs := queryserver.New(queryserver.Config{
		Addr:        *queryAddr,
		PIDFilePath: paths.pidFile,
		GFS:         gfsSource,
		WAFS:        wafsSource,
		Metar:       metarSource,
		Hooks: queryserver.Hooks{
			PersistConfig: persistConfig,
			ReloadConfig:  reloadConfig,
			ResetMetar:    metarStore.ResetReports,
		},
		Log: log.Named("query-server"),
	})
	if err := qs.ListenAndServe(); err != nil {
		log.Error("failed to start query server", logger.Error(err))
		os.Exit(1)
	}

	var status *statusserver.Server
	if *statusAddr != "" {
		status = statusserver.New(statusserver.Config{
			Addr: *statusAddr,
			Sources: []statusserver.Source{
				{Name: "gfs", Source: gfsSource.Source},
				{Name: "wafs", Source: wafsSource.Source},
			},
			Log: log.Named("status-server"),
		})
		if err := status.ListenAndServe(); err != nil {
			log.Error("failed to start status server", logger.Error(err))
			status = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down weatherd")

	// Stop the scheduler before persisting state, so WeatherServerPid
	// reflects an orderly exit, per spec.md §5's ordering guarantee.
	sched.Stop()
	qs.Stop()
	if status != nil {
		status.Stop(3 * time.Second)
	}

	if err := persistConfig(); err != nil {
		log.Error("failed to persist config on shutdown", logger.Error(err))
	}

	log.Info("weatherd stopped")
}

func reportSourceFromConfig(s config.MetarSource) metar.ReportSource {
	switch s {
	case config.MetarSourceVATSIM:
		return metar.SourceVATSIM
	case config.MetarSourceIVAO:
		return metar.SourceIVAO
	default:
		return metar.SourceNOAA
	}
}

// paths collects every on-disk location derived from dataDir.
type paths struct {
	pluginConfig  string
	serverState   string
	gfsLevels     string
	metarDB       string
	metarRwx      string
	pidFile       string
	gfsCacheDir   string
	wafsCacheDir  string
	metarCacheDir string
}

func newPaths(dataDir string) paths {
	return paths{
		pluginConfig:  filepath.Join(dataDir, "plugin.toml"),
		serverState:   filepath.Join(dataDir, "state.toml"),
		gfsLevels:     filepath.Join(dataDir, "gfs_levels.json"),
		metarDB:       filepath.Join(dataDir, "metar.db"),
		metarRwx:      filepath.Join(dataDir, "METAR.rwx"),
		pidFile:       filepath.Join(dataDir, "weatherd.pid"),
		gfsCacheDir:   filepath.Join(dataDir, "gfs"),
		wafsCacheDir:  filepath.Join(dataDir, "wafs"),
		metarCacheDir: filepath.Join(dataDir, "metar"),
	}
}
