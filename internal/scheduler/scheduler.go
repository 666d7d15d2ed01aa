// Package scheduler implements the single worker ticker (spec component
// C8) that drives the GFS, METAR, and WAFS sources at a fixed rate and
// coordinates their shutdown within a bounded time.
package scheduler

import (
	"sync"
	"time"

	"github.com/flightwx/noaawxd/internal/gfs"
	"github.com/flightwx/noaawxd/internal/metar"
	"github.com/flightwx/noaawxd/internal/wafs"
	"github.com/flightwx/noaawxd/pkg/logger"
)

// shutdownTimeout bounds how long Stop waits for each source to join,
// per spec.md §4.8/§5 ("≤3 s per joined worker").
const shutdownTimeout = 3 * time.Second

// Scheduler owns the three weather sources and ticks them in a fixed
// order: GFS, METAR, WAFS.
type Scheduler struct {
	gfs   *gfs.Source
	metar *metar.Source
	wafs  *wafs.Source
	rate  time.Duration
	log   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. rate is the tick interval (typically 1s per
// spec.md §4.8).
func New(gfsSource *gfs.Source, metarSource *metar.Source, wafsSource *wafs.Source, rate time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		gfs:    gfsSource,
		metar:  metarSource,
		wafs:   wafsSource,
		rate:   rate,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start begins the worker loop in its own goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the worker to exit its wait, joins it, then calls
// Shutdown on every source in turn so each gets its own bounded window
// to cancel an in-flight download and clean up.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()

	if s.gfs != nil {
		s.gfs.Shutdown(shutdownTimeout)
	}
	if s.metar != nil {
		s.metar.Shutdown(shutdownTimeout)
	}
	if s.wafs != nil {
		s.wafs.Shutdown(shutdownTimeout)
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			s.tick(elapsed)
		case <-s.stopCh:
			return
		}
	}
}

// tick calls run(elapsed) on each source in order GFS, METAR, WAFS, per
// spec.md §4.8.
func (s *Scheduler) tick(elapsed time.Duration) {
	if s.gfs != nil {
		s.gfs.Run(elapsed)
	}
	if s.metar != nil {
		s.metar.Run()
	}
	if s.wafs != nil {
		s.wafs.Run(elapsed)
	}
}
