package gribsource

import (
	"fmt"
	"sort"
	"time"
)

// CycleSpec describes the publication schedule of a grib source: the set
// of cycle hours NOAA publishes at, the publish delay after a cycle hour
// before the file is actually available, and how forecast hops are
// quantized.
type CycleSpec struct {
	CycleHours    []int // e.g. {0, 6, 12, 18}
	PublishDelay  time.Duration
	ForecastSteps []int // explicit allowed forecast hops (WAFS); nil to use ForecastQuantum
	ForecastQuantum int // round elapsed hours up to a multiple of this (GFS: 3); ignored if ForecastSteps set
}

// Cycle identifies one grib cycle: the UTC date/hour it was published at,
// plus the forecast hop selected for "now".
type Cycle struct {
	Date     time.Time // UTC midnight of the cycle's day
	Hour     int
	Forecast int
}

// DateCycle renders the YYYYMMDDHH identity string spec.md §3 defines.
func (c Cycle) DateCycle() string {
	return fmt.Sprintf("%04d%02d%02d%02d", c.Date.Year(), c.Date.Month(), c.Date.Day(), c.Hour)
}

// CycleTime returns the absolute UTC instant the cycle was published at.
func (c Cycle) CycleTime() time.Time {
	return time.Date(c.Date.Year(), c.Date.Month(), c.Date.Day(), c.Hour, 0, 0, 0, time.UTC)
}

// GetCycleDate computes the active cycle for "now" per spec.md §4.4: take
// now minus the publish delay, pick the largest cycle hour not exceeding
// that value's hour (carrying back a day when none qualifies), then set
// the forecast hop to the elapsed hours since that cycle, rounded up to
// the allowed step set.
func (cs CycleSpec) GetCycleDate(now time.Time) Cycle {
	now = now.UTC()
	adjusted := now.Add(-cs.PublishDelay)

	hours := append([]int(nil), cs.CycleHours...)
	sort.Ints(hours)

	day := time.Date(adjusted.Year(), adjusted.Month(), adjusted.Day(), 0, 0, 0, 0, time.UTC)
	hour := adjusted.Hour()

	chosen := -1
	for i := len(hours) - 1; i >= 0; i-- {
		if hours[i] <= hour {
			chosen = hours[i]
			break
		}
	}
	if chosen == -1 {
		// Carry back a day: use the largest cycle hour from the prior day.
		day = day.AddDate(0, 0, -1)
		chosen = hours[len(hours)-1]
	}

	cycleTime := time.Date(day.Year(), day.Month(), day.Day(), chosen, 0, 0, 0, time.UTC)
	elapsedHours := now.Sub(cycleTime).Hours()
	if elapsedHours < 0 {
		elapsedHours = 0
	}

	return Cycle{
		Date:     day,
		Hour:     chosen,
		Forecast: cs.quantizeForecast(elapsedHours),
	}
}

func (cs CycleSpec) quantizeForecast(elapsedHours float64) int {
	if len(cs.ForecastSteps) > 0 {
		steps := append([]int(nil), cs.ForecastSteps...)
		sort.Ints(steps)
		for _, s := range steps {
			if float64(s) >= elapsedHours {
				return s
			}
		}
		return steps[len(steps)-1]
	}

	q := cs.ForecastQuantum
	if q <= 0 {
		q = 1
	}
	n := int(elapsedHours)
	if float64(n) < elapsedHours {
		n++
	}
	rem := n % q
	if rem != 0 {
		n += q - rem
	}
	return n
}
