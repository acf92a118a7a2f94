package candles

import (
	"github.com/trogers1052/signal-alert-service/internal/models"
)

// Window is a trailing run of fully closed candles ending at ClosedTime.
type Window struct {
	Candles    []models.Candle
	ClosedTime int64
}

// SelectClosedWindow trims any still-forming bars off the end of a freshly
// fetched series and returns the trailing window of closed candles. A bar at
// time t is closed iff now >= t + intervalSec. Returns nil when fewer than
// minClosedBars closed bars remain; callers treat that as "not enough data
// yet", not an error.
func SelectClosedWindow(series []models.Candle, intervalSec, nowSec int64, minClosedBars int) *Window {
	if intervalSec <= 0 {
		return nil
	}

	end := len(series)
	for end > 0 && nowSec < series[end-1].Time+intervalSec {
		end--
	}

	if end == 0 || end < minClosedBars {
		return nil
	}

	return &Window{
		Candles:    series[:end],
		ClosedTime: series[end-1].Time,
	}
}
