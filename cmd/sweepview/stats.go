package main

import (
	"time"

	"github.com/banshee-data/rangesweep/internal/acquisition"
	"github.com/banshee-data/rangesweep/internal/render"
)

// statsReporter turns cumulative counters into per-interval rates.
type statsReporter struct {
	last      time.Time
	frames    uint64
	points    uint64
	ticks     uint64
	transient int
	critical  int
}

// sample returns key/value pairs for a structured log line and remembers
// the counters for the next interval.
func (r *statsReporter) sample(now time.Time, st acquisition.Status, rs render.Stats) []any {
	secs := now.Sub(r.last).Seconds()
	if secs <= 0 {
		secs = 1
	}
	kv := []any{
		"state", st.State.String(),
		"scans", float64(st.FramesPublished-r.frames) / secs,
		"points", float64(st.PointsPublished-r.points) / secs,
		"render_fps", float64(rs.Ticks-r.ticks) / secs,
		"transient_faults", st.TransientFaults - r.transient,
		"critical_faults", st.CriticalFaults - r.critical,
	}
	if st.LastFrame.Points > 0 {
		kv = append(kv,
			"last_min_mm", st.LastFrame.MinMM,
			"last_median_mm", st.LastFrame.MedianMM,
			"last_max_mm", st.LastFrame.MaxMM)
	}

	r.last = now
	r.frames = st.FramesPublished
	r.points = st.PointsPublished
	r.ticks = rs.Ticks
	r.transient = st.TransientFaults
	r.critical = st.CriticalFaults
	return kv
}
