package render

import (
	"errors"

	"github.com/banshee-data/rangesweep/internal/scan"
)

// ErrCanvasClosed is returned by EndTick after Close.
var ErrCanvasClosed = errors.New("render: canvas closed")

// Canvas receives one tick of drawing. Calls arrive in the order
// BeginTick, then for every visible frame BeginFrame, Point..., EndFrame,
// and finally EndTick which presents the result. Close releases the
// canvas; it is called once after the last tick.
type Canvas interface {
	BeginTick()
	BeginFrame(age int, alpha float64)
	Point(p scan.Point, c RGB, alpha float64)
	EndFrame()
	EndTick() error
	Close() error
}

// DrawStats counts what a single Draw call emitted.
type DrawStats struct {
	Frames int
	Points int
}

// Draw renders snap onto canvas newest frame first. Each frame fades with
// its age and each point is coloured by distance.
func Draw(snap scan.Snapshot, canvas Canvas, maxDistanceMM float64) (DrawStats, error) {
	var st DrawStats
	canvas.BeginTick()
	for age := 0; age < snap.Len(); age++ {
		alpha := AgeAlpha(age, snap.Capacity)
		if alpha <= 0 {
			break
		}
		f := snap.Newest(age)
		canvas.BeginFrame(age, alpha)
		for _, p := range f.Points {
			canvas.Point(p, Heatmap(p.DistanceMM, maxDistanceMM), alpha)
		}
		canvas.EndFrame()
		st.Frames++
		st.Points += len(f.Points)
	}
	return st, canvas.EndTick()
}
