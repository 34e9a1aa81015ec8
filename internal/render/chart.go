package render

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	colorful "github.com/lucasb-eyer/go-colorful"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rangesweep/internal/httputil"
	"github.com/banshee-data/rangesweep/internal/scan"
)

const (
	defaultChartPoints = 8000
	maxChartPoints     = 50000
	heatmapStops       = 8
)

// heatmapPalette returns the Heatmap ramp as hex stops, near to far, for
// the chart's visual map.
func heatmapPalette() []string {
	stops := make([]string, heatmapStops)
	for i := range stops {
		c := Heatmap(float64(i), heatmapStops-1)
		stops[i] = colorful.Color{R: c.R, G: c.G, B: c.B}.Hex()
	}
	return stops
}

// chartSeries splits the snapshot into the newest frame and the older
// visible frames, taking every stride-th point so that at most maxPoints
// are plotted.
func chartSeries(snap scan.Snapshot, maxPoints int) (latest, older []opts.ScatterData, stride int) {
	total := 0
	for _, f := range snap.Frames {
		total += len(f.Points)
	}
	stride = 1
	if maxPoints > 0 && total > maxPoints {
		stride = int(math.Ceil(float64(total) / float64(maxPoints)))
	}

	i := 0
	for age := snap.Len() - 1; age >= 0; age-- {
		f := snap.Newest(age)
		for _, p := range f.Points {
			if i%stride == 0 {
				d := opts.ScatterData{Value: []interface{}{p.X, p.Y, p.DistanceMM}}
				if age == 0 {
					latest = append(latest, d)
				} else {
					older = append(older, d)
				}
			}
			i++
		}
	}
	return latest, older, stride
}

// SweepChart plots the snapshot as an XY scatter coloured by distance. The
// newest frame is drawn larger than the fading history.
func SweepChart(snap scan.Snapshot, maxDistanceMM float64, maxPoints int) *charts.Scatter {
	if maxDistanceMM <= 0 {
		maxDistanceMM = DefaultMaxDistanceMM
	}
	latest, older, stride := chartSeries(snap, maxPoints)
	var seq uint64
	if f := snap.Newest(0); f != nil {
		seq = f.Seq
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sweep", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Sweep history",
			Subtitle: fmt.Sprintf("seq=%d frames=%d points=%d stride=%d", seq, snap.Len(), len(latest)+len(older), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -maxDistanceMM, Max: maxDistanceMM, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -maxDistanceMM, Max: maxDistanceMM, Name: "Y (mm)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDistanceMM),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: heatmapPalette()},
		}),
	)
	scatter.AddSeries("history", older, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("latest", latest, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}

// AttachChartRoutes serves an interactive scatter of the history at
// /debug/sweep. The max_points query parameter (100 to 50000, default 8000)
// bounds the payload.
func AttachChartRoutes(mux *http.ServeMux, source Source, maxDistanceMM float64) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("sweep", "Sweep history chart (HTML)", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		maxPoints := defaultChartPoints
		if mp := r.URL.Query().Get("max_points"); mp != "" {
			if v, err := strconv.Atoi(mp); err == nil && v >= 100 && v <= maxChartPoints {
				maxPoints = v
			}
		}

		snap := source.Snapshot()
		if snap.Len() == 0 {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no frames yet")
			return
		}

		var buf bytes.Buffer
		if err := SweepChart(snap, maxDistanceMM, maxPoints).Render(&buf); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	})
}
