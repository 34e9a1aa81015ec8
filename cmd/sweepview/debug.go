package main

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/rangesweep/internal/acquisition"
	"github.com/banshee-data/rangesweep/internal/httputil"
	"github.com/banshee-data/rangesweep/internal/render"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/shutdown"
	"github.com/banshee-data/rangesweep/internal/sweepstream"
)

// debugRoutes is everything the /debug/ pages read from.
type debugRoutes struct {
	session       *acquisition.Session
	history       *scan.History
	raster        *render.Raster
	consumer      *render.Consumer
	stream        *sweepstream.Server // nil when the frame stream is off
	sd            *shutdown.Coordinator
	maxDistanceMM float64
}

// newDebugMux builds the /debug/ routes: session status, the latest sweep
// image and chart, render and stream counters, and a quit switch.
func newDebugMux(d debugRoutes) *http.ServeMux {
	mux := http.NewServeMux()
	d.session.AttachAdminRoutes(mux)
	d.raster.AttachAdminRoutes(mux)
	render.AttachChartRoutes(mux, d.history, d.maxDistanceMM)

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("render", "Render loop counters", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSONOK(w, d.consumer.Stats())
	})
	if d.stream != nil {
		debug.HandleFunc("stream", "Frame stream counters", func(w http.ResponseWriter, r *http.Request) {
			if !httputil.RequireMethod(w, r, http.MethodGet) {
				return
			}
			httputil.WriteJSONOK(w, d.stream.Stats())
		})
	}
	debug.HandleSilentFunc("quit", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		first := d.sd.Request("debug quit")
		httputil.WriteJSONOK(w, map[string]any{"stopping": true, "first_request": first})
	})
	return mux
}
