package acquisition

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/rangesweep/internal/httputil"
)

// AttachAdminRoutes serves the session status as JSON at /debug/session.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("session", "Rangefinder acquisition session status", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSONOK(w, s.Status())
	})
}
