package render

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/testutil"
)

func TestHeatmapPaletteRunsNearToFar(t *testing.T) {
	p := heatmapPalette()
	require.Len(t, p, heatmapStops)
	assert.True(t, strings.HasPrefix(p[0], "#00") && strings.HasSuffix(p[0], "ff"), "near is blue, got %s", p[0])
	assert.Equal(t, "#ff0000", p[len(p)-1], "far is red")
}

func TestChartSeriesSplitsNewestFrame(t *testing.T) {
	h := scan.NewHistory(4)
	h.Append(frameAt(1, 100, 200))
	h.Append(frameAt(2, 300, 400, 500))

	latest, older, stride := chartSeries(h.Snapshot(), 0)
	assert.Equal(t, 1, stride)
	require.Len(t, latest, 3)
	require.Len(t, older, 2)
	assert.Equal(t, []interface{}{300.0, 0.0, 300.0}, latest[0].Value)
	assert.Equal(t, []interface{}{100.0, 0.0, 100.0}, older[0].Value)
}

func TestChartSeriesStride(t *testing.T) {
	h := scan.NewHistory(4)
	d := make([]float64, 1000)
	for i := range d {
		d[i] = float64(i + 1)
	}
	h.Append(frameAt(1, d...))
	h.Append(frameAt(2, d...))

	latest, older, stride := chartSeries(h.Snapshot(), 500)
	assert.Equal(t, 4, stride)
	assert.Len(t, latest, 250)
	assert.Len(t, older, 250)
}

func TestSweepChartRoute(t *testing.T) {
	h := scan.NewHistory(8)
	mux := http.NewServeMux()
	AttachChartRoutes(mux, h, 1000)

	rec := testutil.ServeDebug(mux, http.MethodGet, "/debug/sweep")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	h.Append(frameAt(7, 250, 750))
	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/sweep?max_points=200")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "Sweep history")
	assert.Contains(t, body, "latest")

	rec = testutil.ServeDebug(mux, http.MethodPost, "/debug/sweep")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestSweepChartRouteCoexistsWithPNG(t *testing.T) {
	h := scan.NewHistory(8)
	h.Append(frameAt(1, 500))
	r := NewRaster(RasterConfig{Size: 32})
	mux := http.NewServeMux()
	r.AttachAdminRoutes(mux)
	AttachChartRoutes(mux, h, 1000)

	_, err := Draw(h.Snapshot(), r, 1000)
	require.NoError(t, err)

	rec := testutil.ServeDebug(mux, http.MethodGet, "/debug/sweep.png")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/sweep")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}
