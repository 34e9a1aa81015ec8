package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rangesweep/internal/scan"
)

// ErrNoImage is returned when no tick has been presented yet.
var ErrNoImage = errors.New("render: no image presented yet")

// Style selects how a frame's points are drawn.
type Style int

const (
	// StylePoints draws each return as a dot.
	StylePoints Style = iota
	// StyleLines joins consecutive returns of a frame into a line strip.
	StyleLines
)

func (s Style) String() string {
	if s == StyleLines {
		return "lines"
	}
	return "points"
}

// ParseStyle maps a style name to a Style.
func ParseStyle(name string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "points":
		return StylePoints, nil
	case "lines":
		return StyleLines, nil
	}
	return StylePoints, fmt.Errorf("unknown render style %q (want points or lines)", name)
}

// RasterConfig controls the raster canvas.
type RasterConfig struct {
	// Size is the width and height of the square image in pixels.
	Size int
	// MaxDistanceMM is the half-width of the viewed square.
	MaxDistanceMM float64
	Style         Style
	// PointRadius is the dot radius in pixels for StylePoints.
	PointRadius float64
	// LineWidth is the stroke width in pixels for StyleLines.
	LineWidth float64
}

// DefaultRasterConfig is an 800px view of a 4m radius.
func DefaultRasterConfig() RasterConfig {
	return RasterConfig{
		Size:          800,
		MaxDistanceMM: DefaultMaxDistanceMM,
		Style:         StylePoints,
		PointRadius:   1.5,
		LineWidth:     1,
	}
}

// sensorMarker is the outline drawn at the origin, in millimetres.
var sensorMarker = [3][2]float64{{-50, -50}, {50, -50}, {0, 100}}

type stripPoint struct {
	x, y float64
	c    RGB
}

// Raster is a Canvas that paints a top-down orthographic view onto an
// in-memory image. The most recently presented image is kept for the
// debug route and for PNG export.
//
// Points and line strips are blended straight into the pixel buffer; gg
// handles the background clear, the sensor marker and PNG export.
type Raster struct {
	cfg RasterConfig
	dc  *gg.Context
	pix *image.RGBA

	alpha float64
	strip []stripPoint
	// stamp lists the pixel offsets covered by one dot or line step.
	stamp []image.Point

	mu       sync.RWMutex
	last     *image.RGBA
	presents uint64
	closed   bool
}

// NewRaster creates a raster canvas.
func NewRaster(cfg RasterConfig) *Raster {
	def := DefaultRasterConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.MaxDistanceMM <= 0 {
		cfg.MaxDistanceMM = def.MaxDistanceMM
	}
	if cfg.PointRadius <= 0 {
		cfg.PointRadius = def.PointRadius
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = def.LineWidth
	}
	dc := gg.NewContext(cfg.Size, cfg.Size)
	radius := cfg.PointRadius
	if cfg.Style == StyleLines {
		radius = cfg.LineWidth / 2
	}
	return &Raster{
		cfg:   cfg,
		dc:    dc,
		pix:   dc.Image().(*image.RGBA),
		stamp: discStamp(radius),
	}
}

// discStamp returns the offsets of every pixel centre within radius of the
// origin. It always contains the origin.
func discStamp(radius float64) []image.Point {
	n := int(math.Ceil(radius))
	r2 := radius * radius
	stamp := []image.Point{{}}
	for dy := -n; dy <= n; dy++ {
		for dx := -n; dx <= n; dx++ {
			if (dx != 0 || dy != 0) && float64(dx*dx+dy*dy) <= r2 {
				stamp = append(stamp, image.Point{X: dx, Y: dy})
			}
		}
	}
	return stamp
}

// project maps sensor millimetres to pixels with +Y up.
func (r *Raster) project(x, y float64) (float64, float64) {
	span := 2 * r.cfg.MaxDistanceMM
	size := float64(r.cfg.Size)
	return (x + r.cfg.MaxDistanceMM) / span * size, (r.cfg.MaxDistanceMM - y) / span * size
}

// blend paints c over the pixel at (x, y) with the given opacity. The
// canvas is always opaque, so only the colour channels change.
func (r *Raster) blend(x, y int, c RGB, alpha float64) {
	if x < 0 || y < 0 || x >= r.cfg.Size || y >= r.cfg.Size {
		return
	}
	i := r.pix.PixOffset(x, y)
	px := r.pix.Pix[i : i+3 : i+3]
	keep := 1 - alpha
	px[0] = uint8(float64(px[0])*keep + c.R*255*alpha + 0.5)
	px[1] = uint8(float64(px[1])*keep + c.G*255*alpha + 0.5)
	px[2] = uint8(float64(px[2])*keep + c.B*255*alpha + 0.5)
}

// dot blends the stamp centred on the pixel containing (x, y).
func (r *Raster) dot(x, y float64, c RGB, alpha float64) {
	cx, cy := int(math.Floor(x)), int(math.Floor(y))
	for _, o := range r.stamp {
		r.blend(cx+o.X, cy+o.Y, c, alpha)
	}
}

func (r *Raster) BeginTick() {
	r.dc.SetRGB(0.05, 0.05, 0.1)
	r.dc.Clear()
}

func (r *Raster) BeginFrame(age int, alpha float64) {
	r.alpha = alpha
	r.strip = r.strip[:0]
}

func (r *Raster) Point(p scan.Point, c RGB, alpha float64) {
	x, y := r.project(p.X, p.Y)
	if r.cfg.Style == StyleLines {
		r.strip = append(r.strip, stripPoint{x: x, y: y, c: c})
		return
	}
	r.dot(x, y, c, alpha)
}

// EndFrame strokes the line strip one pixel step at a time. Each step
// starts after the previous segment's end so shared vertices are painted
// once.
func (r *Raster) EndFrame() {
	if r.cfg.Style != StyleLines || len(r.strip) < 2 {
		return
	}
	for i := 1; i < len(r.strip); i++ {
		a, b := r.strip[i-1], r.strip[i]
		dx, dy := b.x-a.x, b.y-a.y
		steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
		if steps == 0 {
			continue
		}
		start := 1
		if i == 1 {
			start = 0
		}
		for s := start; s <= steps; s++ {
			t := float64(s) / float64(steps)
			r.dot(a.x+dx*t, a.y+dy*t, b.c, r.alpha)
		}
	}
}

// EndTick draws the sensor marker and presents the image.
func (r *Raster) EndTick() error {
	r.dc.SetRGB(1, 1, 1)
	for i, v := range sensorMarker {
		x, y := r.project(v[0], v[1])
		if i == 0 {
			r.dc.MoveTo(x, y)
		} else {
			r.dc.LineTo(x, y)
		}
	}
	r.dc.ClosePath()
	r.dc.Fill()

	src := r.dc.Image()
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrCanvasClosed
	}
	r.last = img
	r.presents++
	return nil
}

// Close stops further presents. The last image stays available.
func (r *Raster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Image returns the last presented image, or nil.
func (r *Raster) Image() image.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	return r.last
}

// Presents returns how many ticks have been presented.
func (r *Raster) Presents() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presents
}

// WritePNG encodes the last presented image.
func (r *Raster) WritePNG(w io.Writer) error {
	img := r.Image()
	if img == nil {
		return ErrNoImage
	}
	return png.Encode(w, img)
}

// SavePNG writes the last presented image to path.
func (r *Raster) SavePNG(path string) error {
	img := r.Image()
	if img == nil {
		return ErrNoImage
	}
	if err := gg.SavePNG(path, img); err != nil {
		return fmt.Errorf("failed to save sweep image: %w", err)
	}
	return nil
}

// AttachAdminRoutes serves the last presented image at /debug/sweep.png.
func (r *Raster) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("sweep.png", "Latest rendered sweep (PNG)", func(w http.ResponseWriter, req *http.Request) {
		if r.Image() == nil {
			http.Error(w, ErrNoImage.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := r.WritePNG(w); err != nil {
			http.Error(w, "failed to encode image", http.StatusInternalServerError)
		}
	})
}
