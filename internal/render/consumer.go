// Package render draws the scan history: a fixed-rate loop snapshots the
// shared history and paints every frame onto a Canvas with a distance
// heatmap and an age fade.
package render

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/rangesweep/internal/monitoring"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/shutdown"
	"github.com/banshee-data/rangesweep/internal/timeutil"
)

const (
	// DefaultTickRate is the render period (60Hz).
	DefaultTickRate = time.Second / 60
	// DefaultMaxDistanceMM is the distance painted fully red.
	DefaultMaxDistanceMM = 4000.0
)

// Source provides consistent copies of the frame history.
type Source interface {
	Snapshot() scan.Snapshot
}

// Waiter is joined after the render loop exits. acquisition.Session
// implements it.
type Waiter interface {
	Done() <-chan struct{}
}

// Config controls the render loop.
type Config struct {
	TickRate      time.Duration
	MaxDistanceMM float64
}

// Stats summarises the consumer's work so far.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	FramesDrawn  uint64 `json:"frames_drawn"`
	PointsDrawn  uint64 `json:"points_drawn"`
	CanvasErrors uint64 `json:"canvas_errors"`
	LastVersion  uint64 `json:"last_version"`
}

// Option customises a Consumer.
type Option func(*Consumer)

// WithClock replaces the clock driving the render ticker.
func WithClock(c timeutil.Clock) Option {
	return func(r *Consumer) { r.clock = c }
}

// WithLogger replaces the consumer logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Consumer) { r.logger = l }
}

// Consumer is the render loop. Run must be called from a single goroutine,
// normally the main one.
type Consumer struct {
	cfg      Config
	source   Source
	canvas   Canvas
	shutdown *shutdown.Coordinator
	clock    timeutil.Clock
	logger   *zap.SugaredLogger

	ticks        atomic.Uint64
	framesDrawn  atomic.Uint64
	pointsDrawn  atomic.Uint64
	canvasErrors atomic.Uint64
	lastVersion  atomic.Uint64
}

// NewConsumer creates a render loop over source drawing onto canvas.
func NewConsumer(cfg Config, source Source, canvas Canvas, sd *shutdown.Coordinator, opts ...Option) *Consumer {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.MaxDistanceMM <= 0 {
		cfg.MaxDistanceMM = DefaultMaxDistanceMM
	}
	c := &Consumer{
		cfg:      cfg,
		source:   source,
		canvas:   canvas,
		shutdown: sd,
		clock:    timeutil.RealClock{},
		logger:   monitoring.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("render")
	return c
}

// Run draws on every tick until shutdown is requested, then waits for acq
// to finish and closes the canvas.
func (c *Consumer) Run(acq Waiter) {
	ticker := c.clock.NewTicker(c.cfg.TickRate)
	c.logger.Infow("render loop started", "tick", c.cfg.TickRate, "max_distance_mm", c.cfg.MaxDistanceMM)

loop:
	for {
		select {
		case <-ticker.C():
			if c.shutdown.Requested() {
				break loop
			}
			c.tick()
		case <-c.shutdown.Done():
			break loop
		}
	}
	ticker.Stop()

	if acq != nil {
		<-acq.Done()
	}
	if err := c.canvas.Close(); err != nil {
		c.logger.Warnw("canvas close failed", "error", err)
	}
	st := c.Stats()
	c.logger.Infow("render loop stopped", "ticks", st.Ticks, "frames_drawn", st.FramesDrawn)
}

func (c *Consumer) tick() {
	snap := c.source.Snapshot()
	drawn, err := Draw(snap, c.canvas, c.cfg.MaxDistanceMM)
	c.ticks.Add(1)
	c.framesDrawn.Add(uint64(drawn.Frames))
	c.pointsDrawn.Add(uint64(drawn.Points))
	c.lastVersion.Store(snap.Version)
	if err != nil {
		// Only the first failure is loud; the loop runs at the tick rate.
		if c.canvasErrors.Add(1) == 1 {
			c.logger.Warnw("canvas present failed", "error", err)
		} else {
			c.logger.Debugw("canvas present failed", "error", err)
		}
	}
}

// Stats returns the consumer counters. Safe for concurrent use.
func (c *Consumer) Stats() Stats {
	return Stats{
		Ticks:        c.ticks.Load(),
		FramesDrawn:  c.framesDrawn.Load(),
		PointsDrawn:  c.pointsDrawn.Load(),
		CanvasErrors: c.canvasErrors.Load(),
		LastVersion:  c.lastVersion.Load(),
	}
}
