package rangefinder

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/timeutil"
)

// SimConfig configures the simulated rangefinder.
type SimConfig struct {
	SamplesPerScan int     // samples per revolution
	ScanRateHz     float64 // revolutions per second
	RoomWidthMM    float64 // room extent along x
	RoomDepthMM    float64 // room extent along y
	NoiseMM        float64 // std dev of range noise
	DropoutRate    float64 // fraction of samples with no return
	// TransientFaultRate is the probability that a NextScan call reports a
	// stream desync instead of a scan.
	TransientFaultRate float64
	Seed               int64
	Clock              timeutil.Clock
}

// DefaultSimConfig returns a 4m x 3m room swept at 10Hz with 360 samples.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SamplesPerScan: 360,
		ScanRateHz:     10,
		RoomWidthMM:    4000,
		RoomDepthMM:    3000,
		NoiseMM:        8,
		DropoutRate:    0.03,
		Seed:           time.Now().UnixNano(),
		Clock:          timeutil.RealClock{},
	}
}

// pillar is a round obstacle inside the simulated room.
type pillar struct {
	x, y, r float64
}

// Simulated is a Driver producing synthetic sweeps of a rectangular room with
// one pillar. The sensor sits off-centre so wall distances vary around the
// revolution.
type Simulated struct {
	cfg SimConfig

	mu    sync.Mutex
	rng   *rand.Rand
	opens int
}

// NewSimulated creates a simulated driver. Zero fields of cfg take the
// DefaultSimConfig values.
func NewSimulated(cfg SimConfig) *Simulated {
	def := DefaultSimConfig()
	if cfg.SamplesPerScan <= 0 {
		cfg.SamplesPerScan = def.SamplesPerScan
	}
	if cfg.ScanRateHz <= 0 {
		cfg.ScanRateHz = def.ScanRateHz
	}
	if cfg.RoomWidthMM <= 0 {
		cfg.RoomWidthMM = def.RoomWidthMM
	}
	if cfg.RoomDepthMM <= 0 {
		cfg.RoomDepthMM = def.RoomDepthMM
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return &Simulated{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Opens returns how many devices have been opened.
func (s *Simulated) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Open returns a new simulated device. The port name is only validated.
func (s *Simulated) Open(cfg PortConfig) (Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, Critical("open", err)
	}
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	return &simDevice{sim: s}, nil
}

func (s *Simulated) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulated) norm() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()
}

// rangeAt returns the distance from the sensor to the nearest surface along
// bearing deg.
func (s *Simulated) rangeAt(deg float64) float64 {
	// sensor offset from the room centre
	const offX, offY = 400.0, -250.0
	halfW, halfD := s.cfg.RoomWidthMM/2, s.cfg.RoomDepthMM/2
	minX, maxX := -halfW-offX, halfW-offX
	minY, maxY := -halfD-offY, halfD-offY

	rad := deg * math.Pi / 180
	dx, dy := math.Cos(rad), math.Sin(rad)

	best := math.Inf(1)
	if dx > 1e-12 {
		best = math.Min(best, maxX/dx)
	} else if dx < -1e-12 {
		best = math.Min(best, minX/dx)
	}
	if dy > 1e-12 {
		best = math.Min(best, maxY/dy)
	} else if dy < -1e-12 {
		best = math.Min(best, minY/dy)
	}

	p := pillar{x: 900, y: 700, r: 180}
	// ray-circle intersection: |t*d - c|^2 = r^2
	b := dx*p.x + dy*p.y
	disc := b*b - (p.x*p.x + p.y*p.y - p.r*p.r)
	if disc >= 0 {
		if t := b - math.Sqrt(disc); t > 0 && t < best {
			best = t
		}
	}
	return best
}

type simDevice struct {
	sim *Simulated

	mu      sync.Mutex
	started bool
	closed  bool
}

func (d *simDevice) Resync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Critical("resync", ErrClosed)
	}
	d.started = false
	return nil
}

func (d *simDevice) Health() (Health, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Health{}, Critical("health", ErrClosed)
	}
	return Health{Status: HealthGood}, nil
}

func (d *simDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Critical("start", ErrClosed)
	}
	d.started = true
	return nil
}

func (d *simDevice) NextScan() ([]scan.RawSample, error) {
	d.mu.Lock()
	closed, started := d.closed, d.started
	d.mu.Unlock()
	if closed {
		return nil, Critical("next scan", ErrClosed)
	}
	if !started {
		return nil, Critical("next scan", ErrNotStarted)
	}

	cfg := d.sim.cfg
	<-cfg.Clock.After(time.Duration(float64(time.Second) / cfg.ScanRateHz))

	if cfg.TransientFaultRate > 0 && d.sim.float() < cfg.TransientFaultRate {
		return nil, Transient("next scan", ErrDesync)
	}

	n := cfg.SamplesPerScan
	step := 360.0 / float64(n)
	samples := make([]scan.RawSample, n)
	for i := range samples {
		angle := float64(i)*step + d.sim.float()*step*0.5
		dist := d.sim.rangeAt(angle) + d.sim.norm()*cfg.NoiseMM
		quality := uint8(47)
		if cfg.DropoutRate > 0 && d.sim.float() < cfg.DropoutRate {
			dist, quality = 0, 0
		}
		samples[i] = scan.RawSample{
			Quality:    quality,
			AngleDeg:   angle,
			DistanceMM: math.Max(dist, 0),
			StartFlag:  i == 0,
		}
	}
	return samples, nil
}

func (d *simDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *simDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.started = false
	return nil
}
