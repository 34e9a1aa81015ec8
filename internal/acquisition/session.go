// Package acquisition runs the rangefinder session: it keeps a device
// connected, decodes every scan into a frame and publishes frames into the
// shared scan history, recovering from device faults without ever returning
// an error to its caller.
package acquisition

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/banshee-data/rangesweep/internal/monitoring"
	"github.com/banshee-data/rangesweep/internal/rangefinder"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/shutdown"
	"github.com/banshee-data/rangesweep/internal/timeutil"
)

// Publisher receives finished frames. scan.History implements it.
type Publisher interface {
	Append(f *scan.Frame)
}

// Config holds the session tuning.
type Config struct {
	Port rangefinder.PortConfig

	// TransientBackoff is the wait after a protocol desync.
	TransientBackoff time.Duration
	// CriticalBackoff is the wait after any other fault.
	CriticalBackoff time.Duration
	// ResyncSettle is the pause after resetting the device before the health
	// query.
	ResyncSettle time.Duration
	// EscalateAfter is the number of consecutive critical faults after which
	// they are logged at error level.
	EscalateAfter int
}

// DefaultConfig returns the standard timings for /dev/ttyUSB0.
func DefaultConfig() Config {
	return Config{
		Port: rangefinder.PortConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    256000,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			ReadTimeout: 3 * time.Second,
		},
		TransientBackoff: time.Second,
		CriticalBackoff:  2 * time.Second,
		ResyncSettle:     500 * time.Millisecond,
		EscalateAfter:    3,
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	RunID               string       `json:"run_id"`
	State               State        `json:"state"`
	Fault               string       `json:"fault,omitempty"`
	FaultClass          *FaultClass  `json:"fault_class,omitempty"`
	Health              string       `json:"health,omitempty"`
	ConnectAttempts     int          `json:"connect_attempts"`
	TransientFaults     int          `json:"transient_faults"`
	CriticalFaults      int          `json:"critical_faults"`
	ConsecutiveCritical int          `json:"consecutive_critical"`
	FramesPublished     uint64       `json:"frames_published"`
	PointsPublished     uint64       `json:"points_published"`
	LastFrameAt         time.Time    `json:"last_frame_at,omitzero"`
	LastFrame           scan.Summary `json:"last_frame"`
}

// Option customises a Session.
type Option func(*Session)

// WithClock replaces the clock used for backoff and settle waits.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger replaces the session logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) { s.logger = l }
}

// Session owns the device connection. Run drives it on a dedicated
// goroutine; Status and Done may be called from any goroutine.
type Session struct {
	cfg       Config
	driver    rangefinder.Driver
	publisher Publisher
	shutdown  *shutdown.Coordinator
	clock     timeutil.Clock
	logger    *zap.SugaredLogger

	seq     uint64 // owned by the Run goroutine
	runOnce sync.Once
	done    chan struct{}

	mu     sync.Mutex
	status Status
}

// NewSession creates a session in the Disconnected state.
func NewSession(cfg Config, driver rangefinder.Driver, publisher Publisher, sd *shutdown.Coordinator, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = def.EscalateAfter
	}
	s := &Session{
		cfg:       cfg,
		driver:    driver,
		publisher: publisher,
		shutdown:  sd,
		clock:     timeutil.RealClock{},
		logger:    monitoring.L(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("acquisition")
	s.status = Status{RunID: uuid.NewString(), State: Disconnected}
	return s
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Status returns a copy of the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.FaultClass != nil {
		c := *st.FaultClass
		st.FaultClass = &c
	}
	return st
}

// Run connects, streams and recovers until shutdown is requested. It
// returns only after the device has been stopped and closed. Calling Run more
// than once has no effect.
func (s *Session) Run() {
	s.runOnce.Do(s.run)
}

func (s *Session) run() {
	defer close(s.done)

	runID := s.Status().RunID
	s.logger.Infow("acquisition started", "run_id", runID, "port", s.cfg.Port.Port, "baud", s.cfg.Port.BaudRate)

	for !s.shutdown.Requested() {
		s.setState(Connecting)
		err := s.stream()
		if err == nil {
			break
		}
		if !s.wait(s.fault(err)) {
			break
		}
	}

	s.setState(Stopped)
	st := s.Status()
	s.logger.Infow("acquisition stopped",
		"run_id", runID,
		"reason", s.shutdown.Reason(),
		"frames", st.FramesPublished,
		"transient_faults", st.TransientFaults,
		"critical_faults", st.CriticalFaults)
}

// stream performs one connect/resync/health/start cycle and reads scans
// until an error occurs. It returns nil only when shutdown was observed.
func (s *Session) stream() error {
	s.mu.Lock()
	s.status.ConnectAttempts++
	attempt := s.status.ConnectAttempts
	s.mu.Unlock()

	dev, err := s.driver.Open(s.cfg.Port)
	if err != nil {
		return err
	}
	defer s.teardown(dev)

	if err := dev.Resync(); err != nil {
		return err
	}
	if !s.wait(s.cfg.ResyncSettle) {
		return nil
	}

	health, err := dev.Health()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.status.Health = health.String()
	s.mu.Unlock()
	if health.Status == rangefinder.HealthGood {
		s.logger.Infow("rangefinder health", "health", health.String(), "attempt", attempt)
	} else {
		s.logger.Warnw("rangefinder health", "health", health.String(), "attempt", attempt)
	}

	if err := dev.Start(); err != nil {
		return err
	}
	s.setState(Streaming)

	for {
		samples, err := dev.NextScan()
		if s.shutdown.Requested() {
			return nil
		}
		if err != nil {
			return err
		}
		s.publish(samples)
	}
}

// publish decodes one scan and appends it to the history. Scans without a
// single valid return are dropped.
func (s *Session) publish(samples []scan.RawSample) {
	points := scan.DecodeAll(make([]scan.Point, 0, len(samples)), samples)
	if len(points) == 0 {
		return
	}
	s.seq++
	frame := &scan.Frame{Seq: s.seq, CapturedAt: s.clock.Now(), Points: points}
	s.publisher.Append(frame)

	summary := scan.Summarize(frame)
	s.mu.Lock()
	s.status.FramesPublished++
	s.status.PointsPublished += uint64(len(points))
	s.status.LastFrameAt = frame.CapturedAt
	s.status.LastFrame = summary
	s.status.ConsecutiveCritical = 0
	s.mu.Unlock()
}

// teardown stops and closes dev, swallowing every failure.
func (s *Session) teardown(dev rangefinder.Device) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnw("rangefinder teardown panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := multierr.Combine(dev.Stop(), dev.Close()); err != nil {
		s.logger.Debugw("rangefinder teardown failed", "error", err)
	}
}

// fault records err, logs it at a severity matching its class and returns
// the backoff to apply before reconnecting.
func (s *Session) fault(err error) time.Duration {
	class := Classify(err)

	s.mu.Lock()
	s.status.State = Faulted
	s.status.Fault = err.Error()
	s.status.FaultClass = &class
	if class == FaultTransient {
		s.status.TransientFaults++
	} else {
		s.status.CriticalFaults++
		s.status.ConsecutiveCritical++
	}
	consecutive := s.status.ConsecutiveCritical
	s.mu.Unlock()

	if class == FaultTransient {
		s.logger.Infow("rangefinder desync, resyncing", "error", err, "backoff", s.cfg.TransientBackoff)
		return s.cfg.TransientBackoff
	}

	if consecutive >= s.cfg.EscalateAfter {
		s.logger.Errorw("rangefinder fault, reconnecting", "error", err, "consecutive", consecutive, "backoff", s.cfg.CriticalBackoff)
	} else {
		s.logger.Warnw("rangefinder fault, reconnecting", "error", err, "consecutive", consecutive, "backoff", s.cfg.CriticalBackoff)
	}
	return s.cfg.CriticalBackoff
}

// wait sleeps for d unless shutdown is requested first. It reports whether
// the session should continue.
func (s *Session) wait(d time.Duration) bool {
	if d <= 0 {
		return !s.shutdown.Requested()
	}
	select {
	case <-s.clock.After(d):
		return !s.shutdown.Requested()
	case <-s.shutdown.Done():
		return false
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	if state == Streaming || state == Stopped {
		s.status.Fault = ""
		s.status.FaultClass = nil
	}
}
