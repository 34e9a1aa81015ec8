package rangefinder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/serialport"
)

// Bridge commands, written one per line.
const (
	CommandStop   = "STOP"
	CommandScan   = "SCAN"
	CommandHealth = "HEALTH"
)

const (
	// DefaultMaxScanSamples bounds a scan when no start flag arrives.
	DefaultMaxScanSamples = 3000
	// DefaultMaxLineBytes bounds a single bridge message.
	DefaultMaxLineBytes = 512
	// maxHealthLines is how many unrelated lines Health skips while waiting
	// for the reply.
	maxHealthLines = 256
)

var (
	// ErrLineTooLong reports a bridge message longer than MaxLineBytes.
	ErrLineTooLong = errors.New("bridge line too long")
	// ErrNoHealthReply reports that no health reply arrived.
	ErrNoHealthReply = errors.New("no health reply")
)

// BridgeConfig configures the serial line bridge driver.
type BridgeConfig struct {
	// Opener opens the serial port. Defaults to serialport.Open.
	Opener         serialport.Opener
	MaxScanSamples int
	MaxLineBytes   int
}

// Bridge is a Driver for rangefinders fronted by a microcontroller that
// relays samples as newline-delimited JSON:
//
//	{"q":47,"a":123.4,"d":1532,"s":true}   sample; s marks a revolution start
//	{"health":"good","code":0}             reply to HEALTH
//
// The motor is gated by DTR.
type Bridge struct {
	cfg BridgeConfig
}

// NewBridge creates a bridge driver.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Opener == nil {
		cfg.Opener = serialport.Open
	}
	if cfg.MaxScanSamples <= 0 {
		cfg.MaxScanSamples = DefaultMaxScanSamples
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Bridge{cfg: cfg}
}

// Open opens the serial port and applies the read timeout.
func (b *Bridge) Open(cfg PortConfig) (Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, Critical("open", err)
	}
	port, err := b.cfg.Opener(cfg.Port, serialport.PortOptions{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	})
	if err != nil {
		return nil, Critical("open", err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		return nil, Critical("open", multierr.Append(err, port.Close()))
	}
	d := &bridgeDevice{port: port, cfg: b.cfg}
	d.resetReader()
	return d, nil
}

// bridgeMessage is the union of every line the bridge emits.
type bridgeMessage struct {
	Quality  *int     `json:"q,omitempty"`
	Angle    *float64 `json:"a,omitempty"`
	Distance *float64 `json:"d,omitempty"`
	Start    bool     `json:"s,omitempty"`
	Health   string   `json:"health,omitempty"`
	Code     int      `json:"code,omitempty"`
}

func (m bridgeMessage) isSample() bool { return m.Angle != nil || m.Distance != nil }

func (m bridgeMessage) sample() (scan.RawSample, error) {
	if m.Angle == nil || m.Distance == nil {
		return scan.RawSample{}, fmt.Errorf("%w: sample missing angle or distance", ErrDesync)
	}
	a, d := *m.Angle, *m.Distance
	if a < 0 || a > 360 {
		return scan.RawSample{}, fmt.Errorf("%w: angle %.3f out of range", ErrDesync, a)
	}
	if d < 0 {
		return scan.RawSample{}, fmt.Errorf("%w: negative distance %.3f", ErrDesync, d)
	}
	q := 0
	if m.Quality != nil {
		q = min(max(*m.Quality, 0), 255)
	}
	return scan.RawSample{Quality: uint8(q), AngleDeg: a, DistanceMM: d, StartFlag: m.Start}, nil
}

type bridgeDevice struct {
	port serialport.Port
	cfg  BridgeConfig

	mu         sync.Mutex
	r          *bufio.Reader
	partial    []byte
	discarding bool
	pending    []scan.RawSample
	started    bool
	closed     bool
}

func (d *bridgeDevice) resetReader() {
	d.r = bufio.NewReaderSize(serialport.TimeoutReader{R: d.port}, d.cfg.MaxLineBytes)
	d.partial = d.partial[:0]
	d.discarding = false
	d.pending = nil
}

func (d *bridgeDevice) command(cmd string) error {
	_, err := d.port.Write([]byte(cmd + "\n"))
	return err
}

func (d *bridgeDevice) Resync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Critical("resync", ErrClosed)
	}
	d.started = false
	err := multierr.Combine(
		d.port.SetDTR(false),
		d.command(CommandStop),
		d.port.ResetInputBuffer(),
	)
	d.resetReader()
	if err != nil {
		return Critical("resync", err)
	}
	return nil
}

func (d *bridgeDevice) Health() (Health, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Health{}, Critical("health", ErrClosed)
	}
	if err := d.command(CommandHealth); err != nil {
		return Health{}, Critical("health", err)
	}
	for i := 0; i < maxHealthLines; i++ {
		msg, err := d.readMessage()
		if errors.Is(err, ErrDesync) || errors.Is(err, ErrLineTooLong) {
			// leftovers of the stream that was running before HEALTH
			continue
		}
		if err != nil {
			return Health{}, d.classify("health", err)
		}
		if msg.Health == "" {
			continue
		}
		status, err := ParseHealthStatus(msg.Health)
		if err != nil {
			return Health{}, Transient("health", fmt.Errorf("%w: %v", ErrDesync, err))
		}
		return Health{Status: status, Code: msg.Code}, nil
	}
	return Health{}, Transient("health", ErrNoHealthReply)
}

func (d *bridgeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Critical("start", ErrClosed)
	}
	if err := multierr.Append(d.port.SetDTR(true), d.command(CommandScan)); err != nil {
		return Critical("start", err)
	}
	d.started = true
	return nil
}

// NextScan reads samples until the next revolution start or MaxScanSamples.
func (d *bridgeDevice) NextScan() ([]scan.RawSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, Critical("next scan", ErrClosed)
	}
	if !d.started {
		return nil, Critical("next scan", ErrNotStarted)
	}
	for {
		msg, err := d.readMessage()
		if err != nil {
			return nil, d.classify("next scan", err)
		}
		if !msg.isSample() {
			continue
		}
		s, err := msg.sample()
		if err != nil {
			return nil, Transient("next scan", err)
		}
		if s.StartFlag && len(d.pending) > 0 {
			out := d.pending
			d.pending = []scan.RawSample{s}
			return out, nil
		}
		d.pending = append(d.pending, s)
		if len(d.pending) >= d.cfg.MaxScanSamples {
			out := d.pending
			d.pending = nil
			return out, nil
		}
	}
}

// readMessage returns the next non-empty line decoded as a bridgeMessage.
// A line interrupted by a read timeout is kept and completed by the next call.
func (d *bridgeDevice) readMessage() (bridgeMessage, error) {
	for {
		chunk, err := d.r.ReadSlice('\n')
		if d.discarding {
			if err == nil {
				d.discarding = false
				continue
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return bridgeMessage{}, err
		}
		d.partial = append(d.partial, chunk...)
		if len(bytes.TrimRight(d.partial, "\r\n")) > d.cfg.MaxLineBytes {
			d.partial = d.partial[:0]
			d.discarding = err != nil
			return bridgeMessage{}, ErrLineTooLong
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return bridgeMessage{}, err
		}

		line := bytes.TrimSpace(d.partial)
		if len(line) == 0 {
			d.partial = d.partial[:0]
			continue
		}
		var msg bridgeMessage
		err = json.Unmarshal(line, &msg)
		d.partial = d.partial[:0]
		if err != nil {
			return bridgeMessage{}, fmt.Errorf("%w: %v", ErrDesync, err)
		}
		return msg, nil
	}
}

// classify tags read errors: timeouts and framing problems are transient,
// anything from the transport is critical.
func (d *bridgeDevice) classify(op string, err error) error {
	switch {
	case errors.Is(err, serialport.ErrReadTimeout),
		errors.Is(err, ErrDesync),
		errors.Is(err, ErrLineTooLong):
		return Transient(op, err)
	default:
		return Critical(op, err)
	}
}

func (d *bridgeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.started = false
	return multierr.Append(d.command(CommandStop), d.port.SetDTR(false))
}

func (d *bridgeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.port.Close()
}
