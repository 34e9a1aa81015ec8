// Package rangefinder defines the device capability consumed by the
// acquisition session and ships two implementations: a simulated sweep and a
// serial line bridge.
package rangefinder

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/serialport"
)

// PortConfig selects the device and link settings for Open.
type PortConfig struct {
	Port     string
	BaudRate int
	// DataBits, StopBits and Parity are passed through to the port; zero
	// values select 8N1.
	DataBits int
	StopBits int
	Parity   string
	// ReadTimeout bounds every blocking read. It must be positive: it is the
	// upper bound on how long a shutdown request can go unnoticed.
	ReadTimeout time.Duration
}

// Validate checks that the configuration can be used to open a device.
func (c PortConfig) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", c.BaudRate)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", c.ReadTimeout)
	}
	opts := serialport.PortOptions{BaudRate: c.BaudRate, DataBits: c.DataBits, StopBits: c.StopBits, Parity: c.Parity}
	if _, err := opts.Normalize(); err != nil {
		return err
	}
	return nil
}

// Driver opens devices.
type Driver interface {
	Open(cfg PortConfig) (Device, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(cfg PortConfig) (Device, error)

// Open calls f(cfg).
func (f DriverFunc) Open(cfg PortConfig) (Device, error) { return f(cfg) }

// Device is an open rangefinder. Errors returned by its methods should be
// *DriverError values so callers can tell transient faults from critical
// ones; untagged errors are treated as critical.
type Device interface {
	// Resync stops the motor and discards buffered input so streaming starts
	// from a known state.
	Resync() error
	// Health queries the device self-check.
	Health() (Health, error)
	// Start spins up the motor and begins streaming samples.
	Start() error
	// NextScan blocks until one revolution of samples is available or the
	// read timeout expires.
	NextScan() ([]scan.RawSample, error)
	// Stop halts streaming and the motor. Best effort and idempotent.
	Stop() error
	// Close releases the device. Best effort and idempotent.
	Close() error
}

// HealthStatus is the device self-check result.
type HealthStatus int

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthError
)

func (s HealthStatus) String() string {
	switch s {
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	case HealthError:
		return "error"
	default:
		return fmt.Sprintf("HealthStatus(%d)", int(s))
	}
}

// ParseHealthStatus maps a status name to a HealthStatus.
func ParseHealthStatus(name string) (HealthStatus, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "good", "ok":
		return HealthGood, nil
	case "warning", "warn":
		return HealthWarning, nil
	case "error":
		return HealthError, nil
	}
	return HealthError, fmt.Errorf("unknown health status %q", name)
}

// Health is the result of a device health query.
type Health struct {
	Status HealthStatus `json:"status"`
	Code   int          `json:"code"`
}

func (h Health) String() string {
	return fmt.Sprintf("%s (code %d)", h.Status, h.Code)
}
